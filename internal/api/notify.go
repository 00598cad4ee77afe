package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/solkunai/soltrivia/internal/round"
)

const maxConcurrentPublishes = 100

// Notifier pushes per-wallet notifications over Redis pub/sub channels
// so connected clients learn about settlements without polling. Delivery
// is best-effort: the finalization already committed.
type Notifier struct {
	redis  redis.UniversalClient
	prefix string
}

func NewNotifier(r redis.UniversalClient, prefix string) *Notifier {
	return &Notifier{redis: r, prefix: prefix}
}

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	PayoutNotice struct {
		RoundID string `json:"round_id"`
		Status  string `json:"status"`
		Rank    int    `json:"rank"`
		Amount  int64  `json:"amount_lamports"`
		Kind    string `json:"kind"`
	}
)

// RoundFinalized tells every wallet with a payout or refund intent what
// it is owed.
func (n *Notifier) RoundFinalized(ctx context.Context, res *round.FinalizeResult) {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrentPublishes)

	for _, p := range res.Payouts {
		p := p
		eg.Go(func() error {
			return n.publish(ctx, p.Wallet, "round.finalized", PayoutNotice{
				RoundID: res.RoundID,
				Status:  res.Status,
				Rank:    p.Rank,
				Amount:  p.AmountLamports,
				Kind:    string(p.Kind),
			})
		})
	}

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "notify: publish round finalized failed",
			"round", res.RoundID, "error", err)
	}
}

func (n *Notifier) publish(ctx context.Context, wallet, event string, data any) error {
	b, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %v", event, err)
	}

	return n.redis.Publish(ctx, fmt.Sprintf("%s:wallet:%s", n.prefix, wallet), b).Err()
}
