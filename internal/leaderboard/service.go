// Package leaderboard keeps live per-round standings in a Redis sorted
// set. It is a read-model fed off score.updated events; the authoritative
// ranking at finalization is computed from the session store, not from
// here.
package leaderboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/errors"
	"github.com/solkunai/soltrivia/internal/event"
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.applyScore(ctx, e.(domain.EventScoreUpdated))
	})

	return s
}

type Entry struct {
	Wallet string
	Score  int64
}

type Standings struct {
	RoundID string
	Entries []Entry
}

// Standings returns the round's current standings, best score first.
func (s *Service) Standings(ctx context.Context, roundID string) (*Standings, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.key(roundID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard: read standings: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no standings for round: %s", roundID))
	}

	entries := make([]Entry, 0, len(res))
	for _, z := range res {
		entries = append(entries, Entry{
			Wallet: z.Member.(string),
			Score:  int64(z.Score),
		})
	}

	return &Standings{RoundID: roundID, Entries: entries}, nil
}

// applyScore records the wallet's running total in the round's sorted
// set. GT keeps the best total, so reordered deliveries and a wallet's
// multiple sessions both resolve to its highest score.
func (s *Service) applyScore(ctx context.Context, e domain.EventScoreUpdated) error {
	if err := s.redis.ZAddGT(ctx, s.key(e.RoundID), redis.Z{
		Score:  float64(e.TotalScore),
		Member: e.Wallet,
	}).Err(); err != nil {
		return fmt.Errorf("leaderboard: update standings: %w", err)
	}

	return nil
}

func (s *Service) key(roundID string) string {
	return fmt.Sprintf("%s:%s:standings", s.prefix, roundID)
}
