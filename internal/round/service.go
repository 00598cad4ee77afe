// Package round manages the time-sliced competition windows: lazy
// creation, question-pool refresh, pot accounting, and the terminal
// ranking/payout step.
package round

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/errors"
	"github.com/solkunai/soltrivia/internal/event"
	"github.com/solkunai/soltrivia/internal/question"
)

// Policy holds the round-level numeric policy. Defaults implement the
// canonical 50/20/15/10/5 split.
type Policy struct {
	SlotsPerDay         int
	MinPoolSize         int
	PoolRefreshInterval time.Duration
	QuestionsPerSession int
	MinFinishers        int
	SplitPercents       []int64 // rank 1..N share of the pot, in percent
	EntryFeeLamports    int64
}

func DefaultPolicy() Policy {
	return Policy{
		SlotsPerDay:         4,
		MinPoolSize:         10,
		PoolRefreshInterval: 10 * time.Minute,
		QuestionsPerSession: 10,
		MinFinishers:        5,
		SplitPercents:       []int64{50, 20, 15, 10, 5},
		EntryFeeLamports:    10_000_000,
	}
}

// Participant is one distinct wallet in a round and how many sessions it
// paid for, used to size refund intents.
type Participant struct {
	Wallet   string
	Sessions int
}

type Store interface {
	GetRound(ctx context.Context, roundID string) (*domain.Round, error)
	CreateRound(ctx context.Context, r *domain.Round) error
	UpdatePool(ctx context.Context, roundID string, questionIDs []string, refreshedAt time.Time) error
	// FirstDue returns the id of one active round whose end time has
	// passed, or NotFound.
	FirstDue(ctx context.Context, now time.Time) (string, error)
	ListFinishedSessions(ctx context.Context, roundID string) ([]domain.Session, error)
	ListParticipants(ctx context.Context, roundID string) ([]Participant, error)
	// FinalizeRound flips an active round to status and writes the payout
	// rows in one transaction. Returns false without writing anything if
	// the round was no longer active (someone else finalized it).
	FinalizeRound(ctx context.Context, roundID string, status domain.RoundStatus, payouts []domain.Payout) (bool, error)
	ListPayouts(ctx context.Context, roundID string) ([]domain.Payout, error)
}

type Config struct {
	Store     Store
	Questions question.Source
	EventBus  *event.Bus
	Policy    Policy
}

type Service struct {
	store     Store
	questions question.Source
	eb        *event.Bus
	policy    Policy
}

func NewService(c Config) *Service {
	if c.Policy.SlotsPerDay == 0 {
		c.Policy = DefaultPolicy()
	}

	return &Service{
		store:     c.Store,
		questions: c.Questions,
		eb:        c.EventBus,
		policy:    c.Policy,
	}
}

// SlotFor computes the slot identity covering now.
func (s *Service) SlotFor(now time.Time) (date string, slot int, start, end time.Time) {
	now = now.UTC()
	date = now.Format("2006-01-02")
	slotLen := 24 / s.policy.SlotsPerDay
	slot = now.Hour() / slotLen

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start = day.Add(time.Duration(slot*slotLen) * time.Hour)
	end = start.Add(time.Duration(slotLen) * time.Hour)
	return date, slot, start, end
}

// Current returns the round covering now, creating it lazily on first
// use and refreshing a stale question pool.
func (s *Service) Current(ctx context.Context, now time.Time) (*domain.Round, error) {
	date, slot, start, end := s.SlotFor(now)
	roundID := domain.RoundIDFor(date, slot)

	r, err := s.store.GetRound(ctx, roundID)
	if err == nil {
		return s.maybeRefreshPool(ctx, r, now)
	}
	if errors.Convert(err).Code != errors.CodeNotFound {
		return nil, err
	}

	pool, err := s.drawPool(ctx)
	if err != nil {
		return nil, err
	}

	r = &domain.Round{
		RoundID:         roundID,
		Date:            date,
		Slot:            slot,
		StartTime:       start,
		EndTime:         end,
		QuestionIDs:     pool,
		PoolRefreshedAt: now,
		Status:          domain.RoundActive,
	}

	if err := s.store.CreateRound(ctx, r); err != nil {
		// Lost the creation race: the other entry's round wins.
		if errors.Convert(err).Code == errors.CodeAlreadyExists {
			return s.store.GetRound(ctx, roundID)
		}
		return nil, err
	}

	return r, nil
}

func (s *Service) maybeRefreshPool(ctx context.Context, r *domain.Round, now time.Time) (*domain.Round, error) {
	if r.Status != domain.RoundActive {
		return r, nil
	}
	if now.Sub(r.PoolRefreshedAt) < s.policy.PoolRefreshInterval {
		return r, nil
	}

	pool, err := s.drawPool(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdatePool(ctx, r.RoundID, pool, now); err != nil {
		return nil, err
	}

	r.QuestionIDs = pool
	r.PoolRefreshedAt = now
	return r, nil
}

func (s *Service) drawPool(ctx context.Context) ([]string, error) {
	ids, err := s.questions.ActiveIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load question bank: %w", err)
	}

	if len(ids) < s.policy.MinPoolSize {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonPoolTooSmall),
			errors.WithMessagef("question pool has %d questions, need %d", len(ids), s.policy.MinPoolSize))
	}

	return Shuffle(ids), nil
}

// Policy exposes the round policy to collaborating services.
func (s *Service) Policy() Policy {
	return s.policy
}

// FinalizeResult reports what a finalize call did.
type FinalizeResult struct {
	RoundID string
	Status  string // "ended", "refunded", or "no-op"
	Payouts []domain.Payout
}

// FinalizeDue finds one active round past its end time and finalizes it.
// Returns a no-op result when nothing is due.
func (s *Service) FinalizeDue(ctx context.Context, now time.Time) (*FinalizeResult, error) {
	roundID, err := s.store.FirstDue(ctx, now)
	if err != nil {
		if errors.Convert(err).Code == errors.CodeNotFound {
			return &FinalizeResult{Status: "no-op"}, nil
		}
		return nil, err
	}

	return s.Finalize(ctx, roundID, now)
}

// Finalize ranks and settles one round. Safe to retry: a round that is
// already ended or refunded yields a no-op success with the payouts that
// were written the first time.
func (s *Service) Finalize(ctx context.Context, roundID string, now time.Time) (*FinalizeResult, error) {
	r, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}

	if r.Status != domain.RoundActive {
		payouts, err := s.store.ListPayouts(ctx, roundID)
		if err != nil {
			return nil, err
		}
		return &FinalizeResult{RoundID: roundID, Status: "no-op", Payouts: payouts}, nil
	}

	finishers, err := s.store.ListFinishedSessions(ctx, roundID)
	if err != nil {
		return nil, err
	}

	var (
		status  domain.RoundStatus
		payouts []domain.Payout
	)

	if len(finishers) < s.policy.MinFinishers {
		status = domain.RoundRefunded
		payouts, err = s.refundIntents(ctx, r, now)
		if err != nil {
			return nil, err
		}
	} else {
		status = domain.RoundEnded
		payouts = s.prizeIntents(r, finishers, now)
	}

	applied, err := s.store.FinalizeRound(ctx, roundID, status, payouts)
	if err != nil {
		return nil, err
	}
	if !applied {
		// A concurrent finalizer won; report what it wrote.
		payouts, err = s.store.ListPayouts(ctx, roundID)
		if err != nil {
			return nil, err
		}
		return &FinalizeResult{RoundID: roundID, Status: "no-op", Payouts: payouts}, nil
	}

	r.Status = status
	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventRoundFinalized{Round: *r, Payouts: payouts})
	}

	slog.InfoContext(ctx, "round: finalized",
		"round", roundID, "status", status, "finishers", len(finishers), "payouts", len(payouts))

	return &FinalizeResult{RoundID: roundID, Status: string(status), Payouts: payouts}, nil
}

// Rank sorts finished sessions into final order: score descending,
// elapsed time ascending on ties (faster wins).
func Rank(finishers []domain.Session) []domain.Session {
	ranked := make([]domain.Session, len(finishers))
	copy(ranked, finishers)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ElapsedMs() < ranked[j].ElapsedMs()
	})

	return ranked
}

func (s *Service) prizeIntents(r *domain.Round, finishers []domain.Session, now time.Time) []domain.Payout {
	ranked := Rank(finishers)

	payouts := make([]domain.Payout, 0, len(s.policy.SplitPercents))
	pot := decimal.NewFromInt(r.PotLamports)
	for i, pct := range s.policy.SplitPercents {
		if i >= len(ranked) {
			break // fewer finishers than ranks: no row for the missing ranks
		}

		amount := pot.Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100)).IntPart()
		payouts = append(payouts, domain.Payout{
			RoundID:        r.RoundID,
			Wallet:         ranked[i].Wallet,
			Rank:           i + 1,
			AmountLamports: amount,
			Kind:           domain.PayoutPrize,
			Status:         domain.PayoutPending,
			CreatedAt:      now,
		})
	}

	return payouts
}

func (s *Service) refundIntents(ctx context.Context, r *domain.Round, now time.Time) ([]domain.Payout, error) {
	participants, err := s.store.ListParticipants(ctx, r.RoundID)
	if err != nil {
		return nil, err
	}

	payouts := make([]domain.Payout, 0, len(participants))
	for _, p := range participants {
		payouts = append(payouts, domain.Payout{
			RoundID:        r.RoundID,
			Wallet:         p.Wallet,
			Rank:           0,
			AmountLamports: s.policy.EntryFeeLamports * int64(p.Sessions),
			Kind:           domain.PayoutRefund,
			Status:         domain.PayoutPending,
			CreatedAt:      now,
		})
	}

	return payouts, nil
}
