// Package entry is the gate in front of session creation: payment-proof
// validation, per-round and rolling-24h entry caps, and the free-entry /
// purchased-life allowance. Nothing here ever creates a session unless
// the proof verified. Failed verification fails closed.
package entry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solkunai/soltrivia/internal/chain"
	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/errors"
	"github.com/solkunai/soltrivia/internal/round"
)

const lookback = 24 * time.Hour

// Limits is the entry-cap policy.
type Limits struct {
	FreeEntriesPerRound int
	RoundEntryCap       int
	DailyFinishedCap    int
}

func DefaultLimits() Limits {
	return Limits{
		FreeEntriesPerRound: 2,
		RoundEntryCap:       5,
		DailyFinishedCap:    10,
	}
}

// Fees names the two destinations an entry payment must credit and the
// exact amounts each must receive.
type Fees struct {
	PotAddress          string
	PlatformAddress     string
	EntryFeeLamports    int64
	PlatformFeeLamports int64
	LifePriceLamports   int64
}

type Store interface {
	// FindUnfinished returns the wallet's unfinished session in the
	// round, or NotFound.
	FindUnfinished(ctx context.Context, roundID, wallet string) (*domain.Session, error)
	// SignatureUsed reports whether any session already consumed this
	// payment signature.
	SignatureUsed(ctx context.Context, signature string) (bool, error)
	// CountRoundSessions counts all of the wallet's sessions in the
	// round, finished or not.
	CountRoundSessions(ctx context.Context, roundID, wallet string) (int, error)
	// CountFinishedSince counts the wallet's finished sessions since the
	// cutoff, across rounds.
	CountFinishedSince(ctx context.Context, wallet string, since time.Time) (int, error)
	// RecentQuestionIDs lists question ids the wallet answered since the
	// cutoff, for draw deduplication.
	RecentQuestionIDs(ctx context.Context, wallet string, since time.Time) ([]string, error)
	// ConsumeLife decrements the wallet's life balance iff it is
	// positive; false means no life was available.
	ConsumeLife(ctx context.Context, wallet string) (bool, error)
	// RefundLife is the compensating write for a ConsumeLife whose
	// paired session creation failed.
	RefundLife(ctx context.Context, wallet string) error
	GetAllowance(ctx context.Context, wallet string) (*domain.Allowance, error)
	// AddLives credits purchased lives, keyed by the purchase signature
	// so a replayed receipt cannot credit twice.
	AddLives(ctx context.Context, wallet string, n int, signature string) error
	// CreateSession inserts the session and credits the entry fee to the
	// round's pot in one transaction, so a paid entry can never exist
	// without its pot contribution.
	CreateSession(ctx context.Context, ss *domain.Session, feeLamports int64) error
}

// RateLimiter absorbs request hammering before any SQL runs.
type RateLimiter interface {
	Allow(ctx context.Context, wallet string) (bool, error)
}

type Config struct {
	Store    Store
	Rounds   *round.Service
	Verifier chain.Verifier
	Limiter  RateLimiter
	Limits   Limits
	Fees     Fees

	Now func() time.Time // test hook, defaults to time.Now
}

type Gate struct {
	store    Store
	rounds   *round.Service
	verifier chain.Verifier
	limiter  RateLimiter
	limits   Limits
	fees     Fees
	now      func() time.Time
}

func NewGate(c Config) *Gate {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Limits == (Limits{}) {
		c.Limits = DefaultLimits()
	}

	return &Gate{
		store:    c.Store,
		rounds:   c.Rounds,
		verifier: c.Verifier,
		limiter:  c.Limiter,
		limits:   c.Limits,
		fees:     c.Fees,
		now:      c.Now,
	}
}

type EnterRequest struct {
	Wallet      string
	TxSignature string
}

type EnterResult struct {
	Session        *domain.Session
	Resumed        bool
	FreeEntry      bool
	LifeUsed       bool
	LivesRemaining int
}

// Enter validates the payment proof and either resumes the wallet's
// unfinished session in the current round or creates a fresh one.
func (g *Gate) Enter(ctx context.Context, req EnterRequest) (*EnterResult, error) {
	if !validWallet(req.Wallet) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidAddress),
			errors.WithMessagef("malformed wallet address"))
	}

	if g.limiter != nil {
		ok, err := g.limiter.Allow(ctx, req.Wallet)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New(errors.CodeResourceExhausted,
				errors.WithReason(errors.ReasonRateLimited),
				errors.WithMessagef("too many entry attempts"))
		}
	}

	if err := g.verifyEntryProof(ctx, req.TxSignature); err != nil {
		return nil, err
	}

	now := g.now()
	r, err := g.rounds.Current(ctx, now)
	if err != nil {
		return nil, err
	}
	// An operator can finalize a slot before its end time; the round
	// then exists but must not take money.
	if r.Status != domain.RoundActive {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonRoundInactive),
			errors.WithMessagef("round is %s: %s", r.Status, r.RoundID))
	}

	// Resume beats create: proof was still required above, but an
	// unfinished attempt consumes no new allowance and adds no pot.
	if ss, err := g.store.FindUnfinished(ctx, r.RoundID, req.Wallet); err == nil {
		return &EnterResult{Session: ss, Resumed: true}, nil
	} else if errors.Convert(err).Code != errors.CodeNotFound {
		return nil, err
	}

	used, err := g.store.SignatureUsed(ctx, req.TxSignature)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithReason(errors.ReasonDuplicateTx),
			errors.WithMessagef("payment signature already redeemed"))
	}

	roundCount, err := g.store.CountRoundSessions(ctx, r.RoundID, req.Wallet)
	if err != nil {
		return nil, err
	}
	if roundCount >= g.limits.RoundEntryCap {
		return nil, errors.New(errors.CodeResourceExhausted,
			errors.WithReason(errors.ReasonRoundCapReached),
			errors.WithMessagef("entry cap reached for round %s", r.RoundID))
	}

	finished24h, err := g.store.CountFinishedSince(ctx, req.Wallet, now.Add(-lookback))
	if err != nil {
		return nil, err
	}
	if finished24h >= g.limits.DailyFinishedCap {
		return nil, errors.New(errors.CodeResourceExhausted,
			errors.WithReason(errors.ReasonDailyCapReached),
			errors.WithMessagef("24h entry cap reached"))
	}

	freeEntry := roundCount < g.limits.FreeEntriesPerRound
	lifeUsed := false
	if !freeEntry {
		ok, err := g.store.ConsumeLife(ctx, req.Wallet)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New(errors.CodeResourceExhausted,
				errors.WithReason(errors.ReasonNoLives),
				errors.WithMessagef("free entries used and no purchased life available"))
		}
		lifeUsed = true
	}

	draw := g.drawQuestions(ctx, r, req.Wallet, now)

	ss, err := g.createSession(ctx, r, req, draw, lifeUsed, now)
	if err != nil {
		if lifeUsed {
			// Compensate the decrement; the session it paid for never
			// came to exist.
			if rerr := g.store.RefundLife(ctx, req.Wallet); rerr != nil {
				slog.ErrorContext(ctx, "entry: life refund failed",
					"wallet", req.Wallet, "error", rerr)
			}
		}
		return nil, err
	}

	res := &EnterResult{
		Session:   ss,
		FreeEntry: freeEntry,
		LifeUsed:  lifeUsed,
	}

	if a, err := g.store.GetAllowance(ctx, req.Wallet); err == nil {
		res.LivesRemaining = a.Balance
	}

	return res, nil
}

func (g *Gate) verifyEntryProof(ctx context.Context, signature string) error {
	if signature == "" {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonTxNotFound),
			errors.WithMessagef("missing entry transaction signature"))
	}

	res, err := g.verifier.Verify(ctx, signature)
	if err != nil {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonTxNotFound),
			errors.WithCause(err),
			errors.WithMessagef("payment proof unverifiable"))
	}
	if !res.Success {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonTxFailed),
			errors.WithMessagef("entry transaction did not succeed"))
	}

	if !chain.MatchesFeeSplit(res, g.fees.PotAddress, g.fees.PlatformAddress,
		g.fees.EntryFeeLamports, g.fees.PlatformFeeLamports) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonAmountMismatch),
			errors.WithMessagef("transfer amounts do not match the entry fee split"))
	}

	return nil
}

// drawQuestions picks the session's question sequence, preferring ids
// the wallet has not answered in the last 24h. Falls back to the round's
// full pool when the unseen set is too small.
func (g *Gate) drawQuestions(ctx context.Context, r *domain.Round, wallet string, now time.Time) []string {
	n := g.rounds.Policy().QuestionsPerSession

	seen, err := g.store.RecentQuestionIDs(ctx, wallet, now.Add(-lookback))
	if err != nil {
		slog.ErrorContext(ctx, "entry: load recent questions failed",
			"wallet", wallet, "error", err)
		seen = nil
	}

	seenSet := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		seenSet[id] = struct{}{}
	}

	unseen := make([]string, 0, len(r.QuestionIDs))
	for _, id := range r.QuestionIDs {
		if _, ok := seenSet[id]; !ok {
			unseen = append(unseen, id)
		}
	}

	pool := unseen
	if len(pool) < n {
		pool = r.QuestionIDs
	}
	if n > len(pool) {
		n = len(pool)
	}

	return round.Shuffle(pool)[:n]
}

func (g *Gate) createSession(ctx context.Context, r *domain.Round, req EnterRequest, draw []string, lifeUsed bool, now time.Time) (*domain.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}

	ss := &domain.Session{
		SessionID:      id.String(),
		RoundID:        r.RoundID,
		Wallet:         req.Wallet,
		QuestionIDs:    draw,
		State:          domain.StateAwaitingNext,
		LifeUsed:       lifeUsed,
		EntrySignature: req.TxSignature,
		StartedAt:      now,
	}

	if err := g.store.CreateSession(ctx, ss, g.fees.EntryFeeLamports); err != nil {
		return nil, err
	}

	return ss, nil
}

// PurchaseLife credits one purchased life after verifying the payment
// went to the platform address for the life price.
func (g *Gate) PurchaseLife(ctx context.Context, wallet, signature string) (*domain.Allowance, error) {
	if !validWallet(wallet) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidAddress),
			errors.WithMessagef("malformed wallet address"))
	}

	res, err := g.verifier.Verify(ctx, signature)
	if err != nil {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonTxNotFound),
			errors.WithCause(err),
			errors.WithMessagef("payment proof unverifiable"))
	}
	if !res.Success || res.Deltas[g.fees.PlatformAddress] != g.fees.LifePriceLamports {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonAmountMismatch),
			errors.WithMessagef("transfer does not match the life price"))
	}

	if err := g.store.AddLives(ctx, wallet, 1, signature); err != nil {
		return nil, err
	}

	return g.store.GetAllowance(ctx, wallet)
}

// validWallet is a shape check on base58 Solana addresses; real
// ownership is proven by the transaction signature.
func validWallet(addr string) bool {
	if len(addr) < 32 || len(addr) > 44 {
		return false
	}

	for _, c := range addr {
		switch {
		case c >= '1' && c <= '9', c >= 'A' && c <= 'H', c >= 'J' && c <= 'N',
			c >= 'P' && c <= 'Z', c >= 'a' && c <= 'k', c >= 'm' && c <= 'z':
		default:
			return false
		}
	}

	return true
}
