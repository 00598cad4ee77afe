package entry_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solkunai/soltrivia/internal/chain"
	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/entry"
	"github.com/solkunai/soltrivia/internal/errors"
	"github.com/solkunai/soltrivia/internal/round"
)

const (
	wallet       = "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2"
	potAddr      = "8mE5zyhZJQ8TrgE8K8yWXvsqEVpCsNXL61sp7yPkTeV3"
	platformAddr = "3xTy5k1NQa2fog1rhSBBp35qX1j24nkJCJ93ZSzrDabc"
)

func TestGate_Enter_CreatesSession(t *testing.T) {
	f := newFixture(t)

	res, err := f.gate.Enter(context.Background(), entry.EnterRequest{
		Wallet: wallet, TxSignature: "sig-1",
	})
	require.NoError(t, err)

	assert.False(t, res.Resumed)
	assert.True(t, res.FreeEntry)
	assert.False(t, res.LifeUsed)
	require.NotNil(t, res.Session)
	assert.Equal(t, wallet, res.Session.Wallet)
	assert.Equal(t, domain.StateAwaitingNext, res.Session.State)
	assert.Len(t, res.Session.QuestionIDs, 10)
	assert.Equal(t, "sig-1", res.Session.EntrySignature)

	assert.Equal(t, int64(10_000_000), f.store.potCredited,
		"entry fee credited to the pot with the session")
}

func TestGate_Enter_RoundAlreadyFinalized(t *testing.T) {
	f := newFixture(t)
	f.store.allowance.Balance = 1

	// An operator settled the current slot before its end time.
	_, err := f.gate.Enter(context.Background(), entry.EnterRequest{
		Wallet: wallet, TxSignature: "sig-0",
	})
	require.NoError(t, err)
	f.roundStore.rounds["2026-08-28#2"].Status = domain.RoundEnded

	_, err = f.gate.Enter(context.Background(), entry.EnterRequest{
		Wallet: wallet, TxSignature: "sig-1",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ReasonRoundInactive, errors.Reason(err))
	assert.Len(t, f.store.sessions, 1, "no session was created against the dead round")
	assert.Equal(t, 1, f.store.allowance.Balance, "no allowance was consumed")
}

func TestGate_Enter_MalformedWallet(t *testing.T) {
	f := newFixture(t)

	for _, w := range []string{"", "short", "has 0 and spaces padded out to length!!"} {
		_, err := f.gate.Enter(context.Background(), entry.EnterRequest{
			Wallet: w, TxSignature: "sig-1",
		})
		require.Error(t, err)
		assert.Equal(t, errors.ReasonInvalidAddress, errors.Reason(err))
	}
}

func TestGate_Enter_PaymentProof(t *testing.T) {
	tests := map[string]struct {
		arrange    func(f *fixture)
		signature  string
		wantReason string
	}{
		"missing signature": {
			arrange:    func(f *fixture) {},
			wantReason: errors.ReasonTxNotFound,
		},
		"verifier cannot find the transaction": {
			arrange:    func(f *fixture) { f.verifier.err = fmt.Errorf("not found") },
			signature:  "sig-1",
			wantReason: errors.ReasonTxNotFound,
		},
		"transaction failed on chain": {
			arrange:    func(f *fixture) { f.verifier.result = &chain.VerifyResult{Success: false} },
			signature:  "sig-1",
			wantReason: errors.ReasonTxFailed,
		},
		"pot underpaid": {
			arrange: func(f *fixture) {
				f.verifier.result = &chain.VerifyResult{
					Success: true,
					Deltas:  map[string]int64{potAddr: 9_000_000, platformAddr: 1_000_000},
				}
			},
			signature:  "sig-1",
			wantReason: errors.ReasonAmountMismatch,
		},
		"platform fee missing": {
			arrange: func(f *fixture) {
				f.verifier.result = &chain.VerifyResult{
					Success: true,
					Deltas:  map[string]int64{potAddr: 10_000_000},
				}
			},
			signature:  "sig-1",
			wantReason: errors.ReasonAmountMismatch,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			tt.arrange(f)

			_, err := f.gate.Enter(context.Background(), entry.EnterRequest{
				Wallet: wallet, TxSignature: tt.signature,
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantReason, errors.Reason(err))
			assert.Empty(t, f.store.sessions, "failed verification must not create a session")
		})
	}
}

func TestGate_Enter_ResumesUnfinishedSession(t *testing.T) {
	f := newFixture(t)

	first, err := f.gate.Enter(context.Background(), entry.EnterRequest{
		Wallet: wallet, TxSignature: "sig-1",
	})
	require.NoError(t, err)

	second, err := f.gate.Enter(context.Background(), entry.EnterRequest{
		Wallet: wallet, TxSignature: "sig-2",
	})
	require.NoError(t, err)

	assert.True(t, second.Resumed)
	assert.Equal(t, first.Session.SessionID, second.Session.SessionID)
	assert.Len(t, f.store.sessions, 1)
}

func TestGate_Enter_DuplicateSignature(t *testing.T) {
	f := newFixture(t)

	res, err := f.gate.Enter(context.Background(), entry.EnterRequest{
		Wallet: wallet, TxSignature: "sig-1",
	})
	require.NoError(t, err)
	f.store.finish(res.Session.SessionID)

	_, err = f.gate.Enter(context.Background(), entry.EnterRequest{
		Wallet: wallet, TxSignature: "sig-1",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ReasonDuplicateTx, errors.Reason(err))
}

func TestGate_Enter_AllowanceProgression(t *testing.T) {
	f := newFixture(t)
	f.store.allowance.Balance = 1

	// Entries 1 and 2 are free, 3 consumes the purchased life, 4 is
	// rejected with no lives left.
	for i := 0; i < 2; i++ {
		res, err := f.enterAndFinish(fmt.Sprintf("sig-%d", i))
		require.NoError(t, err)
		assert.True(t, res.FreeEntry)
		assert.False(t, res.LifeUsed)
		assert.Equal(t, 1, res.LivesRemaining)
	}

	res, err := f.enterAndFinish("sig-2")
	require.NoError(t, err)
	assert.False(t, res.FreeEntry)
	assert.True(t, res.LifeUsed)
	assert.Equal(t, 0, res.LivesRemaining)

	_, err = f.enterAndFinish("sig-3")
	require.Error(t, err)
	assert.Equal(t, errors.ReasonNoLives, errors.Reason(err))
	assert.Equal(t, 0, f.store.allowance.Balance)
}

func TestGate_Enter_RoundCap(t *testing.T) {
	f := newFixture(t)
	f.store.allowance.Balance = 10

	for i := 0; i < 5; i++ {
		_, err := f.enterAndFinish(fmt.Sprintf("sig-%d", i))
		require.NoError(t, err)
	}

	_, err := f.enterAndFinish("sig-5")
	require.Error(t, err)
	assert.Equal(t, errors.ReasonRoundCapReached, errors.Reason(err))
	assert.Equal(t, 7, f.store.allowance.Balance,
		"the rejected entry consumed no life")
}

func TestGate_Enter_DailyFinishedCap(t *testing.T) {
	f := newFixture(t)
	f.store.finished24h = 10

	_, err := f.gate.Enter(context.Background(), entry.EnterRequest{
		Wallet: wallet, TxSignature: "sig-1",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ReasonDailyCapReached, errors.Reason(err))
}

func TestGate_Enter_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.allow = false

	_, err := f.gate.Enter(context.Background(), entry.EnterRequest{
		Wallet: wallet, TxSignature: "sig-1",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ReasonRateLimited, errors.Reason(err))
	assert.False(t, f.verifier.called, "rate limit fires before any verification")
}

func TestGate_Enter_LifeRefundedWhenCreateFails(t *testing.T) {
	f := newFixture(t)
	f.store.allowance.Balance = 1

	// Burn the free entries first.
	for i := 0; i < 2; i++ {
		_, err := f.enterAndFinish(fmt.Sprintf("sig-%d", i))
		require.NoError(t, err)
	}

	f.store.createErr = fmt.Errorf("connection reset")
	_, err := f.enterAndFinish("sig-2")
	require.Error(t, err)

	assert.Equal(t, 1, f.store.allowance.Balance,
		"the life consumed for the failed creation was restored")
}

func TestGate_PurchaseLife(t *testing.T) {
	f := newFixture(t)
	f.verifier.result = &chain.VerifyResult{
		Success: true,
		Deltas:  map[string]int64{platformAddr: 5_000_000},
	}

	a, err := f.gate.PurchaseLife(context.Background(), wallet, "buy-1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Balance)

	// Replaying the same receipt must not credit twice.
	_, err = f.gate.PurchaseLife(context.Background(), wallet, "buy-1")
	require.Error(t, err)
	assert.Equal(t, errors.ReasonDuplicateTx, errors.Reason(err))
	assert.Equal(t, 1, f.store.allowance.Balance)
}

func TestGate_PurchaseLife_WrongAmount(t *testing.T) {
	f := newFixture(t)
	f.verifier.result = &chain.VerifyResult{
		Success: true,
		Deltas:  map[string]int64{platformAddr: 4_999_999},
	}

	_, err := f.gate.PurchaseLife(context.Background(), wallet, "buy-1")
	require.Error(t, err)
	assert.Equal(t, errors.ReasonAmountMismatch, errors.Reason(err))
}

// --- fixture ---

type fixture struct {
	gate       *entry.Gate
	store      *fakeStore
	roundStore *fakeRoundStore
	verifier   *fakeVerifier
	limiter    *fakeLimiter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: &fakeStore{
			sessions:  map[string]*domain.Session{},
			allowance: domain.Allowance{Wallet: wallet},
			purchases: map[string]bool{},
		},
		roundStore: newFakeRoundStore(),
		verifier: &fakeVerifier{result: &chain.VerifyResult{
			Success: true,
			Deltas:  map[string]int64{potAddr: 10_000_000, platformAddr: 1_000_000},
		}},
		limiter: &fakeLimiter{allow: true},
	}

	rounds := round.NewService(round.Config{
		Store:     f.roundStore,
		Questions: fakeQuestions{},
		Policy:    round.DefaultPolicy(),
	})

	f.gate = entry.NewGate(entry.Config{
		Store:    f.store,
		Rounds:   rounds,
		Verifier: f.verifier,
		Limiter:  f.limiter,
		Limits:   entry.DefaultLimits(),
		Fees: entry.Fees{
			PotAddress:          potAddr,
			PlatformAddress:     platformAddr,
			EntryFeeLamports:    10_000_000,
			PlatformFeeLamports: 1_000_000,
			LifePriceLamports:   5_000_000,
		},
		Now: func() time.Time { return time.Date(2026, 8, 28, 13, 0, 0, 0, time.UTC) },
	})
	return f
}

// enterAndFinish enters and immediately marks the session finished, so
// the next call exercises creation instead of resumption.
func (f *fixture) enterAndFinish(sig string) (*entry.EnterResult, error) {
	res, err := f.gate.Enter(context.Background(), entry.EnterRequest{
		Wallet: wallet, TxSignature: sig,
	})
	if err != nil {
		return nil, err
	}
	f.store.finish(res.Session.SessionID)
	return res, nil
}

type fakeStore struct {
	sessions    map[string]*domain.Session
	allowance   domain.Allowance
	purchases   map[string]bool
	finished24h int
	createErr   error
	potCredited int64
}

func (f *fakeStore) finish(id string) {
	f.sessions[id].State = domain.StateFinished
}

func (f *fakeStore) FindUnfinished(_ context.Context, roundID, w string) (*domain.Session, error) {
	for _, ss := range f.sessions {
		if ss.RoundID == roundID && ss.Wallet == w && !ss.Finished() {
			cp := *ss
			return &cp, nil
		}
	}
	return nil, errors.New(errors.CodeNotFound)
}

func (f *fakeStore) SignatureUsed(_ context.Context, sig string) (bool, error) {
	for _, ss := range f.sessions {
		if ss.EntrySignature == sig {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CountRoundSessions(_ context.Context, roundID, w string) (int, error) {
	n := 0
	for _, ss := range f.sessions {
		if ss.RoundID == roundID && ss.Wallet == w {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountFinishedSince(_ context.Context, w string, _ time.Time) (int, error) {
	return f.finished24h, nil
}

func (f *fakeStore) RecentQuestionIDs(_ context.Context, w string, _ time.Time) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) ConsumeLife(_ context.Context, w string) (bool, error) {
	if f.allowance.Balance <= 0 {
		return false, nil
	}
	f.allowance.Balance--
	f.allowance.LifetimeUsed++
	return true, nil
}

func (f *fakeStore) RefundLife(_ context.Context, w string) error {
	f.allowance.Balance++
	f.allowance.LifetimeUsed--
	return nil
}

func (f *fakeStore) GetAllowance(_ context.Context, w string) (*domain.Allowance, error) {
	cp := f.allowance
	return &cp, nil
}

func (f *fakeStore) AddLives(_ context.Context, w string, n int, sig string) error {
	if f.purchases[sig] {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithReason(errors.ReasonDuplicateTx))
	}
	f.purchases[sig] = true
	f.allowance.Balance += n
	f.allowance.LifetimePurchased += n
	return nil
}

func (f *fakeStore) CreateSession(_ context.Context, ss *domain.Session, feeLamports int64) error {
	if f.createErr != nil {
		return f.createErr
	}
	cp := *ss
	f.sessions[ss.SessionID] = &cp
	f.potCredited += feeLamports
	return nil
}

type fakeVerifier struct {
	result *chain.VerifyResult
	err    error
	called bool
}

func (f *fakeVerifier) Verify(_ context.Context, _ string) (*chain.VerifyResult, error) {
	f.called = true
	return f.result, f.err
}

type fakeLimiter struct {
	allow bool
}

func (f *fakeLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return f.allow, nil
}

type fakeQuestions []string

func (fakeQuestions) Get(_ context.Context, id string) (*domain.Question, error) {
	return &domain.Question{QuestionID: id}, nil
}

func (fakeQuestions) ActiveIDs(context.Context) ([]string, error) {
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("q%d", i+1)
	}
	return ids, nil
}

type fakeRoundStore struct {
	rounds map[string]*domain.Round
}

func newFakeRoundStore() *fakeRoundStore {
	return &fakeRoundStore{rounds: map[string]*domain.Round{}}
}

func (f *fakeRoundStore) GetRound(_ context.Context, id string) (*domain.Round, error) {
	r, ok := f.rounds[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRoundStore) CreateRound(_ context.Context, r *domain.Round) error {
	cp := *r
	f.rounds[r.RoundID] = &cp
	return nil
}

func (f *fakeRoundStore) UpdatePool(_ context.Context, id string, ids []string, at time.Time) error {
	f.rounds[id].QuestionIDs = ids
	f.rounds[id].PoolRefreshedAt = at
	return nil
}

func (f *fakeRoundStore) FirstDue(context.Context, time.Time) (string, error) {
	return "", errors.New(errors.CodeNotFound)
}

func (f *fakeRoundStore) ListFinishedSessions(context.Context, string) ([]domain.Session, error) {
	return nil, nil
}

func (f *fakeRoundStore) ListParticipants(context.Context, string) ([]round.Participant, error) {
	return nil, nil
}

func (f *fakeRoundStore) FinalizeRound(context.Context, string, domain.RoundStatus, []domain.Payout) (bool, error) {
	return false, nil
}

func (f *fakeRoundStore) ListPayouts(context.Context, string) ([]domain.Payout, error) {
	return nil, nil
}
