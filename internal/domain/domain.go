package domain

import (
	"fmt"
	"time"
)

// RoundStatus is the lifecycle status of a trivia round.
type RoundStatus string

const (
	RoundActive   RoundStatus = "active"
	RoundEnded    RoundStatus = "ended"
	RoundRefunded RoundStatus = "refunded"
)

// Round is one time-sliced competition window. Rounds are identified by
// UTC date plus the slot index within that day, and carry their own
// question pool and prize pool.
type Round struct {
	RoundID         string
	Date            string // YYYY-MM-DD, UTC
	Slot            int    // 0-based slot within the day
	StartTime       time.Time
	EndTime         time.Time
	QuestionIDs     []string
	PoolRefreshedAt time.Time
	PotLamports     int64
	Participants    int
	Status          RoundStatus
}

// RoundIDFor formats the composite round identity for a date and slot.
func RoundIDFor(date string, slot int) string {
	return fmt.Sprintf("%s#%d", date, slot)
}

// SessionState is the tagged state of a player's attempt. The token and
// issuance timestamp are only meaningful in StateQuestionIssued.
type SessionState string

const (
	// StateAwaitingNext: no question outstanding, the next Issue draws
	// the question at the current index.
	StateAwaitingNext SessionState = "awaiting_next"
	// StateQuestionIssued: a question is outstanding and exactly one
	// submission carrying the current token will be accepted.
	StateQuestionIssued SessionState = "question_issued"
	// StateFinished: all questions consumed, session is immutable.
	StateFinished SessionState = "finished"
)

// Session is one player's attempt at a round's question sequence.
type Session struct {
	SessionID      string
	RoundID        string
	Wallet         string
	QuestionIDs    []string // the per-session draw, fixed at creation
	Index          int      // next question to issue, 0..len(QuestionIDs)
	State          SessionState
	CurrentToken   string    // set only in StateQuestionIssued
	TokenIssuedAt  time.Time // set only in StateQuestionIssued
	Score          int64
	CorrectCount   int
	LifeUsed       bool
	EntrySignature string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

func (s *Session) Finished() bool {
	return s.State == StateFinished
}

// ElapsedMs is the wall time the player spent on the whole session.
// Only meaningful once finished; used as the ranking tie-break.
func (s *Session) ElapsedMs() int64 {
	if s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt).Milliseconds()
}

// Question is a trivia question. CorrectIndex never leaves the server.
type Question struct {
	QuestionID   string
	Category     string
	Text         string
	Options      []string
	CorrectIndex int
	Active       bool
}

// Answer is the write-once audit record of a single question attempt.
type Answer struct {
	SessionID     string
	QuestionIndex int
	QuestionID    string
	SelectedIndex int
	Correct       bool
	Points        int64
	ElapsedMs     int64
	Token         string
	CreatedAt     time.Time
}

// Allowance tracks a wallet's purchased lives. Balance never goes
// negative; every decrement is paired with a session creation.
type Allowance struct {
	Wallet            string
	Balance           int
	LifetimePurchased int
	LifetimeUsed      int
}

// PayoutKind distinguishes prize payouts from refund intents.
type PayoutKind string

const (
	PayoutPrize  PayoutKind = "prize"
	PayoutRefund PayoutKind = "refund"
)

// PayoutStatus transitions pending -> claimed exactly once, driven by an
// external settlement confirmation.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutClaimed PayoutStatus = "claimed"
)

// Payout is one settlement intent produced by round finalization.
type Payout struct {
	RoundID        string
	Wallet         string
	Rank           int // 1..5 for prizes, 0 for refunds
	AmountLamports int64
	Kind           PayoutKind
	Status         PayoutStatus
	TxSignature    string // set once settled on-chain
	CreatedAt      time.Time
}

// Profile holds per-wallet lifetime aggregates, updated best-effort.
type Profile struct {
	Wallet         string
	GamesPlayed    int64
	LifetimePoints int64
	Wins           int64
}
