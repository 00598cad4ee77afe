// Package session implements the question-issuance and answer-submission
// protocol. Each session holds at most one outstanding single-use token;
// issuing binds one question to one allowed submission, and submitting
// consumes the token, scores the answer against the server clock, and
// advances the state machine.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/errors"
	"github.com/solkunai/soltrivia/internal/event"
	"github.com/solkunai/soltrivia/internal/question"
	"github.com/solkunai/soltrivia/internal/score"
)

const tokenBytes = 32

// Store is the conditional-update surface the protocol needs. Token
// consumption must be compare-and-swap at the datastore: "clear the
// token where it equals the presented value", with zero rows affected as
// the authoritative mismatch signal.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	// IssueToken sets the outstanding token, superseding any prior one.
	// Must not touch finished sessions.
	IssueToken(ctx context.Context, sessionID, token string, issuedAt time.Time) error
	// ConsumeToken clears the token iff it matches, returning the
	// session as it was at consumption. Mismatch yields ErrTokenMismatch.
	ConsumeToken(ctx context.Context, sessionID, token string) (*domain.Session, error)
	// Advance accumulates the answer outcome and moves the index forward,
	// stamping finishedAt when the draw is exhausted.
	Advance(ctx context.Context, sessionID string, points int64, correct bool, finishedAt *time.Time) (*domain.Session, error)
}

// RoundSource checks the underlying round is still accepting play.
type RoundSource interface {
	GetRound(ctx context.Context, roundID string) (*domain.Round, error)
}

// AnswerRecorder persists the write-once answer audit trail.
type AnswerRecorder interface {
	Record(ctx context.Context, a domain.Answer) error
}

type Config struct {
	Store    Store
	Rounds   RoundSource
	Question question.Source
	Answers  AnswerRecorder
	EventBus *event.Bus

	Now func() time.Time // test hook, defaults to time.Now
}

type Service struct {
	store     Store
	rounds    RoundSource
	questions question.Source
	answers   AnswerRecorder
	eb        *event.Bus
	now       func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Service{
		store:     c.Store,
		rounds:    c.Rounds,
		questions: c.Question,
		answers:   c.Answers,
		eb:        c.EventBus,
		now:       c.Now,
	}
}

// ErrTokenMismatch is returned by ConsumeToken implementations when the
// presented token is not the outstanding one. Stale tokens, replays, and
// double submissions all land here.
func ErrTokenMismatch() error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonInvalidToken),
		errors.WithMessagef("token is not the outstanding one"))
}

// IssuedQuestion is the client-facing question view. It deliberately has
// no field for the correct index.
type IssuedQuestion struct {
	QuestionID string
	Category   string
	Text       string
	Options    []string
}

type IssueResult struct {
	QuestionIndex  int
	TotalQuestions int
	Question       IssuedQuestion
	Token          string
}

// Issue hands out the question at the session's current index together
// with a fresh single-use token. Re-issuing supersedes any outstanding
// token, so an abandoned question can be retried with a fresh window.
func (s *Service) Issue(ctx context.Context, sessionID string) (*IssueResult, error) {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if ss.Finished() {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonGameFinished),
			errors.WithMessagef("session already finished: %s", sessionID))
	}
	if ss.Index >= len(ss.QuestionIDs) {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonGameComplete),
			errors.WithMessagef("no questions left: session=%s index=%d", sessionID, ss.Index))
	}

	r, err := s.rounds.GetRound(ctx, ss.RoundID)
	if err != nil {
		return nil, err
	}
	if r.Status != domain.RoundActive {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonRoundInactive),
			errors.WithMessagef("round is %s: %s", r.Status, r.RoundID))
	}

	q, err := s.questions.Get(ctx, ss.QuestionIDs[ss.Index])
	if err != nil {
		return nil, err
	}

	token, err := mintToken()
	if err != nil {
		return nil, err
	}

	if err := s.store.IssueToken(ctx, sessionID, token, s.now()); err != nil {
		return nil, err
	}

	return &IssueResult{
		QuestionIndex:  ss.Index,
		TotalQuestions: len(ss.QuestionIDs),
		Question: IssuedQuestion{
			QuestionID: q.QuestionID,
			Category:   q.Category,
			Text:       q.Text,
			Options:    q.Options,
		},
		Token: token,
	}, nil
}

type SubmitRequest struct {
	SessionID     string
	Token         string
	SelectedIndex int
}

type SubmitResult struct {
	Correct        bool
	CorrectIndex   int // -1 when the answer timed out
	Points         int64
	TimeMs         int64
	TimedOut       bool
	IsLastQuestion bool
	TotalScore     int64
	CorrectCount   int
}

// Submit consumes the outstanding token exactly once, scores the answer
// against the issuance timestamp, and advances the session. A timed-out
// answer is an automatic miss and keeps the correct index opaque.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.SelectedIndex < 0 || req.SelectedIndex > 3 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("selected index out of range: %d", req.SelectedIndex))
	}
	if req.Token == "" {
		return nil, ErrTokenMismatch()
	}

	// The CAS is the whole anti-replay story: only the exact outstanding
	// token consumes, and it consumes once.
	ss, err := s.store.ConsumeToken(ctx, req.SessionID, req.Token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	elapsed := now.Sub(ss.TokenIssuedAt)
	timedOut := score.TimedOut(elapsed)

	q, err := s.questions.Get(ctx, ss.QuestionIDs[ss.Index])
	if err != nil {
		return nil, err
	}

	correct := !timedOut && req.SelectedIndex == q.CorrectIndex

	var points int64
	if correct {
		points = score.Points(elapsed.Milliseconds())
	}

	correctIndex := q.CorrectIndex
	if timedOut {
		// Timeouts stay opaque so slow probing never reveals answers.
		correctIndex = -1
	}

	var finishedAt *time.Time
	isLast := ss.Index+1 >= len(ss.QuestionIDs)
	if isLast {
		finishedAt = &now
	}

	updated, err := s.store.Advance(ctx, req.SessionID, points, correct, finishedAt)
	if err != nil {
		return nil, err
	}

	// Audit trail; the state transition above is the source of truth.
	if err := s.answers.Record(ctx, domain.Answer{
		SessionID:     ss.SessionID,
		QuestionIndex: ss.Index,
		QuestionID:    q.QuestionID,
		SelectedIndex: req.SelectedIndex,
		Correct:       correct,
		Points:        points,
		ElapsedMs:     elapsed.Milliseconds(),
		Token:         req.Token,
		CreatedAt:     now,
	}); err != nil {
		slog.ErrorContext(ctx, "session: record answer failed",
			"session", ss.SessionID, "index", ss.Index, "error", err)
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventScoreUpdated{
			RoundID:    updated.RoundID,
			Wallet:     updated.Wallet,
			TotalScore: updated.Score,
		})

		if updated.Finished() {
			s.eb.Publish(ctx, domain.EventSessionFinished{Session: *updated})
		}
	}

	return &SubmitResult{
		Correct:        correct,
		CorrectIndex:   correctIndex,
		Points:         points,
		TimeMs:         elapsed.Milliseconds(),
		TimedOut:       timedOut,
		IsLastQuestion: isLast,
		TotalScore:     updated.Score,
		CorrectCount:   updated.CorrectCount,
	}, nil
}

func mintToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Internal(err)
	}

	return hex.EncodeToString(b), nil
}
