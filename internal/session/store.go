package session

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/errors"
)

// PGStore is the Postgres session store. Every state transition is a
// conditional update; zero rows affected, not a prior read, decides
// whether a transition was legal.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const sessionColumns = `
session_id, round_id, wallet, question_ids, question_index, state,
COALESCE(current_token, ''), COALESCE(token_issued_at, 'epoch'),
score, correct_count, life_used, entry_signature, started_at, finished_at`

func scanSession(r pgx.Row) (*domain.Session, error) {
	var ss domain.Session
	err := r.Scan(
		&ss.SessionID, &ss.RoundID, &ss.Wallet, &ss.QuestionIDs, &ss.Index, &ss.State,
		&ss.CurrentToken, &ss.TokenIssuedAt,
		&ss.Score, &ss.CorrectCount, &ss.LifeUsed, &ss.EntrySignature, &ss.StartedAt, &ss.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

func (s *PGStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	stmt := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1;`

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, sessionID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", sessionID))
	}

	return ss, err
}

func (s *PGStore) IssueToken(ctx context.Context, sessionID, token string, issuedAt time.Time) error {
	const stmt = `
UPDATE sessions
SET current_token = $2, token_issued_at = $3, state = 'question_issued'
WHERE session_id = $1 AND state <> 'finished';`

	tag, err := s.db.Exec(ctx, stmt, sessionID, token, issuedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonGameFinished),
			errors.WithMessagef("session finished or missing: %s", sessionID))
	}

	return nil
}

func (s *PGStore) ConsumeToken(ctx context.Context, sessionID, token string) (*domain.Session, error) {
	stmt := `
UPDATE sessions
SET current_token = NULL, state = 'awaiting_next'
WHERE session_id = $1 AND state = 'question_issued' AND current_token = $2
RETURNING ` + sessionColumns + `;`

	// RETURNING reflects the post-update row; question_index and
	// token_issued_at are untouched by this statement, which is exactly
	// what the scorer needs.
	ss, err := scanSession(s.db.QueryRow(ctx, stmt, sessionID, token))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTokenMismatch()
	}
	if err != nil {
		return nil, err
	}

	// The token we just cleared is the one presented.
	ss.CurrentToken = token
	return ss, nil
}

func (s *PGStore) Advance(ctx context.Context, sessionID string, points int64, correct bool, finishedAt *time.Time) (*domain.Session, error) {
	stmt := `
UPDATE sessions
SET question_index = question_index + 1,
    score = score + $2,
    correct_count = correct_count + CASE WHEN $3 THEN 1 ELSE 0 END,
    token_issued_at = NULL,
    state = CASE WHEN $4::timestamptz IS NULL THEN 'awaiting_next' ELSE 'finished' END,
    finished_at = $4
WHERE session_id = $1 AND state <> 'finished'
RETURNING ` + sessionColumns + `;`

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, sessionID, points, correct, finishedAt))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonGameFinished),
			errors.WithMessagef("session finished or missing: %s", sessionID))
	}

	return ss, err
}
