package score

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/errors"
)

// PGStore persists answer audit records. Rows are insert-only; the unique
// key on (session_id, question_index) turns a double-record race into an
// AlreadyExists error instead of a second row.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Record(ctx context.Context, a domain.Answer) error {
	const stmt = `
INSERT INTO answers (session_id, question_index, question_id, selected_index, correct, points, elapsed_ms, token, create_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	_, err := s.db.Exec(ctx, stmt,
		a.SessionID, a.QuestionIndex, a.QuestionID, a.SelectedIndex,
		a.Correct, a.Points, a.ElapsedMs, a.Token, a.CreatedAt,
	)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("answer already recorded: session=%s index=%d", a.SessionID, a.QuestionIndex),
			errors.WithCause(err))
	}

	return err
}

// ListBySession returns a session's answers in question order, for audit.
func (s *PGStore) ListBySession(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	const stmt = `
SELECT session_id, question_index, question_id, selected_index, correct, points, elapsed_ms, token, create_time
FROM answers
WHERE session_id = $1
ORDER BY question_index;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Answer, error) {
		var a domain.Answer
		err := r.Scan(&a.SessionID, &a.QuestionIndex, &a.QuestionID, &a.SelectedIndex,
			&a.Correct, &a.Points, &a.ElapsedMs, &a.Token, &a.CreatedAt)
		return a, err
	})
}
