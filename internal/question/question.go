// Package question reads the admin-managed question bank. Question CRUD
// itself lives outside this service; the game only ever selects and
// renders questions.
package question

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/errors"
)

// Source is the read surface the round and session services consume.
type Source interface {
	Get(ctx context.Context, id string) (*domain.Question, error)
	ActiveIDs(ctx context.Context) ([]string, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, id string) (*domain.Question, error) {
	const stmt = `
SELECT question_id, category, text, options, correct_index, active
FROM questions
WHERE question_id = $1;`

	var q domain.Question
	err := s.db.QueryRow(ctx, stmt, id).Scan(
		&q.QuestionID, &q.Category, &q.Text, &q.Options, &q.CorrectIndex, &q.Active,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not found: %s", id))
	}
	if err != nil {
		return nil, err
	}

	return &q, nil
}

func (s *PGStore) ActiveIDs(ctx context.Context) ([]string, error) {
	const stmt = `SELECT question_id FROM questions WHERE active;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (string, error) {
		var id string
		err := r.Scan(&id)
		return id, err
	})
}
