package round

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/errors"
)

const codeUniqueViolation = "23505"

// PGStore is the Postgres round store. Finalization is a conditional
// update on status, so concurrent finalizers cannot both settle a round.
// Pot credits happen in the entry store's session-creation transaction.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GetRound(ctx context.Context, roundID string) (*domain.Round, error) {
	const stmt = `
SELECT round_id, date, slot, start_time, end_time, question_ids, pool_refreshed_at, pot_lamports, participants, status
FROM rounds
WHERE round_id = $1;`

	var r domain.Round
	err := s.db.QueryRow(ctx, stmt, roundID).Scan(
		&r.RoundID, &r.Date, &r.Slot, &r.StartTime, &r.EndTime,
		&r.QuestionIDs, &r.PoolRefreshedAt, &r.PotLamports, &r.Participants, &r.Status,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("round not found: %s", roundID))
	}
	if err != nil {
		return nil, err
	}

	return &r, nil
}

func (s *PGStore) CreateRound(ctx context.Context, r *domain.Round) error {
	const stmt = `
INSERT INTO rounds (round_id, date, slot, start_time, end_time, question_ids, pool_refreshed_at, pot_lamports, participants, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, $8);`

	_, err := s.db.Exec(ctx, stmt,
		r.RoundID, r.Date, r.Slot, r.StartTime, r.EndTime,
		r.QuestionIDs, r.PoolRefreshedAt, r.Status,
	)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}

	return err
}

func (s *PGStore) UpdatePool(ctx context.Context, roundID string, questionIDs []string, refreshedAt time.Time) error {
	const stmt = `
UPDATE rounds
SET question_ids = $2, pool_refreshed_at = $3
WHERE round_id = $1 AND status = 'active';`

	_, err := s.db.Exec(ctx, stmt, roundID, questionIDs, refreshedAt)
	return err
}

func (s *PGStore) FirstDue(ctx context.Context, now time.Time) (string, error) {
	const stmt = `
SELECT round_id FROM rounds
WHERE status = 'active' AND end_time <= $1
ORDER BY end_time
LIMIT 1;`

	var roundID string
	err := s.db.QueryRow(ctx, stmt, now).Scan(&roundID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", errors.New(errors.CodeNotFound, errors.WithMessagef("no round due"))
	}

	return roundID, err
}

func (s *PGStore) ListFinishedSessions(ctx context.Context, roundID string) ([]domain.Session, error) {
	const stmt = `
SELECT session_id, round_id, wallet, score, correct_count, started_at, finished_at
FROM sessions
WHERE round_id = $1 AND state = 'finished'
ORDER BY score DESC, finished_at - started_at ASC;`

	rows, err := s.db.Query(ctx, stmt, roundID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Session, error) {
		ss := domain.Session{State: domain.StateFinished}
		err := r.Scan(&ss.SessionID, &ss.RoundID, &ss.Wallet, &ss.Score, &ss.CorrectCount,
			&ss.StartedAt, &ss.FinishedAt)
		return ss, err
	})
}

func (s *PGStore) ListParticipants(ctx context.Context, roundID string) ([]Participant, error) {
	const stmt = `
SELECT wallet, COUNT(*) AS sessions
FROM sessions
WHERE round_id = $1
GROUP BY wallet
ORDER BY wallet;`

	rows, err := s.db.Query(ctx, stmt, roundID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (Participant, error) {
		var p Participant
		err := r.Scan(&p.Wallet, &p.Sessions)
		return p, err
	})
}

func (s *PGStore) FinalizeRound(ctx context.Context, roundID string, status domain.RoundStatus, payouts []domain.Payout) (applied bool, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const updStmt = `UPDATE rounds SET status = $2 WHERE round_id = $1 AND status = 'active';`

	tag, err := tx.Exec(ctx, updStmt, roundID, status)
	if err != nil {
		return false, fmt.Errorf("update round status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Zero rows is the authoritative signal: someone else got here
		// first. Nothing to roll back, nothing was written.
		return false, tx.Rollback(ctx)
	}

	const insStmt = `
INSERT INTO payouts (round_id, wallet, rank, amount_lamports, kind, status, create_time)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	for _, p := range payouts {
		_, err = tx.Exec(ctx, insStmt,
			p.RoundID, p.Wallet, p.Rank, p.AmountLamports, p.Kind, p.Status, p.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("insert payout: %w", err)
		}
	}

	return true, tx.Commit(ctx)
}

func (s *PGStore) ListPayouts(ctx context.Context, roundID string) ([]domain.Payout, error) {
	const stmt = `
SELECT round_id, wallet, rank, amount_lamports, kind, status, COALESCE(tx_signature, ''), create_time
FROM payouts
WHERE round_id = $1
ORDER BY kind, rank, wallet;`

	rows, err := s.db.Query(ctx, stmt, roundID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Payout, error) {
		var p domain.Payout
		err := r.Scan(&p.RoundID, &p.Wallet, &p.Rank, &p.AmountLamports, &p.Kind, &p.Status, &p.TxSignature, &p.CreatedAt)
		return p, err
	})
}
