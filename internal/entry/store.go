package entry

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

// PGStore backs the gate with Postgres. The life decrement is a
// conditional update ("balance > 0"), never read-then-write, so two
// concurrent entries cannot both spend the last life.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) FindUnfinished(ctx context.Context, roundID, wallet string) (*domain.Session, error) {
	const stmt = `
SELECT session_id, round_id, wallet, question_ids, question_index, state,
       COALESCE(current_token, ''), COALESCE(token_issued_at, 'epoch'),
       score, correct_count, life_used, entry_signature, started_at, finished_at
FROM sessions
WHERE round_id = $1 AND wallet = $2 AND state <> 'finished'
ORDER BY started_at DESC
LIMIT 1;`

	var ss domain.Session
	err := s.db.QueryRow(ctx, stmt, roundID, wallet).Scan(
		&ss.SessionID, &ss.RoundID, &ss.Wallet, &ss.QuestionIDs, &ss.Index, &ss.State,
		&ss.CurrentToken, &ss.TokenIssuedAt,
		&ss.Score, &ss.CorrectCount, &ss.LifeUsed, &ss.EntrySignature, &ss.StartedAt, &ss.FinishedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no unfinished session: round=%s wallet=%s", roundID, wallet))
	}
	if err != nil {
		return nil, err
	}

	return &ss, nil
}

func (s *PGStore) SignatureUsed(ctx context.Context, signature string) (bool, error) {
	const stmt = `SELECT EXISTS (SELECT 1 FROM sessions WHERE entry_signature = $1);`

	var used bool
	err := s.db.QueryRow(ctx, stmt, signature).Scan(&used)
	return used, err
}

func (s *PGStore) CountRoundSessions(ctx context.Context, roundID, wallet string) (int, error) {
	const stmt = `SELECT COUNT(*) FROM sessions WHERE round_id = $1 AND wallet = $2;`

	var n int
	err := s.db.QueryRow(ctx, stmt, roundID, wallet).Scan(&n)
	return n, err
}

func (s *PGStore) CountFinishedSince(ctx context.Context, wallet string, since time.Time) (int, error) {
	const stmt = `
SELECT COUNT(*) FROM sessions
WHERE wallet = $1 AND state = 'finished' AND finished_at >= $2;`

	var n int
	err := s.db.QueryRow(ctx, stmt, wallet, since).Scan(&n)
	return n, err
}

func (s *PGStore) RecentQuestionIDs(ctx context.Context, wallet string, since time.Time) ([]string, error) {
	const stmt = `
SELECT DISTINCT a.question_id
FROM answers a
JOIN sessions ss ON ss.session_id = a.session_id
WHERE ss.wallet = $1 AND a.create_time >= $2;`

	rows, err := s.db.Query(ctx, stmt, wallet, since)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (string, error) {
		var id string
		err := r.Scan(&id)
		return id, err
	})
}

func (s *PGStore) ConsumeLife(ctx context.Context, wallet string) (bool, error) {
	const stmt = `
UPDATE allowances
SET balance = balance - 1, lifetime_used = lifetime_used + 1
WHERE wallet = $1 AND balance > 0;`

	tag, err := s.db.Exec(ctx, stmt, wallet)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) RefundLife(ctx context.Context, wallet string) error {
	const stmt = `
UPDATE allowances
SET balance = balance + 1, lifetime_used = lifetime_used - 1
WHERE wallet = $1;`

	_, err := s.db.Exec(ctx, stmt, wallet)
	return err
}

func (s *PGStore) GetAllowance(ctx context.Context, wallet string) (*domain.Allowance, error) {
	const stmt = `
SELECT wallet, balance, lifetime_purchased, lifetime_used
FROM allowances
WHERE wallet = $1;`

	var a domain.Allowance
	err := s.db.QueryRow(ctx, stmt, wallet).Scan(
		&a.Wallet, &a.Balance, &a.LifetimePurchased, &a.LifetimeUsed,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return &domain.Allowance{Wallet: wallet}, nil
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}

func (s *PGStore) AddLives(ctx context.Context, wallet string, n int, signature string) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insStmt = `INSERT INTO life_purchases (tx_signature, wallet, lives, create_time) VALUES ($1, $2, $3, now());`

	_, err = tx.Exec(ctx, insStmt, signature, wallet, n)
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithReason(errors.ReasonDuplicateTx),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}

	const updStmt = `
INSERT INTO allowances (wallet, balance, lifetime_purchased, lifetime_used)
VALUES ($1, $2, $2, 0)
ON CONFLICT (wallet) DO UPDATE
SET balance = allowances.balance + $2, lifetime_purchased = allowances.lifetime_purchased + $2;`

	if _, err = tx.Exec(ctx, updStmt, wallet, n); err != nil {
		return fmt.Errorf("credit lives: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PGStore) CreateSession(ctx context.Context, ss *domain.Session, feeLamports int64) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insStmt = `
INSERT INTO sessions (session_id, round_id, wallet, question_ids, question_index, state, score, correct_count, life_used, entry_signature, started_at)
VALUES ($1, $2, $3, $4, 0, $5, 0, 0, $6, $7, $8);`

	_, err = tx.Exec(ctx, insStmt,
		ss.SessionID, ss.RoundID, ss.Wallet, ss.QuestionIDs, ss.State,
		ss.LifeUsed, ss.EntrySignature, ss.StartedAt,
	)
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	const potStmt = `
UPDATE rounds
SET pot_lamports = pot_lamports + $2, participants = participants + 1
WHERE round_id = $1;`

	if _, err = tx.Exec(ctx, potStmt, ss.RoundID, feeLamports); err != nil {
		return fmt.Errorf("credit pot: %w", err)
	}

	return tx.Commit(ctx)
}
