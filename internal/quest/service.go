// Package quest handles the best-effort bookkeeping that rides on game
// events: quest-progress bumps and per-wallet profile aggregates. Every
// update here happens after the primary state transition committed, so a
// failure is logged and dropped, never surfaced to the player.
package quest

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/event"
)

const (
	QuestDailyPlayer  = "daily_player"
	QuestPerfectRound = "perfect_round"
	QuestFirstVictory = "first_victory"
)

type Config struct {
	DB       *pgxpool.Pool
	EventBus *event.Bus
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	s := &Service{db: c.DB}

	c.EventBus.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		return s.onSessionFinished(ctx, e.(domain.EventSessionFinished))
	})
	c.EventBus.Subscribe(domain.EventNameRoundFinalized, func(ctx context.Context, e event.Event) error {
		return s.onRoundFinalized(ctx, e.(domain.EventRoundFinalized))
	})

	return s
}

func (s *Service) onSessionFinished(ctx context.Context, e domain.EventSessionFinished) error {
	ss := e.Session

	if err := s.Bump(ctx, ss.Wallet, QuestDailyPlayer, 1); err != nil {
		return err
	}
	if ss.CorrectCount == len(ss.QuestionIDs) {
		if err := s.Bump(ctx, ss.Wallet, QuestPerfectRound, 1); err != nil {
			return err
		}
	}

	return s.applyFinish(ctx, ss.Wallet, ss.Score)
}

func (s *Service) onRoundFinalized(ctx context.Context, e domain.EventRoundFinalized) error {
	for _, p := range e.Payouts {
		if p.Kind != domain.PayoutPrize || p.Rank != 1 {
			continue
		}
		if err := s.applyWin(ctx, p.Wallet); err != nil {
			return err
		}
		if err := s.Bump(ctx, p.Wallet, QuestFirstVictory, 1); err != nil {
			return err
		}
	}

	return nil
}

// Bump adds delta to the wallet's progress on the named quest.
func (s *Service) Bump(ctx context.Context, wallet, quest string, delta int) error {
	const stmt = `
INSERT INTO quest_progress (wallet, quest, progress)
VALUES ($1, $2, $3)
ON CONFLICT (wallet, quest) DO UPDATE
SET progress = quest_progress.progress + $3;`

	_, err := s.db.Exec(ctx, stmt, wallet, quest, delta)
	return err
}

func (s *Service) applyFinish(ctx context.Context, wallet string, score int64) error {
	const stmt = `
INSERT INTO profiles (wallet, games_played, lifetime_points, wins)
VALUES ($1, 1, $2, 0)
ON CONFLICT (wallet) DO UPDATE
SET games_played = profiles.games_played + 1,
    lifetime_points = profiles.lifetime_points + $2;`

	_, err := s.db.Exec(ctx, stmt, wallet, score)
	return err
}

func (s *Service) applyWin(ctx context.Context, wallet string) error {
	const stmt = `
INSERT INTO profiles (wallet, games_played, lifetime_points, wins)
VALUES ($1, 0, 0, 1)
ON CONFLICT (wallet) DO UPDATE
SET wins = profiles.wins + 1;`

	_, err := s.db.Exec(ctx, stmt, wallet)
	return err
}

// Profile reads a wallet's lifetime aggregates.
func (s *Service) Profile(ctx context.Context, wallet string) (*domain.Profile, error) {
	const stmt = `
SELECT wallet, games_played, lifetime_points, wins
FROM profiles
WHERE wallet = $1;`

	p := domain.Profile{Wallet: wallet}
	err := s.db.QueryRow(ctx, stmt, wallet).Scan(&p.Wallet, &p.GamesPlayed, &p.LifetimePoints, &p.Wins)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return &p, nil
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}
