package leaderboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/event"
	"github.com/solkunai/soltrivia/internal/leaderboard"
)

func TestService_Standings(t *testing.T) {
	eb := event.NewBus()
	s := makeService(t, eb)

	publish := func(wallet string, total int64) {
		eb.Publish(context.Background(), domain.EventScoreUpdated{
			RoundID:    "2026-08-28#1",
			Wallet:     wallet,
			TotalScore: total,
		})
	}

	publish("walletA", 550)
	publish("walletB", 1000)
	publish("walletC", 100)
	eb.Stop()

	st, err := s.Standings(context.Background(), "2026-08-28#1")
	require.NoError(t, err)

	want := &leaderboard.Standings{
		RoundID: "2026-08-28#1",
		Entries: []leaderboard.Entry{
			{Wallet: "walletB", Score: 1000},
			{Wallet: "walletA", Score: 550},
			{Wallet: "walletC", Score: 100},
		},
	}
	require.Equal(t, want, st)
}

func TestService_Standings_KeepsBestScore(t *testing.T) {
	eb := event.NewBus()
	s := makeService(t, eb)

	// Two sessions for the same wallet in one round: whatever order the
	// handlers run in, the standings keep the higher total.
	eb.Publish(context.Background(), domain.EventScoreUpdated{
		RoundID: "r1", Wallet: "walletA", TotalScore: 900,
	})
	eb.Publish(context.Background(), domain.EventScoreUpdated{
		RoundID: "r1", Wallet: "walletA", TotalScore: 200,
	})
	eb.Stop()

	st, err := s.Standings(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, []leaderboard.Entry{{Wallet: "walletA", Score: 900}}, st.Entries)
}

func TestService_Standings_UnknownRound(t *testing.T) {
	s := makeService(t, event.NewBus())

	_, err := s.Standings(context.Background(), "missing")
	require.Error(t, err)
}

func makeService(t *testing.T, eb *event.Bus) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return leaderboard.NewService(leaderboard.Config{
		EventBus: eb,
		Redis:    rc,
		Prefix:   "test",
	})
}
