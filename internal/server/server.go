package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/solkunai/soltrivia/internal/api"
	"github.com/solkunai/soltrivia/internal/chain"
	"github.com/solkunai/soltrivia/internal/entry"
	"github.com/solkunai/soltrivia/internal/event"
	"github.com/solkunai/soltrivia/internal/leaderboard"
	"github.com/solkunai/soltrivia/internal/quest"
	"github.com/solkunai/soltrivia/internal/question"
	"github.com/solkunai/soltrivia/internal/ratelimit"
	"github.com/solkunai/soltrivia/internal/round"
	"github.com/solkunai/soltrivia/internal/score"
	"github.com/solkunai/soltrivia/internal/session"
	"github.com/solkunai/soltrivia/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port           int32
		AllowedOrigins []string
	}

	Redis struct {
		Game struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Ratelimit struct {
			Addrs  []string
			Pass   string
			Prefix string
			Limit  int64
		}
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Chain struct {
		VerifierURL         string
		PotAddress          string
		PlatformAddress     string
		EntryFeeLamports    int64
		PlatformFeeLamports int64
		LifePriceLamports   int64
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			game      redis.UniversalClient
			ratelimit redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	service struct {
		rounds      *round.Service
		entry       *entry.Gate
		session     *session.Service
		leaderboard *leaderboard.Service
		quest       *quest.Service
		answers     *score.PGStore
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.game, err = connect(s.c.Redis.Game.Addrs, s.c.Redis.Game.Pass)
	if err != nil {
		return fmt.Errorf("game: %w", err)
	}

	s.infra.redis.ratelimit, err = connect(s.c.Redis.Ratelimit.Addrs, s.c.Redis.Ratelimit.Pass)
	if err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	db := s.infra.postgres
	questions := question.NewPGStore(db)

	s.service.rounds = round.NewService(round.Config{
		Store:     round.NewPGStore(db),
		Questions: questions,
		EventBus:  s.eb,
		Policy:    round.DefaultPolicy(),
	})

	limiter := ratelimit.New(ratelimit.Config{
		Redis:  s.infra.redis.ratelimit,
		Prefix: s.c.Redis.Ratelimit.Prefix,
		Window: time.Minute,
		Limit:  s.c.Redis.Ratelimit.Limit,
	})

	s.service.entry = entry.NewGate(entry.Config{
		Store:    entry.NewPGStore(db),
		Rounds:   s.service.rounds,
		Verifier: chain.NewClient(s.c.Chain.VerifierURL),
		Limiter:  limiter,
		Limits:   entry.DefaultLimits(),
		Fees: entry.Fees{
			PotAddress:          s.c.Chain.PotAddress,
			PlatformAddress:     s.c.Chain.PlatformAddress,
			EntryFeeLamports:    s.c.Chain.EntryFeeLamports,
			PlatformFeeLamports: s.c.Chain.PlatformFeeLamports,
			LifePriceLamports:   s.c.Chain.LifePriceLamports,
		},
	})

	s.service.answers = score.NewPGStore(db)

	s.service.session = session.NewService(session.Config{
		Store:    session.NewPGStore(db),
		Rounds:   round.NewPGStore(db),
		Question: questions,
		Answers:  s.service.answers,
		EventBus: s.eb,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.game,
		Prefix:   s.c.Redis.Game.Prefix,
	})

	s.service.quest = quest.NewService(quest.Config{
		DB:       db,
		EventBus: s.eb,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:         e,
		Entry:          s.service.entry,
		Session:        s.service.session,
		Rounds:         s.service.rounds,
		Leaderboard:    s.service.leaderboard,
		Profiles:       s.service.quest,
		Answers:        s.service.answers,
		Notifier:       api.NewNotifier(s.infra.redis.game, s.c.Redis.Game.Prefix),
		AllowedOrigins: s.c.HTTP.AllowedOrigins,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
