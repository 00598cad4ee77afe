package event_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type recorded struct {
		mu     sync.Mutex
		events map[string][]event.Event
	}

	tests := map[string]struct {
		published []event.Event
		subscribe map[string][]string // subscriber -> event names
		assert    func(t *testing.T, got map[string][]event.Event)
	}{
		"a subscriber only sees the events it subscribed to": {
			published: []event.Event{
				scoreUpdated("w1", 100),
				sessionFinished("w1"),
			},
			subscribe: map[string][]string{
				"board": {domain.EventNameScoreUpdated},
			},
			assert: func(t *testing.T, got map[string][]event.Event) {
				assert.ElementsMatch(t, []event.Event{scoreUpdated("w1", 100)}, got["board"])
			},
		},

		"every occurrence is delivered": {
			published: []event.Event{
				scoreUpdated("w1", 100),
				scoreUpdated("w1", 250),
				scoreUpdated("w2", 400),
			},
			subscribe: map[string][]string{
				"board": {domain.EventNameScoreUpdated},
			},
			assert: func(t *testing.T, got map[string][]event.Event) {
				assert.Len(t, got["board"], 3)
			},
		},

		"one event fans out to every subscriber": {
			published: []event.Event{
				sessionFinished("w1"),
			},
			subscribe: map[string][]string{
				"quests":  {domain.EventNameSessionFinished},
				"profile": {domain.EventNameSessionFinished},
			},
			assert: func(t *testing.T, got map[string][]event.Event) {
				assert.ElementsMatch(t, []event.Event{sessionFinished("w1")}, got["quests"])
				assert.ElementsMatch(t, []event.Event{sessionFinished("w1")}, got["profile"])
			},
		},

		"mixed subscriptions route independently": {
			published: []event.Event{
				scoreUpdated("w1", 100),
				sessionFinished("w1"),
				scoreUpdated("w1", 300),
			},
			subscribe: map[string][]string{
				"board":  {domain.EventNameScoreUpdated},
				"quests": {domain.EventNameSessionFinished, domain.EventNameScoreUpdated},
			},
			assert: func(t *testing.T, got map[string][]event.Event) {
				assert.Len(t, got["board"], 2)
				assert.Len(t, got["quests"], 3)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rec := recorded{events: make(map[string][]event.Event)}

			b := event.NewBus()
			for sub, names := range tt.subscribe {
				sub := sub
				for _, n := range names {
					b.Subscribe(n, func(ctx context.Context, e event.Event) error {
						rec.mu.Lock()
						rec.events[sub] = append(rec.events[sub], e)
						rec.mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range tt.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, rec.events)
		})
	}
}

func TestBus_PanickingHandlerDoesNotStallTheBus(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int64
	)

	b := event.NewBus(event.WithPoolSize(1))
	b.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		panic("handler bug")
	})
	b.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		got = append(got, e.(domain.EventScoreUpdated).TotalScore)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), scoreUpdated("w1", int64(i)))
	}
	b.Stop()

	assert.Len(t, got, 5, "the healthy subscriber still got every event")
}

func TestBus_HandlerErrorIsNotFatal(t *testing.T) {
	delivered := 0
	var mu sync.Mutex

	b := event.NewBus()
	b.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return fmt.Errorf("redis down")
	})

	b.Publish(context.Background(), sessionFinished("w1"))
	b.Publish(context.Background(), sessionFinished("w2"))
	b.Stop()

	assert.Equal(t, 2, delivered, "errors are logged, delivery continues")
}

func scoreUpdated(wallet string, score int64) domain.EventScoreUpdated {
	return domain.EventScoreUpdated{
		RoundID:    "2026-08-28#2",
		Wallet:     wallet,
		TotalScore: score,
	}
}

func sessionFinished(wallet string) domain.EventSessionFinished {
	return domain.EventSessionFinished{
		Session: domain.Session{SessionID: "s-" + wallet, Wallet: wallet},
	}
}
