package score_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/solkunai/soltrivia/internal/score"
)

func TestPoints(t *testing.T) {
	tests := map[string]struct {
		elapsedMs int64
		want      int64
	}{
		"instant answer earns base plus full bonus": {elapsedMs: 0, want: 1000},
		"half window earns half the bonus":          {elapsedMs: 7500, want: 550},
		"full scoring window earns base only":       {elapsedMs: 15000, want: 100},
		"past scoring window the bonus stays zero":  {elapsedMs: 15900, want: 100},
		"negative elapsed clamps to instant":        {elapsedMs: -50, want: 1000},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, score.Points(tt.elapsedMs))
		})
	}
}

func TestTimedOut(t *testing.T) {
	assert.False(t, score.TimedOut(15999*time.Millisecond))
	assert.True(t, score.TimedOut(16000*time.Millisecond))
	assert.True(t, score.TimedOut(16001*time.Millisecond))
}
