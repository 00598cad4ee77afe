// Package score owns the answer-scoring policy and the write-once answer
// audit records.
package score

import (
	"math"
	"time"
)

// Scoring policy: a correct answer earns a flat base plus a speed bonus
// that decays linearly from BonusCap at elapsed 0 to zero at the scoring
// window. The answer window adds slack on top of the scoring window so a
// full-window answer is not eaten by network latency.
const (
	Base            = 100
	BonusCap        = 900
	ScoringWindowMs = 15_000

	AnswerWindow = time.Duration(ScoringWindowMs+1_000) * time.Millisecond
)

// Points computes the award for a correct answer after elapsed
// milliseconds. Incorrect and timed-out answers score zero and must not
// call this.
func Points(elapsedMs int64) int64 {
	if elapsedMs < 0 {
		elapsedMs = 0
	}

	bonus := BonusCap * (1 - float64(elapsedMs)/ScoringWindowMs)
	if bonus < 0 {
		bonus = 0
	}

	return int64(math.Round(Base + bonus))
}

// TimedOut reports whether an answer arrived at or past the answer
// window. The server clock is the sole timing authority.
func TimedOut(elapsed time.Duration) bool {
	return elapsed >= AnswerWindow
}
