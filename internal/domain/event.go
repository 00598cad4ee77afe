package domain

const (
	EventNameScoreUpdated    = "score.updated"
	EventNameSessionFinished = "session.finished"
	EventNameRoundFinalized  = "round.finalized"
)

// EventScoreUpdated fires after every accepted answer with the session's
// running total, so the live leaderboard can track in-progress sessions.
type EventScoreUpdated struct {
	RoundID    string
	Wallet     string
	TotalScore int64
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

// EventSessionFinished fires once when a session consumes its last
// question. Quest and profile bookkeeping hang off it.
type EventSessionFinished struct {
	Session Session
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

// EventRoundFinalized fires once per round after ranking and payout
// persistence, carrying the payout intents that were written.
type EventRoundFinalized struct {
	Round   Round
	Payouts []Payout
}

func (EventRoundFinalized) Name() string { return EventNameRoundFinalized }
