package domain

const (
	EventNameSessionReset       = "session.reset"
	EventNameRoundClosed        = "round.closed"
	EventNameQuizEnded          = "quiz.ended"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventSessionReset struct {
	SessionID string
}

func (EventSessionReset) Name() string { return EventNameSessionReset }

// EventRoundClosed is published once the winners of a round are recorded.
// Round is 1-based.
type EventRoundClosed struct {
	SessionID string
	Round     int
	Winners   []string
	Players   []Player
}

func (EventRoundClosed) Name() string { return EventNameRoundClosed }

type EventQuizEnded struct {
	SessionID string
	Rounds    int
}

func (EventQuizEnded) Name() string { return EventNameQuizEnded }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
	Players     []Player
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
