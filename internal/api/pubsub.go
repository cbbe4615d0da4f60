package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/chatquiz/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		SessionID string             `json:"session_id"`
		Entries   []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Token  string `json:"token"`
		Name   string `json:"name"`
		Points int    `json:"points"`
	}
)

func toLeaderboard(l domain.Leaderboard) Leaderboard {
	data := Leaderboard{
		SessionID: l.SessionID,
		Entries:   make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Token:  entry.Token,
			Name:   entry.User.Name,
			Points: entry.Points,
		})
	}

	return data
}

// PublishLeaderboardUpdated sends the new leaderboard to the channel of every
// player of the round.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := toLeaderboard(e.Leaderboard)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, p := range e.Players {
		eg.Go(func() error {
			return a.publishNotification(ctx, p.User.ID, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, userID, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, PlayerChannel(a.prefix, userID), b).Err()
}

// PlayerChannel is the pubsub channel notifications for userID go to.
func PlayerChannel(prefix, userID string) string {
	return fmt.Sprintf("%s:player:%s", prefix, userID)
}
