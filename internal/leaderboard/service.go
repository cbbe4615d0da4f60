package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/errors"
	"github.com/victornm/chatquiz/internal/event"
)

const (
	defaultTTL = 24 * time.Hour
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// TTL bounds how long the keys of a session outlive its last round.
	TTL time.Duration
}

// Service mirrors the scores of the running session into Redis, so they can
// be read without touching the session.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}

	s.eb.Subscribe(domain.EventNameRoundClosed, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventRoundClosed))
	})

	s.eb.Subscribe(domain.EventNameSessionReset, func(ctx context.Context, e event.Event) error {
		return s.DeleteLeaderboard(ctx, e.(domain.EventSessionReset).SessionID)
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

type storedPlayer struct {
	Position int    `json:"position"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
}

// GetLeaderboard returns the leaderboard of a session, lowest score first.
// Equal scores keep registration order.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRangeWithScores(ctx, s.getLeaderboardKey(req.SessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: session=%s", req.SessionID))
	}

	players, err := s.redis.HGetAll(ctx, s.getPlayersKey(req.SessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get players: %w", err)
	}

	type row struct {
		entry    domain.LeaderboardEntry
		position int
	}

	rows := make([]row, 0, len(res))
	for _, z := range res {
		token := z.Member.(string)

		r := row{
			entry:    domain.LeaderboardEntry{Token: token, Points: int(z.Score)},
			position: len(res),
		}

		if raw, ok := players[token]; ok {
			var p storedPlayer
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				return nil, fmt.Errorf("decode player %s: %w", token, err)
			}
			r.entry.User = domain.User{ID: p.UserID, Name: p.Name}
			r.position = p.Position
		}

		rows = append(rows, r)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].entry.Points != rows[j].entry.Points {
			return rows[i].entry.Points < rows[j].entry.Points
		}
		return rows[i].position < rows[j].position
	})

	entries := make([]domain.LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry)
	}

	return &domain.Leaderboard{
		SessionID: req.SessionID,
		Entries:   entries,
	}, nil
}

// UpdateLeaderboard adds the winners of a closed round. Every player of the
// round is present afterwards, with 0 points if they never won.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventRoundClosed) error {
	key, playersKey := s.getLeaderboardKey(e.SessionID), s.getPlayersKey(e.SessionID)

	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, pl := range e.Players {
			b, err := json.Marshal(storedPlayer{Position: i, UserID: pl.User.ID, Name: pl.User.Name})
			if err != nil {
				return fmt.Errorf("encode player %s: %w", pl.Token, err)
			}

			p.ZAddNX(ctx, key, redis.Z{Score: 0, Member: pl.Token})
			p.HSet(ctx, playersKey, pl.Token, b)
		}

		for _, w := range e.Winners {
			p.ZIncrBy(ctx, key, 1, w)
		}

		p.Expire(ctx, key, s.ttl)
		p.Expire(ctx, playersKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: session=%s round=%d: %w", e.SessionID, e.Round, err)
	}

	return s.publishLeaderboard(ctx, e)
}

func (s *Service) publishLeaderboard(ctx context.Context, e domain.EventRoundClosed) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		SessionID: e.SessionID,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%s: %w", e.SessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
		Players:     e.Players,
	})

	return nil
}

// DeleteLeaderboard drops everything stored for a session.
func (s *Service) DeleteLeaderboard(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.getLeaderboardKey(sessionID), s.getPlayersKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete leaderboard: session=%s: %w", sessionID, err)
	}
	return nil
}

func (s *Service) getLeaderboardKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, session)
}

func (s *Service) getPlayersKey(session string) string {
	return fmt.Sprintf("%s:%s:players", s.prefix, session)
}
