package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/errors"
	"github.com/victornm/chatquiz/internal/event"
	"github.com/victornm/chatquiz/internal/leaderboard"
	"github.com/victornm/chatquiz/internal/score"
	"github.com/victornm/chatquiz/internal/session"
)

type Config struct {
	GRPC     *grpc.Server
	HTTP     gin.IRouter
	EventBus *event.Bus
	Session  *session.Session

	// Optional. Their endpoints answer NotFound when unset.
	Leaderboard *leaderboard.Service
	Archive     *score.Archive

	// Optional. Without it no notifications are published.
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// API is the operator surface: read the session, override stuck flows, and
// push score changes to players.
type API struct {
	session     *session.Session
	leaderboard *leaderboard.Service
	archive     *score.Archive

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		session:     c.Session,
		leaderboard: c.Leaderboard,
		archive:     c.Archive,
		redis:       c.Redis,
		prefix:      c.PubsubPrefix,
	}

	if c.GRPC != nil {
		c.GRPC.RegisterService(&adminServiceDesc, a)
	}

	if c.HTTP != nil {
		a.registerRoutes(c.HTTP)
	}

	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

func (a *API) sessionFields() map[string]any {
	ss := a.session.Snapshot()

	players := make([]any, 0, ss.Roster.Len())
	for _, p := range ss.Roster.Players() {
		players = append(players, map[string]any{
			"token":   p.Token,
			"user_id": p.User.ID,
			"name":    p.User.Name,
		})
	}

	f := map[string]any{
		"session_id":  ss.ID,
		"initialized": ss.Initialized(),
		"channel_id":  ss.ChannelID,
		"players":     players,
		"rounds":      len(ss.History),
		"running":     ss.Running,
	}

	if ss.Quiz != nil {
		f["quiz"] = ss.Quiz.Name
		f["questions"] = len(ss.Quiz.Questions)
	}

	if ss.QuizMaster != nil {
		f["quiz_master"] = map[string]any{
			"user_id": ss.QuizMaster.ID,
			"name":    ss.QuizMaster.Name,
		}
	}

	return f
}

func (a *API) scoreFields() (map[string]any, error) {
	ss := a.session.Snapshot()
	if ss.Roster.Len() == 0 {
		return nil, session.ErrNotInitialized
	}

	scores := make([]any, 0, ss.Roster.Len())
	for _, s := range score.Tally(ss.Roster, ss.History) {
		scores = append(scores, map[string]any{
			"token":  s.Player.Token,
			"name":   s.Player.User.Name,
			"points": s.Points,
		})
	}

	return map[string]any{
		"session_id": ss.ID,
		"rounds":     len(ss.History),
		"scores":     scores,
	}, nil
}

var (
	errLeaderboardDisabled = errors.New(errors.CodeNotFound, errors.WithMessagef("the leaderboard mirror is not enabled"))
	errArchiveDisabled     = errors.New(errors.CodeNotFound, errors.WithMessagef("the round archive is not enabled"))
)
