package api_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/victornm/chatquiz/internal/api"
	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/event"
	"github.com/victornm/chatquiz/internal/leaderboard"
	"github.com/victornm/chatquiz/internal/session"
	"github.com/victornm/chatquiz/internal/telemetry"
)

var (
	qm   = domain.User{ID: "qm", Name: "Heidi"}
	fox  = domain.Player{Token: "🦊", User: domain.User{ID: "u1", Name: "Fox"}}
	bear = domain.Player{Token: "🐻", User: domain.User{ID: "u2", Name: "Bear"}}
)

func init() {
	gin.SetMode(gin.TestMode)
}

func populate(t *testing.T, s *session.Session, winners ...[]string) {
	t.Helper()

	f, err := s.Acquire(context.Background(), "test")
	require.NoError(t, err)
	defer f.Release()

	r := domain.NewRoster()
	r.Set(fox.Token, fox.User)
	r.Set(bear.Token, bear.User)
	q := &domain.Quiz{Name: "geo.txt", Questions: make([]domain.Question, 3)}
	require.NoError(t, f.Populate(q, "c1", qm, r))

	for _, w := range winners {
		_, err := f.AppendRound(w)
		require.NoError(t, err)
	}
}

func newAdminClient(t *testing.T, s *session.Session) *api.AdminClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(telemetry.GRPCServerInterceptor())
	api.New(api.Config{GRPC: srv, EventBus: event.NewBus(), Session: s})

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		telemetry.GRPCClientInterceptor(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	return api.NewAdminClient(cc)
}

func TestAdmin_GetSession(t *testing.T) {
	s := session.New(session.Config{})
	populate(t, s, []string{"🐻"})
	c := newAdminClient(t, s)

	st, err := c.GetSession(context.Background())
	require.NoError(t, err)

	got := st.AsMap()
	assert.Equal(t, s.Snapshot().ID, got["session_id"])
	assert.Equal(t, true, got["initialized"])
	assert.Equal(t, "geo.txt", got["quiz"])
	assert.Equal(t, float64(3), got["questions"])
	assert.Equal(t, float64(1), got["rounds"])
	assert.Equal(t, map[string]any{"user_id": "qm", "name": "Heidi"}, got["quiz_master"])
	assert.Equal(t, []any{
		map[string]any{"token": "🦊", "user_id": "u1", "name": "Fox"},
		map[string]any{"token": "🐻", "user_id": "u2", "name": "Bear"},
	}, got["players"])
}

func TestAdmin_GetScores(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T, s *session.Session)
		assert  func(t *testing.T, got map[string]any, err error)
	}{
		"lowest first": {
			arrange: func(t *testing.T, s *session.Session) {
				populate(t, s, []string{"🦊"}, []string{"🦊"})
			},
			assert: func(t *testing.T, got map[string]any, err error) {
				require.NoError(t, err)
				assert.Equal(t, []any{
					map[string]any{"token": "🐻", "name": "Bear", "points": float64(0)},
					map[string]any{"token": "🦊", "name": "Fox", "points": float64(2)},
				}, got["scores"])
			},
		},
		"not initialized": {
			arrange: func(t *testing.T, s *session.Session) {},
			assert: func(t *testing.T, _ map[string]any, err error) {
				require.Error(t, err)
				assert.Equal(t, codes.FailedPrecondition, status.Code(err))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := session.New(session.Config{})
			tt.arrange(t, s)
			c := newAdminClient(t, s)

			st, err := c.GetScores(context.Background())
			var got map[string]any
			if st != nil {
				got = st.AsMap()
			}
			tt.assert(t, got, err)
		})
	}
}

func TestAdmin_AbortAndReset(t *testing.T) {
	s := session.New(session.Config{})
	populate(t, s)
	c := newAdminClient(t, s)

	err := c.Abort(context.Background())
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "nothing is waiting yet")

	f, err := s.Acquire(context.Background(), "start")
	require.NoError(t, err)

	require.NoError(t, c.Abort(context.Background()))
	select {
	case <-f.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("abort should cancel the waiting flow")
	}
	assert.True(t, s.IsInitialized(), "abort keeps the session")

	old := s.Snapshot().ID
	require.NoError(t, c.Reset(context.Background()))
	assert.False(t, s.IsInitialized())
	assert.NotEqual(t, old, s.Snapshot().ID)
}

func serve(t *testing.T, c api.Config) *gin.Engine {
	t.Helper()

	e := gin.New()
	c.HTTP = e
	if c.EventBus == nil {
		c.EventBus = event.NewBus()
	}
	api.New(c)
	return e
}

func do(e *gin.Engine, method, path string) (int, map[string]any) {
	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(method, path, nil))

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func TestHTTP_Routes(t *testing.T) {
	tests := map[string]struct {
		arrange    func(t *testing.T, s *session.Session)
		method     string
		path       string
		wantStatus int
		assert     func(t *testing.T, s *session.Session, body map[string]any)
	}{
		"session of an empty bot": {
			method:     http.MethodGet,
			path:       "/v1/session",
			wantStatus: http.StatusOK,
			assert: func(t *testing.T, s *session.Session, body map[string]any) {
				assert.Equal(t, false, body["initialized"])
				assert.Equal(t, []any{}, body["players"])
				assert.NotContains(t, body, "quiz")
			},
		},
		"scores": {
			arrange:    func(t *testing.T, s *session.Session) { populate(t, s, []string{"🐻"}) },
			method:     http.MethodGet,
			path:       "/v1/session/scores",
			wantStatus: http.StatusOK,
			assert: func(t *testing.T, s *session.Session, body map[string]any) {
				assert.Equal(t, []any{
					map[string]any{"token": "🦊", "name": "Fox", "points": float64(0)},
					map[string]any{"token": "🐻", "name": "Bear", "points": float64(1)},
				}, body["scores"])
			},
		},
		"scores before init": {
			method:     http.MethodGet,
			path:       "/v1/session/scores",
			wantStatus: http.StatusPreconditionFailed,
			assert: func(t *testing.T, s *session.Session, body map[string]any) {
				assert.Equal(t, "no quiz is initialized, use init first", body["message"])
			},
		},
		"abort without a waiting step": {
			method:     http.MethodPost,
			path:       "/v1/session/abort",
			wantStatus: http.StatusPreconditionFailed,
		},
		"reset": {
			arrange:    func(t *testing.T, s *session.Session) { populate(t, s) },
			method:     http.MethodPost,
			path:       "/v1/session/reset",
			wantStatus: http.StatusOK,
			assert: func(t *testing.T, s *session.Session, body map[string]any) {
				assert.Equal(t, false, body["initialized"])
				assert.Equal(t, s.Snapshot().ID, body["session_id"])
			},
		},
		"leaderboard disabled": {
			method:     http.MethodGet,
			path:       "/v1/session/leaderboard",
			wantStatus: http.StatusNotFound,
		},
		"archive disabled": {
			method:     http.MethodGet,
			path:       "/v1/sessions/s1/rounds",
			wantStatus: http.StatusNotFound,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := session.New(session.Config{})
			if tt.arrange != nil {
				tt.arrange(t, s)
			}
			e := serve(t, api.Config{Session: s})

			code, body := do(e, tt.method, tt.path)

			assert.Equal(t, tt.wantStatus, code)
			if tt.assert != nil {
				tt.assert(t, s, body)
			}
		})
	}
}

func TestHTTP_Abort(t *testing.T) {
	s := session.New(session.Config{})
	e := serve(t, api.Config{Session: s})

	f, err := s.Acquire(context.Background(), "init")
	require.NoError(t, err)

	code, _ := do(e, http.MethodPost, "/v1/session/abort")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Error(t, f.Context().Err())
}

func TestHTTP_Leaderboard(t *testing.T) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	eb := event.NewBus()
	s := session.New(session.Config{EventBus: eb})
	lb := leaderboard.NewService(leaderboard.Config{EventBus: eb, Redis: rc, Prefix: "lb"})
	e := serve(t, api.Config{EventBus: eb, Session: s, Leaderboard: lb})

	code, _ := do(e, http.MethodGet, "/v1/session/leaderboard")
	assert.Equal(t, http.StatusNotFound, code, "no round closed yet")

	require.NoError(t, lb.UpdateLeaderboard(context.Background(), domain.EventRoundClosed{
		SessionID: s.Snapshot().ID,
		Round:     1,
		Winners:   []string{"🦊"},
		Players:   []domain.Player{fox, bear},
	}))

	code, body := do(e, http.MethodGet, "/v1/session/leaderboard")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{
		map[string]any{"token": "🐻", "name": "Bear", "points": float64(0)},
		map[string]any{"token": "🦊", "name": "Fox", "points": float64(1)},
	}, body["entries"])
}

func TestPublishLeaderboardUpdated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	sub := rc.Subscribe(ctx, api.PlayerChannel("quiz", fox.User.ID), api.PlayerChannel("quiz", bear.User.ID))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err, "should be subscribed")

	a := api.New(api.Config{
		EventBus:     event.NewBus(),
		Session:      session.New(session.Config{}),
		Redis:        rc,
		PubsubPrefix: "quiz",
	})

	err = a.PublishLeaderboardUpdated(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: domain.Leaderboard{
			SessionID: "s1",
			Entries: []domain.LeaderboardEntry{
				{Token: "🐻", User: bear.User, Points: 0},
				{Token: "🦊", User: fox.User, Points: 1},
			},
		},
		Players: []domain.Player{fox, bear},
	})
	require.NoError(t, err)

	got := map[string]api.Notification{}
	for range 2 {
		m, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)

		var n api.Notification
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &n))
		got[m.Channel] = n
	}

	want := api.Notification{
		Event: domain.EventNameLeaderboardUpdated,
		Data: map[string]any{
			"session_id": "s1",
			"entries": []any{
				map[string]any{"token": "🐻", "name": "Bear", "points": float64(0)},
				map[string]any{"token": "🦊", "name": "Fox", "points": float64(1)},
			},
		},
	}
	assert.Equal(t, want, got["quiz:player:u1"])
	assert.Equal(t, want, got["quiz:player:u2"])
}
