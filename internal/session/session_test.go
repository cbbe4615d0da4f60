package session_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/event"
	"github.com/victornm/chatquiz/internal/session"
)

var (
	qm   = domain.User{ID: "qm", Name: "Heidi"}
	fox  = domain.User{ID: "u1", Name: "Fox"}
	bear = domain.User{ID: "u2", Name: "Bear"}
)

func roster(players ...domain.Player) *domain.Roster {
	r := domain.NewRoster()
	for _, p := range players {
		r.Set(p.Token, p.User)
	}
	return r
}

func populated(t *testing.T, s *session.Session) {
	t.Helper()

	f, err := s.Acquire(context.Background(), "init")
	require.NoError(t, err)
	defer f.Release()

	q := &domain.Quiz{Name: "q", Questions: []domain.Question{{Text: "2+2?", Answer: domain.FreeText("4")}}}
	require.NoError(t, f.Populate(q, "c1", qm, roster(
		domain.Player{Token: "🦊", User: fox},
		domain.Player{Token: "🐻", User: bear},
	)))
}

func TestSession_Initialized(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T, s *session.Session)
		want    bool
	}{
		"new session is empty": {
			arrange: func(t *testing.T, s *session.Session) {},
			want:    false,
		},
		"populated session": {
			arrange: populated,
			want:    true,
		},
		"empty roster is not initialized": {
			arrange: func(t *testing.T, s *session.Session) {
				f, err := s.Acquire(context.Background(), "init")
				require.NoError(t, err)
				defer f.Release()
				require.NoError(t, f.Populate(&domain.Quiz{}, "c1", qm, domain.NewRoster()))
			},
			want: false,
		},
		"quiz master alone is not a roster": {
			arrange: func(t *testing.T, s *session.Session) {
				f, err := s.Acquire(context.Background(), "init")
				require.NoError(t, err)
				defer f.Release()
				require.NoError(t, f.Populate(&domain.Quiz{}, "c1", qm, roster(domain.Player{Token: "👑", User: qm})))
			},
			want: false,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := session.New(session.Config{})
			tt.arrange(t, s)
			assert.Equal(t, tt.want, s.IsInitialized())
		})
	}
}

func TestSession_ResetClearsEverything(t *testing.T) {
	eb := event.NewBus()

	var (
		mu     sync.Mutex
		resets []domain.EventSessionReset
	)
	eb.Subscribe(domain.EventNameSessionReset, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		resets = append(resets, e.(domain.EventSessionReset))
		mu.Unlock()
		return nil
	})

	s := session.New(session.Config{EventBus: eb})
	populated(t, s)

	f, err := s.Acquire(context.Background(), "start")
	require.NoError(t, err)
	_, err = f.AppendRound([]string{"🦊"})
	require.NoError(t, err)

	before := s.Snapshot()
	require.True(t, before.Initialized())
	require.Len(t, before.History, 1)

	s.Reset(context.Background())
	eb.Stop()

	after := s.Snapshot()
	assert.False(t, after.Initialized())
	assert.Empty(t, after.History)
	assert.Zero(t, after.Roster.Len())
	assert.Empty(t, after.Running)
	assert.NotEqual(t, before.ID, after.ID, "reset should start a new generation")

	require.ErrorIs(t, f.Context().Err(), context.Canceled, "reset should cancel the waiting flow")
	_, err = f.AppendRound([]string{"🐻"})
	require.ErrorIs(t, err, session.ErrStale)
	require.Empty(t, s.Snapshot().History, "stale flow must not write into the new session")

	require.Len(t, resets, 1)
	assert.Equal(t, before.ID, resets[0].SessionID)
}

func TestSession_ResetIsIdempotent(t *testing.T) {
	s := session.New(session.Config{})

	s.Reset(context.Background())
	s.Reset(context.Background())

	ss := s.Snapshot()
	assert.False(t, ss.Initialized())
	assert.Empty(t, ss.History)
}

func TestSession_OneFlowAtATime(t *testing.T) {
	s := session.New(session.Config{})

	f, err := s.Acquire(context.Background(), "start")
	require.NoError(t, err)
	assert.Equal(t, "start", s.Snapshot().Running)

	_, err = s.Acquire(context.Background(), "init")
	require.ErrorIs(t, err, session.ErrBusy)

	f.Release()
	require.ErrorIs(t, f.Context().Err(), context.Canceled)

	f2, err := s.Acquire(context.Background(), "init")
	require.NoError(t, err)
	f2.Release()
}

func TestSession_Abort(t *testing.T) {
	s := session.New(session.Config{})
	populated(t, s)

	require.ErrorIs(t, s.Abort(context.Background()), session.ErrIdle)

	f, err := s.Acquire(context.Background(), "start")
	require.NoError(t, err)
	_, err = f.AppendRound([]string{"🦊"})
	require.NoError(t, err)

	require.NoError(t, s.Abort(context.Background()))
	require.ErrorIs(t, f.Context().Err(), context.Canceled)

	ss := s.Snapshot()
	assert.True(t, ss.Initialized(), "abort keeps the session")
	assert.Len(t, ss.History, 1)
	assert.Empty(t, ss.Running)

	// The aborted flow releasing late must not free a newer flow.
	f2, err := s.Acquire(context.Background(), "start")
	require.NoError(t, err)
	f.Release()
	_, err = s.Acquire(context.Background(), "init")
	require.ErrorIs(t, err, session.ErrBusy)
	f2.Release()
}

func TestFlow_AppendRoundKeepsRosterTokens(t *testing.T) {
	s := session.New(session.Config{})
	populated(t, s)

	f, err := s.Acquire(context.Background(), "start")
	require.NoError(t, err)
	defer f.Release()

	n, err := f.AppendRound([]string{"🐻", "🎉", "🐻"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.AppendRound(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ss, err := f.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []domain.RoundResult{
		{Winners: []string{"🐻"}},
		{Winners: []string{}},
	}, ss.History)
}
