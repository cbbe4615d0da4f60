package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/errors"
	"github.com/victornm/chatquiz/internal/event"
)

var (
	ErrBusy = errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("another quiz step is still waiting, finish it or reset first"))
	ErrStale = errors.New(errors.CodeAborted,
		errors.WithMessagef("the session was reset while this step was waiting"))
	ErrNotInitialized = errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("no quiz is initialized, use init first"))
	ErrIdle = errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("nothing is waiting"))
)

type Config struct {
	EventBus *event.Bus
}

// Session is the state of the one quiz the bot runs. All access goes through
// its methods, which serialize on a mutex.
//
// Every reset moves the session to a new generation. Flows remember the
// generation they started in and their writes are refused once it changed, so
// a flow that was suspended across a reset cannot resume into the new state.
type Session struct {
	eb *event.Bus

	mu         sync.Mutex
	id         string
	quiz       *domain.Quiz
	channelID  string
	quizMaster *domain.User
	roster     *domain.Roster
	history    []domain.RoundResult
	active     *Flow
}

func New(c Config) *Session {
	return &Session{
		eb:     c.EventBus,
		id:     newGeneration(),
		roster: domain.NewRoster(),
	}
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	ID         string
	Quiz       *domain.Quiz
	ChannelID  string
	QuizMaster *domain.User
	Roster     *domain.Roster
	History    []domain.RoundResult
	// Running names the active flow, empty if none.
	Running string
}

// Initialized reports whether quiz, channel and quiz master are set and at
// least one player is registered.
func (s Snapshot) Initialized() bool {
	return s.Quiz != nil && s.ChannelID != "" && s.QuizMaster != nil && s.Roster.Len() > 0
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshot()
}

func (s *Session) snapshot() Snapshot {
	ss := Snapshot{
		ID:         s.id,
		Quiz:       s.quiz,
		ChannelID:  s.channelID,
		QuizMaster: s.quizMaster,
		Roster:     s.roster.Clone(),
		History:    make([]domain.RoundResult, 0, len(s.history)),
	}

	for _, r := range s.history {
		ss.History = append(ss.History, domain.RoundResult{Winners: slices.Clone(r.Winners)})
	}

	if s.active != nil {
		ss.Running = s.active.name
	}

	return ss
}

func (s *Session) IsInitialized() bool {
	return s.Snapshot().Initialized()
}

// Reset clears the session and cancels the active flow, if any.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	old := s.id
	s.id = newGeneration()
	s.quiz = nil
	s.channelID = ""
	s.quizMaster = nil
	s.roster = domain.NewRoster()
	s.history = nil
	active := s.active
	s.active = nil
	s.mu.Unlock()

	if active != nil {
		slog.InfoContext(ctx, "session: reset cancels waiting flow", "flow", active.name, "session", old)
		active.cancel()
	}

	s.eb.Publish(ctx, domain.EventSessionReset{SessionID: old})
}

// Abort cancels the active flow and keeps the session state. It is the
// operator override for a flow stuck on a human who does not respond.
func (s *Session) Abort(ctx context.Context) error {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.mu.Unlock()

	if active == nil {
		return ErrIdle
	}

	slog.InfoContext(ctx, "session: flow aborted", "flow", active.name, "session", active.gen)
	active.cancel()
	return nil
}

// Acquire starts a flow. Only one flow can be active at a time.
func (s *Session) Acquire(ctx context.Context, name string) (*Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, ErrBusy
	}

	ctx, cancel := context.WithCancel(ctx)
	f := &Flow{
		s:      s,
		name:   name,
		gen:    s.id,
		ctx:    ctx,
		cancel: cancel,
	}
	s.active = f

	return f, nil
}

// Flow is a suspending operation bound to one session generation.
type Flow struct {
	s      *Session
	name   string
	gen    string
	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the flow is released, aborted or the session is
// reset.
func (f *Flow) Context() context.Context { return f.ctx }

// SessionID is the generation the flow belongs to.
func (f *Flow) SessionID() string { return f.gen }

func (f *Flow) Release() {
	f.s.mu.Lock()
	if f.s.active == f {
		f.s.active = nil
	}
	f.s.mu.Unlock()

	f.cancel()
}

// Check returns ErrStale if the session moved to another generation.
func (f *Flow) Check() error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	return f.check()
}

func (f *Flow) check() error {
	if f.s.id != f.gen {
		return ErrStale
	}
	return nil
}

// Snapshot returns the session state if it still belongs to the flow.
func (f *Flow) Snapshot() (Snapshot, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	if err := f.check(); err != nil {
		return Snapshot{}, err
	}
	return f.s.snapshot(), nil
}

// Populate fills the session in one step. The quiz master is never kept as
// a player.
func (f *Flow) Populate(q *domain.Quiz, channelID string, quizMaster domain.User, roster *domain.Roster) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	if err := f.check(); err != nil {
		return err
	}

	r := domain.NewRoster()
	for _, p := range roster.Players() {
		if p.User.ID != quizMaster.ID {
			r.Set(p.Token, p.User)
		}
	}

	qm := quizMaster
	f.s.quiz = q
	f.s.channelID = channelID
	f.s.quizMaster = &qm
	f.s.roster = r
	f.s.history = nil

	return nil
}

// AppendRound records the winners of a round and returns the round number,
// starting at 1. Tokens that are not on the roster are dropped.
func (f *Flow) AppendRound(winners []string) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	if err := f.check(); err != nil {
		return 0, err
	}

	kept := make([]string, 0, len(winners))
	seen := make(map[string]bool, len(winners))
	for _, w := range winners {
		if f.s.roster.Has(w) && !seen[w] {
			seen[w] = true
			kept = append(kept, w)
		}
	}

	f.s.history = append(f.s.history, domain.RoundResult{Winners: kept})
	return len(f.s.history), nil
}

func newGeneration() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
