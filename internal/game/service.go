// Package game runs the quiz: player registration on init and the round loop
// on start.
package game

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/victornm/chatquiz/internal/chat"
	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/errors"
	"github.com/victornm/chatquiz/internal/event"
	"github.com/victornm/chatquiz/internal/gate"
	"github.com/victornm/chatquiz/internal/session"
)

var ErrNoPlayers = errors.New(errors.CodeFailedPrecondition,
	errors.WithMessagef("nobody registered, the quiz was not initialized"))

type QuizLoader interface {
	Load(name string) (*domain.Quiz, error)
}

type Config struct {
	Session   *session.Session
	Transport chat.Transport
	Hub       *chat.Hub
	Gate      *gate.Gate
	Quizzes   QuizLoader
	EventBus  *event.Bus
	// Shuffle permutes multiple choice options before they are shown.
	Shuffle func([]string)
}

type Service struct {
	session   *session.Session
	transport chat.Transport
	hub       *chat.Hub
	gate      *gate.Gate
	quizzes   QuizLoader
	eb        *event.Bus
	shuffle   func([]string)
}

func NewService(c Config) *Service {
	s := &Service{
		session:   c.Session,
		transport: c.Transport,
		hub:       c.Hub,
		gate:      c.Gate,
		quizzes:   c.Quizzes,
		eb:        c.EventBus,
		shuffle:   c.Shuffle,
	}

	if s.shuffle == nil {
		s.shuffle = func(xs []string) {
			rand.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })
		}
	}

	return s
}

// InitRequest represents a request to set up a new quiz in a channel.
type InitRequest struct {
	QuizName   string
	ChannelID  string
	QuizMaster domain.User
}

// Init resets the session, loads the quiz and registers players. The session
// is only populated when all of that succeeds.
func (s *Service) Init(ctx context.Context, req InitRequest) (*domain.Roster, error) {
	s.session.Reset(ctx)

	q, err := s.quizzes.Load(req.QuizName)
	if err != nil {
		return nil, err
	}

	f, err := s.session.Acquire(ctx, "init")
	if err != nil {
		return nil, err
	}
	defer f.Release()

	roster, err := s.register(f.Context(), req.ChannelID, req.QuizMaster)
	if err != nil {
		return nil, err
	}

	if roster.Len() == 0 {
		return nil, ErrNoPlayers
	}

	if err := f.Populate(q, req.ChannelID, req.QuizMaster, roster); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "game: session initialized",
		"session", f.SessionID(),
		"quiz", q.Name,
		"questions", len(q.Questions),
		"players", roster.Len(),
	)

	return roster, nil
}

// register collects players from the reactions on a prompt. The quiz master
// closes registration with the marker.
//
// Every reaction other than the marker is a token. When several users reacted
// with the same token, the one listed last holds it.
func (s *Service) register(ctx context.Context, channelID string, quizMaster domain.User) (*domain.Roster, error) {
	ref, err := s.transport.Send(ctx, channelID, chat.Message{
		Text: fmt.Sprintf("Who is playing? React to this message with an emoji of your choice, it will be your token. %s closes registration with %s.",
			quizMaster.Name, gate.Marker),
	})
	if err != nil {
		return nil, fmt.Errorf("registration: post prompt: %w", err)
	}

	rs, err := s.gate.Confirm(ctx, "registration", ref, quizMaster)
	if err != nil {
		return nil, err
	}

	roster := domain.NewRoster()
	for _, r := range rs {
		if r.Emoji == gate.Marker {
			continue
		}

		for _, u := range r.Users {
			if u.ID == quizMaster.ID || u.Bot {
				continue
			}

			if prev, ok := roster.Get(r.Emoji); ok && prev.ID != u.ID {
				slog.WarnContext(ctx, "game: token claimed twice, last one wins",
					"token", r.Emoji, "previous", prev.ID, "player", u.ID)
			}
			roster.Set(r.Emoji, u)
		}
	}

	return roster, nil
}

// Start plays every question of the initialized quiz, one round after the
// other.
func (s *Service) Start(ctx context.Context) error {
	f, err := s.session.Acquire(ctx, "start")
	if err != nil {
		return err
	}
	defer f.Release()

	ss, err := f.Snapshot()
	if err != nil {
		return err
	}
	if !ss.Initialized() {
		return session.ErrNotInitialized
	}

	ctx = f.Context()
	total := len(ss.Quiz.Questions)

	slog.InfoContext(ctx, "game: quiz started", "session", f.SessionID(), "questions", total)

	for i, q := range ss.Quiz.Questions {
		rc := &round{
			s:          s,
			number:     i + 1,
			total:      total,
			question:   q,
			channelID:  ss.ChannelID,
			quizMaster: *ss.QuizMaster,
			players:    ss.Roster.Players(),
		}

		if err := rc.play(ctx, f); err != nil {
			return fmt.Errorf("round %d: %w", i+1, err)
		}
	}

	if _, err := s.transport.Send(ctx, ss.ChannelID, chat.Message{
		Text: "That was the last question, the quiz is over! Ask for the scores to see who won.",
	}); err != nil {
		return fmt.Errorf("announce end: %w", err)
	}

	s.eb.Publish(ctx, domain.EventQuizEnded{SessionID: f.SessionID(), Rounds: total})

	slog.InfoContext(ctx, "game: quiz ended", "session", f.SessionID(), "rounds", total)
	return nil
}
