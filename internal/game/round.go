package game

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/chatquiz/internal/chat"
	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/gate"
	"github.com/victornm/chatquiz/internal/session"
	"github.com/victornm/chatquiz/internal/telemetry"
)

const (
	separator    = "――――――――――――――――――――"
	audioNotice  = "Audio questions are not implemented yet."
	maxFanOut    = 25
	noAnswerText = "(no private answer)"
)

type stage int

const (
	stageAsk stage = iota + 1
	stageCollect
	stageConfirmReady
	stageReveal
	stageConfirmScores
	stageClosed
)

func (s stage) String() string {
	switch s {
	case stageAsk:
		return "ask"
	case stageCollect:
		return "collect"
	case stageConfirmReady:
		return "ready"
	case stageReveal:
		return "reveal"
	case stageConfirmScores:
		return "scores"
	case stageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// round is the life cycle of one question:
// ask, collect answers (free text only), confirm ready, reveal, confirm scores
// and close.
type round struct {
	s          *Service
	number     int
	total      int
	question   domain.Question
	channelID  string
	quizMaster domain.User
	players    []domain.Player

	answers []*chat.Expectation
}

func (r *round) freeText() bool {
	return r.question.Answer.Kind != domain.AnswerMultipleChoice
}

func (r *round) play(ctx context.Context, f *session.Flow) error {
	defer r.cancelAnswers()

	if err := r.ask(ctx); err != nil {
		return r.fail(ctx, stageAsk, err)
	}

	if r.freeText() {
		if err := r.collect(ctx); err != nil {
			return r.fail(ctx, stageCollect, err)
		}
	}

	if err := r.confirmReady(ctx); err != nil {
		return r.fail(ctx, stageConfirmReady, err)
	}

	ref, err := r.reveal(ctx)
	if err != nil {
		return r.fail(ctx, stageReveal, err)
	}

	winners, err := r.confirmScores(ctx, ref)
	if err != nil {
		return r.fail(ctx, stageConfirmScores, err)
	}

	if err := r.close(ctx, f, winners); err != nil {
		return r.fail(ctx, stageClosed, err)
	}

	return nil
}

func (r *round) fail(ctx context.Context, st stage, err error) error {
	slog.WarnContext(ctx, "game: round stopped", "round", r.number, "stage", st.String(), "error", err)
	return fmt.Errorf("%s: %w", st, err)
}

func (r *round) ask(ctx context.Context) error {
	// Arm the answer barrier before anyone can see the question.
	if r.freeText() {
		for _, p := range r.players {
			r.answers = append(r.answers, r.s.hub.Expect(chat.MessageFrom(p.User.ID)))
		}
	}

	text := fmt.Sprintf("**Question %d/%d:** %s", r.number, r.total, r.question.Text)
	m := chat.Message{Text: text}
	if r.question.Media.Kind == domain.MediaImage {
		m.ImageURL = r.question.Media.URL
	}
	if err := r.send(ctx, m); err != nil {
		return err
	}

	switch r.question.Media.Kind {
	case domain.MediaVideo:
		if err := r.send(ctx, chat.Message{Text: r.question.Media.URL}); err != nil {
			return err
		}
	case domain.MediaAudio:
		if err := r.send(ctx, chat.Message{Text: audioNotice}); err != nil {
			return err
		}
	}

	if !r.freeText() {
		choices := slices.Clone(r.question.Answer.Choices)
		r.s.shuffle(choices)

		var b strings.Builder
		for _, c := range choices {
			fmt.Fprintf(&b, "• %s\n", c)
		}
		return r.send(ctx, chat.Message{Text: strings.TrimRight(b.String(), "\n")})
	}

	return r.direct(ctx, text)
}

// collect waits until every player wrote at least one message since the
// question was asked.
func (r *round) collect(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, x := range r.answers {
		p := r.players[i]
		g.Go(func() error {
			if _, err := x.Wait(ctx); err != nil {
				return fmt.Errorf("answer of %s: %w", p.Token, err)
			}
			slog.DebugContext(ctx, "game: answer received", "round", r.number, "token", p.Token)
			return nil
		})
	}

	return g.Wait()
}

func (r *round) confirmReady(ctx context.Context) error {
	ref, err := r.s.transport.Send(ctx, r.channelID, chat.Message{
		Text: fmt.Sprintf("Ready for the answer? %s continues with %s.", r.quizMaster.Name, gate.Marker),
	})
	if err != nil {
		return err
	}

	if _, err := r.s.gate.Confirm(ctx, stageConfirmReady.String(), ref, r.quizMaster); err != nil {
		return err
	}

	if !r.freeText() {
		return nil
	}

	for _, p := range r.players {
		answer, err := r.s.transport.LatestDirectMessage(ctx, p.User.ID)
		if err != nil {
			return fmt.Errorf("answer of %s: %w", p.Token, err)
		}
		if answer == "" {
			answer = noAnswerText
		}

		if err := r.send(ctx, chat.Message{Text: fmt.Sprintf("%s %s: %s", p.Token, p.User.Name, answer)}); err != nil {
			return err
		}
	}

	return nil
}

func (r *round) reveal(ctx context.Context) (chat.MessageRef, error) {
	return r.s.transport.Send(ctx, r.channelID, chat.Message{
		Text: fmt.Sprintf("**Answer:** %s\n%s, react with the tokens of everyone who got it right, then with %s.",
			r.question.Answer.Correct(), r.quizMaster.Name, gate.Marker),
	})
}

// confirmScores returns the player tokens the quiz master reacted with on the
// reveal message.
func (r *round) confirmScores(ctx context.Context, ref chat.MessageRef) ([]string, error) {
	tokens := make([]string, 0, len(r.players))
	for _, p := range r.players {
		tokens = append(tokens, p.Token)
	}

	rs, err := r.s.gate.Confirm(ctx, stageConfirmScores.String(), ref, r.quizMaster, tokens...)
	if err != nil {
		return nil, err
	}

	var winners []string
	for _, rr := range rs {
		if slices.Contains(tokens, rr.Emoji) && rr.AppliedBy(r.quizMaster.ID) {
			winners = append(winners, rr.Emoji)
		}
	}

	return winners, nil
}

func (r *round) close(ctx context.Context, f *session.Flow, winners []string) error {
	n, err := f.AppendRound(winners)
	if err != nil {
		return err
	}

	telemetry.CountRound()
	r.s.eb.Publish(ctx, domain.EventRoundClosed{
		SessionID: f.SessionID(),
		Round:     n,
		Winners:   winners,
		Players:   r.players,
	})

	slog.InfoContext(ctx, "game: round closed", "session", f.SessionID(), "round", n, "winners", winners)

	if err := r.send(ctx, chat.Message{Text: separator}); err != nil {
		return err
	}
	return r.direct(ctx, separator)
}

func (r *round) send(ctx context.Context, m chat.Message) error {
	_, err := r.s.transport.Send(ctx, r.channelID, m)
	return err
}

// direct sends text privately to every player.
func (r *round) direct(ctx context.Context, text string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFanOut)

	for _, p := range r.players {
		g.Go(func() error {
			if err := r.s.transport.SendDirect(ctx, p.User.ID, text); err != nil {
				return fmt.Errorf("direct message to %s: %w", p.Token, err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (r *round) cancelAnswers() {
	for _, x := range r.answers {
		x.Cancel()
	}
}
