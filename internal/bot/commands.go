package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/errors"
	"github.com/victornm/chatquiz/internal/game"
	"github.com/victornm/chatquiz/internal/score"
	"github.com/victornm/chatquiz/internal/session"
)

func (b *Bot) help(_ context.Context, _ Request) (string, error) {
	return b.Help(), nil
}

func (b *Bot) initQuiz(ctx context.Context, req Request) (string, error) {
	name := strings.TrimSpace(req.Args[0])
	if name == "" {
		return "", errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Which quiz? Use `%sinit: <quiz>`.", b.prefix))
	}

	channel, err := b.transport.ChannelName(ctx, req.Event.ChannelID)
	if err != nil {
		return "", fmt.Errorf("channel name: %w", err)
	}
	if !strings.Contains(strings.ToLower(channel), strings.ToLower(b.channelKeyword)) {
		return "", errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("A quiz can only be initialized in a channel with %q in its name.", b.channelKeyword))
	}

	roster, err := b.game.Init(ctx, game.InitRequest{
		QuizName:   name,
		ChannelID:  req.Event.ChannelID,
		QuizMaster: req.Event.Author,
	})
	if err != nil {
		return "", err
	}

	return "Registration closed. Players:\n" + formatPlayers(roster.Players()), nil
}

func (b *Bot) start(ctx context.Context, _ Request) (string, error) {
	return "", b.game.Start(ctx)
}

func (b *Bot) reset(ctx context.Context, _ Request) (string, error) {
	b.session.Reset(ctx)
	return "The session was reset.", nil
}

func (b *Bot) scores(_ context.Context, _ Request) (string, error) {
	ss := b.session.Snapshot()
	if ss.Roster.Len() == 0 {
		return "", session.ErrNotInitialized
	}

	var sb strings.Builder
	sb.WriteString("Scores:")
	for _, s := range score.Tally(ss.Roster, ss.History) {
		fmt.Fprintf(&sb, "\n%s %s: %d", s.Player.Token, s.Player.User.Name, s.Points)
	}
	return sb.String(), nil
}

func (b *Bot) players(_ context.Context, _ Request) (string, error) {
	ss := b.session.Snapshot()
	if ss.Roster.Len() == 0 {
		return "", session.ErrNotInitialized
	}

	return "Players:\n" + formatPlayers(ss.Roster.Players()), nil
}

func formatPlayers(ps []domain.Player) string {
	lines := make([]string, 0, len(ps))
	for _, p := range ps {
		lines = append(lines, fmt.Sprintf("%s %s", p.Token, p.User.Name))
	}
	return strings.Join(lines, "\n")
}
