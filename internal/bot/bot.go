// Package bot maps chat commands to quiz operations.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/victornm/chatquiz/internal/chat"
	"github.com/victornm/chatquiz/internal/errors"
	"github.com/victornm/chatquiz/internal/game"
	"github.com/victornm/chatquiz/internal/session"
	"github.com/victornm/chatquiz/internal/telemetry"
)

const (
	DefaultPrefix         = "Heidi, "
	DefaultQuizMasterRole = "QuizMaster"
	DefaultChannelKeyword = "quiz"
)

type Config struct {
	Transport chat.Transport
	Game      *game.Service
	Session   *session.Session

	// Prefix starts every command, including its trailing space.
	Prefix         string
	QuizMasterRole string
	// ChannelKeyword must be part of the channel name for init.
	ChannelKeyword string
}

// Request is an inbound command. Args holds the pattern's capture groups.
type Request struct {
	Event chat.Event
	Args  []string
}

type command struct {
	name           string
	usage          string
	pattern        string
	description    string
	quizMasterOnly bool
	handle         func(ctx context.Context, req Request) (string, error)

	re *regexp.Regexp
}

type Bot struct {
	transport chat.Transport
	game      *game.Service
	session   *session.Session

	prefix         string
	quizMasterRole string
	channelKeyword string

	commands []command
}

func New(c Config) *Bot {
	b := &Bot{
		transport:      c.Transport,
		game:           c.Game,
		session:        c.Session,
		prefix:         c.Prefix,
		quizMasterRole: c.QuizMasterRole,
		channelKeyword: c.ChannelKeyword,
	}

	if b.prefix == "" {
		b.prefix = DefaultPrefix
	}
	if b.quizMasterRole == "" {
		b.quizMasterRole = DefaultQuizMasterRole
	}
	if b.channelKeyword == "" {
		b.channelKeyword = DefaultChannelKeyword
	}

	b.commands = []command{
		{
			name:        "hilfe",
			usage:       "hilfe",
			pattern:     `hilfe`,
			description: "shows this help",
			handle:      b.help,
		},
		{
			name:           "init",
			usage:          "init: <quiz>",
			pattern:        `init:\s*(.*)`,
			description:    "resets the session, loads a quiz and registers players",
			quizMasterOnly: true,
			handle:         b.initQuiz,
		},
		{
			name:           "start",
			usage:          "start",
			pattern:        `start`,
			description:    "plays all questions of the initialized quiz",
			quizMasterOnly: true,
			handle:         b.start,
		},
		{
			name:        "reset",
			usage:       "reset",
			pattern:     `reset`,
			description: "clears the session",
			handle:      b.reset,
		},
		{
			name:           "scores",
			usage:          "scores",
			pattern:        `scores`,
			description:    "shows the scores, lowest first",
			quizMasterOnly: true,
			handle:         b.scores,
		},
		{
			name:           "players",
			usage:          "players",
			pattern:        `players`,
			description:    "shows the registered players",
			quizMasterOnly: true,
			handle:         b.players,
		},
	}

	for i := range b.commands {
		c := &b.commands[i]
		c.re = regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(b.prefix) + c.pattern + `$`)
	}

	return b
}

// Handle runs the command in e, if there is one. Every command is answered in
// the channel it came from, failures included. Handle blocks for as long as
// the command runs, which for start is the whole quiz.
func (b *Bot) Handle(ctx context.Context, e chat.Event) {
	if e.Kind != chat.MessageCreated || e.Direct || e.Author.Bot {
		return
	}

	text := strings.TrimSpace(e.Content)
	for _, c := range b.commands {
		m := c.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		b.run(ctx, c, Request{Event: e, Args: m[1:]})
		return
	}
}

func (b *Bot) run(ctx context.Context, c command, req Request) {
	slog.InfoContext(ctx, "bot: command received",
		"command", c.name,
		"user", req.Event.Author.ID,
		"channel", req.Event.ChannelID,
	)

	err := b.authorize(ctx, c, req.Event)

	var reply string
	if err == nil {
		reply, err = c.handle(ctx, req)
	}
	telemetry.CountCommand(c.name, err)

	if err != nil {
		e := errors.Convert(err)
		if e.Code == errors.CodeInternal {
			slog.ErrorContext(ctx, "bot: command failed", "command", c.name, "error", err)
			reply = "Sorry, something went wrong."
		} else {
			slog.InfoContext(ctx, "bot: command rejected", "command", c.name, "error", err)
			reply = e.Message
		}
	}

	if reply == "" {
		return
	}

	if _, err := b.transport.Send(ctx, req.Event.ChannelID, chat.Message{Text: reply}); err != nil {
		slog.ErrorContext(ctx, "bot: send reply failed", "command", c.name, "error", err)
	}
}

func (b *Bot) authorize(ctx context.Context, c command, e chat.Event) error {
	if !c.quizMasterOnly {
		return nil
	}

	role, err := b.transport.TopRole(ctx, e.GuildID, e.Author.ID)
	if err != nil {
		return fmt.Errorf("top role of %s: %w", e.Author.ID, err)
	}

	if role != b.quizMasterRole {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("Only the %s can use %q.", b.quizMasterRole, c.name))
	}

	return nil
}

// Help lists every command.
func (b *Bot) Help() string {
	var sb strings.Builder
	sb.WriteString("Commands:")
	for _, c := range b.commands {
		fmt.Fprintf(&sb, "\n`%s%s` %s", b.prefix, c.usage, c.description)
		if c.quizMasterOnly {
			fmt.Fprintf(&sb, " (%s only)", b.quizMasterRole)
		}
	}
	return sb.String()
}
