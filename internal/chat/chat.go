// Package chat defines what the quiz needs from a chat service and turns the
// inbound event stream into waits that flows can suspend on.
package chat

import (
	"context"

	"github.com/victornm/chatquiz/internal/domain"
)

type EventKind int

const (
	MessageCreated EventKind = iota + 1
	ReactionAdded
)

func (k EventKind) String() string {
	switch k {
	case MessageCreated:
		return "message"
	case ReactionAdded:
		return "reaction"
	default:
		return "unknown"
	}
}

// Event is an inbound message or reaction. For a reaction, Author is the user
// who reacted and MessageID the message reacted to.
type Event struct {
	Kind      EventKind
	GuildID   string
	ChannelID string
	MessageID string
	Author    domain.User
	Content   string
	Emoji     string
	Direct    bool
}

// MessageRef identifies a message that was sent.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Message is an outbound channel message.
type Message struct {
	Text     string
	ImageURL string
}

// Reaction is one emoji on a message and everyone who applied it, in the
// order the service reports them.
type Reaction struct {
	Emoji string
	Users []domain.User
}

// AppliedBy reports whether the user with the given ID applied the reaction.
func (r Reaction) AppliedBy(userID string) bool {
	for _, u := range r.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// Transport is the chat service.
type Transport interface {
	Send(ctx context.Context, channelID string, m Message) (MessageRef, error)
	SendDirect(ctx context.Context, userID string, text string) error
	React(ctx context.Context, ref MessageRef, emoji string) error

	// Reactions returns the current reaction state of a message.
	Reactions(ctx context.Context, ref MessageRef) ([]Reaction, error)

	// LatestDirectMessage returns the text of the most recent private message
	// the user sent to the bot, or "" if there is none.
	LatestDirectMessage(ctx context.Context, userID string) (string, error)

	ChannelName(ctx context.Context, channelID string) (string, error)

	// TopRole returns the name of the user's highest role in the guild.
	TopRole(ctx context.Context, guildID, userID string) (string, error)
}
