// Package gate suspends a flow until a human confirms a step.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/chatquiz/internal/chat"
	"github.com/victornm/chatquiz/internal/domain"
	"github.com/victornm/chatquiz/internal/telemetry"
)

// Marker is the reaction that confirms and closes a step.
const Marker = "✅"

type Config struct {
	Transport chat.Transport
	Hub       *chat.Hub
	// Timeout bounds every wait. Zero waits until the context ends.
	Timeout time.Duration
}

type Gate struct {
	transport chat.Transport
	hub       *chat.Hub
	timeout   time.Duration
}

func New(c Config) *Gate {
	return &Gate{
		transport: c.Transport,
		hub:       c.Hub,
		timeout:   c.Timeout,
	}
}

// Confirm attaches the marker and then each of options to the message and
// waits until authority reacts with the marker on it. It returns the reaction
// state of the message as it is after the confirmation, so reactions others
// added while waiting are included.
func (g *Gate) Confirm(ctx context.Context, stage string, ref chat.MessageRef, authority domain.User, options ...string) ([]chat.Reaction, error) {
	x := g.hub.Expect(chat.ReactionOn(ref, Marker, authority.ID))
	defer x.Cancel()

	for _, emoji := range append([]string{Marker}, options...) {
		if err := g.transport.React(ctx, ref, emoji); err != nil {
			return nil, fmt.Errorf("gate: attach %s: %w", emoji, err)
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	slog.DebugContext(ctx, "gate: waiting for confirmation", "stage", stage, "message", ref.MessageID, "authority", authority.ID)

	start := time.Now()
	_, err := x.Wait(ctx)
	telemetry.ObserveWait(stage, start, err)
	if err != nil {
		return nil, fmt.Errorf("gate: %s: %w", stage, err)
	}

	rs, err := g.transport.Reactions(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("gate: %s: fetch reactions: %w", stage, err)
	}

	return rs, nil
}
