// Package chattest provides an in-memory chat transport for tests. Tests play
// the humans: they react and write through the transport, which updates its
// state and dispatches the matching events to the hub.
package chattest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/victornm/chatquiz/internal/chat"
	"github.com/victornm/chatquiz/internal/domain"
)

const waitTimeout = 3 * time.Second

// Bot is the user the transport acts as.
var Bot = domain.User{ID: "bot", Name: "Heidi", Bot: true}

type Sent struct {
	Ref     chat.MessageRef
	UserID  string // set for direct messages
	Message chat.Message
}

func (s Sent) Direct() bool { return s.UserID != "" }

type Transport struct {
	hub *chat.Hub

	mu        sync.Mutex
	nextID    int
	sent      []Sent
	reactions map[chat.MessageRef][]chat.Reaction
	direct    map[string]string
	channels  map[string]string
	roles     map[string]string
}

func New(hub *chat.Hub) *Transport {
	return &Transport{
		hub:       hub,
		reactions: make(map[chat.MessageRef][]chat.Reaction),
		direct:    make(map[string]string),
		channels:  make(map[string]string),
		roles:     make(map[string]string),
	}
}

func (t *Transport) SetChannel(id, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels[id] = name
}

func (t *Transport) SetRole(userID, role string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roles[userID] = role
}

func (t *Transport) Send(_ context.Context, channelID string, m chat.Message) (chat.MessageRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	ref := chat.MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("m%d", t.nextID)}
	t.sent = append(t.sent, Sent{Ref: ref, Message: m})
	return ref, nil
}

func (t *Transport) SendDirect(_ context.Context, userID string, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	ref := chat.MessageRef{ChannelID: dmChannel(userID), MessageID: fmt.Sprintf("m%d", t.nextID)}
	t.sent = append(t.sent, Sent{Ref: ref, UserID: userID, Message: chat.Message{Text: text}})
	return nil
}

func (t *Transport) React(_ context.Context, ref chat.MessageRef, emoji string) error {
	t.addReaction(ref, emoji, Bot)
	return nil
}

func (t *Transport) Reactions(_ context.Context, ref chat.MessageRef) ([]chat.Reaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs := make([]chat.Reaction, 0, len(t.reactions[ref]))
	for _, r := range t.reactions[ref] {
		rs = append(rs, chat.Reaction{Emoji: r.Emoji, Users: append([]domain.User(nil), r.Users...)})
	}
	return rs, nil
}

func (t *Transport) LatestDirectMessage(_ context.Context, userID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.direct[userID], nil
}

func (t *Transport) ChannelName(_ context.Context, channelID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name, ok := t.channels[channelID]
	if !ok {
		return "", fmt.Errorf("unknown channel %s", channelID)
	}
	return name, nil
}

func (t *Transport) TopRole(_ context.Context, _, userID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.roles[userID]; ok {
		return r, nil
	}
	return "@everyone", nil
}

func (t *Transport) addReaction(ref chat.MessageRef, emoji string, u domain.User) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs := t.reactions[ref]
	for i := range rs {
		if rs[i].Emoji != emoji {
			continue
		}
		if !rs[i].AppliedBy(u.ID) {
			rs[i].Users = append(rs[i].Users, u)
		}
		return
	}
	t.reactions[ref] = append(rs, chat.Reaction{Emoji: emoji, Users: []domain.User{u}})
}

// UserReacts applies emoji to ref as u.
func (t *Transport) UserReacts(ref chat.MessageRef, emoji string, u domain.User) {
	t.addReaction(ref, emoji, u)
	t.hub.Dispatch(chat.Event{
		Kind:      chat.ReactionAdded,
		ChannelID: ref.ChannelID,
		MessageID: ref.MessageID,
		Emoji:     emoji,
		Author:    u,
	})
}

// UserWrites posts text to a channel as u.
func (t *Transport) UserWrites(channelID string, u domain.User, text string) {
	t.hub.Dispatch(chat.Event{
		Kind:      chat.MessageCreated,
		ChannelID: channelID,
		Author:    u,
		Content:   text,
	})
}

// UserWritesDirect sends text to the bot privately as u.
func (t *Transport) UserWritesDirect(u domain.User, text string) {
	t.mu.Lock()
	t.direct[u.ID] = text
	t.mu.Unlock()

	t.hub.Dispatch(chat.Event{
		Kind:      chat.MessageCreated,
		ChannelID: dmChannel(u.ID),
		Author:    u,
		Content:   text,
		Direct:    true,
	})
}

// Sent returns everything the bot sent so far.
func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// Cursor returns a reader over sent messages starting at the next message.
func (t *Transport) Cursor() *Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Cursor{t: t, pos: len(t.sent)}
}

// WaitReaction blocks until userID applied emoji to ref.
func (t *Transport) WaitReaction(tb testing.TB, ref chat.MessageRef, emoji, userID string) {
	tb.Helper()

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		rs, _ := t.Reactions(context.Background(), ref)
		for _, r := range rs {
			if r.Emoji == emoji && r.AppliedBy(userID) {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}

	tb.Fatalf("chattest: no %s reaction by %s on %v", emoji, userID, ref)
}

// Cursor walks sent messages in order.
type Cursor struct {
	t   *Transport
	pos int
}

// Next blocks until a message matching match is sent at or after the cursor
// and moves the cursor past it.
func (c *Cursor) Next(tb testing.TB, match func(Sent) bool) Sent {
	tb.Helper()

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		sent := c.t.Sent()
		for i := c.pos; i < len(sent); i++ {
			if match(sent[i]) {
				c.pos = i + 1
				return sent[i]
			}
		}
		time.Sleep(time.Millisecond)
	}

	tb.Fatalf("chattest: no matching message after position %d", c.pos)
	return Sent{}
}

// Text matches channel messages containing substr.
func Text(substr string) func(Sent) bool {
	return func(s Sent) bool {
		return !s.Direct() && strings.Contains(s.Message.Text, substr)
	}
}

// DirectTo matches private messages to userID containing substr.
func DirectTo(userID, substr string) func(Sent) bool {
	return func(s Sent) bool {
		return s.UserID == userID && strings.Contains(s.Message.Text, substr)
	}
}

func dmChannel(userID string) string {
	return "dm:" + userID
}
