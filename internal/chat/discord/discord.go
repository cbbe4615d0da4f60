// Package discord implements chat.Transport on a Discord bot account.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/victornm/chatquiz/internal/chat"
	"github.com/victornm/chatquiz/internal/domain"
)

const (
	intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildMessageReactions |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent

	// Discord returns at most 100 users per reaction page.
	reactionPage = 100
	// How far back LatestDirectMessage looks into a private channel.
	historyLimit = 50
)

// Handler receives every inbound message and reaction.
type Handler func(ctx context.Context, e chat.Event)

type Config struct {
	Token string
	// Handlers are called in order for every event, each event on its own
	// goroutine as delivered by discordgo.
	Handlers []Handler
}

type Transport struct {
	s        *discordgo.Session
	handlers []Handler

	mu sync.Mutex
	dm map[string]string // user ID -> private channel ID
}

func New(c Config) (*Transport, error) {
	s, err := discordgo.New("Bot " + c.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = intents

	t := &Transport{
		s:        s,
		handlers: c.Handlers,
		dm:       make(map[string]string),
	}

	s.AddHandler(t.onMessageCreate)
	s.AddHandler(t.onReactionAdd)
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord: connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	return t, nil
}

// Open connects to the gateway. It fails if the token is rejected.
func (t *Transport) Open() error {
	if err := t.s.Open(); err != nil {
		return fmt.Errorf("discord: open: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	return t.s.Close()
}

func (t *Transport) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	t.dispatch(messageEvent(m.Message))
}

func (t *Transport) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	e := reactionEvent(r.MessageReaction)
	if r.Member != nil && r.Member.User != nil {
		e.Author = toUser(r.Member.User)
	}
	if s.State != nil && s.State.User != nil && r.UserID == s.State.User.ID {
		e.Author.Bot = true
	}
	t.dispatch(e)
}

func (t *Transport) dispatch(e chat.Event) {
	ctx := context.Background()
	for _, h := range t.handlers {
		h(ctx, e)
	}
}

func (t *Transport) Send(ctx context.Context, channelID string, m chat.Message) (chat.MessageRef, error) {
	data := &discordgo.MessageSend{Content: m.Text}
	if m.ImageURL != "" {
		data.Embeds = []*discordgo.MessageEmbed{{Image: &discordgo.MessageEmbedImage{URL: m.ImageURL}}}
	}

	msg, err := t.s.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("discord: send to %s: %w", channelID, err)
	}

	return chat.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func (t *Transport) SendDirect(ctx context.Context, userID string, text string) error {
	ch, err := t.directChannel(ctx, userID)
	if err != nil {
		return err
	}

	if _, err := t.s.ChannelMessageSend(ch, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send direct to %s: %w", userID, err)
	}
	return nil
}

func (t *Transport) React(ctx context.Context, ref chat.MessageRef, emoji string) error {
	if err := t.s.MessageReactionAdd(ref.ChannelID, ref.MessageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: react %s on %s: %w", emoji, ref.MessageID, err)
	}
	return nil
}

// Reactions fetches the message and then the users of each of its reactions.
func (t *Transport) Reactions(ctx context.Context, ref chat.MessageRef) ([]chat.Reaction, error) {
	msg, err := t.s.ChannelMessage(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetch message %s: %w", ref.MessageID, err)
	}

	rs := make([]chat.Reaction, 0, len(msg.Reactions))
	for _, mr := range msg.Reactions {
		if mr.Emoji == nil {
			continue
		}

		users, err := t.reactionUsers(ctx, ref, mr.Emoji.APIName())
		if err != nil {
			return nil, err
		}

		rs = append(rs, chat.Reaction{Emoji: emojiName(mr.Emoji), Users: users})
	}

	return rs, nil
}

func (t *Transport) reactionUsers(ctx context.Context, ref chat.MessageRef, emoji string) ([]domain.User, error) {
	var (
		users []domain.User
		after string
	)

	for {
		page, err := t.s.MessageReactions(ref.ChannelID, ref.MessageID, emoji, reactionPage, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord: reactions %s on %s: %w", emoji, ref.MessageID, err)
		}

		for _, u := range page {
			users = append(users, toUser(u))
		}

		if len(page) < reactionPage {
			return users, nil
		}
		after = page[len(page)-1].ID
	}
}

// LatestDirectMessage returns the most recent message userID wrote to the
// bot privately, or "" if there is none.
func (t *Transport) LatestDirectMessage(ctx context.Context, userID string) (string, error) {
	ch, err := t.directChannel(ctx, userID)
	if err != nil {
		return "", err
	}

	msgs, err := t.s.ChannelMessages(ch, historyLimit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: history of %s: %w", userID, err)
	}

	return latestFrom(msgs, userID), nil
}

func (t *Transport) ChannelName(ctx context.Context, channelID string) (string, error) {
	ch, err := t.s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: channel %s: %w", channelID, err)
	}
	return ch.Name, nil
}

func (t *Transport) TopRole(ctx context.Context, guildID, userID string) (string, error) {
	if guildID == "" {
		return "", nil
	}

	m, err := t.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: member %s: %w", userID, err)
	}

	roles, err := t.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: roles of %s: %w", guildID, err)
	}

	return topRole(roles, m.Roles), nil
}

func (t *Transport) directChannel(ctx context.Context, userID string) (string, error) {
	t.mu.Lock()
	id, ok := t.dm[userID]
	t.mu.Unlock()
	if ok {
		return id, nil
	}

	ch, err := t.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: open private channel with %s: %w", userID, err)
	}

	t.mu.Lock()
	t.dm[userID] = ch.ID
	t.mu.Unlock()

	return ch.ID, nil
}

func messageEvent(m *discordgo.Message) chat.Event {
	e := chat.Event{
		Kind:      chat.MessageCreated,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Direct:    m.GuildID == "",
	}
	if m.Author != nil {
		e.Author = toUser(m.Author)
	}
	return e
}

func reactionEvent(r *discordgo.MessageReaction) chat.Event {
	return chat.Event{
		Kind:      chat.ReactionAdded,
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     emojiName(&r.Emoji),
		Author:    domain.User{ID: r.UserID},
		Direct:    r.GuildID == "",
	}
}

// emojiName is the unicode emoji itself, or name:id for custom emojis.
func emojiName(e *discordgo.Emoji) string {
	if e.ID == "" {
		return e.Name
	}
	return e.Name + ":" + e.ID
}

func toUser(u *discordgo.User) domain.User {
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return domain.User{ID: u.ID, Name: name, Bot: u.Bot}
}

// topRole is the name of the highest positioned role among memberRoles,
// "@everyone" if the member has none.
func topRole(roles []*discordgo.Role, memberRoles []string) string {
	top := &discordgo.Role{Name: "@everyone", Position: -1}
	for _, r := range roles {
		for _, id := range memberRoles {
			if r.ID == id && r.Position > top.Position {
				top = r
			}
		}
	}
	return top.Name
}

// latestFrom picks the newest message of userID. Discord lists newest first.
func latestFrom(msgs []*discordgo.Message, userID string) string {
	for _, m := range msgs {
		if m.Author != nil && m.Author.ID == userID {
			return m.Content
		}
	}
	return ""
}
