package domain

// User is a chat participant as seen by the transport.
type User struct {
	ID   string
	Name string
	Bot  bool
}

// Quiz is an ordered list of questions. The order is the play order.
type Quiz struct {
	Name      string
	Questions []Question
}

type Question struct {
	Text   string
	Answer Answer
	Media  Media
}

type AnswerKind int

const (
	AnswerFreeText AnswerKind = iota + 1
	AnswerMultipleChoice
)

// Answer is either a free text answer or an ordered list of choices where the
// first choice is the correct one.
type Answer struct {
	Kind    AnswerKind
	Text    string
	Choices []string
}

func FreeText(text string) Answer {
	return Answer{Kind: AnswerFreeText, Text: text}
}

func MultipleChoice(choices ...string) Answer {
	return Answer{Kind: AnswerMultipleChoice, Choices: choices}
}

// Correct returns the canonical correct answer.
func (a Answer) Correct() string {
	if a.Kind == AnswerMultipleChoice {
		if len(a.Choices) == 0 {
			return ""
		}
		return a.Choices[0]
	}

	return a.Text
}

type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaImage
	MediaVideo
	MediaAudio
)

type Media struct {
	Kind MediaKind
	URL  string
}

// Player is a registered user and the token they claimed.
type Player struct {
	Token string
	User  User
}

// Roster maps tokens to players. Iteration order is the order in which tokens
// were first claimed. Claiming a token again replaces its holder in place.
type Roster struct {
	tokens  []string
	players map[string]User
}

func NewRoster() *Roster {
	return &Roster{players: make(map[string]User)}
}

// Set assigns token to u, replacing any previous holder.
func (r *Roster) Set(token string, u User) {
	if _, ok := r.players[token]; !ok {
		r.tokens = append(r.tokens, token)
	}
	r.players[token] = u
}

func (r *Roster) Get(token string) (User, bool) {
	if r == nil {
		return User{}, false
	}
	u, ok := r.players[token]
	return u, ok
}

func (r *Roster) Has(token string) bool {
	_, ok := r.Get(token)
	return ok
}

func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tokens)
}

func (r *Roster) Tokens() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.tokens...)
}

// Players returns the roster in token order.
func (r *Roster) Players() []Player {
	if r == nil {
		return nil
	}

	ps := make([]Player, 0, len(r.tokens))
	for _, t := range r.tokens {
		ps = append(ps, Player{Token: t, User: r.players[t]})
	}
	return ps
}

func (r *Roster) Clone() *Roster {
	c := NewRoster()
	for _, p := range r.Players() {
		c.Set(p.Token, p.User)
	}
	return c
}

// RoundResult is the set of tokens the quiz master marked correct in a round,
// in the order they were found on the reveal message.
type RoundResult struct {
	Winners []string
}

// Score is a player's number of won rounds.
type Score struct {
	Player Player
	Points int
}

// Leaderboard is the score table of a session, sorted ascending by points.
type Leaderboard struct {
	SessionID string
	Entries   []LeaderboardEntry
}

type LeaderboardEntry struct {
	Token  string
	User   User
	Points int
}
