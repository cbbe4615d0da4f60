package chat

import (
	"context"
	"sync"
)

// Hub fans inbound events out to registered expectations.
//
// An expectation must be registered before the action that may trigger it,
// otherwise a fast human can beat it and the event is lost.
type Hub struct {
	mu      sync.Mutex
	nextID  uint64
	waiters map[uint64]*Expectation
}

func NewHub() *Hub {
	return &Hub{waiters: make(map[uint64]*Expectation)}
}

// Expectation is a pending wait for the first event that matches.
type Expectation struct {
	hub   *Hub
	id    uint64
	match func(Event) bool
	done  chan struct{}
	event Event
}

// Expect registers a wait for the first event for which match returns true.
// match is called with the hub lock held and must not block.
func (h *Hub) Expect(match func(Event) bool) *Expectation {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	x := &Expectation{
		hub:   h,
		id:    h.nextID,
		match: match,
		done:  make(chan struct{}),
	}
	h.waiters[x.id] = x

	return x
}

// Dispatch delivers e to every pending expectation it matches. Each
// expectation fires at most once.
func (h *Hub) Dispatch(e Event) {
	h.mu.Lock()
	var fired []*Expectation
	for id, x := range h.waiters {
		if x.match(e) {
			delete(h.waiters, id)
			fired = append(fired, x)
		}
	}
	h.mu.Unlock()

	for _, x := range fired {
		x.event = e
		close(x.done)
	}
}

// Pending returns the number of expectations still waiting.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.waiters)
}

// Wait blocks until the expectation fires or ctx is done.
func (x *Expectation) Wait(ctx context.Context) (Event, error) {
	select {
	case <-x.done:
		return x.event, nil
	case <-ctx.Done():
		x.Cancel()
		return Event{}, ctx.Err()
	}
}

// Done is closed when the expectation fires.
func (x *Expectation) Done() <-chan struct{} {
	return x.done
}

// Cancel unregisters the expectation. It is safe to call after it fired.
func (x *Expectation) Cancel() {
	x.hub.mu.Lock()
	delete(x.hub.waiters, x.id)
	x.hub.mu.Unlock()
}

// ReactionOn matches a reaction with emoji on ref applied by userID.
func ReactionOn(ref MessageRef, emoji, userID string) func(Event) bool {
	return func(e Event) bool {
		return e.Kind == ReactionAdded &&
			e.MessageID == ref.MessageID &&
			e.ChannelID == ref.ChannelID &&
			e.Emoji == emoji &&
			e.Author.ID == userID
	}
}

// MessageFrom matches any message written by userID.
func MessageFrom(userID string) func(Event) bool {
	return func(e Event) bool {
		return e.Kind == MessageCreated && e.Author.ID == userID
	}
}
