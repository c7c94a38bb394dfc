// Package notify provides the in-process change notification bus that keeps
// independent profile consumers consistent after a section write.
package notify

import "sync"

// Update announces that a user's section document changed. Silent updates
// come from the writing session itself; loaders skip them so a flush does
// not re-trigger its own reload.
type Update struct {
	UserID    string
	SectionID string
	Silent    bool
}

// Bus is a process-wide publish/subscribe channel for section updates.
// Delivery is synchronous, in subscription order. A subscriber added while
// an event is being delivered is not invoked for that event.
type Bus struct {
	mu   sync.Mutex
	next int
	subs []*Subscription
}

// Subscription is the handle a consumer releases on teardown.
type Subscription struct {
	bus *Bus
	id  int
	fn  func(Update)
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for all future updates and returns its handle.
func (b *Bus) Subscribe(fn func(Update)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{bus: b, id: b.next, fn: fn}
	b.next++
	b.subs = append(b.subs, sub)
	return sub
}

// Publish delivers u to every subscriber registered before the call.
func (b *Bus) Publish(u Update) {
	b.mu.Lock()
	current := make([]*Subscription, len(b.subs))
	copy(current, b.subs)
	b.mu.Unlock()

	for _, sub := range current {
		sub.fn(u)
	}
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == s.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	s.bus = nil
}
