// Package events provides an in-process publish/subscribe bus for row
// change notifications.
//
// Subscribers register a callback for a (table, filter) pair and receive
// matching change events. Cleanup is an explicit Unsubscribe call; callers
// owning request-scoped subscriptions should defer it on handler teardown.
// The bus is constructed once during application wiring and passed down
// explicitly, never held in package-level state.
package events

import "sync"

// Action describes the kind of row change an event represents.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Event is a single row change on a table.
type Event struct {
	Table  string
	Action Action
	Record any
}

// Handler receives matching events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Filter narrows a subscription to a subset of a table's events. A nil
// filter matches everything.
type Filter func(Event) bool

type subscriber struct {
	id     uint64
	filter Filter
	fn     Handler
}

// Bus routes published events to table subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscriber
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscription identifies one registered (table, filter) callback.
type Subscription struct {
	bus   *Bus
	table string
	id    uint64
}

// Subscribe registers fn for events on table that pass filter.
func (b *Bus) Subscribe(table string, filter Filter, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[table] = append(b.subs[table], subscriber{
		id:     b.nextID,
		filter: filter,
		fn:     fn,
	})
	return &Subscription{bus: b, table: table, id: b.nextID}
}

// Unsubscribe removes the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[s.table]
	for i, sub := range subs {
		if sub.id == s.id {
			b.subs[s.table] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	s.bus = nil
}

// Publish delivers ev to every matching subscriber of ev.Table.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subs[ev.Table]
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		sub.fn(ev)
	}
}
