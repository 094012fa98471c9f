package manager

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription identifies one registered callback.
type Subscription struct {
	ID   uuid.UUID
	Kind EventKind
}

type subscriber struct {
	id uuid.UUID
	fn Handler
}

// subscribers holds callback registrations per event kind. Insertion
// order is delivery order. The registry has its own lock so handlers
// running on the event loop can subscribe or unsubscribe re-entrantly.
type subscribers struct {
	mu       sync.RWMutex
	handlers map[EventKind][]subscriber
}

func newSubscribers() *subscribers {
	return &subscribers{
		handlers: make(map[EventKind][]subscriber),
	}
}

func (s *subscribers) add(kind EventKind, fn Handler) Subscription {
	sub := Subscription{ID: uuid.New(), Kind: kind}

	s.mu.Lock()
	s.handlers[kind] = append(s.handlers[kind], subscriber{id: sub.ID, fn: fn})
	s.mu.Unlock()

	return sub
}

func (s *subscribers) remove(sub Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.handlers[sub.Kind]
	for i, entry := range list {
		if entry.id == sub.ID {
			s.handlers[sub.Kind] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// dispatch invokes all handlers for kind, in insertion order. The
// handler list is copied under the read lock so callbacks may mutate
// the registry without deadlocking.
func (s *subscribers) dispatch(kind EventKind, event any) {
	s.mu.RLock()
	list := make([]subscriber, len(s.handlers[kind]))
	copy(list, s.handlers[kind])
	s.mu.RUnlock()

	for _, entry := range list {
		entry.fn(event)
	}
}

func (s *subscribers) clear() {
	s.mu.Lock()
	s.handlers = make(map[EventKind][]subscriber)
	s.mu.Unlock()
}
