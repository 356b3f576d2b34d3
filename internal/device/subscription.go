package device

import (
	"sync"

	"github.com/halcyonmed/buddhactl/internal/protocol"
)

// subscriptions tracks notification listeners per field. It is pure
// bookkeeping: arming the transport notification is the client's job.
type subscriptions struct {
	mu        sync.Mutex
	nextID    int
	listeners map[protocol.FieldName]map[int]func(int)
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		listeners: make(map[protocol.FieldName]map[int]func(int)),
	}
}

// add registers fn for name and returns a cancel function that removes
// exactly this listener. Cancelling twice is a no-op.
func (s *subscriptions) add(name protocol.FieldName, fn func(int)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	if s.listeners[name] == nil {
		s.listeners[name] = make(map[int]func(int))
	}
	s.listeners[name][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[name], id)
	}
}

// dispatch invokes every listener registered for name. Listeners run
// outside the registry lock so a callback may subscribe or cancel.
func (s *subscriptions) dispatch(name protocol.FieldName, v int) {
	s.mu.Lock()
	fns := make([]func(int), 0, len(s.listeners[name]))
	for _, fn := range s.listeners[name] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// active reports whether name has at least one listener.
func (s *subscriptions) active(name protocol.FieldName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[name]) > 0
}

// fields returns every field with at least one listener.
func (s *subscriptions) fields() []protocol.FieldName {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.FieldName
	for name, fns := range s.listeners {
		if len(fns) > 0 {
			out = append(out, name)
		}
	}
	return out
}
