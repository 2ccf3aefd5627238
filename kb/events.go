package kb

import "sync"

// EventType indicates what kind of change happened in the archive.
type EventType int

const (
	EventRunArchived EventType = iota
	EventRunDeleted
)

func (t EventType) String() string {
	switch t {
	case EventRunArchived:
		return "archived"
	case EventRunDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when a run is added or removed.
type Event struct {
	Type EventType
	Run  RunRecord
}

// subscribers is the callback registry shared by every Store.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Event)
}

func (s *subscribers) add(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Event))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

// publish calls every subscriber outside the registry lock, so callbacks may
// read the archive or unsubscribe.
func (s *subscribers) publish(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
