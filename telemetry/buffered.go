package telemetry

import "sync"

// BufferedEmitter accumulates Events in memory, guarded by a mutex. It
// exists so tests can assert on the exact sequence of emitted events
// without parsing log lines.
type BufferedEmitter struct {
	mu     sync.Mutex
	events []Event
}

func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{}
}

func (b *BufferedEmitter) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

// Events returns a copy of every event recorded so far.
func (b *BufferedEmitter) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// ByType filters recorded events to a single EventType, in recording order.
func (b *BufferedEmitter) ByType(t EventType) []Event {
	var out []Event
	for _, ev := range b.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
