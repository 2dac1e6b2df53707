package telemetry

import (
	"sync"
	"testing"
)

func TestBufferedEmitterRecordsInOrder(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{Type: EventNodeStarted, NodeID: "n1"})
	b.Emit(Event{Type: EventNodeFinished, NodeID: "n1"})

	got := b.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != EventNodeStarted || got[1].Type != EventNodeFinished {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestBufferedEmitterByType(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{Type: EventNodeStarted, NodeID: "a"})
	b.Emit(Event{Type: EventNodeStarted, NodeID: "b"})
	b.Emit(Event{Type: EventNodeFinished, NodeID: "a"})

	started := b.ByType(EventNodeStarted)
	if len(started) != 2 {
		t.Fatalf("expected 2 started events, got %d", len(started))
	}
}

func TestBufferedEmitterConcurrentSafe(t *testing.T) {
	b := NewBufferedEmitter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.Emit(Event{Type: EventNodeStarted})
		}(i)
	}
	wg.Wait()
	if len(b.Events()) != 50 {
		t.Fatalf("expected 50 events, got %d", len(b.Events()))
	}
}

func TestMultiEmitterSkipsNil(t *testing.T) {
	b := NewBufferedEmitter()
	m := Multi{b, nil, NullEmitter{}}
	m.Emit(Event{Type: EventNodeStarted})
	if len(b.Events()) != 1 {
		t.Fatalf("expected the non-nil emitter to receive the event")
	}
}
