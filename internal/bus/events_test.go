package bus

import (
	"sync/atomic"
	"testing"
	"time"

	"rumblebot/internal/domain"
)

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testLogger())

	var received int32
	eb.On(EventCheckpoint, func(e Event) {
		if e.Checkpoint == domain.CheckpointLoggedIn {
			atomic.AddInt32(&received, 1)
		}
	})

	eb.Emit(Event{Type: EventCheckpoint, RequestID: "r1", Checkpoint: domain.CheckpointLoggedIn})
	eb.Emit(Event{Type: EventReceived, RequestID: "r1"})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	eb.On("*", func(e Event) { atomic.AddInt32(&count, 1) })

	eb.Emit(Event{Type: EventReceived})
	eb.Emit(Event{Type: EventFinished, Result: &domain.UploadResult{Status: domain.StatusSuccess}})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	id := eb.On(EventFinished, func(e Event) { atomic.AddInt32(&count, 1) })
	other := eb.On(EventFinished, func(e Event) {})

	eb.Emit(Event{Type: EventFinished})
	eb.Off(EventFinished, id)
	eb.Emit(Event{Type: EventFinished})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
	if id == other {
		t.Error("handler IDs should be unique")
	}
}

func TestEventBus_ReplayAndLast(t *testing.T) {
	eb := NewEventBus(testLogger())

	if _, ok := eb.Last(); ok {
		t.Fatal("empty bus should have no last event")
	}

	eb.Emit(Event{Type: EventReceived, Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: EventCheckpoint})
	eb.Emit(Event{Type: EventFinished, RequestID: "r2"})

	if got := len(eb.Replay("*", threshold)); got != 2 {
		t.Errorf("expected 2 events since threshold, got %d", got)
	}
	if got := len(eb.Replay(EventReceived, time.Time{})); got != 1 {
		t.Errorf("expected 1 received event, got %d", got)
	}
	last, ok := eb.Last()
	if !ok || last.RequestID != "r2" {
		t.Errorf("unexpected last event %+v", last)
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(testLogger())
	eb.maxHistory = 5

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: EventCheckpoint})
	}

	if eb.HistoryLen() != 5 {
		t.Errorf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testLogger())

	var after int32
	eb.On(EventFinished, func(e Event) { panic("boom") })
	eb.On(EventFinished, func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: EventFinished})

	if atomic.LoadInt32(&after) != 1 {
		t.Error("handlers after a panicking one should still run")
	}
}
