package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"rumblebot/internal/domain"
)

// Event reports progress or the outcome of one upload request.
type Event struct {
	Type       string
	RequestID  string
	ChatID     string
	Checkpoint domain.Checkpoint    // set for EventCheckpoint
	Result     *domain.UploadResult // set for EventFinished
	Bytes      int64                // downloaded size, set with CheckpointDownloaded
	Timestamp  time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus fans upload events out to observers (metrics, history, status).
// Handlers run synchronously in registration order; "*" matches every type.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
	nextID     int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: 256,
	}
}

// On registers a handler and returns its ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit records the event and calls matching handlers. A panicking handler is
// logged and does not affect the others.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	var handlers []namedHandler
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns recorded events of eventType ("*" for all) at or after since.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// Last returns the most recent recorded event, if any.
func (eb *EventBus) Last() (Event, bool) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if len(eb.history) == 0 {
		return Event{}, false
	}
	return eb.history[len(eb.history)-1], true
}

func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

const (
	EventReceived   = "upload.received"
	EventCheckpoint = "upload.checkpoint"
	EventParked     = "upload.parked"
	EventResumed    = "upload.resumed"
	EventFinished   = "upload.finished"
	EventExpired    = "upload.expired"
)
