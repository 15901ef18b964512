package server

import (
	"context"
	"sync"
	"time"

	"github.com/tsudoi-app/tsudoi/backend/internal/events"
)

const (
	// RealtimeEventResponseChanged names the SSE event emitted when a
	// response row is inserted, updated or deleted.
	RealtimeEventResponseChanged = "response-change"
	realtimeEventHeartbeat       = "heartbeat"
	realtimeSourceBackend        = "tsudoi-backend"
)

// RealtimeMessage is one change notification fanned out to every stream
// watching the same event.
type RealtimeMessage struct {
	EventID   string
	EventType string
	SlotID    string
	UserID    string
	Action    string
	Timestamp time.Time
}

// RealtimeDispatcher fans committed response changes out to in-process
// subscribers keyed by event id. It satisfies events.ChangeNotifier so the
// availability service can publish directly into it.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// ResponseChanged implements events.ChangeNotifier.
func (d *RealtimeDispatcher) ResponseChanged(change events.ResponseChange) {
	d.Publish(RealtimeMessage{
		EventID:   change.EventID,
		EventType: RealtimeEventResponseChanged,
		SlotID:    change.SlotID,
		UserID:    change.UserID,
		Action:    string(change.Action),
		Timestamp: change.OccurredAt,
	})
}

// Subscribe registers a stream for one event. The returned cleanup is safe to
// call more than once; cancelling the context also unsubscribes.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, eventID string) (<-chan RealtimeMessage, func()) {
	if eventID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(eventID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(eventID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to every subscriber of its event. Slow
// subscribers with a full buffer are skipped rather than blocked on.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.EventID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.EventID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(eventID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[eventID]; !ok {
		d.subscribers[eventID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[eventID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(eventID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[eventID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, eventID)
		}
	}
	d.mu.Unlock()
}
