// Package sync provides the interfaces shared by the offline queue, its
// scheduler and the hosts that embed them.
package sync

import (
	"context"
	"time"

	"github.com/avanzando/mobilecore/internal/models"
)

// Dispatcher delivers one action to the backend.
//
// Send returns nil only when the backend answered 2xx. Other outcomes are
// reported with internal/errors codes: SYNC_TRANSPORT and SYNC_TIMEOUT when
// the request never got an answer, SYNC_REJECTED and SYNC_AUTH_FAILED when it
// did and was refused.
type Dispatcher interface {
	Send(ctx context.Context, action models.PendingAction) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, action models.PendingAction) error

// Send implements Dispatcher.
func (f DispatcherFunc) Send(ctx context.Context, action models.PendingAction) error {
	return f(ctx, action)
}

// Notifier reports connectivity changes.
type Notifier interface {
	// Subscribe registers fn for connectivity updates and returns a function
	// that removes the subscription.
	Subscribe(fn func(connected bool)) (unsubscribe func())
}

// EventType names a queue or connectivity event.
type EventType string

const (
	EventActionQueued       EventType = "action.queued"
	EventActionDelivered    EventType = "action.delivered"
	EventActionDropped      EventType = "action.dropped"
	EventReplayStarted      EventType = "replay.started"
	EventReplayCompleted    EventType = "replay.completed"
	EventConnectivityChange EventType = "connectivity.changed"
	EventAuthRequired       EventType = "auth.required"
)

// Event is pushed to listeners such as the UI toast or the WebSocket hub.
type Event struct {
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// NewEvent stamps an event with the current time in unix milliseconds.
func NewEvent(t EventType, data map[string]interface{}) Event {
	return Event{
		Type:      t,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Listener receives events. Listeners run synchronously on the emitting
// goroutine and must not block.
type Listener func(Event)
