// Package queue buffers mutating API calls made while the device is offline
// and replays them in order once the backend is reachable again.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avanzando/mobilecore/internal/errors"
	"github.com/avanzando/mobilecore/internal/logging"
	"github.com/avanzando/mobilecore/internal/models"
	"github.com/avanzando/mobilecore/internal/store"
	syncpkg "github.com/avanzando/mobilecore/internal/sync"
	"github.com/avanzando/mobilecore/internal/uuid"
)

// MsgWillSync is shown to the user when a change could not be delivered now.
const MsgWillSync = "will sync when connection is restored"

// RejectionPolicy decides what happens to an action the backend refuses.
type RejectionPolicy string

const (
	// DropRejected removes the action and reports it through EventActionDropped.
	DropRejected RejectionPolicy = "drop"
	// RetainRejected keeps the action and halts the pass, like a transport failure.
	RetainRejected RejectionPolicy = "retain"
)

// Config holds queue configuration.
type Config struct {
	RejectionPolicy RejectionPolicy
	BackoffBase     time.Duration // delay after the first aborted pass
	BackoffMax      time.Duration
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() *Config {
	return &Config{
		RejectionPolicy: DropRejected,
		BackoffBase:     30 * time.Second,
		BackoffMax:      15 * time.Minute,
	}
}

// Result is the outcome of AttemptImmediate.
type Result struct {
	Action    models.PendingAction
	Delivered bool
	Queued    bool
	Deferred  bool // queued behind earlier actions without being sent
	Message   string
	Err       error // why delivery failed; informational once Queued
}

// ReplayReport summarises one replay pass.
type ReplayReport struct {
	Started   bool // false when another pass was already running
	Delivered int
	Dropped   int
	Remaining int
	Aborted   bool // stopped on a retryable failure
	Err       error
}

// ActionQueue is the offline action queue. The persisted copy is rewritten
// under the same lock as every in-memory mutation, so both always agree.
type ActionQueue struct {
	mu         sync.Mutex
	items      []models.PendingAction
	loaded     bool
	lastSync   time.Time
	failures   int
	retryAfter time.Time

	store      store.Store
	dispatcher syncpkg.Dispatcher
	config     *Config

	replaying atomic.Bool

	listenersMu  sync.RWMutex
	listeners    map[int]syncpkg.Listener
	nextListener int

	now func() time.Time
}

// NewActionQueue creates a queue persisting to st and delivering through d.
func NewActionQueue(st store.Store, d syncpkg.Dispatcher, config *Config) *ActionQueue {
	if config == nil {
		config = DefaultConfig()
	}
	return &ActionQueue{
		items:      []models.PendingAction{},
		store:      st,
		dispatcher: d,
		config:     config,
		listeners:  make(map[int]syncpkg.Listener),
		now:        time.Now,
	}
}

// Load reads the persisted queue. Only the first call reads storage; later
// calls return the current length. Unreadable or invalid entries are logged
// and skipped.
func (q *ActionQueue) Load(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.loadLocked(ctx)
	return len(q.items)
}

// loadLocked reads storage on first use. Every mutation calls it first so
// the persisted queue is never overwritten before it has been read.
func (q *ActionQueue) loadLocked(ctx context.Context) {
	if q.loaded {
		return
	}
	q.loaded = true

	if raw, ok, err := q.store.Get(ctx, store.KeyLastSync); err != nil {
		logging.Warn("Failed to read last sync time", map[string]interface{}{"component": "queue", "error": err.Error()})
	} else if ok && raw != "" {
		if t, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			q.lastSync = t
		}
	}

	raw, ok, err := q.store.Get(ctx, store.KeyPendingActions)
	if err != nil {
		logging.ErrorWithCode("Failed to read pending actions", string(errors.ErrStorage), err,
			map[string]interface{}{"component": "queue"})
		return
	}
	if !ok {
		return
	}

	actions, err := models.DecodeQueue(raw)
	if err != nil {
		logging.ErrorWithCode("Persisted queue is unreadable, starting empty", string(errors.ErrCorrupted), err,
			map[string]interface{}{"component": "queue"})
		return
	}

	valid := make([]models.PendingAction, 0, len(actions))
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		if err := a.Validate(); err != nil || a.ID == "" || seen[a.ID] {
			logging.Warn("Skipping invalid persisted action", map[string]interface{}{
				"component": "queue",
				"action_id": a.ID,
			})
			continue
		}
		seen[a.ID] = true
		valid = append(valid, a)
	}

	q.items = valid
	if len(valid) != len(actions) {
		q.persistLocked(ctx)
	}

	logging.Info("Pending actions loaded", map[string]interface{}{
		"component": "queue",
		"pending":   len(q.items),
	})
}

// Enqueue appends action and persists the queue before returning. The only
// errors are an invalid action or an ID that is already queued; storage
// failures are logged.
func (q *ActionQueue) Enqueue(ctx context.Context, action models.PendingAction) (models.PendingAction, error) {
	action, err := q.prepare(action)
	if err != nil {
		return action, err
	}

	q.mu.Lock()
	q.loadLocked(ctx)
	if q.indexLocked(action.ID) >= 0 {
		q.mu.Unlock()
		return action, errors.New(errors.ErrValidation, fmt.Sprintf("action %s is already queued", action.ID))
	}
	q.items = append(q.items, action)
	q.persistLocked(ctx)
	pending := len(q.items)
	q.mu.Unlock()

	logging.Info("Action queued", map[string]interface{}{
		"component": "queue",
		"action_id": action.ID,
		"method":    action.Method,
		"url":       action.URL,
		"pending":   pending,
	})

	q.emit(syncpkg.EventActionQueued, map[string]interface{}{
		"id":      action.ID,
		"method":  action.Method,
		"url":     action.URL,
		"pending": pending,
		"message": MsgWillSync,
	})

	return action, nil
}

// AttemptImmediate sends action now. While older actions are still queued it
// is queued behind them instead, so the backend sees changes in the order
// they were made. On any failure the action is queued and the result says it
// will sync later.
func (q *ActionQueue) AttemptImmediate(ctx context.Context, action models.PendingAction) Result {
	action, err := q.prepare(action)
	if err != nil {
		return Result{Action: action, Err: err, Message: err.Error()}
	}
	if q.contains(action.ID) {
		err := errors.New(errors.ErrValidation, fmt.Sprintf("action %s is already queued", action.ID))
		return Result{Action: action, Err: err, Message: err.Error()}
	}

	if q.Len() > 0 {
		queued, err := q.Enqueue(ctx, action)
		if err != nil {
			return Result{Action: queued, Err: err, Message: err.Error()}
		}
		return Result{Action: queued, Queued: true, Deferred: true, Message: MsgWillSync}
	}

	sendErr := q.dispatcher.Send(ctx, action)
	if sendErr == nil {
		q.emit(syncpkg.EventActionDelivered, map[string]interface{}{
			"id":     action.ID,
			"method": action.Method,
			"url":    action.URL,
		})
		return Result{Action: action, Delivered: true}
	}

	logging.Warn("Immediate delivery failed, queueing", map[string]interface{}{
		"component":  "queue",
		"action_id":  action.ID,
		"error_code": string(errors.Code(sendErr)),
		"error":      sendErr.Error(),
	})

	queued, err := q.Enqueue(ctx, action)
	if err != nil {
		return Result{Action: queued, Err: err, Message: err.Error()}
	}
	return Result{
		Action:  queued,
		Queued:  true,
		Message: MsgWillSync,
		Err:     sendErr,
	}
}

// ReplayAll delivers queued actions oldest first, one at a time. A call made
// while another pass is running returns immediately with Started=false.
func (q *ActionQueue) ReplayAll(ctx context.Context) ReplayReport {
	if !q.replaying.CompareAndSwap(false, true) {
		logging.Debug("Replay already in progress, skipping", map[string]interface{}{"component": "queue"})
		return ReplayReport{Started: false, Remaining: q.Len()}
	}
	defer q.replaying.Store(false)

	report := ReplayReport{Started: true}
	initial := q.Len()
	if initial > 0 {
		q.emit(syncpkg.EventReplayStarted, map[string]interface{}{"pending": initial})
		logging.Info("Replaying pending actions", map[string]interface{}{
			"component": "queue",
			"pending":   initial,
		})
	}

	for {
		if err := ctx.Err(); err != nil {
			report.Aborted = true
			report.Err = errors.Wrap(errors.ErrSyncTransport, "replay cancelled", err)
			break
		}

		head, ok := q.head()
		if !ok {
			break
		}

		err := q.dispatcher.Send(ctx, head)
		if err == nil {
			q.remove(ctx, head.ID)
			report.Delivered++
			q.emit(syncpkg.EventActionDelivered, map[string]interface{}{
				"id":     head.ID,
				"method": head.Method,
				"url":    head.URL,
			})
			continue
		}

		if errors.Is(err, errors.ErrSyncAuthFailed) {
			// keep everything until the user logs in again
			q.markFailed(ctx, head.ID, err)
			report.Aborted = true
			report.Err = err
			q.emit(syncpkg.EventAuthRequired, map[string]interface{}{
				"status":  errors.Status(err),
				"pending": q.Len(),
			})
			break
		}

		if errors.IsRejection(err) && q.config.RejectionPolicy == DropRejected {
			q.remove(ctx, head.ID)
			report.Dropped++
			status := errors.Status(err)
			logging.ErrorWithCode("Backend rejected queued action, dropping", string(errors.Code(err)), err,
				map[string]interface{}{"component": "queue", "action_id": head.ID, "status": status})
			q.emit(syncpkg.EventActionDropped, map[string]interface{}{
				"id":     head.ID,
				"method": head.Method,
				"url":    head.URL,
				"status": status,
				"error":  err.Error(),
			})
			continue
		}

		// retryable, retained rejection, or anything unexpected: keep it and stop
		q.markFailed(ctx, head.ID, err)
		report.Aborted = true
		report.Err = err
		break
	}

	q.finishPass(ctx, &report)

	if initial > 0 || report.Aborted {
		q.emit(syncpkg.EventReplayCompleted, map[string]interface{}{
			"delivered": report.Delivered,
			"dropped":   report.Dropped,
			"remaining": report.Remaining,
			"aborted":   report.Aborted,
		})
		logging.Info("Replay pass finished", map[string]interface{}{
			"component": "queue",
			"delivered": report.Delivered,
			"dropped":   report.Dropped,
			"remaining": report.Remaining,
			"aborted":   report.Aborted,
		})
	}
	return report
}

func (q *ActionQueue) finishPass(ctx context.Context, report *ReplayReport) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if report.Aborted {
		q.failures++
		q.retryAfter = now.Add(calculateBackoff(q.failures, q.config.BackoffBase, q.config.BackoffMax))
	} else {
		q.failures = 0
		q.retryAfter = time.Time{}
	}

	if !report.Aborted || report.Delivered > 0 {
		q.lastSync = now
		if err := q.store.Set(context.WithoutCancel(ctx), store.KeyLastSync, now.UTC().Format(time.RFC3339Nano)); err != nil {
			logging.Warn("Failed to persist last sync time", map[string]interface{}{"component": "queue", "error": err.Error()})
		}
	}
	report.Remaining = len(q.items)
}

// calculateBackoff returns base * 2^(failures-1), capped at max.
func calculateBackoff(failures int, base, max time.Duration) time.Duration {
	if failures <= 0 {
		return 0
	}
	backoff := base
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}

// Remove discards a queued action by ID.
func (q *ActionQueue) Remove(ctx context.Context, id string) error {
	if !q.remove(ctx, id) {
		return errors.New(errors.ErrNotFound, fmt.Sprintf("action %s not found", id))
	}
	logging.Info("Action discarded", map[string]interface{}{"component": "queue", "action_id": id})
	return nil
}

// Clear discards every queued action.
func (q *ActionQueue) Clear(ctx context.Context) int {
	q.mu.Lock()
	q.loadLocked(ctx)
	n := len(q.items)
	q.items = []models.PendingAction{}
	q.persistLocked(ctx)
	q.mu.Unlock()

	logging.Info("Queue cleared", map[string]interface{}{"component": "queue", "discarded": n})
	return n
}

// Pending returns a copy of the queue in replay order.
func (q *ActionQueue) Pending() []models.PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.PendingAction, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of queued actions.
func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// LastSync returns the end of the last completed pass, or nil.
func (q *ActionQueue) LastSync() *time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lastSync.IsZero() {
		return nil
	}
	t := q.lastSync
	return &t
}

// RetryAfter is the earliest time a timer-driven pass should run after
// consecutive aborted passes. Zero when no backoff is in effect.
func (q *ActionQueue) RetryAfter() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retryAfter
}

// Replaying reports whether a pass is running.
func (q *ActionQueue) Replaying() bool {
	return q.replaying.Load()
}

// Subscribe registers a listener for queue events.
func (q *ActionQueue) Subscribe(l syncpkg.Listener) func() {
	q.listenersMu.Lock()
	id := q.nextListener
	q.nextListener++
	q.listeners[id] = l
	q.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.listenersMu.Lock()
			delete(q.listeners, id)
			q.listenersMu.Unlock()
		})
	}
}

func (q *ActionQueue) emit(t syncpkg.EventType, data map[string]interface{}) {
	q.listenersMu.RLock()
	ls := make([]syncpkg.Listener, 0, len(q.listeners))
	for _, l := range q.listeners {
		ls = append(ls, l)
	}
	q.listenersMu.RUnlock()

	ev := syncpkg.NewEvent(t, data)
	for _, l := range ls {
		l(ev)
	}
}

func (q *ActionQueue) prepare(action models.PendingAction) (models.PendingAction, error) {
	action.Normalize()
	if err := action.Validate(); err != nil {
		return action, errors.Wrap(errors.ErrValidation, "invalid action", err)
	}
	if action.ID == "" {
		action.ID = uuid.New()
	} else if err := uuid.Validate(action.ID); err != nil {
		return action, errors.Wrap(errors.ErrValidation, "invalid action id", err)
	}
	if action.Timestamp == 0 {
		action.Timestamp = q.now().UnixMilli()
	}
	return action, nil
}

func (q *ActionQueue) head() (models.PendingAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return models.PendingAction{}, false
	}
	return q.items[0], true
}

func (q *ActionQueue) remove(ctx context.Context, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.loadLocked(ctx)
	i := q.indexLocked(id)
	if i < 0 {
		return false
	}
	next := make([]models.PendingAction, 0, len(q.items)-1)
	next = append(next, q.items[:i]...)
	next = append(next, q.items[i+1:]...)
	q.items = next
	q.persistLocked(ctx)
	return true
}

func (q *ActionQueue) contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(id) >= 0
}

func (q *ActionQueue) indexLocked(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *ActionQueue) markFailed(ctx context.Context, id string, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].ID != id {
			continue
		}
		q.items[i].Attempts++
		q.items[i].LastError = cause.Error()
		q.persistLocked(ctx)

		logging.Warn("Replay halted, action kept for retry", map[string]interface{}{
			"component":  "queue",
			"action_id":  id,
			"attempts":   q.items[i].Attempts,
			"error_code": string(errors.Code(cause)),
			"error":      cause.Error(),
		})
		return
	}
}

// persistLocked writes the queue. Callers hold q.mu. The write ignores
// caller cancellation so an abandoned request cannot leave storage behind
// memory.
func (q *ActionQueue) persistLocked(ctx context.Context) {
	encoded, err := models.EncodeQueue(q.items)
	if err != nil {
		logging.ErrorWithCode("Failed to encode queue", string(errors.ErrStorage), err,
			map[string]interface{}{"component": "queue"})
		return
	}
	if err := q.store.Set(context.WithoutCancel(ctx), store.KeyPendingActions, encoded); err != nil {
		logging.ErrorWithCode("Failed to persist queue", string(errors.ErrStorage), err,
			map[string]interface{}{"component": "queue", "pending": len(q.items)})
	}
}
