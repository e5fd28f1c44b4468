// Package scheduler runs the offline queue as a process-wide service: it
// replays on reconnect, on a periodic timer and on demand.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/avanzando/mobilecore/internal/errors"
	"github.com/avanzando/mobilecore/internal/logging"
	"github.com/avanzando/mobilecore/internal/models"
	syncpkg "github.com/avanzando/mobilecore/internal/sync"
	"github.com/avanzando/mobilecore/internal/sync/queue"
)

// Config holds service configuration.
type Config struct {
	SyncInterval time.Duration // periodic replay while online (default: 30 seconds)
	PassTimeout  time.Duration // upper bound for one replay pass (default: 5 minutes)
}

// DefaultConfig returns default service configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 30 * time.Second,
		PassTimeout:  5 * time.Minute,
	}
}

// Status is a snapshot of the service.
type Status struct {
	Running    bool       `json:"running"`
	Online     bool       `json:"online"`
	Replaying  bool       `json:"replaying"`
	Pending    int        `json:"pending"`
	LastSync   *time.Time `json:"last_sync,omitempty"`
	RetryAfter *time.Time `json:"retry_after,omitempty"`
}

// Service owns the replay triggers for one ActionQueue.
type Service struct {
	queue        *queue.ActionQueue
	notifier     syncpkg.Notifier
	syncInterval time.Duration
	passTimeout  time.Duration

	mu          sync.RWMutex
	isRunning   bool
	isOnline    bool
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	stopCh      chan struct{}
	wg          sync.WaitGroup

	listenersMu  sync.RWMutex
	listeners    map[int]syncpkg.Listener
	nextListener int

	now func() time.Time
}

// NewService creates a Service. Call Init before use.
func NewService(q *queue.ActionQueue, notifier syncpkg.Notifier, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		queue:        q,
		notifier:     notifier,
		syncInterval: config.SyncInterval,
		passTimeout:  config.PassTimeout,
		listeners:    make(map[int]syncpkg.Listener),
		now:          time.Now,
	}
}

// Init loads the persisted queue, subscribes to connectivity and starts the
// periodic timer. Calling Init on a running service does nothing.
func (s *Service) Init(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.isOnline = false
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	s.mu.Unlock()

	s.queue.Load(ctx)

	// the notifier reports the current state right away, which replays
	// anything left over from the last run when we start online
	unsubscribe := s.notifier.Subscribe(s.SetOnline)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	go s.periodicSyncLoop()

	logging.Info("Sync service started", map[string]interface{}{
		"component":     "scheduler",
		"sync_interval": s.syncInterval.String(),
		"pending":       s.queue.Len(),
	})
}

// Dispose unsubscribes, stops the timer and waits for running passes. Safe
// to call more than once.
func (s *Service) Dispose() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.cancel()
	close(s.stopCh)
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()

	logging.Info("Sync service stopped", map[string]interface{}{
		"component": "scheduler",
		"pending":   s.queue.Len(),
	})
}

// SetOnline records a connectivity update. A disconnected to connected
// transition starts a replay pass.
func (s *Service) SetOnline(online bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = online
	changed := wasOnline != online
	s.mu.Unlock()

	if !changed {
		return
	}

	logging.Info("Online status changed", map[string]interface{}{
		"component":  "scheduler",
		"was_online": wasOnline,
		"is_online":  online,
	})
	s.emit(syncpkg.NewEvent(syncpkg.EventConnectivityChange, map[string]interface{}{
		"connected": online,
		"pending":   s.queue.Len(),
	}))

	if online {
		s.triggerPass("reconnect")
	}
}

// triggerPass starts a background pass unless the service is stopped.
func (s *Service) triggerPass(trigger string) {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runPass(trigger)
	}()
}

// periodicSyncLoop replays on every tick while online and outside backoff.
func (s *Service) periodicSyncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			if retryAfter := s.queue.RetryAfter(); !retryAfter.IsZero() && s.now().Before(retryAfter) {
				logging.Debug("Replay backing off", map[string]interface{}{
					"component":   "scheduler",
					"retry_after": retryAfter.Format(time.RFC3339),
				})
				continue
			}
			s.runPass("timer")
		}
	}
}

func (s *Service) runPass(trigger string) queue.ReplayReport {
	s.mu.RLock()
	parent := s.ctx
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(parent, s.passTimeout)
	defer cancel()

	for {
		report := s.queue.ReplayAll(ctx)
		if !report.Started {
			logging.Debug("Replay already in progress, skipping", map[string]interface{}{
				"component": "scheduler",
				"trigger":   trigger,
			})
			return report
		}
		if report.Aborted {
			logging.Warn("Replay pass aborted", map[string]interface{}{
				"component":   "scheduler",
				"trigger":     trigger,
				"remaining":   report.Remaining,
				"retry_after": s.queue.RetryAfter().Format(time.RFC3339),
			})
			return report
		}
		// actions queued while the pass was finishing lost the race for the
		// in-flight guard, so they are picked up here
		if s.queue.Len() == 0 || ctx.Err() != nil {
			return report
		}
	}
}

// SyncNow runs a replay pass and waits for it, ignoring backoff. It returns
// SYNC_IN_PROGRESS when another pass is running.
func (s *Service) SyncNow(ctx context.Context) (queue.ReplayReport, error) {
	if !s.IsRunning() {
		return queue.ReplayReport{}, errors.New(errors.ErrSyncFailed, "sync service is not running")
	}

	ctx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	report := s.queue.ReplayAll(ctx)
	if !report.Started {
		return report, errors.New(errors.ErrSyncInProgress, "a replay pass is already running")
	}

	logging.Info("Manual sync completed", map[string]interface{}{
		"component": "scheduler",
		"delivered": report.Delivered,
		"dropped":   report.Dropped,
		"remaining": report.Remaining,
		"aborted":   report.Aborted,
	})
	return report, nil
}

// Submit sends action now when online and nothing is waiting, otherwise
// queues it for replay. An action queued behind earlier ones while online
// starts a pass so it does not wait for the timer.
func (s *Service) Submit(ctx context.Context, action models.PendingAction) queue.Result {
	if s.IsOnline() {
		res := s.queue.AttemptImmediate(ctx, action)
		if res.Deferred {
			s.triggerPass("submit")
		}
		return res
	}

	queued, err := s.queue.Enqueue(ctx, action)
	if err != nil {
		return queue.Result{Action: queued, Err: err, Message: err.Error()}
	}
	return queue.Result{Action: queued, Queued: true, Message: queue.MsgWillSync}
}

// Queue exposes the underlying queue for read-only views.
func (s *Service) Queue() *queue.ActionQueue {
	return s.queue
}

// Subscribe registers l for queue and connectivity events.
func (s *Service) Subscribe(l syncpkg.Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	unsubscribeQueue := s.queue.Subscribe(l)

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribeQueue()
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Service) emit(ev syncpkg.Event) {
	s.listenersMu.RLock()
	ls := make([]syncpkg.Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.listenersMu.RUnlock()

	for _, l := range ls {
		l(ev)
	}
}

// Status returns a snapshot of the service.
func (s *Service) Status() Status {
	s.mu.RLock()
	status := Status{
		Running: s.isRunning,
		Online:  s.isOnline,
	}
	s.mu.RUnlock()

	status.Replaying = s.queue.Replaying()
	status.Pending = s.queue.Len()
	status.LastSync = s.queue.LastSync()
	if retryAfter := s.queue.RetryAfter(); !retryAfter.IsZero() {
		status.RetryAfter = &retryAfter
	}
	return status
}

// IsOnline returns the last reported connectivity.
func (s *Service) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the service is between Init and Dispose.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
