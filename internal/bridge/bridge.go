// Package bridge exposes the core to foreign callers as string-in,
// JSON-out functions. The mobile FFI layer is a thin wrapper around it.
package bridge

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/avanzando/mobilecore/internal/config"
	"github.com/avanzando/mobilecore/internal/core"
	"github.com/avanzando/mobilecore/internal/errors"
	"github.com/avanzando/mobilecore/internal/logging"
	"github.com/avanzando/mobilecore/internal/models"
	syncpkg "github.com/avanzando/mobilecore/internal/sync"
)

// maxBufferedEvents bounds the events kept between two PollEvents calls.
const maxBufferedEvents = 100

// Response is the envelope returned by every call.
type Response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	Code  string      `json:"code,omitempty"`
}

// Bridge owns at most one running core.
type Bridge struct {
	mu          sync.Mutex
	core        *core.Core
	unsubscribe func()
	lastErr     string

	eventsMu sync.Mutex
	events   []syncpkg.Event
}

// New creates an empty Bridge.
func New() *Bridge {
	return &Bridge{}
}

// Init loads configPath (empty for defaults plus AVZ_* variables) and starts
// the core. A second Init without Dispose is a no-op.
func (b *Bridge) Init(configPath string) string {
	cfg, err := config.Load(strings.TrimSpace(configPath))
	if err != nil {
		return b.fail(err)
	}
	logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	return b.InitWith(cfg, nil)
}

// InitWith starts the core from an already built configuration.
func (b *Bridge) InitWith(cfg *config.Config, opts *core.Options) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.core != nil {
		return b.ok(map[string]interface{}{"initialized": true})
	}

	c, err := core.New(cfg, opts)
	if err != nil {
		return b.failLocked(err)
	}
	b.unsubscribe = c.Service.Subscribe(b.buffer)
	c.Start(context.Background())
	b.core = c

	return b.ok(map[string]interface{}{
		"initialized": true,
		"pending":     c.Queue.Len(),
	})
}

// Dispose stops the core. Safe to call when not initialised.
func (b *Bridge) Dispose() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.core == nil {
		return b.ok(nil)
	}
	b.unsubscribe()
	err := b.core.Close()
	b.core = nil
	if err != nil {
		return b.failLocked(err)
	}
	return b.ok(nil)
}

// Submit sends or queues one mutating call. data may be empty.
func (b *Bridge) Submit(url, method, data string) string {
	c, resp := b.running()
	if c == nil {
		return resp
	}

	action := models.PendingAction{URL: url, Method: method}
	if strings.TrimSpace(data) != "" {
		action.Data = json.RawMessage(data)
	}

	res := c.Service.Submit(context.Background(), action)
	switch {
	case res.Delivered:
		return b.ok(map[string]interface{}{"status": "delivered", "action": res.Action})
	case res.Queued:
		return b.ok(map[string]interface{}{
			"status":  "queued",
			"message": res.Message,
			"action":  res.Action,
		})
	default:
		return b.fail(res.Err)
	}
}

// SyncNow runs a replay pass and waits for it.
func (b *Bridge) SyncNow() string {
	c, resp := b.running()
	if c == nil {
		return resp
	}

	report, err := c.Service.SyncNow(context.Background())
	if err != nil {
		return b.fail(err)
	}
	data := map[string]interface{}{
		"delivered": report.Delivered,
		"dropped":   report.Dropped,
		"remaining": report.Remaining,
		"aborted":   report.Aborted,
	}
	if report.Err != nil {
		data["error"] = report.Err.Error()
	}
	return b.ok(data)
}

// Status returns the service status.
func (b *Bridge) Status() string {
	c, resp := b.running()
	if c == nil {
		return resp
	}
	return b.ok(c.Service.Status())
}

// Pending lists queued actions in replay order.
func (b *Bridge) Pending() string {
	c, resp := b.running()
	if c == nil {
		return resp
	}
	return b.ok(c.Queue.Pending())
}

// SetConnected forwards the OS reachability callback.
func (b *Bridge) SetConnected(connected bool) string {
	c, resp := b.running()
	if c == nil {
		return resp
	}
	c.Monitor.Set(connected)
	return b.ok(map[string]interface{}{"connected": connected})
}

// SaveToken stores the bearer token obtained at login.
func (b *Bridge) SaveToken(token string) string {
	c, resp := b.running()
	if c == nil {
		return resp
	}
	if err := c.Tokens.Save(context.Background(), token); err != nil {
		return b.fail(err)
	}
	return b.ok(nil)
}

// ClearToken removes the bearer token at logout.
func (b *Bridge) ClearToken() string {
	c, resp := b.running()
	if c == nil {
		return resp
	}
	if err := c.Tokens.Clear(context.Background()); err != nil {
		return b.fail(err)
	}
	return b.ok(nil)
}

// PollEvents returns and clears the events buffered since the last call.
func (b *Bridge) PollEvents() string {
	b.eventsMu.Lock()
	events := b.events
	b.events = nil
	b.eventsMu.Unlock()

	if events == nil {
		events = []syncpkg.Event{}
	}
	return b.ok(events)
}

// LastError returns the message of the most recent failure.
func (b *Bridge) LastError() string {
	b.mu.Lock()
	msg := b.lastErr
	b.mu.Unlock()
	return b.ok(map[string]string{"error": msg})
}

func (b *Bridge) buffer(ev syncpkg.Event) {
	b.eventsMu.Lock()
	defer b.eventsMu.Unlock()

	b.events = append(b.events, ev)
	if over := len(b.events) - maxBufferedEvents; over > 0 {
		b.events = b.events[over:]
	}
}

func (b *Bridge) running() (*core.Core, string) {
	b.mu.Lock()
	c := b.core
	b.mu.Unlock()

	if c == nil {
		return nil, b.fail(errors.New(errors.ErrSyncFailed, "core is not initialized"))
	}
	return c, ""
}

func (b *Bridge) ok(data interface{}) string {
	return encode(Response{OK: true, Data: data})
}

func (b *Bridge) fail(err error) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failLocked(err)
}

func (b *Bridge) failLocked(err error) string {
	if err == nil {
		err = errors.New(errors.ErrInternal, "unknown error")
	}
	b.lastErr = err.Error()
	return encode(Response{
		OK:    false,
		Error: err.Error(),
		Code:  string(errors.Code(err)),
	})
}

func encode(r Response) string {
	out, err := json.Marshal(r)
	if err != nil {
		return `{"ok":false,"error":"failed to encode response","code":"INTERNAL_ERROR"}`
	}
	return string(out)
}
