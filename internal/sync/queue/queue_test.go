package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avanzando/mobilecore/internal/errors"
	"github.com/avanzando/mobilecore/internal/models"
	"github.com/avanzando/mobilecore/internal/store"
	syncpkg "github.com/avanzando/mobilecore/internal/sync"
	"github.com/avanzando/mobilecore/internal/uuid"
)

// scriptedDispatcher records every send and answers from respond.
type scriptedDispatcher struct {
	mu      sync.Mutex
	sent    []models.PendingAction
	respond func(n int, a models.PendingAction) error
}

func (d *scriptedDispatcher) Send(_ context.Context, a models.PendingAction) error {
	d.mu.Lock()
	n := len(d.sent)
	d.sent = append(d.sent, a)
	respond := d.respond
	d.mu.Unlock()

	if respond == nil {
		return nil
	}
	return respond(n, a)
}

func (d *scriptedDispatcher) Sent() []models.PendingAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.PendingAction, len(d.sent))
	copy(out, d.sent)
	return out
}

// failingStore refuses every write.
type failingStore struct{ *store.MemoryStore }

func (f *failingStore) Set(context.Context, string, string) error {
	return fmt.Errorf("disk full")
}

func newTestQueue(t *testing.T, d syncpkg.Dispatcher, policy RejectionPolicy) (*ActionQueue, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.RejectionPolicy = policy
	q := NewActionQueue(st, d, cfg)
	q.Load(context.Background())
	return q, st
}

func action(method, url, data string) models.PendingAction {
	a := models.PendingAction{Method: method, URL: url}
	if data != "" {
		a.Data = json.RawMessage(data)
	}
	return a
}

func transportErr() error {
	return errors.New(errors.ErrSyncTransport, "connection refused")
}

// assertPersisted checks the stored queue matches memory.
func assertPersisted(t *testing.T, q *ActionQueue, st store.Store) {
	t.Helper()
	raw, ok, err := st.Get(context.Background(), store.KeyPendingActions)
	require.NoError(t, err)
	require.True(t, ok, "queue was never persisted")

	stored, err := models.DecodeQueue(raw)
	require.NoError(t, err)

	mem := q.Pending()
	require.Len(t, stored, len(mem))
	for i := range mem {
		assert.True(t, mem[i].Equal(stored[i]), "entry %d differs: %+v vs %+v", i, mem[i], stored[i])
	}
}

func urls(actions []models.PendingAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.URL
	}
	return out
}

func TestEnqueue_assignsIDAndPersists(t *testing.T) {
	q, st := newTestQueue(t, &scriptedDispatcher{}, DropRejected)

	got, err := q.Enqueue(context.Background(), action("put", " /projects/1 ", `{"estado":"en_progreso"}`))
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.NotZero(t, got.Timestamp)
	assert.Equal(t, "PUT", got.Method)
	assert.Equal(t, "/projects/1", got.URL)
	assert.Equal(t, 1, q.Len())
	assertPersisted(t, q, st)
}

func TestEnqueue_keepsGivenID(t *testing.T) {
	q, _ := newTestQueue(t, &scriptedDispatcher{}, DropRejected)

	id := uuid.New()
	a := action("POST", "/projects", `{}`)
	a.ID = id
	a.Timestamp = 42

	got, err := q.Enqueue(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, int64(42), got.Timestamp)
}

func TestEnqueue_rejectsDuplicateID(t *testing.T) {
	q, st := newTestQueue(t, &scriptedDispatcher{}, DropRejected)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, action("POST", "/a", `{}`))
	require.NoError(t, err)

	dup := action("POST", "/b", `{}`)
	dup.ID = first.ID
	_, err = q.Enqueue(ctx, dup)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	res := q.AttemptImmediate(ctx, dup)
	assert.False(t, res.Queued)
	assert.True(t, errors.Is(res.Err, errors.ErrValidation))

	assert.Equal(t, []string{"/a"}, urls(q.Pending()))
	assertPersisted(t, q, st)
}

func TestEnqueue_rejectsMalformedID(t *testing.T) {
	q, _ := newTestQueue(t, &scriptedDispatcher{}, DropRejected)

	a := action("POST", "/projects", `{}`)
	a.ID = "fixed-id"
	_, err := q.Enqueue(context.Background(), a)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.Equal(t, 0, q.Len())
}

func TestEnqueue_beforeLoadKeepsPersisted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	previous := NewActionQueue(st, &scriptedDispatcher{}, nil)
	old, err := previous.Enqueue(ctx, action("PUT", "/old", `{}`))
	require.NoError(t, err)

	q := NewActionQueue(st, &scriptedDispatcher{}, nil)
	_, err = q.Enqueue(ctx, action("PUT", "/new", `{}`))
	require.NoError(t, err)

	assert.Equal(t, 2, q.Load(ctx))
	assert.Equal(t, []string{"/old", "/new"}, urls(q.Pending()))
	assertPersisted(t, q, st)

	fresh := NewActionQueue(st, &scriptedDispatcher{}, nil)
	require.NoError(t, fresh.Remove(ctx, old.ID))
	assert.Equal(t, []string{"/new"}, urls(fresh.Pending()))
	assertPersisted(t, fresh, st)
}

func TestEnqueue_rejectsInvalid(t *testing.T) {
	q, _ := newTestQueue(t, &scriptedDispatcher{}, DropRejected)

	tests := []struct {
		name string
		a    models.PendingAction
	}{
		{"read-only method", action("GET", "/projects", "")},
		{"empty url", action("POST", "", "")},
		{"bad json", action("POST", "/projects", "{nope")},
		{"relative path", action("POST", "projects", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(context.Background(), tt.a)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrValidation))
		})
	}
	assert.Equal(t, 0, q.Len())
}

func TestEnqueue_storageFailureKeepsMemory(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	q := NewActionQueue(st, &scriptedDispatcher{}, nil)
	q.Load(context.Background())

	_, err := q.Enqueue(context.Background(), action("DELETE", "/projects/9", ""))
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestEnqueue_persistsAfterCallerCancels(t *testing.T) {
	q, st := newTestQueue(t, &scriptedDispatcher{}, DropRejected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Enqueue(ctx, action("POST", "/projects", `{"nombre":"x"}`))
	require.NoError(t, err)
	assertPersisted(t, q, st)
}

func TestAttemptImmediate_delivered(t *testing.T) {
	d := &scriptedDispatcher{}
	q, _ := newTestQueue(t, d, DropRejected)

	res := q.AttemptImmediate(context.Background(), action("PUT", "/projects/1", `{"estado":"completado"}`))

	assert.True(t, res.Delivered)
	assert.False(t, res.Queued)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, q.Len())
	require.Len(t, d.Sent(), 1)
	assert.Equal(t, res.Action.ID, d.Sent()[0].ID)
}

func TestAttemptImmediate_queuesOnFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transport", transportErr()},
		{"timeout", errors.New(errors.ErrSyncTimeout, "deadline")},
		{"server error", errors.Rejected(500, "boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &scriptedDispatcher{respond: func(int, models.PendingAction) error { return tt.err }}
			q, st := newTestQueue(t, d, DropRejected)

			res := q.AttemptImmediate(context.Background(), action("POST", "/projects", `{}`))

			assert.False(t, res.Delivered)
			assert.True(t, res.Queued)
			assert.Equal(t, MsgWillSync, res.Message)
			assert.Equal(t, errors.Code(tt.err), errors.Code(res.Err))

			pending := q.Pending()
			require.Len(t, pending, 1)
			// the replayed request reuses the ID sent as the idempotency key
			assert.Equal(t, d.Sent()[0].ID, pending[0].ID)
			assertPersisted(t, q, st)
		})
	}
}

func TestAttemptImmediate_queuesBehindPending(t *testing.T) {
	d := &scriptedDispatcher{}
	q, st := newTestQueue(t, d, DropRejected)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, action("PUT", "/projects/1/a", `{"estado":"pausado"}`))
	require.NoError(t, err)

	res := q.AttemptImmediate(ctx, action("PUT", "/projects/1/b", `{"estado":"en_progreso"}`))
	assert.False(t, res.Delivered)
	assert.True(t, res.Queued)
	assert.True(t, res.Deferred)
	assert.NoError(t, res.Err)
	assert.Equal(t, MsgWillSync, res.Message)
	assert.Empty(t, d.Sent(), "nothing may overtake the queued action")

	q.ReplayAll(ctx)
	assert.Equal(t, []string{"/projects/1/a", "/projects/1/b"}, urls(d.Sent()))
	assert.Equal(t, 0, q.Len())
	assertPersisted(t, q, st)
}

func TestAttemptImmediate_invalid(t *testing.T) {
	d := &scriptedDispatcher{}
	q, _ := newTestQueue(t, d, DropRejected)

	res := q.AttemptImmediate(context.Background(), action("GET", "/projects", ""))
	assert.False(t, res.Delivered)
	assert.False(t, res.Queued)
	assert.True(t, errors.Is(res.Err, errors.ErrValidation))
	assert.Empty(t, d.Sent())
}

func TestReplayAll_fifo(t *testing.T) {
	d := &scriptedDispatcher{}
	q, st := newTestQueue(t, d, DropRejected)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := q.Enqueue(ctx, action("PUT", fmt.Sprintf("/projects/%d", i), `{}`))
		require.NoError(t, err)
	}

	report := q.ReplayAll(ctx)

	assert.True(t, report.Started)
	assert.False(t, report.Aborted)
	assert.Equal(t, 5, report.Delivered)
	assert.Equal(t, 0, report.Remaining)
	assert.Equal(t, []string{"/projects/1", "/projects/2", "/projects/3", "/projects/4", "/projects/5"}, urls(d.Sent()))
	assert.NotNil(t, q.LastSync())
	assert.True(t, q.RetryAfter().IsZero())
	assertPersisted(t, q, st)
}

func TestReplayAll_sameResourceKeepsOrder(t *testing.T) {
	d := &scriptedDispatcher{}
	q, _ := newTestQueue(t, d, DropRejected)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, action("PUT", "/projects/1", `{"estado":"en_progreso"}`))
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, action("PUT", "/projects/1", `{"presupuesto_estimado":5000}`))
	require.NoError(t, err)

	q.ReplayAll(ctx)

	sent := d.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, a.ID, sent[0].ID)
	assert.Equal(t, b.ID, sent[1].ID)
	assert.JSONEq(t, `{"presupuesto_estimado":5000}`, string(sent[1].Data))
}

func TestReplayAll_haltsOnTransportFailure(t *testing.T) {
	for k := 0; k < 4; k++ {
		t.Run(fmt.Sprintf("fail at %d", k), func(t *testing.T) {
			d := &scriptedDispatcher{respond: func(n int, _ models.PendingAction) error {
				if n == k {
					return transportErr()
				}
				return nil
			}}
			q, st := newTestQueue(t, d, DropRejected)
			ctx := context.Background()

			for i := 0; i < 4; i++ {
				_, err := q.Enqueue(ctx, action("POST", fmt.Sprintf("/tasks/%d", i), `{}`))
				require.NoError(t, err)
			}

			report := q.ReplayAll(ctx)

			assert.True(t, report.Aborted)
			assert.Equal(t, k, report.Delivered)
			assert.Equal(t, 4-k, report.Remaining)
			assert.True(t, errors.IsRetryable(report.Err))
			// nothing after the failing action was attempted
			assert.Len(t, d.Sent(), k+1)

			pending := q.Pending()
			require.Len(t, pending, 4-k)
			assert.Equal(t, fmt.Sprintf("/tasks/%d", k), pending[0].URL)
			assert.Equal(t, 1, pending[0].Attempts)
			assert.Contains(t, pending[0].LastError, "connection refused")
			assertPersisted(t, q, st)
		})
	}
}

func TestReplayAll_serverErrorDropped(t *testing.T) {
	d := &scriptedDispatcher{respond: func(_ int, a models.PendingAction) error {
		if a.URL == "/projects/2" {
			return errors.Rejected(500, "internal server error")
		}
		return nil
	}}
	q, st := newTestQueue(t, d, DropRejected)
	ctx := context.Background()

	var events []syncpkg.Event
	var mu sync.Mutex
	q.Subscribe(func(e syncpkg.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	for i := 1; i <= 3; i++ {
		_, err := q.Enqueue(ctx, action("PUT", fmt.Sprintf("/projects/%d", i), `{}`))
		require.NoError(t, err)
	}

	report := q.ReplayAll(ctx)

	assert.False(t, report.Aborted)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 0, report.Remaining)
	assert.Equal(t, []string{"/projects/1", "/projects/2", "/projects/3"}, urls(d.Sent()))
	assertPersisted(t, q, st)

	mu.Lock()
	defer mu.Unlock()
	var dropped *syncpkg.Event
	for i := range events {
		if events[i].Type == syncpkg.EventActionDropped {
			dropped = &events[i]
		}
	}
	require.NotNil(t, dropped, "no drop event emitted")
	assert.Equal(t, 500, dropped.Data["status"])
	assert.Equal(t, "/projects/2", dropped.Data["url"])
}

func TestReplayAll_serverErrorRetained(t *testing.T) {
	d := &scriptedDispatcher{respond: func(_ int, a models.PendingAction) error {
		if a.URL == "/projects/2" {
			return errors.Rejected(500, "internal server error")
		}
		return nil
	}}
	q, st := newTestQueue(t, d, RetainRejected)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := q.Enqueue(ctx, action("PUT", fmt.Sprintf("/projects/%d", i), `{}`))
		require.NoError(t, err)
	}

	report := q.ReplayAll(ctx)

	assert.True(t, report.Aborted)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 0, report.Dropped)
	assert.Equal(t, 2, report.Remaining)
	assert.Equal(t, []string{"/projects/2", "/projects/3"}, urls(q.Pending()))
	assert.Equal(t, 500, errors.Status(report.Err))
	assertPersisted(t, q, st)
}

func TestReplayAll_authFailureKeepsQueue(t *testing.T) {
	for _, policy := range []RejectionPolicy{DropRejected, RetainRejected} {
		t.Run(string(policy), func(t *testing.T) {
			d := &scriptedDispatcher{respond: func(int, models.PendingAction) error {
				return errors.Rejected(401, "token expired")
			}}
			q, st := newTestQueue(t, d, policy)
			ctx := context.Background()

			var events []syncpkg.Event
			q.Subscribe(func(e syncpkg.Event) { events = append(events, e) })

			for i := 0; i < 5; i++ {
				_, err := q.Enqueue(ctx, action("PUT", fmt.Sprintf("/projects/%d", i), `{}`))
				require.NoError(t, err)
			}

			report := q.ReplayAll(ctx)
			assert.True(t, report.Aborted)
			assert.Equal(t, 0, report.Dropped)
			assert.Equal(t, 5, report.Remaining)
			assert.True(t, errors.Is(report.Err, errors.ErrSyncAuthFailed))
			assert.Len(t, d.Sent(), 1)

			pending := q.Pending()
			require.Len(t, pending, 5)
			assert.Equal(t, 1, pending[0].Attempts)
			assertPersisted(t, q, st)
			assert.False(t, q.RetryAfter().IsZero())

			var auth *syncpkg.Event
			for i := range events {
				assert.NotEqual(t, syncpkg.EventActionDropped, events[i].Type)
				if events[i].Type == syncpkg.EventAuthRequired {
					auth = &events[i]
				}
			}
			require.NotNil(t, auth, "expected an auth.required event")
			assert.Equal(t, 401, auth.Data["status"])
		})
	}
}

func TestReplayAll_concurrentCallIsNoop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	d := &scriptedDispatcher{respond: func(int, models.PendingAction) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}}
	q, _ := newTestQueue(t, d, DropRejected)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, action("POST", fmt.Sprintf("/notes/%d", i), `{}`))
		require.NoError(t, err)
	}

	done := make(chan ReplayReport)
	go func() { done <- q.ReplayAll(ctx) }()

	<-entered
	assert.True(t, q.Replaying())

	second := q.ReplayAll(ctx)
	assert.False(t, second.Started)
	assert.Equal(t, 3, second.Remaining)

	close(release)
	first := <-done

	assert.True(t, first.Started)
	assert.Equal(t, 3, first.Delivered)
	assert.False(t, q.Replaying())
	// each action sent exactly once
	assert.Len(t, d.Sent(), 3)
}

func TestReplayAll_enqueueDuringPass(t *testing.T) {
	var q *ActionQueue
	var once sync.Once

	d := &scriptedDispatcher{respond: func(int, models.PendingAction) error {
		once.Do(func() {
			_, err := q.Enqueue(context.Background(), action("POST", "/late", `{}`))
			if err != nil {
				panic(err)
			}
		})
		return nil
	}}
	q, st := newTestQueue(t, d, DropRejected)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, action("POST", "/early", `{}`))
	require.NoError(t, err)

	report := q.ReplayAll(ctx)

	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, []string{"/early", "/late"}, urls(d.Sent()))
	assertPersisted(t, q, st)
}

func TestReplayAll_emptyQueue(t *testing.T) {
	q, _ := newTestQueue(t, &scriptedDispatcher{}, DropRejected)

	var count int
	q.Subscribe(func(syncpkg.Event) { count++ })

	report := q.ReplayAll(context.Background())

	assert.True(t, report.Started)
	assert.Equal(t, 0, report.Remaining)
	assert.Equal(t, 0, count)
	assert.NotNil(t, q.LastSync())
}

func TestReplayAll_cancelled(t *testing.T) {
	d := &scriptedDispatcher{}
	q, _ := newTestQueue(t, d, DropRejected)

	_, err := q.Enqueue(context.Background(), action("POST", "/projects", `{}`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := q.ReplayAll(ctx)
	assert.True(t, report.Aborted)
	assert.Empty(t, d.Sent())
	assert.Equal(t, 1, q.Len())
}

func TestReplayAll_backoff(t *testing.T) {
	d := &scriptedDispatcher{respond: func(int, models.PendingAction) error { return transportErr() }}
	q, _ := newTestQueue(t, d, DropRejected)
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	_, err := q.Enqueue(ctx, action("POST", "/projects", `{}`))
	require.NoError(t, err)

	q.ReplayAll(ctx)
	assert.Equal(t, now.Add(30*time.Second), q.RetryAfter())
	assert.Nil(t, q.LastSync())

	q.ReplayAll(ctx)
	assert.Equal(t, now.Add(60*time.Second), q.RetryAfter())

	d.mu.Lock()
	d.respond = nil
	d.mu.Unlock()

	q.ReplayAll(ctx)
	assert.True(t, q.RetryAfter().IsZero())
	require.NotNil(t, q.LastSync())
	assert.Equal(t, now, *q.LastSync())
}

func TestCalculateBackoff(t *testing.T) {
	base, max := 30*time.Second, 15*time.Minute

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 2 * time.Minute},
		{5, 8 * time.Minute},
		{6, 15 * time.Minute},
		{40, 15 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateBackoff(tt.failures, base, max), "failures=%d", tt.failures)
	}
}

func TestLoad_restoresPersistedQueue(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	first := NewActionQueue(st, &scriptedDispatcher{}, nil)
	first.Load(ctx)
	for i := 0; i < 3; i++ {
		_, err := first.Enqueue(ctx, action("PATCH", fmt.Sprintf("/projects/%d", i), `{"x":1}`))
		require.NoError(t, err)
	}

	// simulated restart
	second := NewActionQueue(st, &scriptedDispatcher{}, nil)
	assert.Equal(t, 3, second.Load(ctx))

	want := first.Pending()
	got := second.Pending()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]))
	}
}

func TestLoad_onlyOnce(t *testing.T) {
	ctx := context.Background()
	q, st := newTestQueue(t, &scriptedDispatcher{}, DropRejected)

	_, err := q.Enqueue(ctx, action("POST", "/a", `{}`))
	require.NoError(t, err)

	require.NoError(t, st.Set(ctx, store.KeyPendingActions, "[]"))
	assert.Equal(t, 1, q.Load(ctx))
}

func TestLoad_corrupted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.Set(ctx, store.KeyPendingActions, "{not json"))

	q := NewActionQueue(st, &scriptedDispatcher{}, nil)
	assert.Equal(t, 0, q.Load(ctx))

	_, err := q.Enqueue(ctx, action("POST", "/a", `{}`))
	require.NoError(t, err)
	assertPersisted(t, q, st)
}

func TestLoad_skipsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	raw := `[
		{"id":"a","timestamp":1,"url":"/projects/1","method":"PUT","data":{"estado":"x"}},
		{"id":"b","timestamp":2,"url":"/projects","method":"GET"},
		{"id":"","timestamp":3,"url":"/projects","method":"POST"}
	]`
	require.NoError(t, st.Set(ctx, store.KeyPendingActions, raw))

	q := NewActionQueue(st, &scriptedDispatcher{}, nil)
	assert.Equal(t, 1, q.Load(ctx))
	assert.Equal(t, "a", q.Pending()[0].ID)
	assertPersisted(t, q, st)
}

func TestLoad_lastSync(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.Set(ctx, store.KeyLastSync, "2024-03-01T12:00:00Z"))

	q := NewActionQueue(st, &scriptedDispatcher{}, nil)
	q.Load(ctx)

	require.NotNil(t, q.LastSync())
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), q.LastSync().UTC())
}

func TestRemoveAndClear(t *testing.T) {
	q, st := newTestQueue(t, &scriptedDispatcher{}, DropRejected)
	ctx := context.Background()

	a, _ := q.Enqueue(ctx, action("POST", "/a", `{}`))
	_, _ = q.Enqueue(ctx, action("POST", "/b", `{}`))
	_, _ = q.Enqueue(ctx, action("POST", "/c", `{}`))

	require.NoError(t, q.Remove(ctx, a.ID))
	assert.Equal(t, []string{"/b", "/c"}, urls(q.Pending()))
	assertPersisted(t, q, st)

	err := q.Remove(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	assert.Equal(t, 2, q.Clear(ctx))
	assert.Equal(t, 0, q.Len())
	assertPersisted(t, q, st)
}

func TestPending_returnsCopy(t *testing.T) {
	q, _ := newTestQueue(t, &scriptedDispatcher{}, DropRejected)
	_, _ = q.Enqueue(context.Background(), action("POST", "/a", `{}`))

	p := q.Pending()
	p[0].URL = "/mutated"
	assert.Equal(t, "/a", q.Pending()[0].URL)
}

func TestSubscribe_eventsAndUnsubscribe(t *testing.T) {
	q, _ := newTestQueue(t, &scriptedDispatcher{}, DropRejected)
	ctx := context.Background()

	var types []syncpkg.EventType
	unsubscribe := q.Subscribe(func(e syncpkg.Event) { types = append(types, e.Type) })

	_, _ = q.Enqueue(ctx, action("POST", "/a", `{}`))
	q.ReplayAll(ctx)

	assert.Equal(t, []syncpkg.EventType{
		syncpkg.EventActionQueued,
		syncpkg.EventReplayStarted,
		syncpkg.EventActionDelivered,
		syncpkg.EventReplayCompleted,
	}, types)

	unsubscribe()
	unsubscribe()
	_, _ = q.Enqueue(ctx, action("POST", "/b", `{}`))
	assert.Len(t, types, 4)
}
