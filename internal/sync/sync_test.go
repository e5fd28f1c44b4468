package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/avanzando/mobilecore/internal/models"
)

func TestNewEvent_millisecondTimestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	ev := NewEvent(EventActionQueued, map[string]interface{}{"id": "a"})
	after := time.Now().UnixMilli()

	assert.Equal(t, EventActionQueued, ev.Type)
	assert.GreaterOrEqual(t, ev.Timestamp, before)
	assert.LessOrEqual(t, ev.Timestamp, after)
	// seconds since the epoch would be three orders of magnitude smaller
	assert.Greater(t, ev.Timestamp, int64(1e12))
}

func TestDispatcherFunc(t *testing.T) {
	var got models.PendingAction
	d := DispatcherFunc(func(ctx context.Context, a models.PendingAction) error {
		got = a
		return nil
	})

	assert.NoError(t, d.Send(context.Background(), models.PendingAction{ID: "x", URL: "/projects/1"}))
	assert.Equal(t, "/projects/1", got.URL)
}
