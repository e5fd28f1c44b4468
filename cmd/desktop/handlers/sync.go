// Package handlers provides REST API handlers for the offline queue and the
// session.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/avanzando/mobilecore/internal/errors"
	"github.com/avanzando/mobilecore/internal/models"
	"github.com/avanzando/mobilecore/internal/sync/queue"
	"github.com/avanzando/mobilecore/internal/sync/scheduler"
	"github.com/avanzando/mobilecore/internal/uuid"
)

// ConnectivitySetter lets the UI override the reachability state.
type ConnectivitySetter interface {
	Set(connected bool)
	Connected() bool
}

// SyncHandler handles queue inspection, submission and manual sync.
type SyncHandler struct {
	service      *scheduler.Service
	connectivity ConnectivitySetter
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(service *scheduler.Service, connectivity ConnectivitySetter) *SyncHandler {
	return &SyncHandler{
		service:      service,
		connectivity: connectivity,
	}
}

// actionRequest is the body of POST /api/actions.
type actionRequest struct {
	URL    string          `json:"url"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// submitResponse reports what happened to a submitted action.
type submitResponse struct {
	Status  string               `json:"status"` // "delivered" or "queued"
	Message string               `json:"message,omitempty"`
	Action  models.PendingAction `json:"action"`
	Error   string               `json:"error,omitempty"`
}

// replayResponse is the JSON form of queue.ReplayReport.
type replayResponse struct {
	Delivered int        `json:"delivered"`
	Dropped   int        `json:"dropped"`
	Remaining int        `json:"remaining"`
	Aborted   bool       `json:"aborted"`
	Error     string     `json:"error,omitempty"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
}

// GetStatus handles GET /api/sync/status.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}

// ListPending handles GET /api/sync/pending.
func (h *SyncHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	items := h.service.Queue().Pending()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// DiscardPending handles DELETE /api/sync/pending/{id}.
func (h *SyncHandler) DiscardPending(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := uuid.Validate(id); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid action id", err))
		return
	}
	if err := h.service.Queue().Remove(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncNow handles POST /api/sync/now. A pass already running answers 409.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toReplayResponse(report, h.service.Queue().LastSync()))
}

// SubmitAction handles POST /api/actions. Delivered actions answer 200,
// queued ones 202 with the message to show the user.
func (h *SyncHandler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res := h.service.Submit(r.Context(), models.PendingAction{
		URL:    req.URL,
		Method: req.Method,
		Data:   req.Data,
	})

	switch {
	case res.Delivered:
		writeJSON(w, http.StatusOK, submitResponse{Status: "delivered", Action: res.Action})
	case res.Queued:
		resp := submitResponse{Status: "queued", Message: res.Message, Action: res.Action}
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		writeJSON(w, http.StatusAccepted, resp)
	default:
		writeError(w, res.Err)
	}
}

// SetConnectivity handles PUT /api/connectivity.
func (h *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Connected *bool `json:"connected"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Connected == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "connected is required"})
		return
	}

	h.connectivity.Set(*req.Connected)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected": h.connectivity.Connected(),
	})
}

func toReplayResponse(report queue.ReplayReport, lastSync *time.Time) replayResponse {
	resp := replayResponse{
		Delivered: report.Delivered,
		Dropped:   report.Dropped,
		Remaining: report.Remaining,
		Aborted:   report.Aborted,
		LastSync:  lastSync,
	}
	if report.Err != nil {
		resp.Error = report.Err.Error()
	}
	return resp
}
