package handlers

import (
	"context"
	"net/http"
)

// TokenSaver stores and removes the session bearer token.
type TokenSaver interface {
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// SessionHandler handles the session token the UI obtains at login.
type SessionHandler struct {
	tokens TokenSaver
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(tokens TokenSaver) *SessionHandler {
	return &SessionHandler{tokens: tokens}
}

// SaveToken handles PUT /api/session/token.
func (h *SessionHandler) SaveToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.tokens.Save(r.Context(), req.Token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearToken handles DELETE /api/session/token.
func (h *SessionHandler) ClearToken(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
