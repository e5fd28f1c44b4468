// Package models provides data model definitions for the mobile core.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PendingAction is a mutating API call waiting to be delivered to the backend.
type PendingAction struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	URL       string          `json:"url"`
	Method    string          `json:"method"`
	Data      json.RawMessage `json:"data,omitempty"`

	// Diagnostics, never sent to the backend.
	Attempts  int    `json:"attempts,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

var mutatingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// IsMutating reports whether method changes server state.
func IsMutating(method string) bool {
	return mutatingMethods[strings.ToUpper(method)]
}

// Normalize upper-cases the method and trims the URL.
func (a *PendingAction) Normalize() {
	a.Method = strings.ToUpper(strings.TrimSpace(a.Method))
	a.URL = strings.TrimSpace(a.URL)
}

// Validate checks the action can be replayed later.
func (a *PendingAction) Validate() error {
	if a.URL == "" {
		return fmt.Errorf("url is required")
	}
	if !IsMutating(a.Method) {
		return fmt.Errorf("method %q is not a mutating verb", a.Method)
	}

	u, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported url scheme %q", u.Scheme)
		}
	} else if !strings.HasPrefix(a.URL, "/") {
		return fmt.Errorf("relative url must start with '/': %q", a.URL)
	}

	if len(a.Data) > 0 && !json.Valid(a.Data) {
		return fmt.Errorf("data is not valid JSON")
	}
	return nil
}

// CreatedAt returns the creation time.
func (a PendingAction) CreatedAt() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// Equal compares two actions field by field, comparing Data as bytes.
func (a PendingAction) Equal(b PendingAction) bool {
	return a.ID == b.ID &&
		a.Timestamp == b.Timestamp &&
		a.URL == b.URL &&
		a.Method == b.Method &&
		bytes.Equal(a.Data, b.Data) &&
		a.Attempts == b.Attempts &&
		a.LastError == b.LastError
}

// EncodeQueue serialises a queue for the key-value store.
func EncodeQueue(actions []PendingAction) (string, error) {
	if actions == nil {
		actions = []PendingAction{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("failed to encode queue: %w", err)
	}
	return string(data), nil
}

// DecodeQueue parses a stored queue. An empty string is an empty queue.
func DecodeQueue(s string) ([]PendingAction, error) {
	if strings.TrimSpace(s) == "" {
		return []PendingAction{}, nil
	}
	var actions []PendingAction
	if err := json.Unmarshal([]byte(s), &actions); err != nil {
		return nil, fmt.Errorf("failed to decode queue: %w", err)
	}
	if actions == nil {
		actions = []PendingAction{}
	}
	return actions, nil
}
