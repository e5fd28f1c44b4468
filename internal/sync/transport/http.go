// Package transport delivers queued actions to the REST backend over HTTP.
package transport

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avanzando/mobilecore/internal/errors"
	"github.com/avanzando/mobilecore/internal/models"
)

// maxErrorBody bounds how much of a rejection body is kept for diagnostics.
const maxErrorBody = 512

// TokenSource supplies the bearer token sent with every request.
// An empty token means the request is sent without Authorization.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// HTTPDispatcher implements sync.Dispatcher against the REST backend.
type HTTPDispatcher struct {
	base    *url.URL
	client  *http.Client
	tokens  TokenSource
	timeout time.Duration
}

// NewHTTPDispatcher creates a dispatcher resolving relative action URLs
// against baseURL. Every request is bounded by timeout.
func NewHTTPDispatcher(baseURL string, tokens TokenSource, timeout time.Duration) (*HTTPDispatcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return nil, errors.New(errors.ErrConfig, fmt.Sprintf("invalid base url %q", baseURL))
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &HTTPDispatcher{
		base:    base,
		client:  &http.Client{},
		tokens:  tokens,
		timeout: timeout,
	}, nil
}

// WithClient replaces the underlying HTTP client.
func (d *HTTPDispatcher) WithClient(c *http.Client) *HTTPDispatcher {
	d.client = c
	return d
}

// Resolve returns the absolute URL for an action URL.
func (d *HTTPDispatcher) Resolve(actionURL string) (string, error) {
	ref, err := url.Parse(actionURL)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	// keep any path prefix on the base, e.g. https://host/v1 + /projects/1
	joined := *d.base
	joined.Path = strings.TrimRight(d.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	joined.RawQuery = ref.RawQuery
	return joined.String(), nil
}

// Send implements sync.Dispatcher.
func (d *HTTPDispatcher) Send(ctx context.Context, action models.PendingAction) error {
	target, err := d.Resolve(action.URL)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "resolve action url", err)
	}

	token, err := d.tokens.Token(ctx)
	if err != nil {
		// a local read failure must not turn into a server rejection
		return errors.Wrap(errors.ErrSyncTransport, "read session token", err)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var body io.Reader
	if len(action.Data) > 0 {
		body = bytes.NewReader(action.Data)
	}

	req, err := http.NewRequestWithContext(ctx, action.Method, target, body)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if action.ID != "" {
		req.Header.Set("Idempotency-Key", action.ID)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Wrap(errors.ErrSyncTimeout, fmt.Sprintf("%s %s timed out", action.Method, target), err)
		}
		return errors.Wrap(errors.ErrSyncTransport, fmt.Sprintf("%s %s", action.Method, target), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("%s %s: %s", action.Method, target, resp.Status)
	if s := strings.TrimSpace(string(snippet)); s != "" {
		msg += ": " + s
	}
	return errors.Rejected(resp.StatusCode, msg)
}
