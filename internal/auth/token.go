// Package auth keeps the session bearer token used for backend requests.
package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/avanzando/mobilecore/internal/crypto"
	"github.com/avanzando/mobilecore/internal/errors"
	"github.com/avanzando/mobilecore/internal/logging"
	"github.com/avanzando/mobilecore/internal/store"
)

// encryptedPrefix marks a stored token sealed with the configured secret.
const encryptedPrefix = "enc:"

// TokenStore reads and writes the bearer token under store.KeyToken. With a
// secret the token is encrypted at rest; without one it is stored as is.
type TokenStore struct {
	store  store.Store
	secret string

	mu     sync.RWMutex
	cached *string
}

// NewTokenStore creates a TokenStore. An empty secret stores plaintext.
func NewTokenStore(st store.Store, secret string) *TokenStore {
	return &TokenStore{store: st, secret: secret}
}

// Save stores token, replacing any previous one.
func (t *TokenStore) Save(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New(errors.ErrValidation, "token must not be empty")
	}

	value := token
	if t.secret != "" {
		sealed, err := crypto.EncryptString(token, t.secret)
		if err != nil {
			return errors.Wrap(errors.ErrCryptoFailed, "encrypt token", err)
		}
		value = encryptedPrefix + sealed
	}

	if err := t.store.Set(ctx, store.KeyToken, value); err != nil {
		return errors.Wrap(errors.ErrStorage, "save token", err)
	}

	t.mu.Lock()
	t.cached = &token
	t.mu.Unlock()

	logging.Info("Session token saved", map[string]interface{}{
		"component": "auth",
		"encrypted": t.secret != "",
	})
	return nil
}

// Token returns the stored token, or "" when there is none. It implements
// transport.TokenSource.
func (t *TokenStore) Token(ctx context.Context) (string, error) {
	t.mu.RLock()
	if t.cached != nil {
		token := *t.cached
		t.mu.RUnlock()
		return token, nil
	}
	t.mu.RUnlock()

	value, ok, err := t.store.Get(ctx, store.KeyToken)
	if err != nil {
		return "", errors.Wrap(errors.ErrStorage, "read token", err)
	}
	if !ok {
		return "", nil
	}

	token := value
	if strings.HasPrefix(value, encryptedPrefix) {
		if t.secret == "" {
			return "", errors.New(errors.ErrCryptoFailed, "token is encrypted but no secret is configured")
		}
		token, err = crypto.DecryptString(strings.TrimPrefix(value, encryptedPrefix), t.secret)
		if err != nil {
			return "", errors.Wrap(errors.ErrCryptoFailed, "decrypt token", err)
		}
	}

	t.mu.Lock()
	t.cached = &token
	t.mu.Unlock()
	return token, nil
}

// Clear removes the stored token.
func (t *TokenStore) Clear(ctx context.Context) error {
	if err := t.store.Delete(ctx, store.KeyToken); err != nil {
		return errors.Wrap(errors.ErrStorage, "clear token", err)
	}

	t.mu.Lock()
	t.cached = nil
	t.mu.Unlock()

	logging.Info("Session token cleared", map[string]interface{}{"component": "auth"})
	return nil
}
