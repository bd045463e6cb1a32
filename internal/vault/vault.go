// Package vault persists token mappings between a mask call and the unmask
// call that follows it, keyed by an opaque session id.
package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

// ErrNotFound is returned by Load for unknown or expired sessions.
var ErrNotFound = errors.New("vault: session not found")

// ErrDisabled is returned by the no-op store.
var ErrDisabled = errors.New("vault: no store configured")

// Store saves and retrieves mappings.
type Store interface {
	// Save stores m under a new session id.
	Save(ctx context.Context, m sanitize.Mapping) (string, error)
	// Load returns the mapping saved under id or ErrNotFound.
	Load(ctx context.Context, id string) (sanitize.Mapping, error)
	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

// NewID returns a fresh session id.
func NewID() string { return uuid.NewString() }

// validID rejects ids that could escape a key namespace or a directory.
func validID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// Noop is used when no store is configured. Save fails with ErrDisabled so
// callers notice that sessions are unavailable.
type Noop struct{}

func (Noop) Save(context.Context, sanitize.Mapping) (string, error) { return "", ErrDisabled }

func (Noop) Load(context.Context, string) (sanitize.Mapping, error) { return nil, ErrNotFound }

func (Noop) Delete(context.Context, string) error { return nil }
