// Package challenge keeps short-lived ceremony state (WebAuthn session data,
// MFA login tickets) under random ids with a hard TTL.
package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for missing, expired or already taken entries.
	ErrNotFound = errors.New("challenge not found")
	// ErrBackend wraps store failures.
	ErrBackend = errors.New("challenge backend unavailable")
)

// Store holds opaque values with a TTL.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get reads a value without removing it.
	Get(ctx context.Context, key string) ([]byte, error)
	// Take reads and removes a value atomically. Only one caller wins.
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Kinds of stored challenges.
const (
	KindRegistration = "reg"
	KindLogin        = "login"
	KindMFATicket    = "mfa"
)

// NewID returns a fresh random challenge id.
func NewID() string {
	return uuid.NewString()
}

// Key builds the store key for a challenge id of the given kind.
func Key(kind, id string) string {
	return "chal:" + kind + ":" + id
}
