// Package apikey resolves presented API keys to caller identities. Raw keys
// are never stored: both stores compare SHA-256 digests. The static store
// serves keys from configuration; the Postgres store serves the api_keys
// table managed by cmd/auth.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
)

var (
	ErrInvalidKey = fmt.Errorf("%w: invalid api key", apperrors.ErrUnauthorized)
	ErrExpiredKey = fmt.Errorf("%w: api key expired", apperrors.ErrUnauthorized)
)

// KeyInfo holds metadata about a validated API key. ID is stable per key
// and is what the rate limiter buckets on.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Store validates a raw key, returning ErrInvalidKey or ErrExpiredKey when
// the caller must be rejected.
type Store interface {
	Validate(ctx context.Context, rawKey string) (*KeyInfo, error)
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(raw)))
}

// GenerateRawKey returns a cryptographically random 32-byte hex-encoded
// string suitable for use as an API key.
func GenerateRawKey() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
