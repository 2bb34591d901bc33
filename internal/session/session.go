// Package session keeps per-browser UI state between requests: the raw
// transcript of the last recording and its refined version.
//
// A [Store] is selected by configuration. [MemoryStore] keeps state in
// process, [RedisStore] and [PostgresStore] let several instances behind a
// load balancer share it. Wrapping a networked store in a [Guard] keeps the
// UI usable while the backend is down.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by [Store.Get] for unknown or expired sessions.
var ErrNotFound = errors.New("session: not found")

// DefaultTTL is how long an idle session is kept when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Session is the state of one browser session.
type Session struct {
	ID                string    `json:"id"`
	RawTranscript     string    `json:"raw_transcript"`
	RefinedTranscript string    `json:"refined_transcript"`
	Language          string    `json:"language,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// New returns an empty session with a fresh ID.
func New(now time.Time) *Session {
	return &Session{ID: NewID(), CreatedAt: now, UpdatedAt: now}
}

// SetRaw stores a new raw transcript and clears the refined one, which no
// longer matches it.
func (s *Session) SetRaw(text string, now time.Time) {
	s.RawTranscript = text
	s.RefinedTranscript = ""
	s.UpdatedAt = now
}

// SetRefined stores the refined transcript.
func (s *Session) SetRefined(text string, now time.Time) {
	s.RefinedTranscript = text
	s.UpdatedAt = now
}

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns a copy of the session, or [ErrNotFound].
	Get(ctx context.Context, id string) (*Session, error)

	// Put creates or replaces the session and restarts its TTL.
	Put(ctx context.Context, s *Session) error

	// Delete removes the session. Deleting an unknown session is not an error.
	Delete(ctx context.Context, id string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// NewID returns a random session ID.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like an ID returned by [NewID]. Cookie
// values that fail this check are replaced instead of being used as keys.
func ValidID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.Version() == 4 && len(id) == 36
}
