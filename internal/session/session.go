// Package session owns per-conversation mutable state. Store operations
// on a single id are not individually thread-safe; the engine serializes
// turns per session id and treats each turn as one read-modify-write.
package session

import (
	"errors"
	"time"

	"github.com/carelens/edrisk/internal/clinical"
)

// ErrNotFound is returned by operations that require an existing session.
var ErrNotFound = errors.New("session not found")

// Session is one conversation's state.
type Session struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActiveAt time.Time      `json:"last_active_at"`
	TurnCount    int            `json:"turn_count"`
	Phase        clinical.Phase `json:"phase"`
	Clinical     clinical.State `json:"clinical_state"`
}

// Clone deep-copies the session so a turn can work on a scratch copy and
// commit atomically at the end.
func (s *Session) Clone() *Session {
	out := *s
	out.Clinical = s.Clinical.Clone()
	return &out
}

// Store is the session lifecycle contract. Every operation refreshes
// LastActiveAt on the touched session.
type Store interface {
	// GetOrCreate returns the session for id, creating a fresh one when
	// the id is empty or unknown (an unknown id is never an error).
	GetOrCreate(id string) (*Session, error)
	// Get returns the session for id without creating one or refreshing
	// its activity time. Unknown ids return ErrNotFound.
	Get(id string) (*Session, error)
	// Save commits a modified session. This is the single write path a
	// turn uses after its read-modify-write completes.
	Save(s *Session) error
	// Merge overlays a partial clinical state onto the session,
	// field-wise, never reverting a known field to missing.
	Merge(id string, partial clinical.State) (*Session, error)
	// Reset clears the clinical state and returns the session to Idle,
	// preserving its id.
	Reset(id string) (*Session, error)
	// Expire removes sessions inactive for longer than ttl and returns
	// how many were removed.
	Expire(ttl time.Duration) int
}

// Backend names accepted by config.
const (
	BackendInMemory = "inmemory"
	BackendRedis    = "redis"
)
