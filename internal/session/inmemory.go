package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelens/edrisk/internal/clinical"
)

// InMemoryStore keeps sessions in a map. The mutex only guards the map
// itself; callers own per-id serialization.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*Session), now: time.Now}
}

func (st *InMemoryStore) GetOrCreate(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if id != "" {
		if s, ok := st.sessions[id]; ok {
			s.LastActiveAt = st.now()
			return s.Clone(), nil
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := st.now()
	s := &Session{ID: id, CreatedAt: now, LastActiveAt: now, Phase: clinical.PhaseIdle}
	st.sessions[id] = s
	return s.Clone(), nil
}

func (st *InMemoryStore) Get(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (st *InMemoryStore) Save(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	cp := s.Clone()
	cp.LastActiveAt = st.now()
	if existing, ok := st.sessions[cp.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	st.sessions[cp.ID] = cp
	return nil
}

func (st *InMemoryStore) Merge(id string, partial clinical.State) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.Clinical.Merge(partial)
	if s.Phase != clinical.PhaseAssessed {
		s.Phase = clinical.PhaseFor(&s.Clinical)
	}
	s.LastActiveAt = st.now()
	return s.Clone(), nil
}

func (st *InMemoryStore) Reset(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.Clinical.Reset()
	s.Phase = clinical.PhaseIdle
	s.LastActiveAt = st.now()
	return s.Clone(), nil
}

func (st *InMemoryStore) Expire(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	cutoff := st.now().Add(-ttl)
	removed := 0
	for id, s := range st.sessions {
		if s.LastActiveAt.Before(cutoff) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live sessions.
func (st *InMemoryStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
