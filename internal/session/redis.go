package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/carelens/edrisk/internal/clinical"
)

const redisKeyPrefix = "edrisk:session:"

// RedisStore persists sessions as JSON values with a per-key TTL, so a
// deployment can run several engine replicas against one session space.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	ctx    context.Context
}

// NewRedisStore wires a store over an existing client. ttl bounds session
// inactivity; redis expiry enforces it, so Expire is a no-op here.
func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis session store requires a positive ttl")
	}
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl, ctx: ctx}, nil
}

func (st *RedisStore) GetOrCreate(id string) (*Session, error) {
	if id != "" {
		s, err := st.load(id)
		if err == nil {
			s.LastActiveAt = time.Now()
			if err := st.persist(s); err != nil {
				return nil, err
			}
			return s, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	s := &Session{ID: id, CreatedAt: now, LastActiveAt: now, Phase: clinical.PhaseIdle}
	if err := st.persist(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (st *RedisStore) Get(id string) (*Session, error) {
	return st.load(id)
}

func (st *RedisStore) Save(s *Session) error {
	cp := s.Clone()
	cp.LastActiveAt = time.Now()
	return st.persist(cp)
}

func (st *RedisStore) Merge(id string, partial clinical.State) (*Session, error) {
	s, err := st.load(id)
	if err != nil {
		return nil, err
	}
	s.Clinical.Merge(partial)
	if s.Phase != clinical.PhaseAssessed {
		s.Phase = clinical.PhaseFor(&s.Clinical)
	}
	s.LastActiveAt = time.Now()
	if err := st.persist(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (st *RedisStore) Reset(id string) (*Session, error) {
	s, err := st.load(id)
	if err != nil {
		return nil, err
	}
	s.Clinical.Reset()
	s.Phase = clinical.PhaseIdle
	s.LastActiveAt = time.Now()
	if err := st.persist(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Expire is satisfied by redis key TTLs.
func (st *RedisStore) Expire(time.Duration) int { return 0 }

func (st *RedisStore) load(id string) (*Session, error) {
	raw, err := st.client.Get(st.ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &s, nil
}

func (st *RedisStore) persist(s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	if err := st.client.Set(st.ctx, redisKeyPrefix+s.ID, raw, st.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
