package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/testlens-dev/testlens-mcp/sessions"
)

// Config for the Redis-backed store.
type Config struct {
	// Client is the Redis client instance. Required.
	Client *redis.Client

	// KeyPrefix namespaces all session keys. Default "testlens:sessions:".
	KeyPrefix string

	// TTL is an optional server-side expiry applied on every write. Zero
	// means keys never expire on their own.
	TTL time.Duration
}

// EnvConfig is the envdecode surface for building a store from environment
// variables.
type EnvConfig struct {
	RedisAddr string        `env:"TESTLENS_REDIS_ADDR,default=localhost:6379"`
	KeyPrefix string        `env:"TESTLENS_REDIS_KEY_PREFIX,default=testlens:sessions:"`
	TTL       time.Duration `env:"TESTLENS_REDIS_TTL,default=0"`
}

// Store implements sessions.Store on Redis with a process-local side cache
// of transport handles.
type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration

	// handles is never serialized and never leaves this process.
	handlesMu sync.RWMutex
	handles   map[string]sessions.TransportHandle
}

var _ sessions.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "testlens:sessions:"
	}
	return &Store{
		client:    cfg.Client,
		keyPrefix: prefix,
		ttl:       cfg.TTL,
		handles:   make(map[string]sessions.TransportHandle),
	}, nil
}

// NewFromEnv builds a Store using envdecode to populate EnvConfig and
// verifies connectivity with a ping. A failed ping is fatal: nothing in this
// store can operate without its backend.
func NewFromEnv() (*Store, error) {
	var cfg EnvConfig
	_ = envdecode.Decode(&cfg)
	cl := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping: %v", sessions.ErrStoreUnavailable, err)
	}
	return New(Config{Client: cl, KeyPrefix: cfg.KeyPrefix, TTL: cfg.TTL})
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(id string) string { return s.keyPrefix + id }

func (s *Store) Get(ctx context.Context, id string) (*sessions.Record, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sessions.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %v", sessions.ErrStoreUnavailable, id, err)
	}
	return s.decode(id, raw)
}

func (s *Store) Put(ctx context.Context, rec *sessions.Record) error {
	cp := rec.Clone()
	if cp.Handle != nil {
		s.handlesMu.Lock()
		s.handles[cp.SessionID] = cp.Handle
		s.handlesMu.Unlock()
	}
	// The persisted status is always transport_missing; only the side cache
	// can prove a live handle, and only within this process.
	cp.Status = sessions.StatusTransportMissing
	cp.Handle = nil
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", cp.SessionID, err)
	}
	if err := s.client.Set(ctx, s.key(cp.SessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", sessions.ErrStoreUnavailable, cp.SessionID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.handlesMu.Lock()
	delete(s.handles, id)
	s.handlesMu.Unlock()
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", sessions.ErrStoreUnavailable, id, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", sessions.ErrStoreUnavailable, id, err)
	}
	return n == 1, nil
}

func (s *Store) ListAll(ctx context.Context) ([]*sessions.Record, error) {
	keys, err := s.scanKeys(ctx, s.keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", sessions.ErrStoreUnavailable, err)
	}
	out := make([]*sessions.Record, 0, len(keys))
	for _, key := range keys {
		raw, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Expired between SCAN and GET.
				continue
			}
			return nil, fmt.Errorf("%w: get %s: %v", sessions.ErrStoreUnavailable, key, err)
		}
		rec, err := s.decode(key[len(s.keyPrefix):], raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) decode(id string, raw []byte) (*sessions.Record, error) {
	var rec sessions.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	s.handlesMu.RLock()
	handle, ok := s.handles[rec.SessionID]
	s.handlesMu.RUnlock()
	if ok {
		rec.Handle = handle
		rec.Status = sessions.StatusActive
	} else {
		rec.Status = sessions.StatusTransportMissing
	}
	return &rec, nil
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
