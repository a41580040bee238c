package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/testlens-dev/testlens-mcp/sessions"
)

const defaultSweepInterval = 5 * time.Minute

// Config for the in-memory store. Defaults can be loaded via envdecode in
// the caller's configuration surface.
type Config struct {
	// IdleWindow is how long a record may go unaccessed before the sweep
	// removes it. Zero disables expiry entirely; no sweep timer is started.
	IdleWindow time.Duration

	// SweepInterval is how often the expiry sweep runs. Defaults to five
	// minutes when unset. Ignored when IdleWindow is zero.
	SweepInterval time.Duration
}

type entry struct {
	rec        *sessions.Record
	lastAccess time.Time
}

// Store is an in-memory implementation of sessions.Store with idle expiry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	idleWindow time.Duration
	now        func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

var _ sessions.Store = (*Store)(nil)

func New(cfg Config) *Store {
	s := &Store{
		entries:    make(map[string]*entry),
		idleWindow: cfg.IdleWindow,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if cfg.IdleWindow <= 0 {
		close(s.doneCh)
		return s
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	go s.sweepLoop(interval)
	return s
}

// Close stops the expiry sweep. Safe to call multiple times and on stores
// that never started one.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*sessions.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	e.lastAccess = s.now()
	rec := e.rec.Clone()
	rec.Status = deriveStatus(rec)
	return rec, nil
}

func (s *Store) Put(ctx context.Context, rec *sessions.Record) error {
	cp := rec.Clone()
	cp.Status = deriveStatus(cp)
	s.mu.Lock()
	s.entries[cp.SessionID] = &entry{rec: cp, lastAccess: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if ok {
		e.lastAccess = s.now()
	}
	return ok, nil
}

func (s *Store) ListAll(ctx context.Context) ([]*sessions.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*sessions.Record, 0, len(s.entries))
	for _, e := range s.entries {
		rec := e.rec.Clone()
		rec.Status = deriveStatus(rec)
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer close(s.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	cutoff := s.now().Add(-s.idleWindow)
	s.mu.Lock()
	for id, e := range s.entries {
		if e.lastAccess.Before(cutoff) {
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()
}

func deriveStatus(rec *sessions.Record) sessions.Status {
	if rec.Handle != nil {
		return sessions.StatusActive
	}
	return sessions.StatusTransportMissing
}
