package redisstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/testlens-dev/testlens-mcp/sessions"
	"github.com/testlens-dev/testlens-mcp/sessions/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewFromEnv()
	if err != nil {
		t.Skipf("skipping redis store tests: %v", err)
	}
	// Isolate each test run under its own prefix so parallel runs and
	// leftovers cannot interfere.
	s.keyPrefix = "testlens:test:" + uuid.NewString() + ":"
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore(t *testing.T) {
	// Availability probe; individual cases get their own prefix.
	probe, err := NewFromEnv()
	if err != nil {
		t.Skipf("skipping redis store tests: %v", err)
	}
	_ = probe.Close()

	storetest.RunStoreTests(t, func(t *testing.T) sessions.Store {
		return newTestStore(t)
	})
}

// Two stores sharing one Redis stand in for two processes: the handle side
// cache belongs to a single store instance and must never travel.
func TestHandleVisibilityAcrossProcesses(t *testing.T) {
	procA := newTestStore(t)
	procB, err := NewFromEnv()
	if err != nil {
		t.Skipf("skipping redis store tests: %v", err)
	}
	procB.keyPrefix = procA.keyPrefix
	t.Cleanup(func() { _ = procB.Close() })

	ctx := context.Background()
	handle := storetest.Handle("sess-1")
	rec := &sessions.Record{SessionID: "sess-1", Credential: "tok", Handle: handle}
	if err := procA.Put(ctx, rec); err != nil {
		t.Fatalf("put in process A: %v", err)
	}

	fromB, err := procB.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get in process B: %v", err)
	}
	if fromB.Status != sessions.StatusTransportMissing {
		t.Errorf("process B: expected transport_missing, got %q", fromB.Status)
	}
	if fromB.Handle != nil {
		t.Error("process B: handle must not be visible")
	}

	fromA, err := procA.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get in process A: %v", err)
	}
	if fromA.Status != sessions.StatusActive {
		t.Errorf("process A: expected active, got %q", fromA.Status)
	}
	if fromA.Handle != handle {
		t.Error("process A: expected the original handle back")
	}
}

func TestDeleteEvictsSideCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &sessions.Record{SessionID: "sess-1", Credential: "tok", Handle: storetest.Handle("sess-1")}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Re-create the same session without a handle: the stale handle must not
	// resurrect an active status.
	if err := s.Put(ctx, &sessions.Record{SessionID: "sess-1", Credential: "tok2"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != sessions.StatusTransportMissing {
		t.Errorf("expected transport_missing after delete, got %q", got.Status)
	}
}
