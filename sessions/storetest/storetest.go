// Package storetest provides a conformance suite run against every
// sessions.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testlens-dev/testlens-mcp/sessions"
)

// StoreFactory creates a fresh Store instance for testing.
type StoreFactory func(t *testing.T) sessions.Store

// Handle returns a no-op transport handle for tests.
func Handle(sessionID string) sessions.TransportHandle {
	return &fakeHandle{id: sessionID}
}

type fakeHandle struct{ id string }

func (h *fakeHandle) SessionID() string { return h.id }

func (h *fakeHandle) NotifyResourceListChanged(ctx context.Context) error { return nil }

// RunStoreTests runs the complete Store conformance suite against the
// provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("PutGetRoundTrip", func(t *testing.T) { testPutGetRoundTrip(t, factory) })
	t.Run("GetUnknownIsNotFound", func(t *testing.T) { testGetUnknownIsNotFound(t, factory) })
	t.Run("ExistsAndDelete", func(t *testing.T) { testExistsAndDelete(t, factory) })
	t.Run("ListAllSnapshot", func(t *testing.T) { testListAllSnapshot(t, factory) })
	t.Run("StatusDerivedFromHandle", func(t *testing.T) { testStatusDerivedFromHandle(t, factory) })
	t.Run("CredentialResolver", func(t *testing.T) { testCredentialResolver(t, factory) })
}

func testPutGetRoundTrip(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	refreshedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &sessions.Record{
		SessionID:         "sess-1",
		Credential:        "tok-1",
		TargetID:          "target-1",
		ReportIDs:         []string{"r1", "r2"},
		CaseIDs:           []string{"c1"},
		TraceIndex:        map[string]string{"r1": "https://traces/r1.zip"},
		LastReportRefresh: refreshedAt,
		LastCaseRefresh:   refreshedAt.Add(-time.Minute),
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Credential != "tok-1" || got.TargetID != "target-1" {
		t.Errorf("unexpected record: %+v", got)
	}
	if len(got.ReportIDs) != 2 || got.ReportIDs[0] != "r1" || got.ReportIDs[1] != "r2" {
		t.Errorf("report ids not preserved: %v", got.ReportIDs)
	}
	if got.TraceIndex["r1"] != "https://traces/r1.zip" {
		t.Errorf("trace index not preserved: %v", got.TraceIndex)
	}
	if !got.LastReportRefresh.Equal(refreshedAt) {
		t.Errorf("last report refresh not preserved: %v", got.LastReportRefresh)
	}
}

func testGetUnknownIsNotFound(t *testing.T, factory StoreFactory) {
	s := factory(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testExistsAndDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	if ok, err := s.Exists(ctx, "sess-1"); err != nil || ok {
		t.Fatalf("exists before put: ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, &sessions.Record{SessionID: "sess-1", Credential: "tok"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := s.Exists(ctx, "sess-1"); err != nil || !ok {
		t.Fatalf("exists after put: ok=%v err=%v", ok, err)
	}
	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "sess-1"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting an unknown id is not an error.
	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func testListAllSnapshot(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, &sessions.Record{SessionID: id, Credential: "tok-" + id}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	recs, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		seen[rec.SessionID] = true
	}
	for _, id := range []string{"a", "b", "c"} {
		if !seen[id] {
			t.Errorf("missing session %q in ListAll", id)
		}
	}
}

func testStatusDerivedFromHandle(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	withHandle := &sessions.Record{SessionID: "live", Credential: "tok", Handle: Handle("live")}
	if err := s.Put(ctx, withHandle); err != nil {
		t.Fatalf("put live: %v", err)
	}
	got, err := s.Get(ctx, "live")
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if got.Status != sessions.StatusActive {
		t.Errorf("expected active status, got %q", got.Status)
	}
	if got.Handle == nil {
		t.Error("expected handle to be attached on read")
	}

	if err := s.Put(ctx, &sessions.Record{SessionID: "bare", Credential: "tok"}); err != nil {
		t.Fatalf("put bare: %v", err)
	}
	got, err = s.Get(ctx, "bare")
	if err != nil {
		t.Fatalf("get bare: %v", err)
	}
	if got.Status != sessions.StatusTransportMissing {
		t.Errorf("expected transport_missing status, got %q", got.Status)
	}
}

func testCredentialResolver(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	resolver := sessions.NewCredentialResolver(s)

	if _, err := resolver.Credential(ctx, "ghost"); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("unknown session: expected ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, &sessions.Record{SessionID: "anon"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := resolver.Credential(ctx, "anon"); !errors.Is(err, sessions.ErrNoCredential) {
		t.Fatalf("credential-less session: expected ErrNoCredential, got %v", err)
	}

	if err := s.Put(ctx, &sessions.Record{SessionID: "sess-1", Credential: "tok-1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	cred, err := resolver.Credential(ctx, "sess-1")
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	if cred != "tok-1" {
		t.Fatalf("expected tok-1, got %q", cred)
	}
}
