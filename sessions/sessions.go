package sessions

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the session ID is unknown to the store. Callers
	// typically surface this as an unauthorized result; it is never retried
	// silently.
	ErrNotFound = errors.New("session not found")

	// ErrNoCredential indicates the session exists but never had a
	// credential attached. Distinct from ErrNotFound so callers can tell a
	// dead session from a half-initialized one.
	ErrNoCredential = errors.New("session has no credential")

	// ErrStoreUnavailable indicates the backing store cannot be reached.
	// Fatal for any operation that needs the store; always propagated.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store is the CRUD contract over session records. Implementations MUST be
// safe for concurrent use and treat each record as a single atomic unit;
// concurrent writers are last-writer-wins.
type Store interface {
	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Put writes the record keyed by its SessionID, replacing any previous
	// value.
	Put(ctx context.Context, rec *Record) error

	// Delete removes the record. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Exists reports whether a record is present without fetching it.
	Exists(ctx context.Context, id string) (bool, error)

	// ListAll returns a snapshot of every known record.
	ListAll(ctx context.Context) ([]*Record, error)
}

// CredentialResolver maps a session ID to the bearer credential bound at
// connection establishment.
type CredentialResolver struct {
	store Store
}

func NewCredentialResolver(store Store) *CredentialResolver {
	return &CredentialResolver{store: store}
}

// Credential returns the credential for the session, ErrNotFound when the
// session is unknown, or ErrNoCredential when the record exists without one.
func (r *CredentialResolver) Credential(ctx context.Context, sessionID string) (string, error) {
	rec, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if rec.Credential == "" {
		return "", fmt.Errorf("%w: %s", ErrNoCredential, sessionID)
	}
	return rec.Credential, nil
}
