package specforge

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SpecStore persists project specs and their version history. A spec is
// created once per project and thereafter only replaced wholesale; each
// replacement produces a new version snapshot.
type SpecStore interface {
	// CreateSpec stores the initial extracted spec for a project as version 1.
	CreateSpec(ctx context.Context, spec *Spec) error
	// CurrentSpec returns the latest persisted spec for a project.
	CurrentSpec(ctx context.Context, projectID string) (*Spec, error)
	// PersistVersion replaces the current spec with the proposed one,
	// records a version snapshot and, when featureID is non-empty, advances
	// that feature's status to applied. It returns the new version number.
	// Callers must only invoke it for conflict-free previews.
	PersistVersion(ctx context.Context, projectID string, proposed *Spec, summary, featureID string) (int, error)
	// GetVersion loads one persisted snapshot.
	GetVersion(ctx context.Context, projectID string, version int) (*SpecVersion, error)
	// ListVersions lists snapshots for a project, newest first, without
	// documents.
	ListVersions(ctx context.Context, projectID string) ([]SpecVersion, error)
}

// ProjectLocker gates which collaborator may persist changes to a project.
// Locks are advisory, time-bounded records: an expired lock may be stolen by
// the next Acquire. Preview-only calls never need a lock.
type ProjectLocker interface {
	// Acquire takes the lock for holderID unless a live lock is held by
	// someone else. Re-acquiring an own lock extends it. Returns false when
	// another collaborator holds a live lock.
	Acquire(ctx context.Context, projectID string, holderID uuid.UUID, ttl time.Duration) (bool, error)
	// Release drops the lock if holderID owns it.
	Release(ctx context.Context, projectID string, holderID uuid.UUID) error
	// Held reports whether holderID currently owns a live lock.
	Held(ctx context.Context, projectID string, holderID uuid.UUID) (bool, error)
}

// SnapshotArchiver ships persisted version documents to long-term storage.
// Archiving is best-effort from the caller's point of view: a failed archive
// never rolls back a persisted version.
type SnapshotArchiver interface {
	ArchiveVersion(ctx context.Context, projectID string, version int, document []byte) error
}
