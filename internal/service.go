package internal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/specforge/specforge"
	"go.uber.org/zap"
)

// ChangeService coordinates the pure engine with storage, locking and
// archiving. Preview never takes a lock; persisting requires the caller to
// hold the project lock and refuses previews that carry conflicts.
type ChangeService struct {
	store    specforge.SpecStore
	locks    specforge.ProjectLocker
	archiver specforge.SnapshotArchiver
	maxOps   int
	lockTTL  time.Duration
}

// NewChangeService wires a change service. archiver may be nil when snapshot
// archiving is disabled.
func NewChangeService(store specforge.SpecStore, locks specforge.ProjectLocker, archiver specforge.SnapshotArchiver, engine specforge.EngineConfig) *ChangeService {
	return &ChangeService{
		store:    store,
		locks:    locks,
		archiver: archiver,
		maxOps:   engine.MaxOperationsPerRequest,
		lockTTL:  engine.LockTTL,
	}
}

// CreateSpec stores the initial extracted spec for a project.
func (s *ChangeService) CreateSpec(ctx context.Context, spec *specforge.Spec) error {
	return s.store.CreateSpec(ctx, spec)
}

// CurrentSpec returns the latest persisted spec for a project.
func (s *ChangeService) CurrentSpec(ctx context.Context, projectID string) (*specforge.Spec, error) {
	return s.store.CurrentSpec(ctx, projectID)
}

// GetVersion loads one persisted snapshot.
func (s *ChangeService) GetVersion(ctx context.Context, projectID string, version int) (*specforge.SpecVersion, error) {
	return s.store.GetVersion(ctx, projectID, version)
}

// ListVersions lists snapshots for a project, newest first.
func (s *ChangeService) ListVersions(ctx context.Context, projectID string) ([]specforge.SpecVersion, error) {
	return s.store.ListVersions(ctx, projectID)
}

// AcquireLock takes or extends the project lock for holderID.
func (s *ChangeService) AcquireLock(ctx context.Context, projectID string, holderID uuid.UUID) error {
	acquired, err := s.locks.Acquire(ctx, projectID, holderID, s.lockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return specforge.NewLockHeldError(projectID)
	}
	return nil
}

// ReleaseLock drops the project lock if holderID owns it.
func (s *ChangeService) ReleaseLock(ctx context.Context, projectID string, holderID uuid.UUID) error {
	return s.locks.Release(ctx, projectID, holderID)
}

// Preview computes the full dry run for a change request against the current
// spec. It never mutates storage and never requires a lock.
func (s *ChangeService) Preview(ctx context.Context, projectID string, req *specforge.ChangeRequest) (*specforge.ChangePreview, error) {
	if err := s.checkRequestSize(projectID, req); err != nil {
		return nil, err
	}
	current, err := s.store.CurrentSpec(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return specforge.ComputePreview(current, req), nil
}

// ApplyAndPersist previews the change request and, when the preview is
// conflict free and the caller holds the project lock, persists the proposed
// spec as the next version. The version snapshot is archived best-effort;
// an archive failure is logged, never surfaced.
func (s *ChangeService) ApplyAndPersist(ctx context.Context, projectID, featureID string, holderID uuid.UUID, req *specforge.ChangeRequest) (*specforge.ChangePreview, int, error) {
	held, err := s.locks.Held(ctx, projectID, holderID)
	if err != nil {
		return nil, 0, err
	}
	if !held {
		return nil, 0, specforge.NewLockNotHeldError(projectID)
	}

	preview, err := s.Preview(ctx, projectID, req)
	if err != nil {
		return nil, 0, err
	}
	if preview.HasConflicts() {
		return preview, 0, specforge.NewChangeConflictsError(projectID, preview.Conflicts)
	}

	summary := req.Summary
	if summary == "" {
		summary = "change request applied"
	}
	version, err := s.store.PersistVersion(ctx, projectID, preview.ProposedSpec, summary, featureID)
	if err != nil {
		return preview, 0, err
	}

	s.archive(ctx, projectID, version, preview.ProposedSpec)
	return preview, version, nil
}

func (s *ChangeService) archive(ctx context.Context, projectID string, version int, proposed *specforge.Spec) {
	if s.archiver == nil {
		return
	}
	document, err := json.Marshal(proposed)
	if err != nil {
		zap.S().Warnw("skipping snapshot archive, spec not serializable",
			"project_id", projectID, "version", version, "error", err)
		return
	}
	if err := s.archiver.ArchiveVersion(ctx, projectID, version, document); err != nil {
		zap.S().Warnw("snapshot archive failed",
			"project_id", projectID, "version", version, "error", err)
	}
}

func (s *ChangeService) checkRequestSize(projectID string, req *specforge.ChangeRequest) error {
	if req == nil {
		return nil
	}
	if s.maxOps > 0 && len(req.Operations) > s.maxOps {
		return specforge.NewInvalidDocumentError("change request exceeds operation limit").
			WithProject(projectID).
			WithDetail("operations", len(req.Operations)).
			WithDetail("limit", s.maxOps)
	}
	return nil
}
