package internal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/specforge/specforge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingArchiver struct {
	calls []archivedSnapshot
	err   error
}

type archivedSnapshot struct {
	projectID string
	version   int
	document  []byte
}

func (a *recordingArchiver) ArchiveVersion(_ context.Context, projectID string, version int, document []byte) error {
	a.calls = append(a.calls, archivedSnapshot{projectID: projectID, version: version, document: document})
	return a.err
}

func serviceSpec() *specforge.Spec {
	return &specforge.Spec{
		ProjectID: "proj-1",
		Version:   1,
		Entities: []specforge.Entity{
			{ID: "ent-user", Name: "User", Fields: []specforge.Field{{Name: "email", Type: "string"}}},
		},
		Endpoints: []specforge.Endpoint{
			{ID: "ep-1", Method: "GET", Path: "/users"},
		},
	}
}

func newTestService(t *testing.T, archiver specforge.SnapshotArchiver) (*ChangeService, *MemoryLockManager) {
	t.Helper()
	store, err := NewFileSpecStore(t.TempDir())
	require.NoError(t, err)
	locks := NewMemoryLockManager()
	svc := NewChangeService(store, locks, archiver, specforge.EngineConfig{
		MaxOperationsPerRequest: 10,
		LockTTL:                 time.Minute,
	})
	require.NoError(t, svc.CreateSpec(context.Background(), serviceSpec()))
	return svc, locks
}

func addWidgetRequest() *specforge.ChangeRequest {
	return &specforge.ChangeRequest{
		Summary: "added widget entity",
		Operations: []specforge.ChangeOperation{
			{
				Type:   specforge.OpAddEntity,
				Entity: &specforge.Entity{ID: "ent-widget", Name: "Widget"},
			},
		},
	}
}

func TestServicePreviewLeavesStorageUntouched(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	preview, err := svc.Preview(ctx, "proj-1", addWidgetRequest())
	require.NoError(t, err)
	assert.False(t, preview.HasConflicts())
	assert.Len(t, preview.ProposedSpec.Entities, 2)

	current, err := svc.CurrentSpec(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)
	assert.Len(t, current.Entities, 1)
}

func TestServicePreviewUnknownProject(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Preview(context.Background(), "ghost", addWidgetRequest())
	var forgeErr *specforge.ForgeError
	require.ErrorAs(t, err, &forgeErr)
	assert.Equal(t, specforge.ErrCodeSpecNotFound, forgeErr.Code)
}

func TestServicePreviewEnforcesOperationLimit(t *testing.T) {
	svc, _ := newTestService(t, nil)

	req := &specforge.ChangeRequest{}
	for i := 0; i < 11; i++ {
		req.Operations = append(req.Operations, specforge.ChangeOperation{
			Type:   specforge.OpAddEntity,
			Entity: &specforge.Entity{ID: "ent-x", Name: "X"},
		})
	}
	_, err := svc.Preview(context.Background(), "proj-1", req)
	var forgeErr *specforge.ForgeError
	require.ErrorAs(t, err, &forgeErr)
	assert.Equal(t, specforge.ErrCodeInvalidDocument, forgeErr.Code)
}

func TestServiceApplyRequiresLock(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, _, err := svc.ApplyAndPersist(context.Background(), "proj-1", "", holderAlice, addWidgetRequest())
	var forgeErr *specforge.ForgeError
	require.ErrorAs(t, err, &forgeErr)
	assert.Equal(t, specforge.ErrCodeLockNotHeld, forgeErr.Code)
}

func TestServiceApplyPersistsAndArchives(t *testing.T) {
	ctx := context.Background()
	archiver := &recordingArchiver{}
	svc, _ := newTestService(t, archiver)

	require.NoError(t, svc.AcquireLock(ctx, "proj-1", holderAlice))

	preview, version, err := svc.ApplyAndPersist(ctx, "proj-1", "", holderAlice, addWidgetRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.False(t, preview.HasConflicts())

	current, err := svc.CurrentSpec(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
	assert.Len(t, current.Entities, 2)

	versions, err := svc.ListVersions(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "added widget entity", versions[0].Summary)

	require.Len(t, archiver.calls, 1)
	assert.Equal(t, "proj-1", archiver.calls[0].projectID)
	assert.Equal(t, 2, archiver.calls[0].version)

	var archived specforge.Spec
	require.NoError(t, json.Unmarshal(archiver.calls[0].document, &archived))
	assert.Equal(t, 2, archived.Version)
}

func TestServiceApplyRejectsConflictingPreview(t *testing.T) {
	ctx := context.Background()
	archiver := &recordingArchiver{}
	svc, _ := newTestService(t, archiver)

	require.NoError(t, svc.AcquireLock(ctx, "proj-1", holderAlice))

	req := &specforge.ChangeRequest{
		Summary: "duplicate user entity",
		Operations: []specforge.ChangeOperation{
			{Type: specforge.OpAddEntity, Entity: &specforge.Entity{ID: "ent-dup", Name: "User"}},
		},
	}
	preview, _, err := svc.ApplyAndPersist(ctx, "proj-1", "", holderAlice, req)
	var forgeErr *specforge.ForgeError
	require.ErrorAs(t, err, &forgeErr)
	assert.Equal(t, specforge.ErrCodeChangeConflicts, forgeErr.Code)
	require.NotNil(t, preview)
	assert.True(t, preview.HasConflicts())

	// Nothing persisted, nothing archived.
	current, err := svc.CurrentSpec(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)
	assert.Empty(t, archiver.calls)
}

func TestServiceArchiveFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	archiver := &recordingArchiver{err: errors.New("bucket gone")}
	svc, _ := newTestService(t, archiver)

	require.NoError(t, svc.AcquireLock(ctx, "proj-1", holderAlice))

	_, version, err := svc.ApplyAndPersist(ctx, "proj-1", "", holderAlice, addWidgetRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	current, err := svc.CurrentSpec(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
}

func TestServiceApplyAdvancesFeature(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileSpecStore(t.TempDir())
	require.NoError(t, err)
	locks := NewMemoryLockManager()
	svc := NewChangeService(store, locks, nil, specforge.EngineConfig{LockTTL: time.Minute})
	require.NoError(t, svc.CreateSpec(ctx, serviceSpec()))
	require.NoError(t, store.PutFeature(ctx, &specforge.Feature{
		ID:        "feat-1",
		ProjectID: "proj-1",
		Summary:   "widgets",
		Status:    specforge.FeatureStatusProposed,
	}))

	require.NoError(t, svc.AcquireLock(ctx, "proj-1", holderAlice))
	_, version, err := svc.ApplyAndPersist(ctx, "proj-1", "feat-1", holderAlice, addWidgetRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	features, err := store.readFeatures(store.projectDir("proj-1"))
	require.NoError(t, err)
	assert.Equal(t, specforge.FeatureStatusApplied, features["feat-1"].Status)
}

func TestServiceApplyUnknownFeature(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	require.NoError(t, svc.AcquireLock(ctx, "proj-1", holderAlice))
	_, _, err := svc.ApplyAndPersist(ctx, "proj-1", "feat-ghost", holderAlice, addWidgetRequest())
	var forgeErr *specforge.ForgeError
	require.ErrorAs(t, err, &forgeErr)
	assert.Equal(t, specforge.ErrCodeFeatureNotFound, forgeErr.Code)
}

func TestServiceAcquireLockBlockedByOtherHolder(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	require.NoError(t, svc.AcquireLock(ctx, "proj-1", holderAlice))
	err := svc.AcquireLock(ctx, "proj-1", holderBob)
	var forgeErr *specforge.ForgeError
	require.ErrorAs(t, err, &forgeErr)
	assert.Equal(t, specforge.ErrCodeLockHeld, forgeErr.Code)

	require.NoError(t, svc.ReleaseLock(ctx, "proj-1", holderAlice))
	require.NoError(t, svc.AcquireLock(ctx, "proj-1", holderBob))
}

func TestServiceDefaultSummary(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	require.NoError(t, svc.AcquireLock(ctx, "proj-1", holderAlice))

	req := addWidgetRequest()
	req.Summary = ""
	_, _, err := svc.ApplyAndPersist(ctx, "proj-1", "", holderAlice, req)
	require.NoError(t, err)

	versions, err := svc.ListVersions(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "change request applied", versions[0].Summary)
}
