package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/specforge/specforge"
	"go.uber.org/zap"
)

// specStorePool is the slice of pgxpool.Pool the store needs. Narrow on
// purpose so pgxmock can stand in during tests.
type specStorePool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresSpecStore persists specs, version snapshots and feature status in
// PostgreSQL. Documents are stored as JSONB; the engine never queries inside
// them, it replaces them wholesale.
type PostgresSpecStore struct {
	pool    specStorePool
	tables  specforge.TableNames
	nowFunc func() time.Time
}

// NewPostgresSpecStore creates a store over the given pool and table names.
func NewPostgresSpecStore(pool specStorePool, tables specforge.TableNames) *PostgresSpecStore {
	return &PostgresSpecStore{
		pool:    pool,
		tables:  tables,
		nowFunc: time.Now,
	}
}

func (s *PostgresSpecStore) withClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.nowFunc = now
}

func (s *PostgresSpecStore) nowMillis() int64 {
	return s.nowFunc().UnixMilli()
}

// CreateSpec stores the initial extracted spec as version 1 and records the
// first snapshot in the same transaction.
func (s *PostgresSpecStore) CreateSpec(ctx context.Context, spec *specforge.Spec) error {
	if spec == nil || spec.ProjectID == "" {
		return specforge.NewInvalidDocumentError("spec with project id is required")
	}
	working, err := spec.Clone()
	if err != nil {
		return specforge.NewInvalidDocumentError("spec is not serializable").WithCause(err)
	}
	working.Version = 1
	document, err := json.Marshal(working)
	if err != nil {
		return specforge.NewInvalidDocumentError("spec is not serializable").WithCause(err)
	}
	now := s.nowMillis()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageError("begin create spec", err).WithProject(spec.ProjectID)
	}
	defer tx.Rollback(ctx)

	insertSpec := fmt.Sprintf(
		"INSERT INTO %s (project_id, version, document, updated_at) VALUES ($1, $2, $3, $4)",
		sanitizeIdentifier(s.tables.Specs))
	if _, err := tx.Exec(ctx, insertSpec, working.ProjectID, 1, document, now); err != nil {
		return storageError("insert spec", err).WithProject(spec.ProjectID)
	}

	insertVersion := fmt.Sprintf(
		"INSERT INTO %s (project_id, version, document, summary, created_at) VALUES ($1, $2, $3, $4, $5)",
		sanitizeIdentifier(s.tables.SpecVersions))
	if _, err := tx.Exec(ctx, insertVersion, working.ProjectID, 1, document, "initial extraction", now); err != nil {
		return storageError("insert initial version", err).WithProject(spec.ProjectID)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageError("commit create spec", err).WithProject(spec.ProjectID)
	}
	return nil
}

// CurrentSpec loads the latest persisted spec for a project.
func (s *PostgresSpecStore) CurrentSpec(ctx context.Context, projectID string) (*specforge.Spec, error) {
	query := fmt.Sprintf("SELECT document FROM %s WHERE project_id = $1",
		sanitizeIdentifier(s.tables.Specs))

	var document []byte
	if err := s.pool.QueryRow(ctx, query, projectID).Scan(&document); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, specforge.NewSpecNotFoundError(projectID)
		}
		return nil, storageError("load current spec", err).WithProject(projectID)
	}

	var spec specforge.Spec
	if err := json.Unmarshal(document, &spec); err != nil {
		return nil, storageError("decode stored spec", err).WithProject(projectID)
	}
	return &spec, nil
}

// PersistVersion replaces the current spec with the proposed one inside a
// single transaction: bump the version row, insert the snapshot and advance
// the referencing feature to applied. A transaction-scoped advisory lock on
// the project backstops the caller's lock record, so two racing persists can
// never interleave.
func (s *PostgresSpecStore) PersistVersion(ctx context.Context, projectID string, proposed *specforge.Spec, summary, featureID string) (int, error) {
	if proposed == nil {
		return 0, specforge.NewInvalidDocumentError("proposed spec is required").WithProject(projectID)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, storageError("begin persist", err).WithProject(projectID)
	}
	defer tx.Rollback(ctx)

	var gotLock bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", projectLockKey(projectID)).Scan(&gotLock); err != nil {
		return 0, storageError("acquire persist lock", err).WithProject(projectID)
	}
	if !gotLock {
		return 0, specforge.NewLockHeldError(projectID)
	}

	selectVersion := fmt.Sprintf("SELECT version FROM %s WHERE project_id = $1 FOR UPDATE",
		sanitizeIdentifier(s.tables.Specs))
	var currentVersion int
	if err := tx.QueryRow(ctx, selectVersion, projectID).Scan(&currentVersion); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, specforge.NewSpecNotFoundError(projectID)
		}
		return 0, storageError("read current version", err).WithProject(projectID)
	}

	newVersion := currentVersion + 1
	working, err := proposed.Clone()
	if err != nil {
		return 0, specforge.NewInvalidDocumentError("proposed spec is not serializable").WithCause(err)
	}
	working.ProjectID = projectID
	working.Version = newVersion
	document, err := json.Marshal(working)
	if err != nil {
		return 0, specforge.NewInvalidDocumentError("proposed spec is not serializable").WithCause(err)
	}
	now := s.nowMillis()

	updateSpec := fmt.Sprintf(
		"UPDATE %s SET version = $1, document = $2, updated_at = $3 WHERE project_id = $4",
		sanitizeIdentifier(s.tables.Specs))
	if _, err := tx.Exec(ctx, updateSpec, newVersion, document, now, projectID); err != nil {
		return 0, storageError("update current spec", err).WithProject(projectID)
	}

	insertVersion := fmt.Sprintf(
		"INSERT INTO %s (project_id, version, document, summary, created_at) VALUES ($1, $2, $3, $4, $5)",
		sanitizeIdentifier(s.tables.SpecVersions))
	if _, err := tx.Exec(ctx, insertVersion, projectID, newVersion, document, summary, now); err != nil {
		return 0, storageError("insert version snapshot", err).WithProject(projectID)
	}

	if featureID != "" {
		updateFeature := fmt.Sprintf(
			"UPDATE %s SET status = $1 WHERE id = $2 AND project_id = $3",
			sanitizeIdentifier(s.tables.Features))
		tag, err := tx.Exec(ctx, updateFeature, string(specforge.FeatureStatusApplied), featureID, projectID)
		if err != nil {
			return 0, storageError("advance feature status", err).WithProject(projectID)
		}
		if tag.RowsAffected() == 0 {
			return 0, specforge.NewFeatureNotFoundError(projectID, featureID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storageError("commit persist", err).WithProject(projectID)
	}
	zap.S().Infow("persisted spec version",
		"project_id", projectID, "version", newVersion, "feature_id", featureID)
	return newVersion, nil
}

// GetVersion loads one persisted snapshot including its document.
func (s *PostgresSpecStore) GetVersion(ctx context.Context, projectID string, version int) (*specforge.SpecVersion, error) {
	query := fmt.Sprintf(
		"SELECT document, summary, created_at FROM %s WHERE project_id = $1 AND version = $2",
		sanitizeIdentifier(s.tables.SpecVersions))

	var document []byte
	var out specforge.SpecVersion
	out.ProjectID = projectID
	out.Version = version
	if err := s.pool.QueryRow(ctx, query, projectID, version).Scan(&document, &out.Summary, &out.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, specforge.NewVersionNotFoundError(projectID, version)
		}
		return nil, storageError("load version", err).WithProject(projectID)
	}

	var spec specforge.Spec
	if err := json.Unmarshal(document, &spec); err != nil {
		return nil, storageError("decode stored version", err).WithProject(projectID)
	}
	out.Document = &spec
	return &out, nil
}

// ListVersions lists snapshots newest first. Documents are omitted; use
// GetVersion for one full snapshot.
func (s *PostgresSpecStore) ListVersions(ctx context.Context, projectID string) ([]specforge.SpecVersion, error) {
	query := fmt.Sprintf(
		"SELECT version, summary, created_at FROM %s WHERE project_id = $1 ORDER BY version DESC",
		sanitizeIdentifier(s.tables.SpecVersions))

	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, storageError("list versions", err).WithProject(projectID)
	}
	defer rows.Close()

	versions := []specforge.SpecVersion{}
	for rows.Next() {
		v := specforge.SpecVersion{ProjectID: projectID}
		if err := rows.Scan(&v.Version, &v.Summary, &v.CreatedAt); err != nil {
			return nil, storageError("scan version row", err).WithProject(projectID)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate versions", err).WithProject(projectID)
	}
	return versions, nil
}

func storageError(operation string, cause error) *specforge.ForgeError {
	return specforge.NewForgeError(specforge.ErrorTypeStorage, specforge.ErrCodePersistFailed,
		operation+" failed").WithCause(cause)
}
