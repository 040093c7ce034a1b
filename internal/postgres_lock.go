package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/specforge/specforge"
	"go.uber.org/zap"
)

type lockPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLockManager implements the advisory lock record gating persisted
// applies: one row per project with a holder and an expiry. Expired locks
// are stolen atomically by the next Acquire; live locks held by someone else
// block. The record is authoritative for the caller; the spec store
// additionally takes a transaction-scoped advisory lock as a backstop.
type PostgresLockManager struct {
	pool    lockPool
	table   string
	nowFunc func() time.Time
}

// NewPostgresLockManager creates a lock manager over the given table.
func NewPostgresLockManager(pool lockPool, table string) *PostgresLockManager {
	return &PostgresLockManager{
		pool:    pool,
		table:   table,
		nowFunc: time.Now,
	}
}

func (m *PostgresLockManager) withClock(now func() time.Time) {
	if now == nil {
		return
	}
	m.nowFunc = now
}

// Acquire takes or extends the lock for holderID. The upsert only overwrites
// rows that are expired or already owned by the same holder, so the check
// and the write are one atomic statement.
func (m *PostgresLockManager) Acquire(ctx context.Context, projectID string, holderID uuid.UUID, ttl time.Duration) (bool, error) {
	now := m.nowFunc().UnixMilli()
	expiresAt := now + ttl.Milliseconds()

	query := fmt.Sprintf(`INSERT INTO %s (project_id, holder_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id) DO UPDATE
		SET holder_id = EXCLUDED.holder_id, expires_at = EXCLUDED.expires_at
		WHERE %s.expires_at <= $4 OR %s.holder_id = EXCLUDED.holder_id`,
		sanitizeIdentifier(m.table), sanitizeIdentifier(m.table), sanitizeIdentifier(m.table))

	tag, err := m.pool.Exec(ctx, query, projectID, holderID, expiresAt, now)
	if err != nil {
		return false, lockError("acquire lock", projectID, err)
	}
	acquired := tag.RowsAffected() > 0
	if acquired {
		zap.S().Debugw("project lock acquired",
			"project_id", projectID, "holder_id", holderID, "expires_at", expiresAt)
	}
	return acquired, nil
}

// Release drops the lock if holderID owns it. Releasing a lock that is
// already gone or owned by someone else is not an error; the expiry model
// makes that race benign.
func (m *PostgresLockManager) Release(ctx context.Context, projectID string, holderID uuid.UUID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE project_id = $1 AND holder_id = $2",
		sanitizeIdentifier(m.table))
	if _, err := m.pool.Exec(ctx, query, projectID, holderID); err != nil {
		return lockError("release lock", projectID, err)
	}
	return nil
}

// Held reports whether holderID currently owns a live lock on the project.
func (m *PostgresLockManager) Held(ctx context.Context, projectID string, holderID uuid.UUID) (bool, error) {
	query := fmt.Sprintf("SELECT holder_id, expires_at FROM %s WHERE project_id = $1",
		sanitizeIdentifier(m.table))

	var holder uuid.UUID
	var expiresAt int64
	if err := m.pool.QueryRow(ctx, query, projectID).Scan(&holder, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, lockError("check lock", projectID, err)
	}
	lock := specforge.ProjectLock{ProjectID: projectID, HolderID: holder, ExpiresAt: expiresAt}
	return holder == holderID && !lock.Expired(m.nowFunc().UnixMilli()), nil
}

func lockError(operation, projectID string, cause error) *specforge.ForgeError {
	return specforge.NewForgeError(specforge.ErrorTypeStorage, specforge.ErrCodeConnectionError,
		operation+" failed").WithProject(projectID).WithCause(cause)
}
