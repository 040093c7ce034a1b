package internal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specforge/specforge"
)

// MemoryLockManager is the in-process ProjectLocker used with the file spec
// store and in tests. Same semantics as the PostgreSQL record: time-bounded,
// steal-on-expiry, re-acquire extends.
type MemoryLockManager struct {
	mu      sync.Mutex
	locks   map[string]specforge.ProjectLock
	nowFunc func() time.Time
}

// NewMemoryLockManager creates an empty in-process lock manager.
func NewMemoryLockManager() *MemoryLockManager {
	return &MemoryLockManager{
		locks:   make(map[string]specforge.ProjectLock),
		nowFunc: time.Now,
	}
}

func (m *MemoryLockManager) withClock(now func() time.Time) {
	if now == nil {
		return
	}
	m.nowFunc = now
}

// Acquire takes or extends the lock for holderID.
func (m *MemoryLockManager) Acquire(_ context.Context, projectID string, holderID uuid.UUID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc().UnixMilli()
	if lock, ok := m.locks[projectID]; ok && !lock.Expired(now) && lock.HolderID != holderID {
		return false, nil
	}
	m.locks[projectID] = specforge.ProjectLock{
		ProjectID: projectID,
		HolderID:  holderID,
		ExpiresAt: now + ttl.Milliseconds(),
	}
	return true, nil
}

// Release drops the lock if holderID owns it.
func (m *MemoryLockManager) Release(_ context.Context, projectID string, holderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lock, ok := m.locks[projectID]; ok && lock.HolderID == holderID {
		delete(m.locks, projectID)
	}
	return nil
}

// Held reports whether holderID owns a live lock.
func (m *MemoryLockManager) Held(_ context.Context, projectID string, holderID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[projectID]
	if !ok {
		return false, nil
	}
	return lock.HolderID == holderID && !lock.Expired(m.nowFunc().UnixMilli()), nil
}
