package specforge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForgeErrorFormatting(t *testing.T) {
	err := NewSpecNotFoundError("proj-1")
	assert.Contains(t, err.Error(), "proj-1")
	assert.Contains(t, err.Error(), ErrCodeSpecNotFound)

	bare := NewForgeError(ErrorTypeInternal, ErrCodeInternalError, "boom")
	assert.NotContains(t, bare.Error(), "project")
}

func TestForgeErrorChaining(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewForgeError(ErrorTypeStorage, ErrCodeConnectionError, "cannot reach database").
		WithCause(cause).
		WithProject("proj-2").
		WithDetail("host", "db.internal").
		WithDetails(map[string]any{"port": 5432})

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "db.internal", err.Details["host"])
	assert.Equal(t, 5432, err.Details["port"])
	assert.Equal(t, "proj-2", err.ProjectID)
}

func TestNewChangeConflictsErrorCarriesConflicts(t *testing.T) {
	conflicts := []ChangeConflict{
		{Type: ConflictNaming, Message: "dup"},
	}
	err := NewChangeConflictsError("proj-3", conflicts)
	assert.Equal(t, ErrCodeChangeConflicts, err.Code)
	assert.Equal(t, conflicts, err.Details["conflicts"])
	assert.Contains(t, err.Message, "1 conflict")
}
