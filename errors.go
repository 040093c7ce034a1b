package specforge

import (
	"fmt"
)

// ErrorType represents the category of an operational error. Conflicts found
// while applying a change request are not errors; they travel in
// ChangeConflict lists. ForgeError covers the outer layers: storage, locking,
// malformed documents.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeLocked     ErrorType = "locked"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeInternal   ErrorType = "internal"
)

// ForgeError is the unified error type of the specforge module.
type ForgeError struct {
	Type      ErrorType      `json:"type"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	ProjectID string         `json:"project_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *ForgeError) Error() string {
	if e.ProjectID != "" {
		return fmt.Sprintf("[%s:%s] project %s: %s", e.Type, e.Code, e.ProjectID, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *ForgeError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a single detail to the error.
func (e *ForgeError) WithDetail(key string, value any) *ForgeError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithDetails merges a detail map into the error.
func (e *ForgeError) WithDetails(details map[string]any) *ForgeError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithCause attaches an underlying error.
func (e *ForgeError) WithCause(cause error) *ForgeError {
	e.Cause = cause
	return e
}

// WithProject attaches project context.
func (e *ForgeError) WithProject(projectID string) *ForgeError {
	e.ProjectID = projectID
	return e
}

// Error codes used across the module.
const (
	ErrCodeSpecNotFound    = "SPEC_NOT_FOUND"
	ErrCodeSpecExists      = "SPEC_ALREADY_EXISTS"
	ErrCodeVersionNotFound = "VERSION_NOT_FOUND"
	ErrCodeFeatureNotFound = "FEATURE_NOT_FOUND"
	ErrCodeChangeConflicts = "CHANGE_CONFLICTS"
	ErrCodeLockHeld        = "LOCK_HELD"
	ErrCodeLockNotHeld     = "LOCK_NOT_HELD"
	ErrCodePersistFailed   = "PERSIST_FAILED"
	ErrCodeSnapshotFailed  = "SNAPSHOT_FAILED"
	ErrCodeInvalidDocument = "INVALID_DOCUMENT"
	ErrCodeInvalidConfig   = "INVALID_CONFIG"
	ErrCodeConnectionError = "CONNECTION_FAILED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// NewForgeError creates a ForgeError with an empty detail map.
func NewForgeError(errorType ErrorType, code, message string) *ForgeError {
	return &ForgeError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewSpecNotFoundError reports a missing current spec for a project.
func NewSpecNotFoundError(projectID string) *ForgeError {
	return &ForgeError{
		Type:      ErrorTypeNotFound,
		Code:      ErrCodeSpecNotFound,
		Message:   "no spec found for project",
		ProjectID: projectID,
	}
}

// NewVersionNotFoundError reports a missing persisted version.
func NewVersionNotFoundError(projectID string, version int) *ForgeError {
	return &ForgeError{
		Type:      ErrorTypeNotFound,
		Code:      ErrCodeVersionNotFound,
		Message:   fmt.Sprintf("version %d not found", version),
		ProjectID: projectID,
	}
}

// NewFeatureNotFoundError reports a missing feature record.
func NewFeatureNotFoundError(projectID, featureID string) *ForgeError {
	return &ForgeError{
		Type:      ErrorTypeNotFound,
		Code:      ErrCodeFeatureNotFound,
		Message:   fmt.Sprintf("feature %s not found", featureID),
		ProjectID: projectID,
	}
}

// NewChangeConflictsError blocks persistence of a conflicting preview.
// The full conflict list rides in Details so the boundary can surface it
// verbatim (message + category) to the user.
func NewChangeConflictsError(projectID string, conflicts []ChangeConflict) *ForgeError {
	return &ForgeError{
		Type:      ErrorTypeConflict,
		Code:      ErrCodeChangeConflicts,
		Message:   fmt.Sprintf("change request produced %d conflict(s)", len(conflicts)),
		ProjectID: projectID,
		Details:   map[string]any{"conflicts": conflicts},
	}
}

// NewLockNotHeldError reports a persist attempt without the project lock.
func NewLockNotHeldError(projectID string) *ForgeError {
	return &ForgeError{
		Type:      ErrorTypeLocked,
		Code:      ErrCodeLockNotHeld,
		Message:   "caller does not hold the project lock",
		ProjectID: projectID,
	}
}

// NewLockHeldError reports a lock acquisition blocked by another holder.
func NewLockHeldError(projectID string) *ForgeError {
	return &ForgeError{
		Type:      ErrorTypeLocked,
		Code:      ErrCodeLockHeld,
		Message:   "project lock is held by another collaborator",
		ProjectID: projectID,
	}
}

// NewInvalidDocumentError reports a document rejected at the input boundary.
func NewInvalidDocumentError(message string) *ForgeError {
	return &ForgeError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidDocument,
		Message: message,
	}
}
