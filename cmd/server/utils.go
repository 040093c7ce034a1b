package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/specforge/specforge"
)

// projectRoute is a parsed /api/v1/projects/... path.
type projectRoute struct {
	ProjectID string
	Resource  string // "spec", "versions", "changes", "lock"
	Extra     string // version number or changes action
}

// parseProjectPath parses
//
//	/api/v1/projects/{project_id}/{resource}
//	/api/v1/projects/{project_id}/versions/{version}
//	/api/v1/projects/{project_id}/changes/{action}
func parseProjectPath(path string) (projectRoute, error) {
	path = strings.TrimPrefix(path, "/api/v1/projects/")
	path = strings.Trim(path, "/")

	if path == "" {
		return projectRoute{}, fmt.Errorf("invalid path: empty project id")
	}

	parts := strings.Split(path, "/")
	switch len(parts) {
	case 2:
		return projectRoute{ProjectID: parts[0], Resource: parts[1]}, nil
	case 3:
		return projectRoute{ProjectID: parts[0], Resource: parts[1], Extra: parts[2]}, nil
	default:
		return projectRoute{}, fmt.Errorf("invalid path format")
	}
}

// parseVersion parses a positive version number from a path segment.
func parseVersion(s string) (int, error) {
	version, err := strconv.Atoi(s)
	if err != nil || version < 1 {
		return 0, fmt.Errorf("invalid version: %q", s)
	}
	return version, nil
}

// holderFromRequest extracts the collaborator identity from the
// X-Holder-ID header.
func holderFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-Holder-ID")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("X-Holder-ID header is required")
	}
	return uuid.Parse(raw)
}

// APIResponse is the standard response format.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter.
func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter, statusCode int, data any) error {
	return writeJSON(w, statusCode, data)
}

// writeForgeError maps a ForgeError to an HTTP status and serializes it with
// its code and details so clients can surface conflicts verbatim.
func writeForgeError(w http.ResponseWriter, err error) error {
	var forgeErr *specforge.ForgeError
	if !errors.As(err, &forgeErr) {
		return writeError(w, http.StatusInternalServerError, err.Error())
	}
	return writeJSON(w, statusForType(forgeErr.Type), APIResponse{
		Success: false,
		Error:   forgeErr.Message,
		Code:    forgeErr.Code,
		Data:    forgeErr.Details,
	})
}

func statusForType(t specforge.ErrorType) int {
	switch t {
	case specforge.ErrorTypeValidation:
		return http.StatusBadRequest
	case specforge.ErrorTypeNotFound:
		return http.StatusNotFound
	case specforge.ErrorTypeConflict:
		return http.StatusConflict
	case specforge.ErrorTypeLocked:
		return http.StatusLocked
	case specforge.ErrorTypeStorage, specforge.ErrorTypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// readBody reads the raw request body.
func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
