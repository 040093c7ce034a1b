package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/specforge/specforge"
)

func TestParseProjectPath(t *testing.T) {
	tests := []struct {
		path      string
		projectID string
		resource  string
		extra     string
		wantErr   bool
	}{
		{"/api/v1/projects/proj-1/spec", "proj-1", "spec", "", false},
		{"/api/v1/projects/proj-1/versions", "proj-1", "versions", "", false},
		{"/api/v1/projects/proj-1/versions/3", "proj-1", "versions", "3", false},
		{"/api/v1/projects/proj-1/changes/preview", "proj-1", "changes", "preview", false},
		{"/api/v1/projects/proj-1/lock/", "proj-1", "lock", "", false},
		{"/api/v1/projects/", "", "", "", true},
		{"/api/v1/projects/proj-1", "", "", "", true},
		{"/api/v1/projects/a/b/c/d", "", "", "", true},
	}

	for _, tt := range tests {
		route, err := parseProjectPath(tt.path)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseProjectPath(%q): expected error", tt.path)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseProjectPath(%q): %v", tt.path, err)
			continue
		}
		if route.ProjectID != tt.projectID || route.Resource != tt.resource || route.Extra != tt.extra {
			t.Errorf("parseProjectPath(%q) = %+v", tt.path, route)
		}
	}
}

func TestParseVersion(t *testing.T) {
	if _, err := parseVersion("0"); err == nil {
		t.Error("expected error for version 0")
	}
	if _, err := parseVersion("abc"); err == nil {
		t.Error("expected error for non-numeric version")
	}
	v, err := parseVersion("7")
	if err != nil || v != 7 {
		t.Errorf("parseVersion(7) = %d, %v", v, err)
	}
}

func TestHolderFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if _, err := holderFromRequest(req); err == nil {
		t.Error("expected error for missing header")
	}

	req.Header.Set("X-Holder-ID", "not-a-uuid")
	if _, err := holderFromRequest(req); err == nil {
		t.Error("expected error for malformed header")
	}

	req.Header.Set("X-Holder-ID", "11111111-1111-1111-1111-111111111111")
	holder, err := holderFromRequest(req)
	if err != nil {
		t.Fatalf("holderFromRequest: %v", err)
	}
	if holder.String() != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("unexpected holder: %s", holder)
	}
}

func TestStatusForType(t *testing.T) {
	tests := []struct {
		errorType specforge.ErrorType
		status    int
	}{
		{specforge.ErrorTypeValidation, http.StatusBadRequest},
		{specforge.ErrorTypeNotFound, http.StatusNotFound},
		{specforge.ErrorTypeConflict, http.StatusConflict},
		{specforge.ErrorTypeLocked, http.StatusLocked},
		{specforge.ErrorTypeStorage, http.StatusInternalServerError},
		{specforge.ErrorTypeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForType(tt.errorType); got != tt.status {
			t.Errorf("statusForType(%s) = %d, want %d", tt.errorType, got, tt.status)
		}
	}
}

func TestWriteForgeErrorFallsBackForPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeForgeError(rec, http.ErrBodyNotAllowed)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for plain error, got %d", rec.Code)
	}
}
