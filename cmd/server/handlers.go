package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/specforge/specforge"
)

// specService is the slice of the change service the handlers need.
type specService interface {
	CreateSpec(ctx context.Context, spec *specforge.Spec) error
	CurrentSpec(ctx context.Context, projectID string) (*specforge.Spec, error)
	GetVersion(ctx context.Context, projectID string, version int) (*specforge.SpecVersion, error)
	ListVersions(ctx context.Context, projectID string) ([]specforge.SpecVersion, error)
	AcquireLock(ctx context.Context, projectID string, holderID uuid.UUID) error
	ReleaseLock(ctx context.Context, projectID string, holderID uuid.UUID) error
	Preview(ctx context.Context, projectID string, req *specforge.ChangeRequest) (*specforge.ChangePreview, error)
	ApplyAndPersist(ctx context.Context, projectID, featureID string, holderID uuid.UUID, req *specforge.ChangeRequest) (*specforge.ChangePreview, int, error)
}

// applyResponse is the payload of a successful apply.
type applyResponse struct {
	Version int                      `json:"version"`
	Preview *specforge.ChangePreview `json:"preview"`
	Summary specforge.ImpactSummary  `json:"summary"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// projectHandler dispatches /api/v1/projects/{project_id}/... to the
// resource handlers.
func (s *Server) projectHandler(w http.ResponseWriter, r *http.Request) {
	route, err := parseProjectPath(r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid path: %v", err))
		return
	}

	switch route.Resource {
	case "spec":
		s.handleSpec(w, r, route)
	case "versions":
		s.handleVersions(w, r, route)
	case "changes":
		s.handleChanges(w, r, route)
	case "lock":
		s.handleLock(w, r, route)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown resource: %s", route.Resource))
	}
}

// handleSpec handles GET and POST /api/v1/projects/{project_id}/spec.
func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request, route projectRoute) {
	switch r.Method {
	case http.MethodGet:
		spec, err := s.service.CurrentSpec(r.Context(), route.ProjectID)
		if err != nil {
			writeForgeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, spec)
	case http.MethodPost:
		raw, err := readBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
			return
		}
		if err := s.guard.CheckSpec(raw); err != nil {
			writeForgeError(w, err)
			return
		}
		var spec specforge.Spec
		if err := json.Unmarshal(raw, &spec); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
			return
		}
		spec.ProjectID = route.ProjectID
		if err := s.service.CreateSpec(r.Context(), &spec); err != nil {
			writeForgeError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, map[string]any{"project_id": route.ProjectID, "version": 1})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleVersions handles GET /api/v1/projects/{project_id}/versions and
// GET /api/v1/projects/{project_id}/versions/{version}.
func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request, route projectRoute) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if route.Extra == "" {
		versions, err := s.service.ListVersions(r.Context(), route.ProjectID)
		if err != nil {
			writeForgeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, versions)
		return
	}

	version, err := parseVersion(route.Extra)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snapshot, err := s.service.GetVersion(r.Context(), route.ProjectID, version)
	if err != nil {
		writeForgeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, snapshot)
}

// handleChanges handles POST /api/v1/projects/{project_id}/changes/preview
// and POST /api/v1/projects/{project_id}/changes/apply.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request, route projectRoute) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}
	if err := s.guard.CheckChangeRequest(raw); err != nil {
		writeForgeError(w, err)
		return
	}
	var req specforge.ChangeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid change request: %v", err))
		return
	}

	switch route.Extra {
	case "preview":
		preview, err := s.service.Preview(r.Context(), route.ProjectID, &req)
		if err != nil {
			writeForgeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{
			"preview": preview,
			"summary": specforge.Summarize(preview),
		})
	case "apply":
		holder, err := holderFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		featureID := r.URL.Query().Get("feature_id")
		preview, version, err := s.service.ApplyAndPersist(r.Context(), route.ProjectID, featureID, holder, &req)
		if err != nil {
			writeForgeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, applyResponse{
			Version: version,
			Preview: preview,
			Summary: specforge.Summarize(preview),
		})
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown changes action: %s", route.Extra))
	}
}

// handleLock handles POST and DELETE /api/v1/projects/{project_id}/lock.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request, route projectRoute) {
	holder, err := holderFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := s.service.AcquireLock(r.Context(), route.ProjectID, holder); err != nil {
			writeForgeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"project_id": route.ProjectID, "holder_id": holder})
	case http.MethodDelete:
		if err := s.service.ReleaseLock(r.Context(), route.ProjectID, holder); err != nil {
			writeForgeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]any{"project_id": route.ProjectID})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
