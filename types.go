package specforge

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Requirement is a single functional requirement line in a spec.
type Requirement struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Field is a named, typed attribute of an entity.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Relation links an entity to another entity. Target may hold either the
// target entity's id or its display name; consumers must resolve both.
type Relation struct {
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Entity is a domain object in the architecture spec.
type Entity struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Fields    []Field    `json:"fields,omitempty"`
	Relations []Relation `json:"relations,omitempty"`
}

// Endpoint describes one HTTP operation the scaffolded service exposes.
type Endpoint struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Path   string         `json:"path"`
	Schema map[string]any `json:"schema,omitempty"`
}

// Key returns the uniqueness key for an endpoint.
func (e Endpoint) Key() string {
	return e.Method + ":" + e.Path
}

// FolderStructure is a recursive mapping of name to nested structure.
// A nil value marks a file; a non-nil (possibly empty) map marks a directory.
type FolderStructure map[string]FolderStructure

// Clone returns a deep copy of the folder tree.
func (f FolderStructure) Clone() FolderStructure {
	if f == nil {
		return nil
	}
	out := make(FolderStructure, len(f))
	for name, child := range f {
		out[name] = child.Clone()
	}
	return out
}

// Spec is the living architecture document for one project. The engine only
// ever replaces a spec wholesale; the descriptive sections (Overview,
// DomainModel, Docs) are opaque passengers copied through unchanged.
type Spec struct {
	ProjectID       string          `json:"project_id"`
	Version         int             `json:"version"`
	Requirements    []Requirement   `json:"requirements,omitempty"`
	Entities        []Entity        `json:"entities,omitempty"`
	Endpoints       []Endpoint      `json:"endpoints,omitempty"`
	FolderStructure FolderStructure `json:"folder_structure,omitempty"`
	Overview        json.RawMessage `json:"system_overview,omitempty"`
	DomainModel     json.RawMessage `json:"domain_model,omitempty"`
	Docs            json.RawMessage `json:"docs,omitempty"`
}

// Clone returns a deep, independent copy of the spec. The JSON round trip
// keeps the copy honest for passenger sections whose shape the engine does
// not know.
func (s *Spec) Clone() (*Spec, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot clone nil spec")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("spec is not serializable: %w", err)
	}
	var out Spec
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("spec round trip failed: %w", err)
	}
	return &out, nil
}

// SpecVersion is one persisted snapshot of a project's spec.
type SpecVersion struct {
	ProjectID string `json:"project_id"`
	Version   int    `json:"version"`
	Summary   string `json:"summary,omitempty"`
	Document  *Spec  `json:"document,omitempty"`
	CreatedAt int64  `json:"created_at"` // unix millis
}

// FeatureStatus tracks the lifecycle of a feature record that embeds a
// change request.
type FeatureStatus string

const (
	FeatureStatusProposed FeatureStatus = "proposed"
	FeatureStatusApplied  FeatureStatus = "applied"
	FeatureStatusRejected FeatureStatus = "rejected"
)

// Feature is the persisted wrapper around a change request. The engine never
// stores a ChangeRequest standalone; the external layer embeds it here.
type Feature struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	Summary       string         `json:"summary"`
	ChangeRequest *ChangeRequest `json:"change_request,omitempty"`
	Status        FeatureStatus  `json:"status"`
	CreatedAt     int64          `json:"created_at"`
}

// ProjectLock is the advisory lock record gating persisted applies.
// It is time-bounded: a lock whose ExpiresAt has passed may be stolen.
type ProjectLock struct {
	ProjectID string    `json:"project_id"`
	HolderID  uuid.UUID `json:"holder_id"`
	ExpiresAt int64     `json:"expires_at"` // unix millis
}

// Expired reports whether the lock is past its expiry at the given instant.
func (l ProjectLock) Expired(nowMillis int64) bool {
	return l.ExpiresAt <= nowMillis
}
