package specforge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Apply executes a change request against a deep copy of the current spec.
// Operations run in array order and each operation's effect is visible to
// the ones after it. A conflicting operation is skipped but the walk
// continues, so the caller gets every obstruction in one round trip. After
// the walk the validator runs over the working copy and its findings are
// appended to the conflict list (never to impacts).
//
// Apply is total: it never panics or returns an error. Malformed input that
// cannot be copied or walked comes back as a single validation conflict.
// It is also deterministic and free of I/O, so independent calls may run
// concurrently.
func Apply(current *Spec, req *ChangeRequest) ApplyResult {
	result := ApplyResult{
		Conflicts: []ChangeConflict{},
		Impacts:   []ChangeImpact{},
	}

	if current == nil {
		result.Conflicts = append(result.Conflicts, ChangeConflict{
			Type:    ConflictValidation,
			Message: "current spec is missing",
		})
		return result
	}

	working, err := current.Clone()
	if err != nil {
		result.Conflicts = append(result.Conflicts, ChangeConflict{
			Type:    ConflictValidation,
			Message: "current spec cannot be deep-copied",
			Details: map[string]any{"cause": err.Error()},
		})
		return result
	}
	result.Spec = working

	if req == nil {
		result.Conflicts = append(result.Conflicts, ChangeConflict{
			Type:    ConflictValidation,
			Message: "change request is missing",
		})
		result.Conflicts = append(result.Conflicts, Validate(working)...)
		return result
	}

	for i, op := range req.Operations {
		conflict, impact := applyOperation(working, op)
		if conflict != nil {
			if conflict.Details == nil {
				conflict.Details = map[string]any{}
			}
			conflict.Details["operation"] = string(op.Type)
			conflict.Details["index"] = i
			result.Conflicts = append(result.Conflicts, *conflict)
			continue
		}
		if impact != nil {
			result.Impacts = append(result.Impacts, *impact)
		}
	}

	result.Conflicts = append(result.Conflicts, Validate(working)...)
	return result
}

// applyOperation mutates the working spec in place. It returns either a
// conflict (operation skipped, no trace left) or the impact of a successful
// application, never both.
func applyOperation(spec *Spec, op ChangeOperation) (*ChangeConflict, *ChangeImpact) {
	switch op.Type {
	case OpAddRequirement:
		return applyAddRequirement(spec, op)
	case OpUpdateRequirement:
		return applyUpdateRequirement(spec, op)
	case OpRemoveRequirement:
		return applyRemoveRequirement(spec, op)
	case OpAddEntity:
		return applyAddEntity(spec, op)
	case OpUpdateEntity:
		return applyUpdateEntity(spec, op)
	case OpRemoveEntity:
		return applyRemoveEntity(spec, op)
	case OpAddEndpoint:
		return applyAddEndpoint(spec, op)
	case OpUpdateEndpoint:
		return applyUpdateEndpoint(spec, op)
	case OpRemoveEndpoint:
		return applyRemoveEndpoint(spec, op)
	case OpUpdateFolderStructure:
		return applyUpdateFolderStructure(spec, op)
	default:
		// Unreachable with a typed caller, required for untyped input.
		return &ChangeConflict{
			Type:    ConflictValidation,
			Message: fmt.Sprintf("unsupported operation type %q", op.Type),
		}, nil
	}
}

func applyAddRequirement(spec *Spec, op ChangeOperation) (*ChangeConflict, *ChangeImpact) {
	if op.Requirement == nil {
		return missingPayloadConflict(op.Type, "requirement"), nil
	}
	for _, r := range spec.Requirements {
		if r.ID == op.Requirement.ID {
			return &ChangeConflict{
				Type:    ConflictNaming,
				Message: fmt.Sprintf("requirement %q already exists", op.Requirement.ID),
				Details: map[string]any{"id": op.Requirement.ID},
			}, nil
		}
	}
	spec.Requirements = append(spec.Requirements, *op.Requirement)
	return nil, &ChangeImpact{
		Description:   fmt.Sprintf("Requirement %s added", op.Requirement.ID),
		AffectedFiles: []string{"docs/requirements.md"},
	}
}

func applyUpdateRequirement(spec *Spec, op ChangeOperation) (*ChangeConflict, *ChangeImpact) {
	idx := requirementIndex(spec, op.TargetID)
	if idx < 0 {
		return targetNotFoundConflict("requirement", op.TargetID), nil
	}
	r := &spec.Requirements[idx]
	if v, ok := op.Patch["id"].(string); ok {
		r.ID = v
	}
	if v, ok := op.Patch["description"].(string); ok {
		r.Description = v
	}
	return nil, &ChangeImpact{
		Description:   fmt.Sprintf("Requirement %s updated", r.ID),
		AffectedFiles: []string{"docs/requirements.md"},
	}
}

func applyRemoveRequirement(spec *Spec, op ChangeOperation) (*ChangeConflict, *ChangeImpact) {
	idx := requirementIndex(spec, op.TargetID)
	if idx < 0 {
		return targetNotFoundConflict("requirement", op.TargetID), nil
	}
	spec.Requirements = append(spec.Requirements[:idx], spec.Requirements[idx+1:]...)
	return nil, &ChangeImpact{
		Description:   fmt.Sprintf("Requirement %s removed", op.TargetID),
		AffectedFiles: []string{"docs/requirements.md"},
	}
}

func applyAddEntity(spec *Spec, op ChangeOperation) (*ChangeConflict, *ChangeImpact) {
	if op.Entity == nil {
		return missingPayloadConflict(op.Type, "entity"), nil
	}
	// The incoming id is assumed fresh; only the display name is checked.
	for _, e := range spec.Entities {
		if e.Name == op.Entity.Name {
			return &ChangeConflict{
				Type:    ConflictNaming,
				Message: fmt.Sprintf("entity named %q already exists", op.Entity.Name),
				Details: map[string]any{"name": op.Entity.Name},
			}, nil
		}
	}
	entity := cloneEntity(*op.Entity)
	spec.Entities = append(spec.Entities, entity)
	return nil, &ChangeImpact{
		Description:      fmt.Sprintf("Entity %s added", entity.Name),
		AffectedEntities: []string{entity.Name},
		AffectedFiles:    entityFiles(entity.Name),
	}
}

func applyUpdateEntity(spec *Spec, op ChangeOperation) (*ChangeConflict, *ChangeImpact) {
	idx := entityIndexByID(spec, op.TargetID)
	if idx < 0 {
		return targetNotFoundConflict("entity", op.TargetID), nil
	}
	entity := &spec.Entities[idx]

	// A rename that collides with another entity drops the whole operation:
	// no partial field merge happens for it.
	if v, ok := op.Patch["name"].(string); ok && v != entity.Name {
		for j, other := range spec.Entities {
			if j != idx && other.Name == v {
				return &ChangeConflict{
					Type:    ConflictNaming,
					Message: fmt.Sprintf("cannot rename entity to %q: name already in use", v),
					Details: map[string]any{"name": v},
				}, nil
			}
		}
	}

	// Merge into a deep copy: a malformed patch can fail mid-decode and the
	// working entity must not see the partially written result.
	patched := cloneEntity(*entity)
	if err := mergePatch(&patched, op.Patch); err != nil {
		return &ChangeConflict{
			Type:    ConflictValidation,
			Message: fmt.Sprintf("entity patch is malformed: %v", err),
		}, nil
	}
	patched.ID = entity.ID
	spec.Entities[idx] = patched
	return nil, &ChangeImpact{
		Description:      fmt.Sprintf("Entity %s updated", patched.Name),
		AffectedEntities: []string{patched.Name},
		AffectedFiles:    entityFiles(patched.Name),
	}
}

func applyRemoveEntity(spec *Spec, op ChangeOperation) (*ChangeConflict, *ChangeImpact) {
	idx := entityIndexByID(spec, op.TargetID)
	if idx < 0 {
		return targetNotFoundConflict("entity", op.TargetID), nil
	}
	name := spec.Entities[idx].Name
	spec.Entities = append(spec.Entities[:idx], spec.Entities[idx+1:]...)
	return nil, &ChangeImpact{
		Description:      fmt.Sprintf("Entity %s removed", name),
		AffectedEntities: []string{name},
		AffectedFiles:    entityFiles(name),
	}
}

func applyAddEndpoint(spec *Spec, op ChangeOperation) (*ChangeConflict, *ChangeImpact) {
	if op.Endpoint == nil {
		return missingPayloadConflict(op.Type, "endpoint"), nil
	}
	for _, e := range spec.Endpoints {
		if e.Method == op.Endpoint.Method && e.Path == op.Endpoint.Path {
			return &ChangeConflict{
				Type:    ConflictNaming,
				Message: fmt.Sprintf("endpoint %s %s already exists", op.Endpoint.Method, op.Endpoint.Path),
				Details: map[string]any{"method": op.Endpoint.Method, "path": op.Endpoint.Path},
			}, nil
		}
	}
	endpoint := cloneEndpoint(*op.Endpoint)
	spec.Endpoints = append(spec.Endpoints, endpoint)
	return nil, &ChangeImpact{
		Description:       fmt.Sprintf("Endpoint %s %s added", endpoint.Method, endpoint.Path),
		AffectedEndpoints: []string{endpoint.Method + " " + endpoint.Path},
		AffectedFiles:     []string{"generated/api.json"},
	}
}

func applyUpdateEndpoint(spec *Spec, op ChangeOperation) (*ChangeConflict, *ChangeImpact) {
	idx := endpointIndexByID(spec, op.TargetID)
	if idx < 0 {
		return targetNotFoundConflict("endpoint", op.TargetID), nil
	}
	endpoint := spec.Endpoints[idx]

	// Collision check runs on the pair the patch would produce.
	method := endpoint.Method
	path := endpoint.Path
	if v, ok := op.Patch["method"].(string); ok {
		method = v
	}
	if v, ok := op.Patch["path"].(string); ok {
		path = v
	}
	for j, other := range spec.Endpoints {
		if j != idx && other.Method == method && other.Path == path {
			return &ChangeConflict{
				Type:    ConflictNaming,
				Message: fmt.Sprintf("endpoint %s %s already exists", method, path),
				Details: map[string]any{"method": method, "path": path},
			}, nil
		}
	}

	// Same deep-copy rule as entity updates: the schema map is shared with
	// the working endpoint until cloned.
	patched := cloneEndpoint(endpoint)
	if err := mergePatch(&patched, op.Patch); err != nil {
		return &ChangeConflict{
			Type:    ConflictValidation,
			Message: fmt.Sprintf("endpoint patch is malformed: %v", err),
		}, nil
	}
	patched.ID = endpoint.ID
	spec.Endpoints[idx] = patched
	return nil, &ChangeImpact{
		Description:       fmt.Sprintf("Endpoint %s %s updated", patched.Method, patched.Path),
		AffectedEndpoints: []string{patched.Method + " " + patched.Path},
		AffectedFiles:     []string{"generated/api.json"},
	}
}

func applyRemoveEndpoint(spec *Spec, op ChangeOperation) (*ChangeConflict, *ChangeImpact) {
	idx := endpointIndexByID(spec, op.TargetID)
	if idx < 0 {
		return targetNotFoundConflict("endpoint", op.TargetID), nil
	}
	endpoint := spec.Endpoints[idx]
	spec.Endpoints = append(spec.Endpoints[:idx], spec.Endpoints[idx+1:]...)
	return nil, &ChangeImpact{
		Description:       fmt.Sprintf("Endpoint %s %s removed", endpoint.Method, endpoint.Path),
		AffectedEndpoints: []string{endpoint.Method + " " + endpoint.Path},
		AffectedFiles:     []string{"generated/api.json"},
	}
}

func applyUpdateFolderStructure(spec *Spec, op ChangeOperation) (*ChangeConflict, *ChangeImpact) {
	spec.FolderStructure = op.FolderStructure.Clone()
	impact := &ChangeImpact{Description: "Folder structure replaced"}
	for name := range spec.FolderStructure {
		impact.AffectedFiles = append(impact.AffectedFiles, name)
	}
	sort.Strings(impact.AffectedFiles)
	return nil, impact
}

func requirementIndex(spec *Spec, id string) int {
	for i, r := range spec.Requirements {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func entityIndexByID(spec *Spec, id string) int {
	for i, e := range spec.Entities {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func endpointIndexByID(spec *Spec, id string) int {
	for i, e := range spec.Endpoints {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func missingPayloadConflict(op ChangeOperationType, payload string) *ChangeConflict {
	return &ChangeConflict{
		Type:    ConflictValidation,
		Message: fmt.Sprintf("%s is missing its %s payload", op, payload),
	}
}

func targetNotFoundConflict(kind, id string) *ChangeConflict {
	return &ChangeConflict{
		Type:    ConflictMissingField,
		Message: fmt.Sprintf("%s %q does not exist", kind, id),
		Details: map[string]any{"id": id},
	}
}

// mergePatch shallow-merges a patch onto a typed value: every key present in
// the patch overwrites the matching JSON field wholesale. The round trip
// through JSON keeps patch handling shape-based, so callers may hand in
// plain decoded documents.
func mergePatch(target any, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	base, err := json.Marshal(target)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(base, &doc); err != nil {
		return err
	}
	for k, v := range patch {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, target)
}

func cloneEntity(e Entity) Entity {
	out := e
	out.Fields = append([]Field(nil), e.Fields...)
	out.Relations = append([]Relation(nil), e.Relations...)
	return out
}

func cloneEndpoint(e Endpoint) Endpoint {
	out := e
	if e.Schema != nil {
		raw, err := json.Marshal(e.Schema)
		if err == nil {
			var schema map[string]any
			if json.Unmarshal(raw, &schema) == nil {
				out.Schema = schema
			}
		}
	}
	return out
}

func entityFiles(name string) []string {
	return []string{
		"generated/schema.json",
		fmt.Sprintf("generated/entities/%s.stub", strings.ToLower(name)),
	}
}
