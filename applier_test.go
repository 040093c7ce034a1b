package specforge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSpec() *Spec {
	return &Spec{
		ProjectID: "proj-1",
		Version:   3,
		Requirements: []Requirement{
			{ID: "req-1", Description: "Users can sign up"},
		},
		Entities: []Entity{
			{
				ID:   "ent-user",
				Name: "User",
				Fields: []Field{
					{Name: "id", Type: "uuid"},
					{Name: "email", Type: "string"},
				},
			},
			{
				ID:   "ent-widget",
				Name: "Widget",
				Fields: []Field{
					{Name: "id", Type: "uuid"},
				},
				Relations: []Relation{
					{Target: "ent-user", Type: "many-to-one"},
				},
			},
		},
		Endpoints: []Endpoint{
			{ID: "ep-1", Method: "POST", Path: "/widgets"},
			{ID: "ep-2", Method: "GET", Path: "/widgets"},
		},
		FolderStructure: FolderStructure{
			"src": FolderStructure{"main.go": nil},
		},
		Overview: json.RawMessage(`{"style":"hexagonal"}`),
	}
}

func snapshot(t *testing.T, spec *Spec) string {
	t.Helper()
	raw, err := json.Marshal(spec)
	require.NoError(t, err)
	return string(raw)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	current := baseSpec()
	before := snapshot(t, current)

	req := &ChangeRequest{
		Summary: "mixed edits",
		Operations: []ChangeOperation{
			{Type: OpAddEntity, Entity: &Entity{ID: "ent-order", Name: "Order"}},
			{Type: OpRemoveEntity, TargetID: "ent-user"},
			{Type: OpUpdateFolderStructure, FolderStructure: FolderStructure{"pkg": nil}},
		},
	}
	result := Apply(current, req)

	assert.Equal(t, before, snapshot(t, current), "input spec must stay untouched")
	require.NotNil(t, result.Spec)
	assert.NotEqual(t, before, snapshot(t, result.Spec))
}

func TestApplyDuplicateEntityNameRejected(t *testing.T) {
	current := baseSpec()
	req := &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpAddEntity, Entity: &Entity{ID: "ent-user-2", Name: "User"}},
	}}

	result := Apply(current, req)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ConflictNaming, result.Conflicts[0].Type)
	assert.Len(t, result.Spec.Entities, len(current.Entities))
	assert.Empty(t, result.Impacts)
}

func TestApplyEndpointDuplicateRejected(t *testing.T) {
	current := baseSpec()
	req := &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpAddEndpoint, Endpoint: &Endpoint{ID: "ep-3", Method: "POST", Path: "/widgets"}},
	}}

	result := Apply(current, req)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ConflictNaming, result.Conflicts[0].Type)
	assert.Contains(t, result.Conflicts[0].Message, "POST")
	assert.Contains(t, result.Conflicts[0].Message, "/widgets")
	assert.Len(t, result.Spec.Endpoints, 2)
}

func TestApplySequentialVisibility(t *testing.T) {
	current := baseSpec()
	req := &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpAddEntity, Entity: &Entity{ID: "ent-order", Name: "Order"}},
		{Type: OpUpdateEntity, TargetID: "ent-order", Patch: map[string]any{
			"fields": []any{map[string]any{"name": "total", "type": "decimal"}},
		}},
	}}

	result := Apply(current, req)

	assert.Empty(t, result.Conflicts)
	require.Len(t, result.Impacts, 2)
	order := result.Spec.Entities[len(result.Spec.Entities)-1]
	assert.Equal(t, "Order", order.Name)
	require.Len(t, order.Fields, 1)
	assert.Equal(t, "total", order.Fields[0].Name)
}

func TestApplyConflictLeavesNoTrace(t *testing.T) {
	current := baseSpec()
	req := &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpAddEntity, Entity: &Entity{ID: "ent-dup", Name: "User"}},          // conflicts
		{Type: OpAddRequirement, Requirement: &Requirement{ID: "req-2", Description: "ok"}}, // applies
		{Type: OpRemoveEndpoint, TargetID: "ep-missing"},                           // conflicts
	}}

	result := Apply(current, req)

	require.Len(t, result.Conflicts, 2)
	require.Len(t, result.Impacts, 1)
	// Only the non-conflicting operation changed the proposed spec.
	assert.Len(t, result.Spec.Entities, 2)
	assert.Len(t, result.Spec.Endpoints, 2)
	assert.Len(t, result.Spec.Requirements, 2)
}

func TestApplyMalformedPatchLeavesNoTrace(t *testing.T) {
	// A patch that fails to decode part-way through must not leak the
	// partially decoded values into the proposed spec. The shared-storage
	// hazard is in the slices and the schema map, so those are asserted
	// element by element.
	t.Run("entity fields", func(t *testing.T) {
		current := baseSpec()
		req := &ChangeRequest{Operations: []ChangeOperation{
			{Type: OpUpdateEntity, TargetID: "ent-user", Patch: map[string]any{
				"fields": []any{
					map[string]any{"name": "x", "type": "string"},
					map[string]any{"name": 123, "type": "string"},
				},
			}},
		}}

		result := Apply(current, req)

		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, ConflictValidation, result.Conflicts[0].Type)
		assert.Contains(t, result.Conflicts[0].Message, "entity patch is malformed")
		assert.Empty(t, result.Impacts)

		user := result.Spec.Entities[0]
		require.Len(t, user.Fields, 2)
		assert.Equal(t, "id", user.Fields[0].Name)
		assert.Equal(t, "email", user.Fields[1].Name)
	})

	t.Run("entity relations", func(t *testing.T) {
		current := baseSpec()
		req := &ChangeRequest{Operations: []ChangeOperation{
			{Type: OpUpdateEntity, TargetID: "ent-widget", Patch: map[string]any{
				"fields":    []any{map[string]any{"name": "weight", "type": "int"}},
				"relations": []any{map[string]any{"target": 123}},
			}},
		}}

		result := Apply(current, req)

		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, ConflictValidation, result.Conflicts[0].Type)

		widget := result.Spec.Entities[1]
		require.Len(t, widget.Fields, 1)
		assert.Equal(t, "id", widget.Fields[0].Name)
		require.Len(t, widget.Relations, 1)
		assert.Equal(t, "ent-user", widget.Relations[0].Target)
	})

	t.Run("endpoint schema", func(t *testing.T) {
		current := baseSpec()
		current.Endpoints[0].Schema = map[string]any{"type": "object"}
		req := &ChangeRequest{Operations: []ChangeOperation{
			{Type: OpUpdateEndpoint, TargetID: "ep-1", Patch: map[string]any{
				"schema": map[string]any{"injected": true},
				"method": 123,
			}},
		}}

		result := Apply(current, req)

		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, ConflictValidation, result.Conflicts[0].Type)
		assert.Contains(t, result.Conflicts[0].Message, "endpoint patch is malformed")
		assert.Empty(t, result.Impacts)

		ep := result.Spec.Endpoints[0]
		assert.Equal(t, "POST", ep.Method)
		assert.NotContains(t, ep.Schema, "injected")
		assert.Equal(t, "object", ep.Schema["type"])
	})
}

func TestApplyAddRemoveRoundTrip(t *testing.T) {
	current := baseSpec()
	original := snapshot(t, current)

	first := Apply(current, &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpAddEntity, Entity: &Entity{ID: "ent-order", Name: "Order", Fields: []Field{{Name: "id", Type: "uuid"}}}},
	}})
	require.Empty(t, first.Conflicts)

	second := Apply(first.Spec, &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpRemoveEntity, TargetID: "ent-order"},
	}})
	require.Empty(t, second.Conflicts)

	assert.JSONEq(t, original, snapshot(t, second.Spec))
}

func TestApplyUpdateEntityRenameCollisionDropsWholeOperation(t *testing.T) {
	current := baseSpec()
	req := &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpUpdateEntity, TargetID: "ent-widget", Patch: map[string]any{
			"name":   "User",
			"fields": []any{map[string]any{"name": "sneaky", "type": "string"}},
		}},
	}}

	result := Apply(current, req)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ConflictNaming, result.Conflicts[0].Type)
	widget := result.Spec.Entities[1]
	assert.Equal(t, "Widget", widget.Name)
	// No partial field merge happened.
	require.Len(t, widget.Fields, 1)
	assert.Equal(t, "id", widget.Fields[0].Name)
}

func TestApplyUpdateEndpointCollisionOnResultingPair(t *testing.T) {
	current := baseSpec()
	req := &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpUpdateEndpoint, TargetID: "ep-2", Patch: map[string]any{"method": "POST"}},
	}}

	result := Apply(current, req)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ConflictNaming, result.Conflicts[0].Type)
	assert.Equal(t, "GET", result.Spec.Endpoints[1].Method)
}

func TestApplyUpdateEndpointPatchesInPlace(t *testing.T) {
	current := baseSpec()
	req := &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpUpdateEndpoint, TargetID: "ep-2", Patch: map[string]any{"path": "/widgets/{id}"}},
	}}

	result := Apply(current, req)

	assert.Empty(t, result.Conflicts)
	assert.Equal(t, "/widgets/{id}", result.Spec.Endpoints[1].Path)
	assert.Equal(t, "ep-2", result.Spec.Endpoints[1].ID)
}

func TestApplyValidatorDivergenceOnBlankFieldPatch(t *testing.T) {
	// An update that introduces a blank field name is not caught at apply
	// time; it records its impact and only the post-hoc validator flags it.
	// The impact list and the conflict list legitimately diverge here.
	current := baseSpec()
	req := &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpUpdateEntity, TargetID: "ent-user", Patch: map[string]any{
			"fields": []any{map[string]any{"name": "", "type": "string"}},
		}},
	}}

	result := Apply(current, req)

	require.Len(t, result.Impacts, 1, "operation succeeds at apply time")
	require.Len(t, result.Conflicts, 1, "validator still reports the blank field")
	assert.Equal(t, ConflictMissingField, result.Conflicts[0].Type)
}

func TestApplyUpdateFolderStructureAlwaysSucceeds(t *testing.T) {
	current := baseSpec()
	req := &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpUpdateFolderStructure, FolderStructure: FolderStructure{
			"cmd":    FolderStructure{"server": FolderStructure{"main.go": nil}},
			"go.mod": nil,
		}},
	}}

	result := Apply(current, req)

	assert.Empty(t, result.Conflicts)
	require.Len(t, result.Impacts, 1)
	assert.Equal(t, []string{"cmd", "go.mod"}, result.Impacts[0].AffectedFiles)
	assert.Contains(t, result.Spec.FolderStructure, "cmd")
	assert.NotContains(t, result.Spec.FolderStructure, "src")
}

func TestApplyRequirementLifecycle(t *testing.T) {
	current := baseSpec()
	req := &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpAddRequirement, Requirement: &Requirement{ID: "req-2", Description: "Widgets can be archived"}},
		{Type: OpUpdateRequirement, TargetID: "req-1", Patch: map[string]any{"description": "Users can register"}},
		{Type: OpRemoveRequirement, TargetID: "req-2"},
	}}

	result := Apply(current, req)

	assert.Empty(t, result.Conflicts)
	require.Len(t, result.Impacts, 3)
	require.Len(t, result.Spec.Requirements, 1)
	assert.Equal(t, "Users can register", result.Spec.Requirements[0].Description)
}

func TestApplyMissingTargetsReportMissingField(t *testing.T) {
	tests := []struct {
		name string
		op   ChangeOperation
	}{
		{"update requirement", ChangeOperation{Type: OpUpdateRequirement, TargetID: "nope", Patch: map[string]any{"description": "x"}}},
		{"remove requirement", ChangeOperation{Type: OpRemoveRequirement, TargetID: "nope"}},
		{"update entity", ChangeOperation{Type: OpUpdateEntity, TargetID: "nope", Patch: map[string]any{"name": "X"}}},
		{"remove entity", ChangeOperation{Type: OpRemoveEntity, TargetID: "nope"}},
		{"update endpoint", ChangeOperation{Type: OpUpdateEndpoint, TargetID: "nope", Patch: map[string]any{"path": "/x"}}},
		{"remove endpoint", ChangeOperation{Type: OpRemoveEndpoint, TargetID: "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Apply(baseSpec(), &ChangeRequest{Operations: []ChangeOperation{tt.op}})
			require.Len(t, result.Conflicts, 1)
			assert.Equal(t, ConflictMissingField, result.Conflicts[0].Type)
			assert.Empty(t, result.Impacts)
		})
	}
}

func TestApplyUnsupportedOperationType(t *testing.T) {
	result := Apply(baseSpec(), &ChangeRequest{Operations: []ChangeOperation{
		{Type: ChangeOperationType("renameProject")},
	}})

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ConflictValidation, result.Conflicts[0].Type)
	assert.Equal(t, "renameProject", result.Conflicts[0].Details["operation"])
}

func TestApplyNilInputs(t *testing.T) {
	result := Apply(nil, &ChangeRequest{})
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ConflictValidation, result.Conflicts[0].Type)
	assert.Nil(t, result.Spec)

	result = Apply(baseSpec(), nil)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ConflictValidation, result.Conflicts[0].Type)
	require.NotNil(t, result.Spec)
}

func TestApplyIsDeterministic(t *testing.T) {
	current := baseSpec()
	req := &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpAddEntity, Entity: &Entity{ID: "ent-order", Name: "Order"}},
		{Type: OpAddEndpoint, Endpoint: &Endpoint{ID: "ep-3", Method: "POST", Path: "/orders"}},
		{Type: OpRemoveEntity, TargetID: "ent-missing"},
	}}

	first := Apply(current, req)
	second := Apply(current, req)

	assert.Equal(t, snapshot(t, first.Spec), snapshot(t, second.Spec))
	assert.Equal(t, first.Conflicts, second.Conflicts)
	assert.Equal(t, first.Impacts, second.Impacts)
}

func TestApplyPreservesPassengerSections(t *testing.T) {
	current := baseSpec()
	result := Apply(current, &ChangeRequest{Operations: []ChangeOperation{
		{Type: OpAddRequirement, Requirement: &Requirement{ID: "req-9", Description: "x"}},
	}})

	require.Empty(t, result.Conflicts)
	assert.JSONEq(t, string(current.Overview), string(result.Spec.Overview))
}
