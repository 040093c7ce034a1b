package specforge

import (
	"encoding/json"
	"fmt"
)

// ChangeOperationType enumerates the closed vocabulary of spec edits.
type ChangeOperationType string

const (
	OpAddRequirement        ChangeOperationType = "addRequirement"
	OpUpdateRequirement     ChangeOperationType = "updateRequirement"
	OpRemoveRequirement     ChangeOperationType = "removeRequirement"
	OpAddEntity             ChangeOperationType = "addEntity"
	OpUpdateEntity          ChangeOperationType = "updateEntity"
	OpRemoveEntity          ChangeOperationType = "removeEntity"
	OpAddEndpoint           ChangeOperationType = "addEndpoint"
	OpUpdateEndpoint        ChangeOperationType = "updateEndpoint"
	OpRemoveEndpoint        ChangeOperationType = "removeEndpoint"
	OpUpdateFolderStructure ChangeOperationType = "updateFolderStructure"
)

// ChangeOperation is a tagged union: Type selects the variant, and only the
// payload fields that variant needs are populated. Add variants carry a full
// object, update variants carry TargetID plus a shallow patch, remove
// variants carry TargetID only.
type ChangeOperation struct {
	Type            ChangeOperationType `json:"type"`
	TargetID        string              `json:"target_id,omitempty"`
	Requirement     *Requirement        `json:"requirement,omitempty"`
	Entity          *Entity             `json:"entity,omitempty"`
	Endpoint        *Endpoint           `json:"endpoint,omitempty"`
	Patch           map[string]any      `json:"patch,omitempty"`
	FolderStructure FolderStructure     `json:"folder_structure,omitempty"`
}

// UnmarshalJSON decodes an operation and checks that the payload required by
// its variant is present. Operation types outside the closed set decode
// without error; the applier reports them as validation conflicts so the API
// stays total over untyped input.
func (op *ChangeOperation) UnmarshalJSON(data []byte) error {
	type operationAlias ChangeOperation
	var alias operationAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*op = ChangeOperation(alias)

	switch op.Type {
	case OpAddRequirement:
		if op.Requirement == nil {
			return fmt.Errorf("%s requires a requirement payload", op.Type)
		}
	case OpAddEntity:
		if op.Entity == nil {
			return fmt.Errorf("%s requires an entity payload", op.Type)
		}
	case OpAddEndpoint:
		if op.Endpoint == nil {
			return fmt.Errorf("%s requires an endpoint payload", op.Type)
		}
	case OpUpdateRequirement, OpUpdateEntity, OpUpdateEndpoint:
		if op.TargetID == "" {
			return fmt.Errorf("%s requires target_id", op.Type)
		}
		if op.Patch == nil {
			return fmt.Errorf("%s requires a patch payload", op.Type)
		}
	case OpRemoveRequirement, OpRemoveEntity, OpRemoveEndpoint:
		if op.TargetID == "" {
			return fmt.Errorf("%s requires target_id", op.Type)
		}
	case OpUpdateFolderStructure:
		// nil replaces the tree with nothing, which is allowed
	}
	return nil
}

// ChangeRequest is an ordered batch of edits. It is transient: callers hand
// it to Apply or ComputePreview and discard it.
type ChangeRequest struct {
	Summary    string            `json:"summary"`
	Operations []ChangeOperation `json:"operations"`
}

// ConflictType categorizes an obstruction found while applying or validating.
type ConflictType string

const (
	ConflictNaming           ConflictType = "naming"
	ConflictMissingField     ConflictType = "missing-field"
	ConflictCircularRelation ConflictType = "circular-relation"
	ConflictValidation       ConflictType = "validation"
)

// ChangeConflict reports one reason a change cannot be safely applied.
// Presence of any conflict means the proposed spec must not be persisted.
type ChangeConflict struct {
	Type    ConflictType   `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ChangeImpact is the human-facing side-effect record of one successfully
// applied operation. Validator findings never produce impacts.
type ChangeImpact struct {
	Description       string   `json:"description"`
	AffectedEntities  []string `json:"affected_entities,omitempty"`
	AffectedEndpoints []string `json:"affected_endpoints,omitempty"`
	AffectedFiles     []string `json:"affected_files,omitempty"`
}

// ApplyResult is the output of one Apply call.
type ApplyResult struct {
	Spec      *Spec            `json:"spec"`
	Conflicts []ChangeConflict `json:"conflicts"`
	Impacts   []ChangeImpact   `json:"impacts"`
}

// ChangePreview composes an apply result with a structural diff for a
// dry run or a persist decision. It is JSON-serializable end to end.
type ChangePreview struct {
	CurrentSpec  *Spec            `json:"current_spec"`
	ProposedSpec *Spec            `json:"proposed_spec"`
	Diff         *DocumentDiff    `json:"diff,omitempty"`
	Conflicts    []ChangeConflict `json:"conflicts"`
	Impacts      []ChangeImpact   `json:"impacts"`
}

// HasConflicts reports whether the preview blocks persistence.
func (p *ChangePreview) HasConflicts() bool {
	return p != nil && len(p.Conflicts) > 0
}

// ImpactSummary aggregates one preview's impacts for UI consumption.
// It is derived on demand and never stored.
type ImpactSummary struct {
	ModifiedEntities  int      `json:"modified_entities"`
	ModifiedEndpoints int      `json:"modified_endpoints"`
	ImpactedFiles     int      `json:"impacted_files"`
	NewEntities       []string `json:"new_entities"`
	NewEndpoints      []string `json:"new_endpoints"`
	RemovedEntities   []string `json:"removed_entities"`
	RemovedEndpoints  []string `json:"removed_endpoints"`
	HasConflicts      bool     `json:"has_conflicts"`
	ConflictCount     int      `json:"conflict_count"`
}
