package internal

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/specforge/specforge"
)

// DocumentGuard screens incoming documents at the boundary before they reach
// the engine. It rejects payloads whose shape is wrong (missing summary,
// non-array operations, wrong scalar types); semantic problems like duplicate
// names stay with the validator, which reports them as conflicts instead of
// errors.
type DocumentGuard struct {
	specSchema    *jsonschema.Resolved
	requestSchema *jsonschema.Resolved
}

const specSchemaJSON = `{
	"type": "object",
	"required": ["project_id"],
	"properties": {
		"project_id": {"type": "string", "minLength": 1},
		"version": {"type": "integer", "minimum": 0},
		"requirements": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"description": {"type": "string"}
				}
			}
		},
		"entities": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "name"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"fields": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"name": {"type": "string"},
								"type": {"type": "string"}
							}
						}
					},
					"relations": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"target": {"type": "string"},
								"type": {"type": "string"}
							}
						}
					}
				}
			}
		},
		"endpoints": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"method": {"type": "string"},
					"path": {"type": "string"},
					"schema": {"type": "object"}
				}
			}
		},
		"folder_structure": {"type": "object"}
	}
}`

const changeRequestSchemaJSON = `{
	"type": "object",
	"required": ["operations"],
	"properties": {
		"summary": {"type": "string"},
		"operations": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type"],
				"properties": {
					"type": {"type": "string", "minLength": 1},
					"target_id": {"type": "string"},
					"patch": {"type": "object"}
				}
			}
		}
	}
}`

// NewDocumentGuard compiles the boundary schemas once.
func NewDocumentGuard() (*DocumentGuard, error) {
	specSchema, err := compileSchema(specSchemaJSON)
	if err != nil {
		return nil, err
	}
	requestSchema, err := compileSchema(changeRequestSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &DocumentGuard{specSchema: specSchema, requestSchema: requestSchema}, nil
}

func compileSchema(raw string) (*jsonschema.Resolved, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		return nil, specforge.NewForgeError(specforge.ErrorTypeInternal,
			specforge.ErrCodeInternalError, "boundary schema is malformed").WithCause(err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, specforge.NewForgeError(specforge.ErrorTypeInternal,
			specforge.ErrCodeInternalError, "boundary schema did not resolve").WithCause(err)
	}
	return resolved, nil
}

// CheckSpec validates a raw spec document against the boundary schema.
func (g *DocumentGuard) CheckSpec(raw []byte) error {
	return g.check(g.specSchema, raw, "spec document")
}

// CheckChangeRequest validates a raw change request against the boundary
// schema.
func (g *DocumentGuard) CheckChangeRequest(raw []byte) error {
	return g.check(g.requestSchema, raw, "change request")
}

func (g *DocumentGuard) check(schema *jsonschema.Resolved, raw []byte, label string) error {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return specforge.NewInvalidDocumentError(label + " is not valid JSON").WithCause(err)
	}
	if err := schema.Validate(data); err != nil {
		return specforge.NewInvalidDocumentError(label+" failed schema validation").
			WithCause(err).WithDetail("validation_error", err.Error())
	}
	return nil
}
