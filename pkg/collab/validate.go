package collab

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

// operationSchema is the wire contract for a submitted operation. Struct tags
// cover field-level rules; the schema additionally pins payload shape.
var operationSchema = map[string]any{
	"type":     "object",
	"required": []string{"workflow_id", "author_id", "type", "target"},
	"properties": map[string]any{
		"workflow_id": map[string]any{"type": "string", "minLength": 1},
		"author_id":   map[string]any{"type": "string", "minLength": 1},
		"session_id":  map[string]any{"type": "string"},
		"type": map[string]any{
			"type": "string",
			"enum": []string{
				"node_add", "node_delete", "node_update", "node_move",
				"edge_add", "edge_delete", "edge_update", "property_update",
			},
		},
		"target": map[string]any{
			"type":     "object",
			"required": []string{"type", "id"},
			"properties": map[string]any{
				"type": map[string]any{"type": "string", "enum": []string{"node", "edge", "property"}},
				"id":   map[string]any{"type": "string", "minLength": 1},
				"path": map[string]any{"type": "string"},
			},
		},
		"position": map[string]any{
			"type":     "object",
			"required": []string{"x", "y"},
			"properties": map[string]any{
				"x": map[string]any{"type": "number"},
				"y": map[string]any{"type": "number"},
			},
		},
		"base_sequence": map[string]any{"type": "integer", "minimum": 0},
		"data":          map[string]any{"type": "object"},
	},
}

type operationValidator struct {
	schema *gojsonschema.Schema
	fields *validator.Validate
}

func newOperationValidator() (*operationValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(operationSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile operation schema: %w", err)
	}

	return &operationValidator{
		schema: schema,
		fields: validator.New(),
	}, nil
}

// Validate checks a submitted operation against the JSON schema, struct tags,
// and per-type semantic rules. All failures are collected into one error.
func (v *operationValidator) Validate(op *models.Operation) error {
	var reasons []string

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(op))
	if err != nil {
		return fmt.Errorf("failed to run schema validation: %w", err)
	}

	if !result.Valid() {
		for _, schemaErr := range result.Errors() {
			reasons = append(reasons, schemaErr.String())
		}
	}

	if err := v.fields.Struct(op); err != nil {
		reasons = append(reasons, err.Error())
	}

	reasons = append(reasons, semanticReasons(op)...)

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}

	return nil
}

func semanticReasons(op *models.Operation) []string {
	var reasons []string

	switch op.Type {
	case models.OperationPropertyUpdate:
		if op.Target.Path == "" {
			reasons = append(reasons, "property_update requires target.path")
		}
	case models.OperationNodeMove:
		if op.Position == nil {
			reasons = append(reasons, "node_move requires a position")
		}
	case models.OperationEdgeAdd:
		if _, _, ok := op.EdgeEndpoints(); !ok {
			reasons = append(reasons, "edge_add requires source and target endpoints in data.after")
		}
	}

	if op.Type.IsEdgeWrite() || op.Type == models.OperationEdgeDelete {
		if op.Target.Type == models.TargetNode {
			reasons = append(reasons, "edge operations cannot target a node")
		}
	}

	if op.BaseSequence < 0 {
		reasons = append(reasons, "base_sequence cannot be negative")
	}

	return reasons
}
