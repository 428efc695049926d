package transform

import (
	"fmt"
	"strings"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

// Apply performs the structural edit an operation implies and returns the new
// document. The input document is never mutated; callers always receive a
// deep copy. Edits against vanished targets are no-ops, which is what keeps
// concurrent delete/update pairs convergent.
func Apply(doc *models.GraphDocument, op *models.Operation) (*models.GraphDocument, error) {
	next := doc.Clone()

	switch op.Type {
	case models.OperationNodeAdd:
		applyNodeAdd(next, op)
	case models.OperationNodeDelete:
		applyNodeDelete(next, op.Target.ID)
	case models.OperationNodeUpdate:
		applyNodeUpdate(next, op)
	case models.OperationNodeMove:
		applyNodeMove(next, op)
	case models.OperationEdgeAdd:
		applyEdgeAdd(next, op)
	case models.OperationEdgeDelete:
		delete(next.Edges, op.Target.ID)
	case models.OperationEdgeUpdate:
		applyEdgeUpdate(next, op)
	case models.OperationPropertyUpdate:
		applyPropertyUpdate(next, op)
	default:
		return nil, fmt.Errorf("unknown operation type: %s", op.Type)
	}

	if op.Sequence > next.Version {
		next.Version = op.Sequence
	} else {
		next.Version++
	}

	return next, nil
}

func applyNodeAdd(doc *models.GraphDocument, op *models.Operation) {
	node := &models.GraphNode{ID: op.Target.ID}

	if after, ok := op.Data.After.(map[string]any); ok {
		mergeNodeFields(node, after)
	}

	if op.Position != nil {
		node.Position = *op.Position
	}

	doc.Nodes[node.ID] = node
}

// applyNodeDelete removes the node and cascades over every edge referencing it.
func applyNodeDelete(doc *models.GraphDocument, nodeID string) {
	delete(doc.Nodes, nodeID)

	for id, edge := range doc.Edges {
		if edge.Source == nodeID || edge.Target == nodeID {
			delete(doc.Edges, id)
		}
	}
}

func applyNodeUpdate(doc *models.GraphDocument, op *models.Operation) {
	node, exists := doc.Nodes[op.Target.ID]
	if !exists {
		return
	}

	if after, ok := op.Data.After.(map[string]any); ok {
		mergeNodeFields(node, after)
	}

	if op.Position != nil {
		node.Position = *op.Position
	}
}

func applyNodeMove(doc *models.GraphDocument, op *models.Operation) {
	node, exists := doc.Nodes[op.Target.ID]
	if !exists {
		return
	}

	if op.Position != nil {
		node.Position = *op.Position

		return
	}

	if after, ok := op.Data.After.(map[string]any); ok {
		if x, okX := toFloat(after["x"]); okX {
			node.Position.X = x
		}

		if y, okY := toFloat(after["y"]); okY {
			node.Position.Y = y
		}
	}
}

func applyEdgeAdd(doc *models.GraphDocument, op *models.Operation) {
	edge := &models.GraphEdge{ID: op.Target.ID}

	if after, ok := op.Data.After.(map[string]any); ok {
		mergeEdgeFields(edge, after)
	}

	doc.Edges[edge.ID] = edge
}

func applyEdgeUpdate(doc *models.GraphDocument, op *models.Operation) {
	edge, exists := doc.Edges[op.Target.ID]
	if !exists {
		return
	}

	if after, ok := op.Data.After.(map[string]any); ok {
		mergeEdgeFields(edge, after)
	}
}

func applyPropertyUpdate(doc *models.GraphDocument, op *models.Operation) {
	if op.Target.Path == "" {
		return
	}

	switch op.Target.Type {
	case models.TargetEdge:
		edge, exists := doc.Edges[op.Target.ID]
		if !exists {
			return
		}

		if edge.Properties == nil {
			edge.Properties = make(map[string]any)
		}

		setPath(edge.Properties, op.Target.Path, op.Data.After)
	default:
		node, exists := doc.Nodes[op.Target.ID]
		if !exists {
			return
		}

		if node.Parameters == nil {
			node.Parameters = make(map[string]any)
		}

		setPath(node.Parameters, op.Target.Path, op.Data.After)
	}
}

// mergeNodeFields writes a payload map into a node. Well-known keys map onto
// struct fields; everything else lands in Parameters.
func mergeNodeFields(node *models.GraphNode, after map[string]any) {
	for key, value := range after {
		switch key {
		case "name":
			if name, ok := value.(string); ok {
				node.Name = name
			}
		case "type":
			if nodeType, ok := value.(string); ok {
				node.Type = nodeType
			}
		case "disabled":
			if disabled, ok := value.(bool); ok {
				node.Disabled = disabled
			}
		case "position":
			if pos, ok := value.(map[string]any); ok {
				if x, okX := toFloat(pos["x"]); okX {
					node.Position.X = x
				}

				if y, okY := toFloat(pos["y"]); okY {
					node.Position.Y = y
				}
			}
		default:
			if node.Parameters == nil {
				node.Parameters = make(map[string]any)
			}

			setPath(node.Parameters, key, value)
		}
	}
}

func mergeEdgeFields(edge *models.GraphEdge, after map[string]any) {
	for key, value := range after {
		switch key {
		case "source":
			if source, ok := value.(string); ok {
				edge.Source = source
			}
		case "target":
			if target, ok := value.(string); ok {
				edge.Target = target
			}
		case "source_port":
			if port, ok := value.(string); ok {
				edge.SourcePort = port
			}
		case "target_port":
			if port, ok := value.(string); ok {
				edge.TargetPort = port
			}
		default:
			if edge.Properties == nil {
				edge.Properties = make(map[string]any)
			}

			setPath(edge.Properties, key, value)
		}
	}
}

// setPath writes value through a dot-separated path, creating intermediate
// maps as needed. A non-map intermediate is replaced.
func setPath(m map[string]any, path string, value any) {
	keys := strings.Split(path, ".")
	current := m

	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}

		current = next
	}

	current[keys[len(keys)-1]] = value
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
