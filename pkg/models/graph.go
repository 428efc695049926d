package models

// GraphNode is one node instance in the collaborative document.
type GraphNode struct {
	ID         string         `json:"id"   validate:"required"`
	Type       string         `json:"type" validate:"required"`
	Name       string         `json:"name"`
	Position   Position       `json:"position"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Disabled   bool           `json:"disabled"`
}

// GraphEdge connects two nodes in the collaborative document.
type GraphEdge struct {
	ID         string         `json:"id"     validate:"required"`
	Source     string         `json:"source" validate:"required"` // Source node ID
	Target     string         `json:"target" validate:"required"` // Target node ID
	SourcePort string         `json:"source_port,omitempty"`
	TargetPort string         `json:"target_port,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphDocument is the canonical in-memory state of one workflow under
// collaborative editing. Version increments with every applied operation and
// mirrors the server-assigned operation sequence.
type GraphDocument struct {
	WorkflowID string                `json:"workflow_id"`
	Nodes      map[string]*GraphNode `json:"nodes"`
	Edges      map[string]*GraphEdge `json:"edges"`
	Version    int64                 `json:"version"`
}

// NewGraphDocument returns an empty document for a workflow.
func NewGraphDocument(workflowID string) *GraphDocument {
	return &GraphDocument{
		WorkflowID: workflowID,
		Nodes:      make(map[string]*GraphNode),
		Edges:      make(map[string]*GraphEdge),
	}
}

// Clone returns a deep copy of the document. Appliers work on the copy so the
// input state is never mutated in place.
func (d *GraphDocument) Clone() *GraphDocument {
	clone := &GraphDocument{
		WorkflowID: d.WorkflowID,
		Nodes:      make(map[string]*GraphNode, len(d.Nodes)),
		Edges:      make(map[string]*GraphEdge, len(d.Edges)),
		Version:    d.Version,
	}

	for id, node := range d.Nodes {
		copied := *node
		if node.Parameters != nil {
			copied.Parameters, _ = deepCopyValue(node.Parameters).(map[string]any)
		}

		clone.Nodes[id] = &copied
	}

	for id, edge := range d.Edges {
		copied := *edge
		if edge.Properties != nil {
			copied.Properties, _ = deepCopyValue(edge.Properties).(map[string]any)
		}

		clone.Edges[id] = &copied
	}

	return clone
}
