// Package models defines the core domain models for real-time workflow collaboration
package models

import (
	"math"
	"strings"
	"time"
)

// OperationType represents the structural edit an operation performs on the graph.
type OperationType string

const (
	OperationNodeAdd        OperationType = "node_add"
	OperationNodeDelete     OperationType = "node_delete"
	OperationNodeUpdate     OperationType = "node_update"
	OperationNodeMove       OperationType = "node_move"
	OperationEdgeAdd        OperationType = "edge_add"
	OperationEdgeDelete     OperationType = "edge_delete"
	OperationEdgeUpdate     OperationType = "edge_update"
	OperationPropertyUpdate OperationType = "property_update"
)

// IsDelete reports whether the operation removes its target from the document.
func (t OperationType) IsDelete() bool {
	return t == OperationNodeDelete || t == OperationEdgeDelete
}

// IsEdgeWrite reports whether the operation creates or modifies an edge.
func (t OperationType) IsEdgeWrite() bool {
	return t == OperationEdgeAdd || t == OperationEdgeUpdate
}

// TargetType identifies what kind of document element an operation addresses.
type TargetType string

const (
	TargetNode     TargetType = "node"
	TargetEdge     TargetType = "edge"
	TargetProperty TargetType = "property"
)

// OperationStatus defines the lifecycle states of an operation.
type OperationStatus string

const (
	OperationStatusPending     OperationStatus = "pending"     // Awaiting transform or manual resolution
	OperationStatusTransformed OperationStatus = "transformed" // Rewritten against concurrent operations
	OperationStatusApplied     OperationStatus = "applied"     // Merged into the canonical document
	OperationStatusRejected    OperationStatus = "rejected"    // Refused, never applied
)

// Target addresses the document element an operation mutates. Path is a
// dot-separated property path and is only meaningful for property_update.
type Target struct {
	Type TargetType `json:"type"           validate:"required,oneof=node edge property"`
	ID   string     `json:"id"             validate:"required"`
	Path string     `json:"path,omitempty"`
}

// Position is a canvas coordinate carried by node-related operations.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the Euclidean distance between two positions.
func (p Position) DistanceTo(other Position) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y

	return math.Sqrt(dx*dx + dy*dy)
}

// OperationData carries the structural payload. After is what gets applied;
// Before is retained for reversal and audit.
type OperationData struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

// ConflictType classifies a detected incompatibility between two concurrent operations.
type ConflictType string

const (
	ConflictDelete     ConflictType = "delete_conflict"
	ConflictSameTarget ConflictType = "same_target_update"
	ConflictPosition   ConflictType = "position_conflict"
	ConflictDependency ConflictType = "dependency_conflict"
)

// ConflictSeverity grades how disruptive a conflict is for the editing user.
type ConflictSeverity string

const (
	SeverityLow    ConflictSeverity = "low"
	SeverityMedium ConflictSeverity = "medium"
	SeverityHigh   ConflictSeverity = "high"
)

// ResolutionStrategy says whether a conflict was resolved automatically or
// needs a manual decision from the user.
type ResolutionStrategy string

const (
	ResolutionAuto   ResolutionStrategy = "auto"
	ResolutionManual ResolutionStrategy = "manual"
)

// Conflict records one detected incompatibility with a concurrent operation.
type Conflict struct {
	ConflictingOperationID string             `json:"conflicting_operation_id"`
	Type                   ConflictType       `json:"type"`
	Severity               ConflictSeverity   `json:"severity"`
	ResolutionStrategy     ResolutionStrategy `json:"resolution_strategy"`
}

// TransformationRecord is one append-only audit entry describing a transform
// this operation underwent.
type TransformationRecord struct {
	OperationID string       `json:"operation_id"` // Operation this one was transformed against
	Type        ConflictType `json:"type,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Operation is the atomic unit of mutation submitted by a collaborator.
//
// Once Status reaches applied, Data.After is never mutated again; corrections
// are expressed as new operations. Transformations only grows.
type Operation struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	WorkflowID string          `json:"workflow_id" validate:"required"`
	AuthorID   string          `json:"author_id"   validate:"required"`
	Type       OperationType   `json:"type"        validate:"required,oneof=node_add node_delete node_update node_move edge_add edge_delete edge_update property_update"`
	Target     Target          `json:"target"`
	Position   *Position       `json:"position,omitempty"`
	Data       OperationData   `json:"data"`
	Status     OperationStatus `json:"status"`

	// Sequence is the server-assigned arrival order for the workflow. It is
	// the single source of truth for convergence: every client transforms a
	// pending local operation against the same server-ordered sequence of
	// intervening operations before applying.
	Sequence int64 `json:"sequence"`

	// BaseSequence is the last server sequence the author had seen when the
	// operation was created. Operations admitted after it are the concurrent
	// set this one must be transformed against.
	BaseSequence int64 `json:"base_sequence"`

	Conflicts       []Conflict             `json:"conflicts,omitempty"`
	Transformations []TransformationRecord `json:"transformations,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Clone returns a deep copy of the operation. Conflict and audit slices are
// copied so transforms on the clone never alias the original.
func (o *Operation) Clone() *Operation {
	clone := *o

	if o.Position != nil {
		pos := *o.Position
		clone.Position = &pos
	}

	clone.Data.Before = deepCopyValue(o.Data.Before)
	clone.Data.After = deepCopyValue(o.Data.After)

	clone.Conflicts = make([]Conflict, len(o.Conflicts))
	copy(clone.Conflicts, o.Conflicts)

	clone.Transformations = make([]TransformationRecord, len(o.Transformations))
	copy(clone.Transformations, o.Transformations)

	return &clone
}

// TouchedPaths returns the set of dot-separated property paths this
// operation's Data.After writes. A property_update touches its target path; a
// node or edge update touches every nested key of its payload map.
func (o *Operation) TouchedPaths() []string {
	if o.Type == OperationPropertyUpdate {
		if o.Target.Path == "" {
			return nil
		}

		return []string{o.Target.Path}
	}

	after, ok := o.Data.After.(map[string]any)
	if !ok {
		return nil
	}

	return flattenPaths("", after)
}

// EdgeEndpoints extracts the source and target node IDs from an edge write
// payload. Returns ok=false when the operation is not an edge write or the
// payload does not carry endpoints.
func (o *Operation) EdgeEndpoints() (source, target string, ok bool) {
	if !o.Type.IsEdgeWrite() {
		return "", "", false
	}

	after, isMap := o.Data.After.(map[string]any)
	if !isMap {
		return "", "", false
	}

	source, _ = after["source"].(string)
	target, _ = after["target"].(string)

	return source, target, source != "" || target != ""
}

func flattenPaths(prefix string, value map[string]any) []string {
	paths := make([]string, 0, len(value))

	for key, v := range value {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			paths = append(paths, flattenPaths(path, nested)...)

			continue
		}

		paths = append(paths, path)
	}

	return paths
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopyValue(item)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}

		return out
	default:
		return v
	}
}

// PathsOverlap reports whether two sets of property paths touch a common
// property, treating a prefix path as covering everything beneath it.
func PathsOverlap(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if pa == pb || strings.HasPrefix(pa, pb+".") || strings.HasPrefix(pb, pa+".") {
				return true
			}
		}
	}

	return false
}
