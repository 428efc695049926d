// Package transform implements operational transformation for concurrent
// workflow graph edits: conflict classification, resolution, and the pure
// applier that folds operations into the canonical document.
package transform

import (
	"log/slog"
	"time"

	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

// Priority decides which side wins when two concurrent operations cannot be
// merged: the server-ordered operand already admitted, or the incoming client
// operand.
type Priority string

const (
	PriorityServer Priority = "server"
	PriorityClient Priority = "client"
)

const (
	// Two node positions closer than this conflict; exactly this distance
	// does not.
	positionConflictThreshold = 100.0

	// Horizontal shift applied to resolve a position conflict.
	positionShiftOffset = 150.0
)

// Result is the outcome of transforming one operation against concurrent ones.
type Result struct {
	Transformed              *models.Operation `json:"transformed"`
	Conflicts                []models.Conflict `json:"conflicts"`
	RequiresManualResolution bool              `json:"requires_manual_resolution"`
}

type Engine struct {
	priority Priority
	logger   *slog.Logger
}

func NewEngine(priority Priority, logger *slog.Logger) *Engine {
	if priority != PriorityClient {
		priority = PriorityServer
	}

	return &Engine{
		priority: priority,
		logger:   logger.With("module", "transform"),
	}
}

// Transform rewrites op against one concurrent operation that precedes it in
// the server order. The input operation is never mutated; the returned
// operand carries the grown audit list.
func (e *Engine) Transform(op, against *models.Operation) *Result {
	transformed := op.Clone()
	conflictType := classify(transformed, against)

	result := &Result{Transformed: transformed}

	switch conflictType {
	case models.ConflictDelete:
		e.resolveDelete(result, against)
	case models.ConflictSameTarget:
		e.resolveSameTarget(result, against)
	case models.ConflictPosition:
		e.resolvePosition(result, against)
	case models.ConflictDependency:
		e.resolveDependency(result, against)
	default:
		// No conflict; the operation passes through unchanged.
	}

	transformed.Transformations = append(transformed.Transformations, models.TransformationRecord{
		OperationID: against.ID,
		Type:        conflictType,
		Timestamp:   time.Now().UTC(),
	})

	if result.RequiresManualResolution {
		transformed.Status = models.OperationStatusPending
	} else {
		transformed.Status = models.OperationStatusTransformed
	}

	transformed.Conflicts = append(transformed.Conflicts, result.Conflicts...)

	return result
}

// TransformSequence applies pairwise transforms left-to-right over the
// server-ordered list of intervening operations. All clients folding the same
// list converge to the same transformed operand.
func (e *Engine) TransformSequence(op *models.Operation, against []*models.Operation) *Result {
	current := op
	combined := &Result{Transformed: op}

	for _, concurrent := range against {
		step := e.Transform(current, concurrent)

		combined.Transformed = step.Transformed
		combined.Conflicts = append(combined.Conflicts, step.Conflicts...)
		combined.RequiresManualResolution = combined.RequiresManualResolution || step.RequiresManualResolution

		current = step.Transformed
	}

	if combined.RequiresManualResolution {
		combined.Transformed.Status = models.OperationStatusPending
	}

	return combined
}

// classify detects the conflict class between two operands, checked in
// priority order.
func classify(op, against *models.Operation) models.ConflictType {
	sameID := op.Target.ID == against.Target.ID

	if sameID && (op.Type.IsDelete() || against.Type.IsDelete()) {
		return models.ConflictDelete
	}

	if sameID && targetKind(op) == targetKind(against) {
		return models.ConflictSameTarget
	}

	if op.Position != nil && against.Position != nil &&
		op.Position.DistanceTo(*against.Position) < positionConflictThreshold {
		return models.ConflictPosition
	}

	if edgeReferencesDelete(op, against) || edgeReferencesDelete(against, op) {
		return models.ConflictDependency
	}

	return ""
}

// targetKind collapses a target to the element it ultimately addresses: a
// property_update on a node element races node updates on the same id.
func targetKind(op *models.Operation) models.TargetType {
	if op.Target.Type == models.TargetEdge || op.Type.IsEdgeWrite() || op.Type == models.OperationEdgeDelete {
		return models.TargetEdge
	}

	return models.TargetNode
}

// edgeReferencesDelete reports whether edgeOp writes an edge whose endpoint is
// the node deleteOp removes.
func edgeReferencesDelete(edgeOp, deleteOp *models.Operation) bool {
	if deleteOp.Type != models.OperationNodeDelete {
		return false
	}

	source, target, ok := edgeOp.EdgeEndpoints()
	if !ok {
		return false
	}

	return source == deleteOp.Target.ID || target == deleteOp.Target.ID
}

// resolveDelete handles a delete racing another operation on the same target.
// Server priority lets the delete win (the losing update becomes a no-op on a
// vanished target); client priority defers to the user.
func (e *Engine) resolveDelete(result *Result, against *models.Operation) {
	if e.priority == PriorityServer {
		result.Conflicts = append(result.Conflicts, models.Conflict{
			ConflictingOperationID: against.ID,
			Type:                   models.ConflictDelete,
			Severity:               models.SeverityMedium,
			ResolutionStrategy:     models.ResolutionAuto,
		})

		return
	}

	result.RequiresManualResolution = true
	result.Conflicts = append(result.Conflicts, models.Conflict{
		ConflictingOperationID: against.ID,
		Type:                   models.ConflictDelete,
		Severity:               models.SeverityMedium,
		ResolutionStrategy:     models.ResolutionManual,
	})
}

// resolveSameTarget merges two updates of the same element when their
// property paths are disjoint; otherwise priority decides.
func (e *Engine) resolveSameTarget(result *Result, against *models.Operation) {
	op := result.Transformed

	opPaths := op.TouchedPaths()
	againstPaths := against.TouchedPaths()

	if len(opPaths) > 0 && len(againstPaths) > 0 && !models.PathsOverlap(opPaths, againstPaths) {
		mergeDisjointUpdates(op, against)

		return
	}

	if e.priority == PriorityServer {
		// The already-admitted operand wins: drop the overlapping writes from
		// the incoming one.
		dropOverlappingPaths(op, againstPaths)

		result.Conflicts = append(result.Conflicts, models.Conflict{
			ConflictingOperationID: against.ID,
			Type:                   models.ConflictSameTarget,
			Severity:               models.SeverityMedium,
			ResolutionStrategy:     models.ResolutionAuto,
		})

		return
	}

	result.RequiresManualResolution = true
	result.Conflicts = append(result.Conflicts, models.Conflict{
		ConflictingOperationID: against.ID,
		Type:                   models.ConflictSameTarget,
		Severity:               models.SeverityMedium,
		ResolutionStrategy:     models.ResolutionManual,
	})
}

// resolvePosition nudges the transformed operand sideways so two elements
// dropped on top of each other stay visually distinct.
func (e *Engine) resolvePosition(result *Result, against *models.Operation) {
	offset := positionShiftOffset
	if e.priority != PriorityServer {
		offset = -positionShiftOffset
	}

	pos := *result.Transformed.Position
	pos.X += offset
	result.Transformed.Position = &pos

	result.Conflicts = append(result.Conflicts, models.Conflict{
		ConflictingOperationID: against.ID,
		Type:                   models.ConflictPosition,
		Severity:               models.SeverityLow,
		ResolutionStrategy:     models.ResolutionAuto,
	})
}

// resolveDependency handles an edge write racing the deletion of one of its
// endpoints. The edge cannot be created against a vanishing node, so the edge
// side always needs a manual decision; the delete side cascades cleanly.
func (e *Engine) resolveDependency(result *Result, against *models.Operation) {
	if result.Transformed.Type.IsEdgeWrite() {
		result.RequiresManualResolution = true
		result.Conflicts = append(result.Conflicts, models.Conflict{
			ConflictingOperationID: against.ID,
			Type:                   models.ConflictDependency,
			Severity:               models.SeverityHigh,
			ResolutionStrategy:     models.ResolutionManual,
		})

		return
	}

	result.Conflicts = append(result.Conflicts, models.Conflict{
		ConflictingOperationID: against.ID,
		Type:                   models.ConflictDependency,
		Severity:               models.SeverityHigh,
		ResolutionStrategy:     models.ResolutionAuto,
	})
}

// mergeDisjointUpdates folds both operands' writes into one operation carrying
// the union of their property paths. The merged operand becomes a plain
// update keyed by nested payload instead of a single-path property write.
func mergeDisjointUpdates(op, against *models.Operation) {
	merged := pathValueMap(against)
	for path, value := range pathValueMap(op) {
		setPath(merged, path, value)
	}

	if op.Type == models.OperationPropertyUpdate {
		if op.Target.Type == models.TargetEdge {
			op.Type = models.OperationEdgeUpdate
		} else {
			op.Type = models.OperationNodeUpdate
		}

		op.Target.Path = ""
	}

	op.Data.After = merged
}

// pathValueMap normalizes an operand's writes into a nested path->value map.
func pathValueMap(op *models.Operation) map[string]any {
	out := make(map[string]any)

	if op.Type == models.OperationPropertyUpdate {
		if op.Target.Path != "" {
			setPath(out, op.Target.Path, op.Data.After)
		}

		return out
	}

	if after, ok := op.Data.After.(map[string]any); ok {
		for path, value := range flattenMap("", after) {
			setPath(out, path, value)
		}
	}

	return out
}

// dropOverlappingPaths removes the losing operand's writes for every path the
// winner already touched.
func dropOverlappingPaths(op *models.Operation, winnerPaths []string) {
	if op.Type == models.OperationPropertyUpdate {
		if models.PathsOverlap([]string{op.Target.Path}, winnerPaths) {
			// The whole write is superseded; applying an empty payload is a no-op.
			op.Data.After = map[string]any{}
			if op.Target.Type == models.TargetEdge {
				op.Type = models.OperationEdgeUpdate
			} else {
				op.Type = models.OperationNodeUpdate
			}

			op.Target.Path = ""
		}

		return
	}

	after, ok := op.Data.After.(map[string]any)
	if !ok {
		return
	}

	kept := make(map[string]any)

	for path, value := range flattenMap("", after) {
		if !models.PathsOverlap([]string{path}, winnerPaths) {
			setPath(kept, path, value)
		}
	}

	op.Data.After = kept
}

func flattenMap(prefix string, value map[string]any) map[string]any {
	out := make(map[string]any)

	for key, v := range value {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			for p, nv := range flattenMap(path, nested) {
				out[p] = nv
			}

			continue
		}

		out[path] = v
	}

	return out
}
