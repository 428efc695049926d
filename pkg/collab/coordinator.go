// Package collab coordinates operation admission: validation, membership
// checks, transformation against concurrent operations, application to the
// canonical document, and broadcast.
package collab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/KlikkAI/reporunner-collab/pkg/eventbus"
	"github.com/KlikkAI/reporunner-collab/pkg/events"
	"github.com/KlikkAI/reporunner-collab/pkg/models"
	"github.com/KlikkAI/reporunner-collab/pkg/otelhelper"
	"github.com/KlikkAI/reporunner-collab/pkg/persistence"
	"github.com/KlikkAI/reporunner-collab/pkg/session"
	"github.com/KlikkAI/reporunner-collab/pkg/transform"
)

// SubmitResult is the author's acknowledgment: the transformed operation as
// admitted, plus everything it conflicted with on the way in.
type SubmitResult struct {
	Operation                *models.Operation `json:"operation"`
	Conflicts                []models.Conflict `json:"conflicts,omitempty"`
	RequiresManualResolution bool              `json:"requires_manual_resolution"`
	DocumentVersion          int64             `json:"document_version"`
}

// Snapshot is a consistent view of a workflow document for client resync.
type Snapshot struct {
	Document          *models.GraphDocument `json:"document"`
	Sequence          int64                 `json:"sequence"`
	PendingOperations []*models.Operation   `json:"pending_operations,omitempty"`
}

type submitReply struct {
	result   *SubmitResult
	snapshot *Snapshot
	err      error
}

type request struct {
	ctx        context.Context
	workflowID string
	op         *models.Operation // nil for a snapshot request
	reply      chan submitReply
}

// workflowState is owned exclusively by its worker goroutine after creation.
type workflowState struct {
	workflowID string
	requests   chan request

	loaded   bool
	doc      *models.GraphDocument
	sequence int64
	applied  []*models.Operation
	pending  []*models.Operation
	seen     map[string]*SubmitResult
}

// Coordinator serializes all mutations of one workflow through a single
// worker goroutine, which makes the per-workflow sequence counter and the
// transform-then-apply step atomic without document-level locking.
type Coordinator struct {
	sessions    *session.Manager
	engine      *transform.Engine
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	validator   *operationValidator
	tracer      trace.Tracer
	logger      *slog.Logger

	mu        sync.Mutex
	workflows map[string]*workflowState
	closed    bool
	wg        sync.WaitGroup
}

func NewCoordinator(
	sessions *session.Manager,
	engine *transform.Engine,
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) (*Coordinator, error) {
	v, err := newOperationValidator()
	if err != nil {
		return nil, err
	}

	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("collab")
	}

	return &Coordinator{
		sessions:    sessions,
		engine:      engine,
		persistence: persistence,
		publisher:   publisher,
		validator:   v,
		tracer:      tracer,
		logger:      logger.With("module", "collab"),
		workflows:   make(map[string]*workflowState),
	}, nil
}

// Submit admits one operation: validate, check membership and role, then hand
// it to the workflow's worker for transform, apply, persist, and broadcast.
// Resubmitting the same operation ID returns the original result.
func (c *Coordinator) Submit(ctx context.Context, op *models.Operation) (*SubmitResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "collab.submit",
		attribute.String(otelhelper.WorkflowIDKey, op.WorkflowID),
		attribute.String(otelhelper.OperationTypeKey, string(op.Type)),
		attribute.String(otelhelper.AuthorIDKey, op.AuthorID),
	)
	defer span.End()

	if err := c.validator.Validate(op); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if err := c.authorize(ctx, op); err != nil {
		otelhelper.SetError(span, err)
		c.rejectOperation(ctx, op, err)

		return nil, err
	}

	if op.ID == "" {
		op.ID = uuid.New().String()
	}

	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	reply, err := c.dispatch(ctx, request{
		ctx:        ctx,
		workflowID: op.WorkflowID,
		op:         op,
		reply:      make(chan submitReply, 1),
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if reply.err != nil {
		otelhelper.SetError(span, reply.err)
		c.rejectOperation(ctx, op, reply.err)

		return nil, reply.err
	}

	span.SetAttributes(
		attribute.Int64(otelhelper.SequenceKey, reply.result.Operation.Sequence),
		attribute.Int(otelhelper.ConflictCountKey, len(reply.result.Conflicts)),
	)

	return reply.result, nil
}

// Resync returns the canonical document, the current sequence, and any
// operations still awaiting manual resolution.
func (c *Coordinator) Resync(ctx context.Context, workflowID string) (*Snapshot, error) {
	reply, err := c.dispatch(ctx, request{
		ctx:        ctx,
		workflowID: workflowID,
		reply:      make(chan submitReply, 1),
	})
	if err != nil {
		return nil, err
	}

	if reply.err != nil {
		return nil, reply.err
	}

	return reply.snapshot, nil
}

// Close stops every workflow worker and waits for in-flight requests to
// finish. An operation already picked up by a worker completes its persist
// and broadcast before the worker exits.
func (c *Coordinator) Close() {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return
	}

	c.closed = true

	for _, w := range c.workflows {
		close(w.requests)
	}

	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Coordinator) authorize(ctx context.Context, op *models.Operation) error {
	active, err := c.sessions.GetActive(ctx, op.WorkflowID)
	if err != nil {
		return err
	}

	if op.SessionID != "" && op.SessionID != active.ID {
		return ErrWorkflowMismatch
	}

	op.SessionID = active.ID

	participant := active.FindParticipant(op.AuthorID)
	if participant == nil || !participant.IsActive {
		return session.ErrNotParticipant
	}

	if !participant.Role.CanEdit() {
		return session.ErrViewerCannotEdit
	}

	return nil
}

func (c *Coordinator) dispatch(ctx context.Context, req request) (submitReply, error) {
	w, err := c.worker(req.workflowID)
	if err != nil {
		return submitReply{}, err
	}

	select {
	case w.requests <- req:
	case <-ctx.Done():
		return submitReply{}, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply, nil
	case <-ctx.Done():
		return submitReply{}, ctx.Err()
	}
}

func (c *Coordinator) worker(workflowID string) (*workflowState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	w, ok := c.workflows[workflowID]
	if !ok {
		w = &workflowState{
			workflowID: workflowID,
			requests:   make(chan request, 64),
			doc:        models.NewGraphDocument(workflowID),
			seen:       make(map[string]*SubmitResult),
		}
		c.workflows[workflowID] = w

		c.wg.Add(1)

		go c.run(w)
	}

	return w, nil
}

// run is the single writer for one workflow. Everything that touches the
// document or the sequence counter happens here.
func (c *Coordinator) run(w *workflowState) {
	defer c.wg.Done()

	for req := range w.requests {
		if !w.loaded {
			if err := c.hydrate(req.ctx, w); err != nil {
				req.reply <- submitReply{err: err}

				continue
			}

			w.loaded = true
		}

		if req.op == nil {
			req.reply <- submitReply{snapshot: c.snapshot(w)}

			continue
		}

		result, err := c.admit(req.ctx, w, req.op)
		req.reply <- submitReply{result: result, err: err}
	}
}

// hydrate rebuilds the in-memory document and sequence counter by replaying
// the workflow's persisted operation trail.
func (c *Coordinator) hydrate(ctx context.Context, w *workflowState) error {
	operations, err := c.persistence.OperationRepository().ListByWorkflow(ctx, w.workflowID, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("failed to replay operations for workflow %s: %w", w.workflowID, err)
	}

	for _, op := range operations {
		if op.Sequence > w.sequence {
			w.sequence = op.Sequence
		}

		switch op.Status {
		case models.OperationStatusApplied:
			next, applyErr := transform.Apply(w.doc, op)
			if applyErr != nil {
				return fmt.Errorf("failed to replay operation %s: %w", op.ID, applyErr)
			}

			w.doc = next
			w.applied = append(w.applied, op)
		case models.OperationStatusPending:
			w.pending = append(w.pending, op)
		default:
		}

		w.seen[op.ID] = &SubmitResult{
			Operation:                op,
			Conflicts:                op.Conflicts,
			RequiresManualResolution: op.Status == models.OperationStatusPending,
			DocumentVersion:          w.doc.Version,
		}
	}

	if len(operations) > 0 {
		c.logger.Info("Rehydrated workflow document",
			"workflow_id", w.workflowID, "operations", len(operations), "sequence", w.sequence)
	}

	return nil
}

func (c *Coordinator) admit(ctx context.Context, w *workflowState, op *models.Operation) (*SubmitResult, error) {
	if prior, ok := w.seen[op.ID]; ok {
		return prior, nil
	}

	result := c.engine.TransformSequence(op, c.intervening(w, op.BaseSequence))

	admitted := result.Transformed
	w.sequence++
	admitted.Sequence = w.sequence

	if result.RequiresManualResolution {
		admitted.Status = models.OperationStatusPending
		w.pending = append(w.pending, admitted)
	} else {
		next, err := transform.Apply(w.doc, admitted)
		if err != nil {
			w.sequence--

			return nil, fmt.Errorf("failed to apply operation %s: %w", admitted.ID, err)
		}

		admitted.Status = models.OperationStatusApplied
		w.doc = next
		w.applied = append(w.applied, admitted)
	}

	if err := c.persistence.OperationRepository().Save(ctx, admitted); err != nil {
		return nil, fmt.Errorf("failed to persist operation %s: %w", admitted.ID, err)
	}

	submitResult := &SubmitResult{
		Operation:                admitted,
		Conflicts:                result.Conflicts,
		RequiresManualResolution: result.RequiresManualResolution,
		DocumentVersion:          w.doc.Version,
	}
	w.seen[op.ID] = submitResult

	c.logger.InfoContext(ctx, "Admitted operation",
		"workflow_id", w.workflowID, "operation_id", admitted.ID, "type", admitted.Type,
		"sequence", admitted.Sequence, "conflicts", len(result.Conflicts),
		"manual_resolution", result.RequiresManualResolution)

	c.publish(ctx, w.workflowID, events.OperationApplied{
		BaseEvent:                events.NewBaseEvent(events.OperationAppliedEvent, w.workflowID),
		Operation:                admitted,
		Conflicts:                result.Conflicts,
		RequiresManualResolution: result.RequiresManualResolution,
		DocumentVersion:          w.doc.Version,
	})

	return submitResult, nil
}

// intervening returns the applied operations the author had not seen, in
// server order. Pending operations are excluded: they never changed the
// document, so there is nothing to transform against.
func (c *Coordinator) intervening(w *workflowState, baseSequence int64) []*models.Operation {
	var out []*models.Operation

	for _, op := range w.applied {
		if op.Sequence > baseSequence {
			out = append(out, op)
		}
	}

	return out
}

func (c *Coordinator) snapshot(w *workflowState) *Snapshot {
	pending := make([]*models.Operation, len(w.pending))
	for i, op := range w.pending {
		pending[i] = op.Clone()
	}

	return &Snapshot{
		Document:          w.doc.Clone(),
		Sequence:          w.sequence,
		PendingOperations: pending,
	}
}

func (c *Coordinator) rejectOperation(ctx context.Context, op *models.Operation, cause error) {
	c.publish(ctx, op.WorkflowID, events.OperationRejected{
		BaseEvent:   events.NewBaseEvent(events.OperationRejectedEvent, op.WorkflowID),
		OperationID: op.ID,
		AuthorID:    op.AuthorID,
		Reason:      cause.Error(),
	})
}

func (c *Coordinator) publish(ctx context.Context, workflowID string, event eventbus.Event) {
	if c.publisher == nil {
		return
	}

	if err := c.publisher.Publish(ctx, workflowID, "", event); err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish collaboration event",
			"workflow_id", workflowID, "event", event.GetType(), "error", err)
	}
}
