// Package presence tracks ephemeral per-user visual state (cursors,
// selections, active areas) per workflow and degrades it over time.
package presence

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/KlikkAI/reporunner-collab/pkg/eventbus"
	"github.com/KlikkAI/reporunner-collab/pkg/events"
	"github.com/KlikkAI/reporunner-collab/pkg/models"
)

// ErrNotTracked is returned when updating presence for a user that never
// joined the workflow's presence room.
var ErrNotTracked = errors.New("user presence is not tracked")

// Presence degradation thresholds. The sweep runs every 30 seconds, so a
// transition lands at most 30 seconds after its threshold.
const (
	idleAfter   = 2 * time.Minute
	awayAfter   = 5 * time.Minute
	removeAfter = 15 * time.Minute

	sweepSchedule = "@every 30s"
)

// palette holds the cursor colors handed out to collaborators, in assignment
// order. When a room exhausts it, colors repeat deterministically per user.
var palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FBC", "#85C1E9",
}

type room struct {
	users map[string]*models.UserPresence
}

// Tracker keeps one presence room per workflow. All state is in-memory;
// presence is rebuilt from client reconnects after a restart.
type Tracker struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	cron      *cron.Cron
	now       func() time.Time

	mu    sync.RWMutex
	rooms map[string]*room
}

// Stats summarizes a workflow's presence room.
type Stats struct {
	WorkflowID string                        `json:"workflow_id"`
	Total      int                           `json:"total"`
	ByStatus   map[models.PresenceStatus]int `json:"by_status"`
	ByArea     map[models.ActiveAreaType]int `json:"by_area"`
}

func NewTracker(publisher eventbus.EventPublisher, logger *slog.Logger) *Tracker {
	t := &Tracker{
		publisher: publisher,
		logger:    logger.With("module", "presence"),
		cron:      cron.New(),
		now:       func() time.Time { return time.Now().UTC() },
		rooms:     make(map[string]*room),
	}

	// The schedule is a package constant; registration cannot fail.
	_, _ = t.cron.AddFunc(sweepSchedule, func() {
		t.Sweep(context.Background())
	})

	return t
}

// Start begins the periodic idle sweep.
func (t *Tracker) Start() {
	t.cron.Start()
}

// Stop halts the idle sweep and waits for a running sweep to finish.
func (t *Tracker) Stop() {
	<-t.cron.Stop().Done()
}

// Join registers a user in the workflow's presence room and announces it.
// Rejoining refreshes the connection but keeps the assigned color.
func (t *Tracker) Join(ctx context.Context, workflowID, userID, connectionID string) *models.UserPresence {
	t.mu.Lock()

	r, ok := t.rooms[workflowID]
	if !ok {
		r = &room{users: make(map[string]*models.UserPresence)}
		t.rooms[workflowID] = r
	}

	now := t.now()

	presence, ok := r.users[userID]
	if ok {
		presence.ConnectionID = connectionID
		presence.Status = models.PresenceActive
		presence.LastActivity = now
	} else {
		presence = &models.UserPresence{
			UserID:           userID,
			WorkflowID:       workflowID,
			ConnectionID:     connectionID,
			Status:           models.PresenceActive,
			Color:            t.assignColor(r, userID),
			LastActivity:     now,
			SessionStartTime: now,
		}
		r.users[userID] = presence
	}

	snapshot := *presence
	t.mu.Unlock()

	t.publish(ctx, workflowID, connectionID, events.UserJoined{
		BaseEvent: events.NewBaseEvent(events.UserJoinedEvent, workflowID),
		UserID:    userID,
		Presence:  &snapshot,
	})

	return &snapshot
}

// Leave removes a user from the workflow's presence room and announces it
// with the given reason ("disconnect", "inactive", "session_ended").
func (t *Tracker) Leave(ctx context.Context, workflowID, userID, reason string) {
	t.mu.Lock()

	r, ok := t.rooms[workflowID]
	if !ok {
		t.mu.Unlock()
		return
	}

	presence, ok := r.users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}

	delete(r.users, userID)

	if len(r.users) == 0 {
		delete(t.rooms, workflowID)
	}

	connectionID := presence.ConnectionID
	t.mu.Unlock()

	t.publish(ctx, workflowID, connectionID, events.UserLeft{
		BaseEvent: events.NewBaseEvent(events.UserLeftEvent, workflowID),
		UserID:    userID,
		Reason:    reason,
	})
}

// UpdateCursor records a cursor position and broadcasts it. Any presence
// update counts as activity and revives idle or away users.
func (t *Tracker) UpdateCursor(ctx context.Context, workflowID, userID string, cursor *models.Cursor) error {
	presence, revived, err := t.touch(workflowID, userID, func(p *models.UserPresence) {
		p.Cursor = cursor
	})
	if err != nil {
		return err
	}

	t.publish(ctx, workflowID, presence.ConnectionID, events.CursorMoved{
		BaseEvent: events.NewBaseEvent(events.CursorMovedEvent, workflowID),
		UserID:    userID,
		Cursor:    cursor,
		Color:     presence.Color,
	})

	t.announceRevival(ctx, workflowID, presence, revived)

	return nil
}

// UpdateSelection records the user's selected elements and broadcasts it.
func (t *Tracker) UpdateSelection(ctx context.Context, workflowID, userID string, selection *models.Selection) error {
	presence, revived, err := t.touch(workflowID, userID, func(p *models.UserPresence) {
		p.Selection = selection
	})
	if err != nil {
		return err
	}

	t.publish(ctx, workflowID, presence.ConnectionID, events.SelectionChanged{
		BaseEvent: events.NewBaseEvent(events.SelectionChangedEvent, workflowID),
		UserID:    userID,
		Selection: selection,
		Color:     presence.Color,
	})

	t.announceRevival(ctx, workflowID, presence, revived)

	return nil
}

// UpdateActiveArea records which editor surface the user is focused on.
func (t *Tracker) UpdateActiveArea(ctx context.Context, workflowID, userID string, area *models.ActiveArea) error {
	presence, revived, err := t.touch(workflowID, userID, func(p *models.UserPresence) {
		p.ActiveArea = area
	})
	if err != nil {
		return err
	}

	t.publish(ctx, workflowID, presence.ConnectionID, events.AreaChanged{
		BaseEvent:  events.NewBaseEvent(events.AreaChangedEvent, workflowID),
		UserID:     userID,
		ActiveArea: area,
	})

	t.announceRevival(ctx, workflowID, presence, revived)

	return nil
}

// SetStatus sets a user's status explicitly, e.g. a client marking itself
// away. Broadcasts only when the status actually changes.
func (t *Tracker) SetStatus(ctx context.Context, workflowID, userID string, status models.PresenceStatus) error {
	t.mu.Lock()

	presence, err := t.lookupLocked(workflowID, userID)
	if err != nil {
		t.mu.Unlock()
		return err
	}

	changed := presence.Status != status
	presence.Status = status
	presence.LastActivity = t.now()
	connectionID := presence.ConnectionID
	t.mu.Unlock()

	if changed {
		t.publish(ctx, workflowID, connectionID, events.StatusChanged{
			BaseEvent: events.NewBaseEvent(events.StatusChangedEvent, workflowID),
			UserID:    userID,
			Status:    status,
		})
	}

	return nil
}

// Get returns a snapshot of every tracked user in the workflow's room.
func (t *Tracker) Get(workflowID string) []*models.UserPresence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rooms[workflowID]
	if !ok {
		return nil
	}

	users := make([]*models.UserPresence, 0, len(r.users))

	for _, presence := range r.users {
		snapshot := *presence
		users = append(users, &snapshot)
	}

	return users
}

// GetUser returns a snapshot of one user's presence, or nil.
func (t *Tracker) GetUser(workflowID, userID string) *models.UserPresence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rooms[workflowID]
	if !ok {
		return nil
	}

	presence, ok := r.users[userID]
	if !ok {
		return nil
	}

	snapshot := *presence

	return &snapshot
}

// Stats aggregates the workflow's room by status and active area.
func (t *Tracker) Stats(workflowID string) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{
		WorkflowID: workflowID,
		ByStatus:   make(map[models.PresenceStatus]int),
		ByArea:     make(map[models.ActiveAreaType]int),
	}

	r, ok := t.rooms[workflowID]
	if !ok {
		return stats
	}

	stats.Total = len(r.users)

	for _, presence := range r.users {
		stats.ByStatus[presence.Status]++

		if presence.ActiveArea != nil {
			stats.ByArea[presence.ActiveArea.Type]++
		}
	}

	return stats
}

// Sweep degrades presence by time since last activity: idle after 2 minutes,
// away after 5, removed after 15. Transitions are broadcast once; users who
// cross the removal threshold leave with reason "inactive".
func (t *Tracker) Sweep(ctx context.Context) {
	type transition struct {
		workflowID   string
		userID       string
		connectionID string
		status       models.PresenceStatus
		removed      bool
	}

	now := t.now()

	t.mu.Lock()

	var transitions []transition

	for workflowID, r := range t.rooms {
		for userID, presence := range r.users {
			age := now.Sub(presence.LastActivity)

			if age > removeAfter {
				delete(r.users, userID)
				transitions = append(transitions, transition{
					workflowID:   workflowID,
					userID:       userID,
					connectionID: presence.ConnectionID,
					removed:      true,
				})

				continue
			}

			status := statusForAge(age)
			if status != presence.Status {
				presence.Status = status
				transitions = append(transitions, transition{
					workflowID:   workflowID,
					userID:       userID,
					connectionID: presence.ConnectionID,
					status:       status,
				})
			}
		}

		if len(r.users) == 0 {
			delete(t.rooms, workflowID)
		}
	}

	t.mu.Unlock()

	for _, tr := range transitions {
		if tr.removed {
			t.logger.InfoContext(ctx, "Removed inactive collaborator",
				"workflow_id", tr.workflowID, "user_id", tr.userID)

			t.publish(ctx, tr.workflowID, tr.connectionID, events.UserLeft{
				BaseEvent: events.NewBaseEvent(events.UserLeftEvent, tr.workflowID),
				UserID:    tr.userID,
				Reason:    "inactive",
			})

			continue
		}

		t.publish(ctx, tr.workflowID, tr.connectionID, events.StatusChanged{
			BaseEvent: events.NewBaseEvent(events.StatusChangedEvent, tr.workflowID),
			UserID:    tr.userID,
			Status:    tr.status,
		})
	}
}

func statusForAge(age time.Duration) models.PresenceStatus {
	switch {
	case age > awayAfter:
		return models.PresenceAway
	case age > idleAfter:
		return models.PresenceIdle
	default:
		return models.PresenceActive
	}
}

// touch applies a mutation, refreshes activity, and reports whether the user
// transitioned back to active.
func (t *Tracker) touch(
	workflowID, userID string,
	mutate func(*models.UserPresence),
) (*models.UserPresence, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	presence, err := t.lookupLocked(workflowID, userID)
	if err != nil {
		return nil, false, err
	}

	mutate(presence)

	revived := presence.Status != models.PresenceActive
	presence.Status = models.PresenceActive
	presence.LastActivity = t.now()

	snapshot := *presence

	return &snapshot, revived, nil
}

func (t *Tracker) lookupLocked(workflowID, userID string) (*models.UserPresence, error) {
	r, ok := t.rooms[workflowID]
	if !ok {
		return nil, ErrNotTracked
	}

	presence, ok := r.users[userID]
	if !ok {
		return nil, ErrNotTracked
	}

	return presence, nil
}

func (t *Tracker) announceRevival(ctx context.Context, workflowID string, presence *models.UserPresence, revived bool) {
	if !revived {
		return
	}

	t.publish(ctx, workflowID, presence.ConnectionID, events.StatusChanged{
		BaseEvent: events.NewBaseEvent(events.StatusChangedEvent, workflowID),
		UserID:    presence.UserID,
		Status:    models.PresenceActive,
	})
}

// assignColor hands out the first unused palette color; a full room falls
// back to a stable hash of the user ID so rejoins keep their color.
func (t *Tracker) assignColor(r *room, userID string) string {
	used := make(map[string]bool, len(r.users))

	for _, presence := range r.users {
		used[presence.Color] = true
	}

	for _, color := range palette {
		if !used[color] {
			return color
		}
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))

	return palette[h.Sum32()%uint32(len(palette))]
}

func (t *Tracker) publish(ctx context.Context, workflowID, origin string, event eventbus.Event) {
	if t.publisher == nil {
		return
	}

	if err := t.publisher.Publish(ctx, workflowID, origin, event); err != nil {
		t.logger.ErrorContext(ctx, "Failed to publish presence event",
			"workflow_id", workflowID, "event", event.GetType(), "error", err)
	}
}
