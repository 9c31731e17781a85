package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/limbo/cadence/internal/auth"
	"github.com/limbo/cadence/internal/errvalues"
	"github.com/limbo/cadence/internal/remote"
	"github.com/limbo/cadence/pkg/entity"
)

const defaultHabitPageLimit = 200

type CreateHabitRequest struct {
	Name     string          `validate:"required,max=50"`
	Color    entity.Color    `validate:"required,habitcolor"`
	Category entity.Category `validate:"omitempty,habitcategory"`
}

// UpdateHabitPatch carries the fields to change; nil means untouched.
type UpdateHabitPatch struct {
	Name     *string          `validate:"omitempty,min=1,max=50"`
	Color    *entity.Color    `validate:"omitempty,habitcolor"`
	Category *entity.Category `validate:"omitempty,habitcategory"`
	Archived *bool
}

type HabitsOptions struct {
	PageLimit int
	Timeout   time.Duration
	// OnDeleted fires after a habit leaves the mirror for good (local
	// delete confirmed or deleted push event applied), so completions
	// for it can be dropped without waiting on the server cascade.
	OnDeleted func(habitID string)
}

// Habits mirrors the habits collection for the signed-in user.
type Habits struct {
	mirror    *Mirror[entity.Habit]
	session   *auth.Session
	pageLimit int
	onDeleted func(habitID string)
}

func NewHabits(client remote.Client, session *auth.Session, opts HabitsOptions) *Habits {
	pageLimit := opts.PageLimit
	if pageLimit <= 0 {
		pageLimit = defaultHabitPageLimit
	}
	return &Habits{
		mirror:    newMirror[entity.Habit](remote.CollectionHabits, client, session, opts.Timeout),
		session:   session,
		pageLimit: pageLimit,
		onDeleted: opts.OnDeleted,
	}
}

// Load fetches all of the user's habits in one bounded page.
func (h *Habits) Load(ctx context.Context) error {
	return h.mirror.Load(ctx, remote.ListOptions{
		Filter: remote.Filter{remote.Eq("user_id", h.session.UserID())},
		Sort:   "created_at",
		Order:  "asc",
		Limit:  h.pageLimit,
	})
}

func (h *Habits) Create(ctx context.Context, req CreateHabitRequest) (entity.Habit, error) {
	if req.Category == "" {
		req.Category = entity.CategoryOther
	}
	if err := initValidator().Struct(req); err != nil {
		return entity.Habit{}, fmt.Errorf("invalid habit: %w", err)
	}
	now := time.Now().UTC()
	temp := entity.Habit{
		ID:        entity.NewLocalID(),
		UserID:    h.session.UserID(),
		Name:      req.Name,
		Color:     req.Color,
		Category:  req.Category,
		CreatedAt: now,
		UpdatedAt: now,
	}
	fields := map[string]any{
		"user_id":  temp.UserID,
		"name":     req.Name,
		"color":    req.Color,
		"category": req.Category,
		"archived": false,
	}
	return h.mirror.Create(ctx, temp, fields)
}

func (h *Habits) Update(ctx context.Context, id string, patch UpdateHabitPatch) error {
	if err := initValidator().Struct(patch); err != nil {
		return fmt.Errorf("invalid habit patch: %w", err)
	}
	fields := map[string]any{}
	if patch.Name != nil {
		fields["name"] = *patch.Name
	}
	if patch.Color != nil {
		fields["color"] = *patch.Color
	}
	if patch.Category != nil {
		fields["category"] = *patch.Category
	}
	if patch.Archived != nil {
		fields["archived"] = *patch.Archived
	}
	if len(fields) == 0 {
		return nil
	}
	return h.mirror.Update(ctx, id, fields, func(habit entity.Habit) entity.Habit {
		if patch.Name != nil {
			habit.Name = *patch.Name
		}
		if patch.Color != nil {
			habit.Color = *patch.Color
		}
		if patch.Category != nil {
			habit.Category = *patch.Category
		}
		if patch.Archived != nil {
			habit.Archived = *patch.Archived
		}
		habit.UpdatedAt = time.Now().UTC()
		return habit
	})
}

// Archive toggles the archived flag. Archived habits leave the active
// view but keep their completion history.
func (h *Habits) Archive(ctx context.Context, id string, archived bool) error {
	return h.Update(ctx, id, UpdateHabitPatch{Archived: &archived})
}

func (h *Habits) Delete(ctx context.Context, id string) error {
	habit, ok := h.mirror.Find(id)
	if !ok {
		return errvalues.ErrNotFound
	}
	if habit.UserID != h.session.UserID() {
		return errvalues.ErrWrongOwner
	}
	if err := h.mirror.Delete(ctx, id); err != nil {
		return err
	}
	if h.onDeleted != nil {
		h.onDeleted(id)
	}
	return nil
}

// Subscribe routes habit push events into the mirror.
func (h *Habits) Subscribe() error {
	filter := remote.Filter{remote.Eq("user_id", h.session.UserID())}
	return h.mirror.Subscribe(filter, h.HandleEvent)
}

// HandleEvent merges one push event, firing the cascade hook for
// deletions that survive reconciliation.
func (h *Habits) HandleEvent(event remote.Event) {
	_, presentBefore := h.findEventTarget(event)
	h.mirror.OnEvent(event)
	if event.Action != remote.ActionDeleted || h.onDeleted == nil {
		return
	}
	if id, presentAfter := h.findEventTarget(event); presentBefore && !presentAfter {
		h.onDeleted(id)
	}
}

func (h *Habits) findEventTarget(event remote.Event) (string, bool) {
	probe := struct {
		ID string `json:"id"`
	}{}
	if err := sonic.Unmarshal(event.Record, &probe); err != nil || probe.ID == "" {
		return "", false
	}
	_, ok := h.mirror.Find(probe.ID)
	return probe.ID, ok
}

// All returns every mirrored habit in display order.
func (h *Habits) All() []entity.Habit {
	return h.mirror.Items()
}

// Active excludes archived habits.
func (h *Habits) Active() []entity.Habit {
	active := []entity.Habit{}
	for _, habit := range h.mirror.Items() {
		if !habit.Archived {
			active = append(active, habit)
		}
	}
	return active
}

func (h *Habits) Find(id string) (entity.Habit, bool) { return h.mirror.Find(id) }
func (h *Habits) Loading() bool                       { return h.mirror.Loading() }
func (h *Habits) Err() error                          { return h.mirror.Err() }
func (h *Habits) Reset()                              { h.mirror.Reset() }
