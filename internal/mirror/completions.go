package mirror

import (
	"context"
	"time"

	"github.com/limbo/cadence/internal/auth"
	"github.com/limbo/cadence/internal/errvalues"
	"github.com/limbo/cadence/internal/remote"
	"github.com/limbo/cadence/pkg/calendar"
	"github.com/limbo/cadence/pkg/entity"
)

const (
	defaultWindowDays          = 90
	defaultCompletionPageLimit = 200
)

type CompletionsOptions struct {
	// WindowDays bounds the display fetch; LoadHistory ignores it.
	WindowDays int
	PageLimit  int
	Timeout    time.Duration
}

// Completions mirrors the habit_completions collection for the
// signed-in user. At most one completion exists per habit and day;
// Toggle keeps that invariant on the client by checking before
// creating, and the store enforces it authoritatively.
type Completions struct {
	mirror     *Mirror[entity.Completion]
	session    *auth.Session
	locks      *keyLocks
	windowDays int
	pageLimit  int
}

func NewCompletions(client remote.Client, session *auth.Session, opts CompletionsOptions) *Completions {
	windowDays := opts.WindowDays
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	pageLimit := opts.PageLimit
	if pageLimit <= 0 {
		pageLimit = defaultCompletionPageLimit
	}
	return &Completions{
		mirror:     newMirror[entity.Completion](remote.CollectionCompletions, client, session, opts.Timeout),
		session:    session,
		locks:      newKeyLocks(),
		windowDays: windowDays,
		pageLimit:  pageLimit,
	}
}

// Load fetches the rolling recent window used for normal display.
func (c *Completions) Load(ctx context.Context) error {
	windowStart := calendar.Today().AddDays(1 - c.windowDays)
	return c.mirror.Load(ctx, remote.ListOptions{
		Filter: remote.Filter{
			remote.Eq("user_id", c.session.UserID()),
			remote.Gte("completed_date", windowStart.String()),
		},
		Sort:  "completed_date",
		Order: "desc",
		Limit: c.pageLimit,
	})
}

// LoadHistory retrieves the user's complete completion history across
// pages until exhaustion, for statistics and export callers. Mirror
// state is untouched.
func (c *Completions) LoadHistory(ctx context.Context) ([]entity.Completion, error) {
	return c.mirror.LoadAll(ctx, remote.ListOptions{
		Filter: remote.Filter{remote.Eq("user_id", c.session.UserID())},
		Sort:   "completed_date",
		Order:  "asc",
		Limit:  c.pageLimit,
	})
}

// Toggle creates the completion for (habitID, day) if absent, deletes
// it if present, and reports whether the day ended up completed.
// Mutations for the same key are serialized: a second rapid toggle
// waits for the in-flight one and then flips its result, instead of
// racing it into a duplicate record.
func (c *Completions) Toggle(ctx context.Context, habitID string, day calendar.Day) (bool, error) {
	if !c.session.Authenticated() {
		return false, errvalues.ErrAuthRequired
	}
	if day.After(calendar.Today()) {
		return false, errvalues.ErrFutureDate
	}
	release := c.locks.acquire(habitID + "|" + day.String())
	defer release()

	if existing, ok := c.findByDay(habitID, day); ok {
		if err := c.mirror.Delete(ctx, existing.ID); err != nil {
			return true, err
		}
		return false, nil
	}
	temp := entity.Completion{
		ID:            entity.NewLocalID(),
		HabitID:       habitID,
		UserID:        c.session.UserID(),
		CompletedDate: day,
		CreatedAt:     time.Now().UTC(),
	}
	fields := map[string]any{
		"habit_id":       habitID,
		"user_id":        temp.UserID,
		"completed_date": day,
	}
	if _, err := c.mirror.Create(ctx, temp, fields); err != nil {
		return false, err
	}
	return true, nil
}

// ByHabit returns the mirrored completions for one habit.
func (c *Completions) ByHabit(habitID string) []entity.Completion {
	matched := []entity.Completion{}
	for _, completion := range c.mirror.Items() {
		if completion.HabitID == habitID {
			matched = append(matched, completion)
		}
	}
	return matched
}

func (c *Completions) CompletedOn(habitID string, day calendar.Day) bool {
	_, ok := c.findByDay(habitID, day)
	return ok
}

// DropByHabit purges completions for a deleted habit from the mirror.
// The server cascades the real delete; the client must not present
// orphans in the meantime.
func (c *Completions) DropByHabit(habitID string) {
	c.mirror.mu.Lock()
	defer c.mirror.mu.Unlock()
	kept := c.mirror.items[:0]
	for _, completion := range c.mirror.items {
		if completion.HabitID != habitID {
			kept = append(kept, completion)
		}
	}
	c.mirror.items = kept
}

func (c *Completions) Subscribe() error {
	filter := remote.Filter{remote.Eq("user_id", c.session.UserID())}
	return c.mirror.Subscribe(filter, nil)
}

func (c *Completions) findByDay(habitID string, day calendar.Day) (entity.Completion, bool) {
	for _, completion := range c.mirror.Items() {
		if completion.HabitID == habitID && calendar.SameDay(completion.CompletedDate, day) {
			return completion, true
		}
	}
	return entity.Completion{}, false
}

func (c *Completions) All() []entity.Completion { return c.mirror.Items() }
func (c *Completions) Loading() bool            { return c.mirror.Loading() }
func (c *Completions) Err() error               { return c.mirror.Err() }
func (c *Completions) Reset()                   { c.mirror.Reset() }

// HandleEvent merges one push event into the mirror.
func (c *Completions) HandleEvent(event remote.Event) { c.mirror.OnEvent(event) }
