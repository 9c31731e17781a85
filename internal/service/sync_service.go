package service

import (
	"context"
	"log"
	"log/slog"
	"sync"

	"github.com/limbo/cadence/internal/auth"
	"github.com/limbo/cadence/internal/errvalues"
	"github.com/limbo/cadence/internal/mirror"
	"github.com/limbo/cadence/internal/remote"
	"github.com/limbo/cadence/internal/streak"
	"github.com/limbo/cadence/pkg/entity"
)

type Options struct {
	Habits      mirror.HabitsOptions
	Completions mirror.CompletionsOptions
}

// SyncService owns the two mirrors for the active session: it loads
// them on start, routes push subscriptions, cascades habit deletions
// into the completions mirror and discards everything on sign-out or
// user switch.
type SyncService struct {
	session     *auth.Session
	habits      *mirror.Habits
	completions *mirror.Completions
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
	userID  string
}

// New wires the service. The remote client is an explicit dependency
// so tests can supply a double; there is no package-level client.
func New(client remote.Client, session *auth.Session, opts Options) *SyncService {
	if client == nil || session == nil {
		log.Fatal("sync service provided nil client or session")
	}
	s := &SyncService{
		session: session,
		logger:  slog.Default().With(slog.String("component", "sync")),
	}
	habitsOpts := opts.Habits
	habitsOpts.OnDeleted = s.cascadeHabitDelete
	s.habits = mirror.NewHabits(client, session, habitsOpts)
	s.completions = mirror.NewCompletions(client, session, opts.Completions)
	session.OnChange(s.onAuthChange)
	return s
}

// Start loads both mirrors and opens their push subscriptions. Refuses
// to run unauthenticated.
func (s *SyncService) Start(ctx context.Context) error {
	if !s.session.Authenticated() {
		return errvalues.ErrAuthRequired
	}
	if err := s.habits.Load(ctx); err != nil {
		return err
	}
	if err := s.completions.Load(ctx); err != nil {
		return err
	}
	if err := s.habits.Subscribe(); err != nil {
		return err
	}
	if err := s.completions.Subscribe(); err != nil {
		return err
	}
	s.mu.Lock()
	s.started = true
	s.userID = s.session.UserID()
	s.mu.Unlock()
	s.logger.Info("sync started", slog.String("uid", s.session.UserID()))
	return nil
}

// Stop tears both mirrors down entirely.
func (s *SyncService) Stop() {
	s.mu.Lock()
	wasStarted := s.started
	s.started = false
	s.userID = ""
	s.mu.Unlock()
	s.habits.Reset()
	s.completions.Reset()
	if wasStarted {
		s.logger.Info("sync stopped")
	}
}

func (s *SyncService) Habits() *mirror.Habits           { return s.habits }
func (s *SyncService) Completions() *mirror.Completions { return s.completions }

// Stats derives the streak numbers for one habit from the mirrored
// completion window.
func (s *SyncService) Stats(habitID string) (entity.HabitStats, error) {
	if _, ok := s.habits.Find(habitID); !ok {
		return entity.HabitStats{}, errvalues.ErrNotFound
	}
	return streak.Stats(habitID, s.completions.ByHabit(habitID)), nil
}

// FullStats is Stats over the complete unwindowed history, so longest
// streaks older than the display window are counted.
func (s *SyncService) FullStats(ctx context.Context, habitID string) (entity.HabitStats, error) {
	if _, ok := s.habits.Find(habitID); !ok {
		return entity.HabitStats{}, errvalues.ErrNotFound
	}
	history, err := s.completions.LoadHistory(ctx)
	if err != nil {
		return entity.HabitStats{}, err
	}
	matched := []entity.Completion{}
	for _, completion := range history {
		if completion.HabitID == habitID {
			matched = append(matched, completion)
		}
	}
	return streak.Stats(habitID, matched), nil
}

func (s *SyncService) cascadeHabitDelete(habitID string) {
	s.completions.DropByHabit(habitID)
}

// onAuthChange discards session state whenever the identity changes.
// A user switch tears down the old mirrors; the new user's Start is the
// caller's move.
func (s *SyncService) onAuthChange(userID string) {
	s.mu.Lock()
	current := s.userID
	started := s.started
	s.mu.Unlock()
	if !started || userID == current {
		return
	}
	s.Stop()
}
