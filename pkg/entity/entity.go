package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/limbo/cadence/pkg/calendar"
)

// SyncState tracks where a mirrored record stands relative to the
// remote store. The zero value means the record is not in the mirror.
type SyncState int

const (
	StateAbsent SyncState = iota
	// StatePending marks an optimistic record still awaiting the
	// remote create response. Pending records carry a local id.
	StatePending
	StateConfirmed
)

type Color string

const (
	ColorRed    Color = "red"
	ColorOrange Color = "orange"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorPurple Color = "purple"
)

var Colors = []Color{ColorRed, ColorOrange, ColorGreen, ColorBlue, ColorPurple}

func (c Color) Valid() bool {
	for _, known := range Colors {
		if c == known {
			return true
		}
	}
	return false
}

type Category string

const (
	CategoryHealth       Category = "health"
	CategoryFitness      Category = "fitness"
	CategoryProductivity Category = "productivity"
	CategoryLearning     Category = "learning"
	CategoryMindfulness  Category = "mindfulness"
	CategorySocial       Category = "social"
	CategoryFinance      Category = "finance"
	CategoryCreativity   Category = "creativity"
	CategoryOther        Category = "other"
)

var Categories = []Category{
	CategoryHealth, CategoryFitness, CategoryProductivity, CategoryLearning,
	CategoryMindfulness, CategorySocial, CategoryFinance, CategoryCreativity,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Habit struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Color     Color     `json:"color"`
	Category  Category  `json:"category"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	State SyncState `json:"-"`
}

func (h Habit) EntityID() string { return h.ID }

func (h Habit) WithState(s SyncState) Habit {
	h.State = s
	return h
}

func (h Habit) Pending() bool { return h.State == StatePending }

type Completion struct {
	ID            string       `json:"id"`
	HabitID       string       `json:"habit_id"`
	UserID        string       `json:"user_id"`
	CompletedDate calendar.Day `json:"completed_date"`
	CreatedAt     time.Time    `json:"created_at"`

	State SyncState `json:"-"`
}

func (c Completion) EntityID() string { return c.ID }

func (c Completion) WithState(s SyncState) Completion {
	c.State = s
	return c
}

func (c Completion) Pending() bool { return c.State == StatePending }

type HabitStats struct {
	HabitID          string       `json:"habit_id"`
	TotalCompletions int          `json:"total_completions"`
	CurrentStreak    int          `json:"current_streak"`
	LongestStreak    int          `json:"longest_streak"`
	WeeklyRate       int          `json:"weekly_rate"`
	LastCompleted    calendar.Day `json:"last_completed"`
}

const localIDPrefix = "local_"

// NewLocalID mints a transient id for an optimistic record. Local ids
// never leave the process; the server-assigned id replaces them on
// create confirmation.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}
