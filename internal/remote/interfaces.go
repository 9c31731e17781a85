package remote

import (
	"context"
	"encoding/json"
)

// Collection names used by the habit store.
const (
	CollectionHabits      = "habits"
	CollectionCompletions = "habit_completions"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Event is one push notification for a subscribed collection. Record
// stays raw until the mirror validates and decodes it at the boundary.
type Event struct {
	Action Action          `json:"action" validate:"required,oneof=created updated deleted"`
	Record json.RawMessage `json:"record" validate:"required"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type ListResult struct {
	Data       []json.RawMessage `json:"data"`
	Pagination Pagination        `json:"pagination"`
}

type ListOptions struct {
	Filter Filter
	Sort   string
	Order  string
	Page   int
	Limit  int
}

// Unsubscribe stops delivery for one subscription.
type Unsubscribe func()

// Client is the remote store boundary: four CRUD primitives plus a push
// subscription over named collections. Implemented by HTTPClient and by
// test doubles.
type Client interface {
	// Lists records matching opts. Pagination params are required by the store
	List(ctx context.Context, collection string, opts ListOptions) (*ListResult, error)
	// Creates a record; the server assigns id, created_at and updated_at
	Create(ctx context.Context, collection string, fields any) (json.RawMessage, error)
	// Patches the record with id, returning the updated record
	Update(ctx context.Context, collection, id string, patch any) (json.RawMessage, error)
	// Deletes the record with id
	Delete(ctx context.Context, collection, id string) error
	// Delivers events for records matching filter until unsubscribed
	Subscribe(collection string, filter Filter, onEvent func(Event)) (Unsubscribe, error)
}

// TokenSource supplies the bearer token attached to store requests.
// Satisfied by *auth.Session.
type TokenSource interface {
	Token() string
}
