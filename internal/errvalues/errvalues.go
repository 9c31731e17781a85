package errvalues

import "errors"

var (
	// ErrAuthRequired is returned before any optimistic apply when no
	// user is signed in.
	ErrAuthRequired = errors.New("no signed in user")
	// ErrLoadFailed wraps a failed bulk fetch; the mirror is left empty.
	ErrLoadFailed = errors.New("loading collection failed")
	// ErrMutationFailed wraps a failed create/update/delete after the
	// optimistic apply has been rolled back.
	ErrMutationFailed = errors.New("mutation failed")

	ErrNotFound     = errors.New("record not found")
	ErrWrongOwner   = errors.New("record belongs to another user")
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")

	ErrHabitNameInvalid    = errors.New("habit name must be 1-50 characters")
	ErrInvalidColor        = errors.New("unknown habit color")
	ErrInvalidCategory     = errors.New("unknown habit category")
	ErrFutureDate          = errors.New("completion date is in the future")
	ErrMalformedEvent      = errors.New("malformed push event")
	ErrSubscriptionClosed  = errors.New("subscription closed")
	ErrUnparsableRecord    = errors.New("unparsable record payload")
	ErrUnsupportedFilterOp = errors.New("unsupported filter operator")
)
