// Package mirror keeps local in-memory copies of the remote habit
// collections consistent under optimistic local mutation and push
// events. One Mirror per collection per signed-in session.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/limbo/cadence/internal/auth"
	"github.com/limbo/cadence/internal/errvalues"
	"github.com/limbo/cadence/internal/remote"
	"github.com/limbo/cadence/pkg/entity"
)

// Entity is the shape both mirrored record types share. WithState
// returns a copy so the mirror can mark records pending or confirmed
// without reflection.
type Entity[T any] interface {
	EntityID() string
	WithState(entity.SyncState) T
	Pending() bool
}

const defaultMutationTimeout = 10 * time.Second

// Mirror is the local authoritative view of one remote collection.
// All state lives behind one mutex: the source design relied on a
// single-threaded event loop for atomic mirror mutations, the lock
// gives the same guarantee here.
type Mirror[T Entity[T]] struct {
	collection string
	client     remote.Client
	session    *auth.Session
	logger     *slog.Logger
	timeout    time.Duration

	mu    sync.Mutex
	items []T
	// Server ids of records this client just created. A created push
	// event bearing one of these ids is an echo of our own write and is
	// consumed instead of inserted twice.
	recentlyCreated map[string]struct{}
	loading         bool
	lastErr         error
	unsubscribe     remote.Unsubscribe
}

func newMirror[T Entity[T]](collection string, client remote.Client, session *auth.Session, timeout time.Duration) *Mirror[T] {
	if client == nil || session == nil {
		log.Fatal("mirror provided nil client or session")
	}
	if timeout <= 0 {
		timeout = defaultMutationTimeout
	}
	return &Mirror[T]{
		collection:      collection,
		client:          client,
		session:         session,
		logger:          slog.Default().With(slog.String("component", "mirror"), slog.String("collection", collection)),
		timeout:         timeout,
		recentlyCreated: make(map[string]struct{}),
	}
}

// Load replaces the mirror wholesale with the result of one list call.
// On transport failure the mirror is left empty and the error kept for
// the presentation layer; there is no automatic retry.
func (m *Mirror[T]) Load(ctx context.Context, opts remote.ListOptions) error {
	if err := m.requireAuth(); err != nil {
		return err
	}
	m.mu.Lock()
	m.loading = true
	m.lastErr = nil
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	result, err := m.client.List(callCtx, m.collection, opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false
	if err != nil {
		m.items = nil
		m.lastErr = fmt.Errorf("%w: %s", errvalues.ErrLoadFailed, err)
		return m.lastErr
	}
	items := make([]T, 0, len(result.Data))
	for _, raw := range result.Data {
		record, decodeErr := decodeRecord[T](raw)
		if decodeErr != nil {
			m.items = nil
			m.lastErr = fmt.Errorf("%w: %s", errvalues.ErrLoadFailed, decodeErr)
			return m.lastErr
		}
		items = append(items, record.WithState(entity.StateConfirmed))
	}
	m.items = items
	m.recentlyCreated = make(map[string]struct{})
	return nil
}

// LoadAll pages through the complete matching history until exhaustion
// without touching mirror state. Statistics and export callers use it
// to see past the display window.
func (m *Mirror[T]) LoadAll(ctx context.Context, opts remote.ListOptions) ([]T, error) {
	if err := m.requireAuth(); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = 200
	}
	all := []T{}
	for page := 1; ; page++ {
		opts.Page = page
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		result, err := m.client.List(callCtx, m.collection, opts)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errvalues.ErrLoadFailed, err)
		}
		for _, raw := range result.Data {
			record, decodeErr := decodeRecord[T](raw)
			if decodeErr != nil {
				return nil, fmt.Errorf("%w: %s", errvalues.ErrLoadFailed, decodeErr)
			}
			all = append(all, record.WithState(entity.StateConfirmed))
		}
		if page >= result.Pagination.TotalPages || len(result.Data) == 0 {
			return all, nil
		}
	}
}

// Create inserts temp synchronously for instant UI feedback, then
// issues the remote create. temp must carry a local id. On success the
// temporary record is replaced in place by the authoritative one and
// the new id is remembered so the echoed push event is suppressed. On
// failure the temporary record is removed and the error returned.
func (m *Mirror[T]) Create(ctx context.Context, temp T, fields any) (T, error) {
	var zero T
	if err := m.requireAuth(); err != nil {
		return zero, err
	}
	localID := temp.EntityID()
	pending := temp.WithState(entity.StatePending)
	m.mu.Lock()
	m.items = append(m.items, pending)
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	raw, err := m.client.Create(callCtx, m.collection, fields)
	if err != nil {
		m.removeByID(localID)
		return zero, m.mutationFailed("create", err)
	}
	confirmed, err := decodeRecord[T](raw)
	if err != nil {
		m.removeByID(localID)
		return zero, m.mutationFailed("create", err)
	}
	confirmed = confirmed.WithState(entity.StateConfirmed)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, raced := m.indexOf(confirmed.EntityID()); raced {
		// The push event for this create was delivered ahead of the
		// response and already inserted the record. Drop the temp; no
		// suppression marker, the echo is already consumed.
		if idx, ok := m.indexOf(localID); ok {
			m.items = append(m.items[:idx], m.items[idx+1:]...)
		}
		return confirmed, nil
	}
	idx, ok := m.indexOf(localID)
	if !ok {
		// The pending record vanished mid-flight: a reset discarded the
		// session's state. Hand the confirmed record to the caller, but
		// never repopulate the discarded mirror or mark an echo.
		return confirmed, nil
	}
	m.recentlyCreated[confirmed.EntityID()] = struct{}{}
	m.items[idx] = confirmed
	return confirmed, nil
}

// Update applies the optimistic patch via apply, then issues the remote
// update. On failure the single pre-mutation record is restored.
func (m *Mirror[T]) Update(ctx context.Context, id string, patch any, apply func(T) T) error {
	if err := m.requireAuth(); err != nil {
		return err
	}
	m.mu.Lock()
	idx, ok := m.indexOf(id)
	if !ok {
		m.mu.Unlock()
		return errvalues.ErrNotFound
	}
	snapshot := m.items[idx]
	m.items[idx] = apply(snapshot)
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	raw, err := m.client.Update(callCtx, m.collection, id, patch)
	if err != nil {
		m.restoreRecord(id, snapshot)
		return m.mutationFailed("update", err)
	}
	confirmed, decodeErr := decodeRecord[T](raw)
	if decodeErr != nil {
		// The write landed; keep the optimistic view rather than revert.
		m.logger.Warn("update response unparsable, keeping optimistic record",
			slog.String("id", id), slog.String("error", decodeErr.Error()))
		return nil
	}
	m.restoreRecord(id, confirmed.WithState(entity.StateConfirmed))
	return nil
}

// Delete removes the record optimistically, keeping a snapshot of the
// whole list: a delete changes membership, so revert means restoring
// the full pre-delete ordering, not re-inserting one element.
func (m *Mirror[T]) Delete(ctx context.Context, id string) error {
	if err := m.requireAuth(); err != nil {
		return err
	}
	m.mu.Lock()
	idx, ok := m.indexOf(id)
	if !ok {
		m.mu.Unlock()
		return errvalues.ErrNotFound
	}
	snapshot := append([]T(nil), m.items...)
	m.items = append(m.items[:idx], m.items[idx+1:]...)
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.client.Delete(callCtx, m.collection, id); err != nil {
		m.mu.Lock()
		m.items = snapshot
		m.mu.Unlock()
		return m.mutationFailed("delete", err)
	}
	return nil
}

// OnEvent merges one push event. Event-handling errors are never
// propagated: the stream is best-effort and a reload reconciles any
// divergence.
func (m *Mirror[T]) OnEvent(event remote.Event) {
	if err := validateEvent(event); err != nil {
		m.logger.Warn("dropping malformed push event", slog.String("error", err.Error()))
		return
	}
	record, err := decodeRecord[T](event.Record)
	if err != nil || record.EntityID() == "" {
		m.logger.Warn("dropping push event with unusable record")
		return
	}
	id := record.EntityID()
	confirmed := record.WithState(entity.StateConfirmed)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch event.Action {
	case remote.ActionCreated:
		if _, echoed := m.recentlyCreated[id]; echoed {
			// Echo of our own create, already applied. Consume the
			// marker so a genuine re-create later is not swallowed.
			delete(m.recentlyCreated, id)
			return
		}
		if _, exists := m.indexOf(id); exists {
			return
		}
		m.items = append(m.items, confirmed)
	case remote.ActionUpdated:
		idx, exists := m.indexOf(id)
		if !exists || m.items[idx].Pending() {
			return
		}
		// Last writer wins, no field-level merge.
		m.items[idx] = confirmed
	case remote.ActionDeleted:
		idx, exists := m.indexOf(id)
		if !exists || m.items[idx].Pending() {
			return
		}
		m.items = append(m.items[:idx], m.items[idx+1:]...)
	}
}

// Subscribe routes the collection's push events into the mirror.
// handler may wrap OnEvent; passing nil subscribes OnEvent directly.
func (m *Mirror[T]) Subscribe(filter remote.Filter, handler func(remote.Event)) error {
	if err := m.requireAuth(); err != nil {
		return err
	}
	if handler == nil {
		handler = m.OnEvent
	}
	unsubscribe, err := m.client.Subscribe(m.collection, filter, handler)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.unsubscribe = unsubscribe
	return nil
}

// Reset discards the mirror entirely: sign-out and user switch must not
// leak one user's records into the next session.
func (m *Mirror[T]) Reset() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.items = nil
	m.recentlyCreated = make(map[string]struct{})
	m.loading = false
	m.lastErr = nil
	m.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Items returns a copy of the current entity list in display order.
func (m *Mirror[T]) Items() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]T(nil), m.items...)
}

func (m *Mirror[T]) Find(id string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexOf(id); ok {
		return m.items[idx], true
	}
	var zero T
	return zero, false
}

func (m *Mirror[T]) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// Err reports the last load or mutation failure, nil after a clean load.
func (m *Mirror[T]) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Mirror[T]) requireAuth() error {
	if !m.session.Authenticated() {
		return errvalues.ErrAuthRequired
	}
	return nil
}

// indexOf assumes m.mu is held.
func (m *Mirror[T]) indexOf(id string) (int, bool) {
	for i, item := range m.items {
		if item.EntityID() == id {
			return i, true
		}
	}
	return 0, false
}

func (m *Mirror[T]) removeByID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexOf(id); ok {
		m.items = append(m.items[:idx], m.items[idx+1:]...)
	}
}

func (m *Mirror[T]) restoreRecord(id string, record T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexOf(id); ok {
		m.items[idx] = record
	}
}

func (m *Mirror[T]) mutationFailed(op string, cause error) error {
	err := fmt.Errorf("%w: %s: %s", errvalues.ErrMutationFailed, op, cause)
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	return err
}

func decodeRecord[T Entity[T]](raw json.RawMessage) (T, error) {
	var record T
	if err := sonic.Unmarshal(raw, &record); err != nil {
		return record, fmt.Errorf("%w: %s", errvalues.ErrUnparsableRecord, err)
	}
	return record, nil
}
