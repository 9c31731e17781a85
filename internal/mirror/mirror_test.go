package mirror_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/limbo/cadence/internal/auth"
	"github.com/limbo/cadence/internal/remote"
	"github.com/limbo/cadence/pkg/calendar"
)

// clientMock is a hand-rolled remote.Client double: per-call behavior
// is injected through func fields, unset fields answer successfully.
type clientMock struct {
	mu          sync.Mutex
	listFunc    func(collection string, opts remote.ListOptions) (*remote.ListResult, error)
	createFunc  func(collection string, fields any) (json.RawMessage, error)
	updateFunc  func(collection, id string, patch any) (json.RawMessage, error)
	deleteFunc  func(collection, id string) error
	subscribers map[string]func(remote.Event)

	listCalls   int
	createCalls int
	updateCalls int
	deleteCalls int
}

func newClientMock() *clientMock {
	return &clientMock{subscribers: make(map[string]func(remote.Event))}
}

func (m *clientMock) List(_ context.Context, collection string, opts remote.ListOptions) (*remote.ListResult, error) {
	m.mu.Lock()
	m.listCalls++
	fn := m.listFunc
	m.mu.Unlock()
	if fn == nil {
		return &remote.ListResult{}, nil
	}
	return fn(collection, opts)
}

func (m *clientMock) Create(_ context.Context, collection string, fields any) (json.RawMessage, error) {
	m.mu.Lock()
	m.createCalls++
	fn := m.createFunc
	m.mu.Unlock()
	if fn == nil {
		return json.RawMessage(`{"id":"srv_generated"}`), nil
	}
	return fn(collection, fields)
}

func (m *clientMock) Update(_ context.Context, collection, id string, patch any) (json.RawMessage, error) {
	m.mu.Lock()
	m.updateCalls++
	fn := m.updateFunc
	m.mu.Unlock()
	if fn == nil {
		return json.RawMessage(`{"id":"` + id + `"}`), nil
	}
	return fn(collection, id, patch)
}

func (m *clientMock) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	m.deleteCalls++
	fn := m.deleteFunc
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(collection, id)
}

func (m *clientMock) Subscribe(collection string, _ remote.Filter, onEvent func(remote.Event)) (remote.Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[collection] = onEvent
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, collection)
	}, nil
}

func (m *clientMock) push(collection string, event remote.Event) {
	m.mu.Lock()
	handler := m.subscribers[collection]
	m.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

func signedSession(t *testing.T, userID string) *auth.Session {
	t.Helper()
	claims := &auth.Claims{
		UserID:   userID,
		Username: "tester",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test_secret"))
	require.NoError(t, err)
	session := auth.NewSession()
	require.NoError(t, session.SignIn(token))
	return session
}

func habitJSON(id, userID, name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"user_id":%q,"name":%q,"color":"green","category":"health","archived":false}`,
		id, userID, name))
}

func completionJSON(id, habitID, userID string, day calendar.Day) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"habit_id":%q,"user_id":%q,"completed_date":%q}`,
		id, habitID, userID, day.String()))
}

func listResultOf(records ...json.RawMessage) *remote.ListResult {
	return &remote.ListResult{
		Data: records,
		Pagination: remote.Pagination{
			Page: 1, Limit: len(records), Total: len(records), TotalPages: 1,
		},
	}
}

func createdEvent(record json.RawMessage) remote.Event {
	return remote.Event{Action: remote.ActionCreated, Record: record}
}

func updatedEvent(record json.RawMessage) remote.Event {
	return remote.Event{Action: remote.ActionUpdated, Record: record}
}

func deletedEvent(record json.RawMessage) remote.Event {
	return remote.Event{Action: remote.ActionDeleted, Record: record}
}
