package mirror_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limbo/cadence/internal/auth"
	"github.com/limbo/cadence/internal/errvalues"
	"github.com/limbo/cadence/internal/mirror"
	"github.com/limbo/cadence/internal/remote"
	"github.com/limbo/cadence/pkg/entity"
)

const testUserID = "u1"

func newHabits(t *testing.T, client *clientMock) *mirror.Habits {
	t.Helper()
	return mirror.NewHabits(client, signedSession(t, testUserID), mirror.HabitsOptions{})
}

func TestHabitsLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("success replaces mirror wholesale", func(t *testing.T) {
		client := newClientMock()
		client.listFunc = func(collection string, opts remote.ListOptions) (*remote.ListResult, error) {
			assert.Equal(t, remote.CollectionHabits, collection)
			assert.Equal(t, "user_id='u1'", opts.Filter.Encode())
			return listResultOf(habitJSON("h1", testUserID, "read"), habitJSON("h2", testUserID, "run")), nil
		}
		habits := newHabits(t, client)
		require.NoError(t, habits.Load(ctx))
		all := habits.All()
		require.Len(t, all, 2)
		assert.Equal(t, "h1", all[0].ID)
		assert.Equal(t, entity.StateConfirmed, all[0].State)
		assert.NoError(t, habits.Err())
		assert.False(t, habits.Loading())
	})
	t.Run("transport failure leaves mirror empty", func(t *testing.T) {
		client := newClientMock()
		client.listFunc = func(string, remote.ListOptions) (*remote.ListResult, error) {
			return nil, errors.New("connection refused")
		}
		habits := newHabits(t, client)
		err := habits.Load(ctx)
		assert.ErrorIs(t, err, errvalues.ErrLoadFailed)
		assert.Empty(t, habits.All())
		assert.ErrorIs(t, habits.Err(), errvalues.ErrLoadFailed)
		// No automatic retry.
		assert.Equal(t, 1, client.listCalls)
	})
	t.Run("unauthenticated fails fast", func(t *testing.T) {
		client := newClientMock()
		habits := mirror.NewHabits(client, signedOutSession(t), mirror.HabitsOptions{})
		assert.ErrorIs(t, habits.Load(ctx), errvalues.ErrAuthRequired)
		assert.Zero(t, client.listCalls)
	})
}

func TestCreateHabit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("success replaces temp in place", func(t *testing.T) {
		client := newClientMock()
		client.listFunc = func(string, remote.ListOptions) (*remote.ListResult, error) {
			return listResultOf(habitJSON("h1", testUserID, "existing")), nil
		}
		client.createFunc = func(_ string, fields any) (json.RawMessage, error) {
			payload := fields.(map[string]any)
			assert.Equal(t, "meditate", payload["name"])
			assert.Equal(t, testUserID, payload["user_id"])
			return habitJSON("h2", testUserID, "meditate"), nil
		}
		habits := newHabits(t, client)
		require.NoError(t, habits.Load(ctx))

		created, err := habits.Create(ctx, mirror.CreateHabitRequest{Name: "meditate", Color: entity.ColorBlue})
		require.NoError(t, err)
		assert.Equal(t, "h2", created.ID)
		assert.False(t, entity.IsLocalID(created.ID))
		assert.Equal(t, entity.StateConfirmed, created.State)

		all := habits.All()
		require.Len(t, all, 2)
		// Same array position the temp occupied.
		assert.Equal(t, "h2", all[1].ID)
	})
	t.Run("failure removes temp and rethrows", func(t *testing.T) {
		client := newClientMock()
		client.createFunc = func(string, any) (json.RawMessage, error) {
			return nil, errors.New("boom")
		}
		habits := newHabits(t, client)
		require.NoError(t, habits.Load(ctx))
		_, err := habits.Create(ctx, mirror.CreateHabitRequest{Name: "meditate", Color: entity.ColorRed})
		assert.ErrorIs(t, err, errvalues.ErrMutationFailed)
		assert.Empty(t, habits.All())
	})
	t.Run("category defaults to other", func(t *testing.T) {
		client := newClientMock()
		client.createFunc = func(_ string, fields any) (json.RawMessage, error) {
			assert.Equal(t, entity.CategoryOther, fields.(map[string]any)["category"])
			return habitJSON("h3", testUserID, "floss"), nil
		}
		habits := newHabits(t, client)
		_, err := habits.Create(ctx, mirror.CreateHabitRequest{Name: "floss", Color: entity.ColorGreen})
		require.NoError(t, err)
	})
	t.Run("validation rejects before any apply", func(t *testing.T) {
		client := newClientMock()
		habits := newHabits(t, client)
		testCases := []mirror.CreateHabitRequest{
			{Name: "", Color: entity.ColorRed},
			{Name: strings.Repeat("x", 51), Color: entity.ColorRed},
			{Name: "ok", Color: "magenta"},
			{Name: "ok", Color: entity.ColorRed, Category: "gardening"},
		}
		for _, req := range testCases {
			_, err := habits.Create(ctx, req)
			assert.Error(t, err)
		}
		assert.Empty(t, habits.All())
		assert.Zero(t, client.createCalls)
	})
}

func TestUpdateHabit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	name := "deep work"
	t.Run("success applies authoritative record", func(t *testing.T) {
		client := newClientMock()
		client.listFunc = func(string, remote.ListOptions) (*remote.ListResult, error) {
			return listResultOf(habitJSON("h1", testUserID, "work")), nil
		}
		client.updateFunc = func(_, id string, patch any) (json.RawMessage, error) {
			assert.Equal(t, "h1", id)
			assert.Equal(t, name, patch.(map[string]any)["name"])
			return habitJSON("h1", testUserID, name), nil
		}
		habits := newHabits(t, client)
		require.NoError(t, habits.Load(ctx))
		require.NoError(t, habits.Update(ctx, "h1", mirror.UpdateHabitPatch{Name: &name}))
		updated, ok := habits.Find("h1")
		require.True(t, ok)
		assert.Equal(t, name, updated.Name)
	})
	t.Run("failure reverts the single record", func(t *testing.T) {
		client := newClientMock()
		client.listFunc = func(string, remote.ListOptions) (*remote.ListResult, error) {
			return listResultOf(habitJSON("h1", testUserID, "work")), nil
		}
		client.updateFunc = func(string, string, any) (json.RawMessage, error) {
			return nil, errors.New("boom")
		}
		habits := newHabits(t, client)
		require.NoError(t, habits.Load(ctx))
		err := habits.Update(ctx, "h1", mirror.UpdateHabitPatch{Name: &name})
		assert.ErrorIs(t, err, errvalues.ErrMutationFailed)
		reverted, ok := habits.Find("h1")
		require.True(t, ok)
		assert.Equal(t, "work", reverted.Name)
	})
	t.Run("unknown id", func(t *testing.T) {
		habits := newHabits(t, newClientMock())
		err := habits.Update(ctx, "nope", mirror.UpdateHabitPatch{Name: &name})
		assert.ErrorIs(t, err, errvalues.ErrNotFound)
	})
	t.Run("empty patch is a no-op", func(t *testing.T) {
		client := newClientMock()
		habits := newHabits(t, client)
		require.NoError(t, habits.Update(ctx, "h1", mirror.UpdateHabitPatch{}))
		assert.Zero(t, client.updateCalls)
	})
}

func TestArchiveHabit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newClientMock()
	client.listFunc = func(string, remote.ListOptions) (*remote.ListResult, error) {
		return listResultOf(habitJSON("h1", testUserID, "work"), habitJSON("h2", testUserID, "rest")), nil
	}
	client.updateFunc = func(_, id string, patch any) (json.RawMessage, error) {
		assert.Equal(t, true, patch.(map[string]any)["archived"])
		return json.RawMessage(`{"id":"h1","user_id":"u1","name":"work","color":"green","category":"health","archived":true}`), nil
	}
	habits := newHabits(t, client)
	require.NoError(t, habits.Load(ctx))
	require.NoError(t, habits.Archive(ctx, "h1", true))
	// Archived habits leave the active view but stay mirrored.
	assert.Len(t, habits.All(), 2)
	active := habits.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "h2", active[0].ID)
}

func TestDeleteHabit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("success removes and cascades", func(t *testing.T) {
		cascaded := []string{}
		client := newClientMock()
		client.listFunc = func(string, remote.ListOptions) (*remote.ListResult, error) {
			return listResultOf(habitJSON("h1", testUserID, "a"), habitJSON("h2", testUserID, "b")), nil
		}
		habits := mirror.NewHabits(client, signedSession(t, testUserID), mirror.HabitsOptions{
			OnDeleted: func(habitID string) { cascaded = append(cascaded, habitID) },
		})
		require.NoError(t, habits.Load(ctx))
		require.NoError(t, habits.Delete(ctx, "h1"))
		require.Len(t, habits.All(), 1)
		assert.Equal(t, []string{"h1"}, cascaded)
	})
	t.Run("failure restores the full snapshot in order", func(t *testing.T) {
		client := newClientMock()
		client.listFunc = func(string, remote.ListOptions) (*remote.ListResult, error) {
			return listResultOf(habitJSON("h1", testUserID, "a"), habitJSON("h2", testUserID, "b"), habitJSON("h3", testUserID, "c")), nil
		}
		client.deleteFunc = func(string, string) error { return errors.New("boom") }
		habits := newHabits(t, client)
		require.NoError(t, habits.Load(ctx))
		err := habits.Delete(ctx, "h2")
		assert.ErrorIs(t, err, errvalues.ErrMutationFailed)
		all := habits.All()
		require.Len(t, all, 3)
		assert.Equal(t, "h2", all[1].ID)
	})
	t.Run("wrong owner", func(t *testing.T) {
		client := newClientMock()
		client.listFunc = func(string, remote.ListOptions) (*remote.ListResult, error) {
			return listResultOf(habitJSON("h1", "someone_else", "a")), nil
		}
		habits := newHabits(t, client)
		require.NoError(t, habits.Load(ctx))
		assert.ErrorIs(t, habits.Delete(ctx, "h1"), errvalues.ErrWrongOwner)
		assert.Zero(t, client.deleteCalls)
	})
}

func TestHabitEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	load := func(t *testing.T, records ...json.RawMessage) *mirror.Habits {
		client := newClientMock()
		client.listFunc = func(string, remote.ListOptions) (*remote.ListResult, error) {
			return listResultOf(records...), nil
		}
		habits := newHabits(t, client)
		require.NoError(t, habits.Load(ctx))
		return habits
	}

	t.Run("created inserts unknown record", func(t *testing.T) {
		habits := load(t)
		habits.HandleEvent(createdEvent(habitJSON("h9", testUserID, "new")))
		require.Len(t, habits.All(), 1)
		assert.Equal(t, entity.StateConfirmed, habits.All()[0].State)
	})
	t.Run("created is idempotent for known id", func(t *testing.T) {
		habits := load(t, habitJSON("h1", testUserID, "a"))
		habits.HandleEvent(createdEvent(habitJSON("h1", testUserID, "a")))
		assert.Len(t, habits.All(), 1)
	})
	t.Run("updated applies last writer wins", func(t *testing.T) {
		habits := load(t, habitJSON("h1", testUserID, "a"))
		habits.HandleEvent(updatedEvent(habitJSON("h1", testUserID, "renamed elsewhere")))
		updated, _ := habits.Find("h1")
		assert.Equal(t, "renamed elsewhere", updated.Name)
	})
	t.Run("updated for unknown id is a no-op", func(t *testing.T) {
		habits := load(t, habitJSON("h1", testUserID, "a"))
		habits.HandleEvent(updatedEvent(habitJSON("h42", testUserID, "ghost")))
		assert.Len(t, habits.All(), 1)
	})
	t.Run("deleted removes known id and cascades", func(t *testing.T) {
		cascaded := []string{}
		client := newClientMock()
		client.listFunc = func(string, remote.ListOptions) (*remote.ListResult, error) {
			return listResultOf(habitJSON("h1", testUserID, "a")), nil
		}
		habits := mirror.NewHabits(client, signedSession(t, testUserID), mirror.HabitsOptions{
			OnDeleted: func(habitID string) { cascaded = append(cascaded, habitID) },
		})
		require.NoError(t, habits.Load(ctx))
		habits.HandleEvent(deletedEvent(habitJSON("h1", testUserID, "a")))
		assert.Empty(t, habits.All())
		assert.Equal(t, []string{"h1"}, cascaded)
	})
	t.Run("deleted for unknown id is a no-op", func(t *testing.T) {
		habits := load(t, habitJSON("h1", testUserID, "a"))
		habits.HandleEvent(deletedEvent(habitJSON("h42", testUserID, "ghost")))
		assert.Len(t, habits.All(), 1)
	})
	t.Run("malformed events are dropped", func(t *testing.T) {
		habits := load(t, habitJSON("h1", testUserID, "a"))
		habits.HandleEvent(remote.Event{Action: "exploded", Record: habitJSON("h2", testUserID, "b")})
		habits.HandleEvent(remote.Event{Action: remote.ActionCreated})
		habits.HandleEvent(createdEvent(json.RawMessage(`{"name":"no id"}`)))
		habits.HandleEvent(createdEvent(json.RawMessage(`not json`)))
		assert.Len(t, habits.All(), 1)
	})
}

// A push created event bearing the id just assigned by a local create
// must end with exactly one record, whichever side lands first.
func TestCreateEchoSuppression(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("event after response", func(t *testing.T) {
		client := newClientMock()
		client.createFunc = func(string, any) (json.RawMessage, error) {
			return habitJSON("h1", testUserID, "meditate"), nil
		}
		habits := newHabits(t, client)
		_, err := habits.Create(ctx, mirror.CreateHabitRequest{Name: "meditate", Color: entity.ColorBlue})
		require.NoError(t, err)
		habits.HandleEvent(createdEvent(habitJSON("h1", testUserID, "meditate")))
		assert.Len(t, habits.All(), 1)
		// The marker is consumed: a genuine later re-create with the
		// same id (delete + restore elsewhere) is not swallowed.
		habits.HandleEvent(deletedEvent(habitJSON("h1", testUserID, "meditate")))
		habits.HandleEvent(createdEvent(habitJSON("h1", testUserID, "meditate")))
		assert.Len(t, habits.All(), 1)
	})
	t.Run("event before response", func(t *testing.T) {
		client := newClientMock()
		var habits *mirror.Habits
		client.createFunc = func(string, any) (json.RawMessage, error) {
			// Deliver the push event while the create is in flight.
			habits.HandleEvent(createdEvent(habitJSON("h1", testUserID, "meditate")))
			return habitJSON("h1", testUserID, "meditate"), nil
		}
		habits = newHabits(t, client)
		created, err := habits.Create(ctx, mirror.CreateHabitRequest{Name: "meditate", Color: entity.ColorBlue})
		require.NoError(t, err)
		assert.Equal(t, "h1", created.ID)
		all := habits.All()
		require.Len(t, all, 1)
		assert.Equal(t, "h1", all[0].ID)
	})
}

// A reset landing while a create is in flight (sign-out, user switch)
// discards the pending temp; the confirmed response must not sneak the
// old session's record back into the emptied mirror.
func TestResetDuringCreateDiscardsRecord(t *testing.T) {
	t.Parallel()
	client := newClientMock()
	var habits *mirror.Habits
	client.createFunc = func(string, any) (json.RawMessage, error) {
		habits.Reset()
		return habitJSON("h1", testUserID, "meditate"), nil
	}
	habits = newHabits(t, client)
	created, err := habits.Create(context.Background(), mirror.CreateHabitRequest{Name: "meditate", Color: entity.ColorBlue})
	require.NoError(t, err)
	assert.Equal(t, "h1", created.ID)
	assert.Empty(t, habits.All())
	// No echo marker was set either: a later genuine created event for
	// the id is not swallowed.
	habits.HandleEvent(createdEvent(habitJSON("h1", testUserID, "meditate")))
	assert.Len(t, habits.All(), 1)
}

// stalledClient never answers creates; only context expiry releases it.
type stalledClient struct {
	*clientMock
}

func (s *stalledClient) Create(ctx context.Context, collection string, fields any) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCreateTimeoutRollsBack(t *testing.T) {
	t.Parallel()
	client := &stalledClient{clientMock: newClientMock()}
	habits := mirror.NewHabits(client, signedSession(t, testUserID), mirror.HabitsOptions{
		Timeout: 20 * time.Millisecond,
	})
	_, err := habits.Create(context.Background(), mirror.CreateHabitRequest{Name: "meditate", Color: entity.ColorBlue})
	assert.ErrorIs(t, err, errvalues.ErrMutationFailed)
	assert.Empty(t, habits.All())
	assert.ErrorIs(t, habits.Err(), errvalues.ErrMutationFailed)
}

func signedOutSession(t *testing.T) *auth.Session {
	t.Helper()
	return auth.NewSession()
}
