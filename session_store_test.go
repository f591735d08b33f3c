package skillchain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sessionStores(t *testing.T) map[string]SessionStore {
	t.Helper()
	fileStore, err := NewFileSessionStore(t.TempDir())
	require.NoError(t, err)
	return map[string]SessionStore{
		"memory": NewMemorySessionStore(),
		"file":   fileStore,
	}
}

func TestSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			state := &SessionState{
				SessionID:      "sess-1",
				TicketID:       "TICK-1",
				CurrentPhase:   PhasePlanning,
				WorkingSummary: "planning the fix",
				Checkpoint:     map[string]any{"executionId": "exec-1"},
				ExpiresAt:      time.Now().Add(time.Hour),
			}
			stored, err := store.Save(ctx, state)
			require.NoError(t, err)
			require.False(t, stored.UpdatedAt.IsZero())

			loaded, err := store.Load(ctx, "sess-1")
			require.NoError(t, err)
			require.NotNil(t, loaded)
			require.Equal(t, PhasePlanning, loaded.CurrentPhase)
			require.Equal(t, "planning the fix", loaded.WorkingSummary)
			require.Equal(t, "exec-1", loaded.Checkpoint["executionId"])

			t.Run("save replaces", func(t *testing.T) {
				state.CurrentPhase = PhaseImplementing
				_, err := store.Save(ctx, state)
				require.NoError(t, err)
				loaded, err := store.Load(ctx, "sess-1")
				require.NoError(t, err)
				require.Equal(t, PhaseImplementing, loaded.CurrentPhase)
			})

			t.Run("load of a missing session is nil, not an error", func(t *testing.T) {
				loaded, err := store.Load(ctx, "sess-nope")
				require.NoError(t, err)
				require.Nil(t, loaded)
			})

			t.Run("clear reports existence", func(t *testing.T) {
				existed, err := store.Clear(ctx, "sess-1")
				require.NoError(t, err)
				require.True(t, existed)

				existed, err = store.Clear(ctx, "sess-1")
				require.NoError(t, err)
				require.False(t, existed)

				loaded, err := store.Load(ctx, "sess-1")
				require.NoError(t, err)
				require.Nil(t, loaded)
			})
		})
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	ctx := context.Background()
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Save(ctx, &SessionState{
				SessionID: "sess-old",
				ExpiresAt: time.Now().Add(-time.Minute),
			})
			require.NoError(t, err)
			_, err = store.Save(ctx, &SessionState{
				SessionID: "sess-live",
				ExpiresAt: time.Now().Add(time.Hour),
			})
			require.NoError(t, err)
			// A zero expiry means the record never expires
			_, err = store.Save(ctx, &SessionState{SessionID: "sess-forever"})
			require.NoError(t, err)

			t.Run("expired records load as nil", func(t *testing.T) {
				loaded, err := store.Load(ctx, "sess-old")
				require.NoError(t, err)
				require.Nil(t, loaded)

				loaded, err = store.Load(ctx, "sess-forever")
				require.NoError(t, err)
				require.NotNil(t, loaded)
			})

			t.Run("cleanup removes only expired records", func(t *testing.T) {
				removed, err := store.CleanupExpired(ctx)
				require.NoError(t, err)
				require.Equal(t, 1, removed)

				loaded, err := store.Load(ctx, "sess-live")
				require.NoError(t, err)
				require.NotNil(t, loaded)

				removed, err = store.CleanupExpired(ctx)
				require.NoError(t, err)
				require.Zero(t, removed)
			})
		})
	}
}
