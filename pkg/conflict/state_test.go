package conflict

import (
	"testing"

	"github.com/klokku/calsync/pkg/remote"
	"github.com/klokku/calsync/pkg/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine(t *testing.T) {
	t.Run("should link a not linked event", func(t *testing.T) {
		// when
		state, err := Linked(NotLinked{}, remote.Ref{RemoteId: "g-1", Version: `"1"`})

		// then
		require.NoError(t, err)
		assert.Equal(t, LinkedClean{RemoteId: "g-1", Version: `"1"`}, state)
	})

	t.Run("should hold any version when the store returns none", func(t *testing.T) {
		// when
		state, err := Linked(NotLinked{}, remote.Ref{RemoteId: "g-1"})

		// then
		require.NoError(t, err)
		assert.Equal(t, LinkedClean{RemoteId: "g-1", Version: remote.AnyVersion}, state)
	})

	t.Run("should walk conflicted, resolved and settled states", func(t *testing.T) {
		// given
		c := Conflict{LocalEventId: "e1", RemoteEventId: "g-1", Type: TypeEtagMismatch}

		// when
		conflicted, err := Conflicted(LinkedClean{RemoteId: "g-1", Version: `"1"`}, c)
		require.NoError(t, err)
		resolved, err := Resolve(conflicted, UseLocal, remote.Ref{RemoteId: "g-1", Version: `"3"`})
		require.NoError(t, err)
		settled, err := Settle(resolved)
		require.NoError(t, err)

		// then
		assert.Equal(t, LinkedConflicted{Conflict: c}, conflicted)
		assert.Equal(t, Resolved{Resolution: UseLocal, Next: LinkedClean{RemoteId: "g-1", Version: `"3"`}}, resolved)
		assert.Equal(t, LinkedClean{RemoteId: "g-1", Version: `"3"`}, settled)
	})

	t.Run("should settle to not linked when resolution clears the link", func(t *testing.T) {
		// when
		resolved, err := Resolve(LinkedConflicted{}, Unlink, remote.Ref{})
		require.NoError(t, err)
		settled, err := Settle(resolved)
		require.NoError(t, err)
		update, err := Update(settled)
		require.NoError(t, err)

		// then
		assert.Equal(t, NotLinked{}, settled)
		assert.Equal(t, schedule.Unlinked(), update)
	})

	t.Run("should reject invalid transitions", func(t *testing.T) {
		_, err := Conflicted(NotLinked{}, Conflict{})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = Linked(LinkedConflicted{}, remote.Ref{RemoteId: "g-1"})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = Resolve(LinkedClean{}, UseLocal, remote.Ref{})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = Resolve(LinkedConflicted{}, "overwrite", remote.Ref{})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = Settle(LinkedClean{})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = Update(Resolved{})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("should derive state from local event", func(t *testing.T) {
		assert.Equal(t, NotLinked{}, StateOf(schedule.LocalEvent{Status: schedule.StatusPlanned}))
		assert.Equal(t, LinkedClean{RemoteId: "g-1", Version: "v"},
			StateOf(schedule.LocalEvent{Status: schedule.StatusSynced, RemoteId: "g-1", RemoteVersion: "v"}))
	})
}
