package conflict

import (
	"errors"
	"fmt"

	"github.com/klokku/calsync/pkg/remote"
	"github.com/klokku/calsync/pkg/schedule"
)

var ErrInvalidTransition = errors.New("invalid sync state transition")

// State is the sync state of one local event (or one batched group).
type State interface {
	isState()
	Name() string
}

type NotLinked struct{}

type LinkedClean struct {
	RemoteId string
	Version  string
}

type LinkedConflicted struct {
	Conflict Conflict
}

type Resolved struct {
	Resolution Resolution
	Next       State
}

func (NotLinked) isState()        {}
func (LinkedClean) isState()      {}
func (LinkedConflicted) isState() {}
func (Resolved) isState()         {}

func (NotLinked) Name() string        { return "not_linked" }
func (LinkedClean) Name() string      { return "linked_clean" }
func (LinkedConflicted) Name() string { return "linked_conflicted" }
func (Resolved) Name() string         { return "resolved" }

func StateOf(event schedule.LocalEvent) State {
	if event.IsLinked() {
		return LinkedClean{RemoteId: event.RemoteId, Version: event.RemoteVersion}
	}
	return NotLinked{}
}

// Linked moves to LinkedClean after a successful create or update.
func Linked(from State, ref remote.Ref) (State, error) {
	switch from.(type) {
	case NotLinked, LinkedClean:
		ref = ref.Normalize()
		return LinkedClean{RemoteId: ref.RemoteId, Version: ref.Version}, nil
	default:
		return nil, invalid(from, "linked")
	}
}

// Conflicted moves a linked event whose update was rejected into LinkedConflicted.
func Conflicted(from State, c Conflict) (State, error) {
	switch from.(type) {
	case LinkedClean:
		return LinkedConflicted{Conflict: c}, nil
	default:
		return nil, invalid(from, "conflicted")
	}
}

// Resolve applies a resolution to a conflicted state. An empty ref clears the link.
func Resolve(from State, resolution Resolution, ref remote.Ref) (State, error) {
	switch from.(type) {
	case LinkedConflicted:
		if !resolution.Valid() {
			return nil, fmt.Errorf("%w: unknown resolution %q", ErrInvalidTransition, resolution)
		}
		var next State = NotLinked{}
		if ref.RemoteId != "" {
			ref = ref.Normalize()
			next = LinkedClean{RemoteId: ref.RemoteId, Version: ref.Version}
		}
		return Resolved{Resolution: resolution, Next: next}, nil
	default:
		return nil, invalid(from, "resolved")
	}
}

// Settle leaves Resolved for the state the resolution produced.
func Settle(from State) (State, error) {
	switch s := from.(type) {
	case Resolved:
		return s.Next, nil
	default:
		return nil, invalid(from, "settled")
	}
}

// Update returns the local field update that persists a settled state.
func Update(s State) (schedule.FieldUpdate, error) {
	switch st := s.(type) {
	case NotLinked:
		return schedule.Unlinked(), nil
	case LinkedClean:
		return schedule.Linked(st.RemoteId, st.Version), nil
	default:
		return schedule.FieldUpdate{}, fmt.Errorf("%w: %s cannot be persisted", ErrInvalidTransition, s.Name())
	}
}

func invalid(from State, to string) error {
	name := "nil"
	if from != nil {
		name = from.Name()
	}
	return fmt.Errorf("%w: %s cannot become %s", ErrInvalidTransition, name, to)
}
