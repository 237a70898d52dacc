package conflict

import (
	"context"
	"errors"
	"fmt"

	"github.com/klokku/calsync/pkg/remote"
	"github.com/klokku/calsync/pkg/schedule"
	log "github.com/sirupsen/logrus"
)

var ErrUnresolvable = errors.New("conflict cannot be resolved this way")

// PayloadSource rebuilds the remote payload of local events. Several events mean a batched group.
type PayloadSource interface {
	Payload(ctx context.Context, ownerId int, events []schedule.LocalEvent) (remote.Payload, error)
}

type OutcomeKind string

const (
	OutcomeCreated         OutcomeKind = "created"
	OutcomeUpdated         OutcomeKind = "updated"
	OutcomeLocalOnly       OutcomeKind = "local_only"
	OutcomeAlreadyResolved OutcomeKind = "already_resolved"
	OutcomeFailed          OutcomeKind = "failed"
)

// Outcome is the result of applying one resolution. Err is set only for failed outcomes.
type Outcome struct {
	Kind       OutcomeKind
	Resolution Resolution
	EventIds   []string
	State      State
	QuotaUsed  int
	Err        error
}

type Resolver struct {
	repo     schedule.Repository
	payloads PayloadSource
}

func NewResolver(repo schedule.Repository, payloads PayloadSource) *Resolver {
	return &Resolver{repo: repo, payloads: payloads}
}

// Resolve applies the resolution to the conflict. Only local store failures are returned as error,
// remote failures are reported in the outcome. Applying a resolution to a conflict that no longer
// matches the local state does nothing.
func (r *Resolver) Resolve(ctx context.Context, ownerId int, client remote.Client, c Conflict, resolution Resolution) (Outcome, error) {
	ids := c.EventIds()
	outcome := Outcome{Resolution: resolution, EventIds: ids}
	if !resolution.Valid() {
		return r.fail(outcome, fmt.Errorf("%w: unknown resolution %q", ErrUnresolvable, resolution)), nil
	}

	events, err := r.repo.GetEventsByIds(ctx, ownerId, ids)
	if err != nil {
		return Outcome{}, err
	}
	if len(events) != len(ids) {
		return r.fail(outcome, fmt.Errorf("%w: %d of %d local events no longer exist", ErrUnresolvable, len(ids)-len(events), len(ids))), nil
	}

	if !stillConflicted(events, c) {
		log.Debugf("conflict of %s is already resolved, nothing to do", c.LocalEventId)
		outcome.Kind = OutcomeAlreadyResolved
		outcome.State = StateOf(events[0])
		return outcome, nil
	}

	state := State(LinkedConflicted{Conflict: c})
	if resolution == UseGoogle && c.Type == TypeDeletedRemotely {
		resolution = Unlink
	}

	var ref remote.Ref
	switch resolution {
	case Unlink:
		outcome.Kind = OutcomeLocalOnly

	case UseGoogle:
		version := c.RemoteVersion
		if version == "" && c.Type == TypeEtagMismatch {
			outcome.QuotaUsed++
			current, err := client.Get(ctx, c.RemoteEventId)
			if err != nil {
				return r.fail(outcome, fmt.Errorf("could not fetch remote event %s: %w", c.RemoteEventId, err)), nil
			}
			version = current.Version
		}
		ref = remote.Ref{RemoteId: c.RemoteEventId, Version: version}
		outcome.Kind = OutcomeLocalOnly

	case UseLocal, Merge:
		if c.Type == TypeDeletedRemotely {
			return r.fail(outcome, fmt.Errorf("%w: remote event %s was deleted, use recreate or unlink", ErrUnresolvable, c.RemoteEventId)), nil
		}
		payload, err := r.payloads.Payload(ctx, ownerId, events)
		if err != nil {
			return r.failOrAbort(outcome, err)
		}
		expected := c.RemoteVersion
		if expected == "" && c.Type == TypeEtagMismatch {
			outcome.QuotaUsed++
			current, err := client.Get(ctx, c.RemoteEventId)
			if err != nil {
				return r.fail(outcome, fmt.Errorf("could not fetch remote event %s: %w", c.RemoteEventId, err)), nil
			}
			expected = current.Version
		}
		outcome.QuotaUsed++
		ref, err = client.Update(ctx, c.RemoteEventId, payload, expected)
		if err != nil {
			return r.fail(outcome, fmt.Errorf("could not update remote event %s: %w", c.RemoteEventId, err)), nil
		}
		outcome.Kind = OutcomeUpdated

	case Recreate:
		payload, err := r.payloads.Payload(ctx, ownerId, events)
		if err != nil {
			return r.failOrAbort(outcome, err)
		}
		outcome.QuotaUsed++
		ref, err = client.Create(ctx, payload)
		if err != nil {
			return r.fail(outcome, fmt.Errorf("could not recreate remote event: %w", err)), nil
		}
		outcome.Kind = OutcomeCreated
	}

	resolved, err := Resolve(state, resolution, ref)
	if err != nil {
		return r.fail(outcome, err), nil
	}
	settled, err := Settle(resolved)
	if err != nil {
		return r.fail(outcome, err), nil
	}
	update, err := Update(settled)
	if err != nil {
		return r.fail(outcome, err), nil
	}
	if _, err := r.repo.UpdateFields(ctx, ownerId, ids, update); err != nil {
		return Outcome{}, err
	}

	log.Debugf("conflict of %s resolved with %s, now %s", c.LocalEventId, resolution, settled.Name())
	outcome.State = settled
	return outcome, nil
}

// stillConflicted reports whether every event still holds the link recorded in the conflict.
func stillConflicted(events []schedule.LocalEvent, c Conflict) bool {
	for _, event := range events {
		if event.Status != schedule.StatusSynced || event.RemoteId != c.RemoteEventId || event.RemoteVersion != c.LocalVersion {
			return false
		}
	}
	return true
}

func (r *Resolver) fail(outcome Outcome, err error) Outcome {
	log.Warnf("could not resolve conflict of %v: %v", outcome.EventIds, err)
	outcome.Kind = OutcomeFailed
	outcome.Err = err
	return outcome
}

func (r *Resolver) failOrAbort(outcome Outcome, err error) (Outcome, error) {
	if errors.Is(err, schedule.ErrStore) {
		return Outcome{}, err
	}
	return r.fail(outcome, err), nil
}
