package conflict

import (
	"errors"
	"slices"

	"github.com/klokku/calsync/pkg/remote"
)

const (
	FieldSummary     = "summary"
	FieldDescription = "description"
	FieldStart       = "start"
	FieldEnd         = "end"
	FieldTimeZone    = "timeZone"
	FieldColorId     = "colorId"
	FieldReminders   = "reminders"
	FieldRecurrence  = "recurrence"
)

type Detector struct {
	policy MergePolicy
}

func NewDetector(policy MergePolicy) *Detector {
	return &Detector{policy: policy}
}

// Classify compares the locally held version and payload with what was fetched from the remote.
// fetchErr is the error of that fetch; errors other than not found are returned as they are.
// The boolean is false when local and remote agree.
func (d *Detector) Classify(localEventId, remoteId, heldVersion string, local remote.Payload, fetched remote.Event, fetchErr error) (Conflict, bool, error) {
	c := Conflict{
		LocalEventId:  localEventId,
		RemoteEventId: remoteId,
		LocalVersion:  heldVersion,
	}

	if fetchErr != nil {
		if !errors.Is(fetchErr, remote.ErrNotFound) {
			return Conflict{}, false, fetchErr
		}
		c.Type = TypeDeletedRemotely
		c.SuggestedResolution = Suggest(c, d.policy)
		return c, true, nil
	}

	c.RemoteVersion = fetched.Version
	c.ChangedFields = ChangedFields(local, fetched.Payload)
	if remote.Comparable(heldVersion, fetched.Version) {
		if heldVersion == fetched.Version {
			return Conflict{}, false, nil
		}
		c.Type = TypeEtagMismatch
	} else {
		if len(c.ChangedFields) == 0 {
			return Conflict{}, false, nil
		}
		c.Type = TypeModifiedExternally
	}
	c.SuggestedResolution = Suggest(c, d.policy)
	return c, true, nil
}

// Mismatch builds an etag_mismatch conflict for a rejected update whose remote state could not be fetched.
func (d *Detector) Mismatch(localEventId, remoteId, heldVersion string) Conflict {
	c := Conflict{
		LocalEventId:  localEventId,
		RemoteEventId: remoteId,
		Type:          TypeEtagMismatch,
		LocalVersion:  heldVersion,
	}
	c.SuggestedResolution = Suggest(c, d.policy)
	return c
}

// DeletedRemotely builds the conflict of an event whose remote counterpart is gone.
func (d *Detector) DeletedRemotely(localEventId, remoteId, heldVersion string) Conflict {
	c := Conflict{
		LocalEventId:  localEventId,
		RemoteEventId: remoteId,
		Type:          TypeDeletedRemotely,
		LocalVersion:  heldVersion,
	}
	c.SuggestedResolution = Suggest(c, d.policy)
	return c
}

// ChangedFields lists the payload fields that differ, in a fixed order.
func ChangedFields(local, other remote.Payload) []string {
	changed := make([]string, 0)
	if local.Summary != other.Summary {
		changed = append(changed, FieldSummary)
	}
	if local.Description != other.Description {
		changed = append(changed, FieldDescription)
	}
	if local.Start != other.Start {
		changed = append(changed, FieldStart)
	}
	if local.End != other.End {
		changed = append(changed, FieldEnd)
	}
	if local.TimeZone != other.TimeZone {
		changed = append(changed, FieldTimeZone)
	}
	if local.ColorId != other.ColorId {
		changed = append(changed, FieldColorId)
	}
	if !slices.Equal(local.Reminders, other.Reminders) {
		changed = append(changed, FieldReminders)
	}
	if !slices.Equal(local.Recurrence, other.Recurrence) {
		changed = append(changed, FieldRecurrence)
	}
	return changed
}
