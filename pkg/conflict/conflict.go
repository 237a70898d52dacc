package conflict

import (
	"slices"
)

type Type string

const (
	TypeEtagMismatch       Type = "etag_mismatch"
	TypeDeletedRemotely    Type = "deleted_remotely"
	TypeModifiedExternally Type = "modified_externally"
)

type Resolution string

const (
	UseLocal  Resolution = "use_local"
	UseGoogle Resolution = "use_google"
	Merge     Resolution = "merge"
	Recreate  Resolution = "recreate"
	Unlink    Resolution = "unlink"
)

func (r Resolution) Valid() bool {
	switch r {
	case UseLocal, UseGoogle, Merge, Recreate, Unlink:
		return true
	}
	return false
}

// Conflict records a divergence between a local event and its remote counterpart.
// LocalVersion is the token held locally when the conflict was found.
type Conflict struct {
	LocalEventId        string     `json:"localEventId"`
	MemberEventIds      []string   `json:"memberEventIds,omitempty"`
	RemoteEventId       string     `json:"remoteEventId"`
	Type                Type       `json:"type"`
	SuggestedResolution Resolution `json:"suggestedResolution"`
	LocalVersion        string     `json:"localVersion,omitempty"`
	RemoteVersion       string     `json:"remoteVersion,omitempty"`
	ChangedFields       []string   `json:"changedFields,omitempty"`
}

// EventIds returns every local event bound by the conflict. Batched groups list all members.
func (c Conflict) EventIds() []string {
	if len(c.MemberEventIds) > 0 {
		return c.MemberEventIds
	}
	return []string{c.LocalEventId}
}

// MergePolicy lists payload fields whose divergence is harmless enough to report a merge.
type MergePolicy struct {
	NonCriticalFields []string `koanf:"mergefields"`
}

func DefaultMergePolicy() MergePolicy {
	return MergePolicy{NonCriticalFields: []string{FieldDescription, FieldColorId, FieldReminders}}
}

// Suggest returns the default resolution of a conflict.
func Suggest(c Conflict, policy MergePolicy) Resolution {
	switch c.Type {
	case TypeDeletedRemotely:
		return Recreate
	case TypeModifiedExternally:
		return UseGoogle
	case TypeEtagMismatch:
		if onlyNonCritical(c.ChangedFields, policy) {
			return Merge
		}
		return UseLocal
	}
	return UseLocal
}

func onlyNonCritical(changed []string, policy MergePolicy) bool {
	if len(changed) == 0 {
		return false
	}
	for _, field := range changed {
		if !slices.Contains(policy.NonCriticalFields, field) {
			return false
		}
	}
	return true
}
