package grouper

import (
	"sort"

	"github.com/klokku/calsync/pkg/formatter"
	"github.com/klokku/calsync/pkg/schedule"
)

const DefaultThreshold = 3

// Policy decides when a group is large enough to become one recurring remote event.
type Policy struct {
	// Threshold is exclusive: a group needs more members than this.
	Threshold int `koanf:"groupthreshold" validate:"min=1"`
}

func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold}
}

type Eligibility string

const (
	// BatchCreate groups become a single recurring remote event.
	BatchCreate Eligibility = "batch_create"
	// BatchUpdate groups were batched before and all share one remote event.
	BatchUpdate Eligibility = "batch_update"
	// Individual groups are synced event by event.
	Individual Eligibility = "individual"
	// Blocked groups share a remote event that cannot be rewritten from them. Nothing is sent.
	Blocked Eligibility = "blocked"
)

type IneligibleReason string

const (
	ReasonNone           IneligibleReason = ""
	ReasonTooSmall       IneligibleReason = "too_small"
	ReasonMixedTimes     IneligibleReason = "mixed_times"
	ReasonMixedLinkState IneligibleReason = "mixed_link_state"
	ReasonDivergentLinks IneligibleReason = "divergent_links"
	// ReasonSharedRemoteEvent marks events of one recurring remote event that no longer fit one rule.
	ReasonSharedRemoteEvent IneligibleReason = "shared_remote_event"
)

type Key struct {
	SubjectId string
	SectionId string
}

func (k Key) String() string {
	return k.SubjectId + "/" + k.SectionId
}

type Group struct {
	Key         Key
	Events      []schedule.LocalEvent
	Eligibility Eligibility
	Reason      IneligibleReason
}

func (g Group) Batched() bool {
	return g.Eligibility == BatchCreate || g.Eligibility == BatchUpdate
}

func (g Group) EventIds() []string {
	ids := make([]string, len(g.Events))
	for i, event := range g.Events {
		ids[i] = event.Id
	}
	return ids
}

// Partition splits events by subject and section and decides how each group is synced.
// Events holding the same remote id form one recurring group of their own, so the caller must pass
// every local event of such a remote event.
func Partition(events []schedule.LocalEvent, policy Policy) []Group {
	if policy.Threshold < 1 {
		policy = DefaultPolicy()
	}

	byKey := make(map[Key][]schedule.LocalEvent)
	holders := make(map[string]int)
	keysOf := make(map[string]map[Key]bool)
	for _, event := range events {
		key := Key{SubjectId: event.SubjectId, SectionId: event.SectionId}
		byKey[key] = append(byKey[key], event)
		if event.IsLinked() {
			holders[event.RemoteId]++
			if keysOf[event.RemoteId] == nil {
				keysOf[event.RemoteId] = make(map[Key]bool)
			}
			keysOf[event.RemoteId][key] = true
		}
	}

	groups := make([]Group, 0, len(byKey))
	for key, members := range byKey {
		groups = append(groups, split(key, formatter.SortByDate(members), holders, keysOf, policy)...)
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].Events[0], groups[j].Events[0]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime.Before(b.StartTime)
		}
		if groups[i].Key != groups[j].Key {
			return groups[i].Key.String() < groups[j].Key.String()
		}
		return a.Id < b.Id
	})
	return groups
}

// split takes the events of one key apart into recurring remote events and the rest.
// Unlinked events at the time of a recurring remote event join it.
func split(key Key, members []schedule.LocalEvent, holders map[string]int, keysOf map[string]map[Key]bool, policy Policy) []Group {
	shared := make(map[string][]schedule.LocalEvent)
	var order []string
	rest := make([]schedule.LocalEvent, 0, len(members))
	for _, event := range members {
		if !event.IsLinked() || holders[event.RemoteId] < 2 {
			rest = append(rest, event)
			continue
		}
		if _, ok := shared[event.RemoteId]; !ok {
			order = append(order, event.RemoteId)
		}
		shared[event.RemoteId] = append(shared[event.RemoteId], event)
	}

	groups := make([]Group, 0, len(order)+1)
	for _, remoteId := range order {
		cluster := shared[remoteId]
		if len(keysOf[remoteId]) > 1 || !uniformTimes(cluster) || !sameVersion(cluster) {
			groups = append(groups, Group{Key: key, Events: cluster, Eligibility: Blocked, Reason: ReasonSharedRemoteEvent})
			continue
		}
		kept := make([]schedule.LocalEvent, 0, len(rest))
		for _, event := range rest {
			if !event.IsLinked() && sameTimes(event, cluster[0]) {
				cluster = append(cluster, event)
			} else {
				kept = append(kept, event)
			}
		}
		rest = kept
		groups = append(groups, Group{Key: key, Events: formatter.SortByDate(cluster), Eligibility: BatchUpdate})
	}

	if len(rest) > 0 {
		group := Group{Key: key, Events: rest}
		group.Eligibility, group.Reason = classify(rest, policy)
		groups = append(groups, group)
	}
	return groups
}

// classify decides a group whose linked members each hold a remote event of their own.
func classify(events []schedule.LocalEvent, policy Policy) (Eligibility, IneligibleReason) {
	if len(events) <= policy.Threshold {
		return Individual, ReasonTooSmall
	}
	if !uniformTimes(events) {
		return Individual, ReasonMixedTimes
	}
	linked := 0
	for _, event := range events {
		if event.IsLinked() {
			linked++
		}
	}

	switch linked {
	case 0:
		return BatchCreate, ReasonNone
	case len(events):
		return Individual, ReasonDivergentLinks
	default:
		return Individual, ReasonMixedLinkState
	}
}

func sameTimes(a, b schedule.LocalEvent) bool {
	return a.StartTime == b.StartTime && a.EndTime == b.EndTime
}

func uniformTimes(events []schedule.LocalEvent) bool {
	for _, event := range events[1:] {
		if !sameTimes(event, events[0]) {
			return false
		}
	}
	return true
}

func sameVersion(events []schedule.LocalEvent) bool {
	for _, event := range events[1:] {
		if event.RemoteVersion != events[0].RemoteVersion {
			return false
		}
	}
	return true
}
