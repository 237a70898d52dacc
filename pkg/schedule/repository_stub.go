package schedule

import (
	"context"
	"slices"
	"sort"
	"sync"
)

type RepositoryStub struct {
	mu       sync.RWMutex
	events   map[string]LocalEvent
	subjects map[string]Subject
	sections map[string]Section

	selectErr error
	updateErr error
	updates   int
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		events:   make(map[string]LocalEvent),
		subjects: make(map[string]Subject),
		sections: make(map[string]Section),
	}
}

func (r *RepositoryStub) SelectByOwnerAndRange(ctx context.Context, ownerId int, dateRange DateRange, filter Filter) ([]LocalEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selectErr != nil {
		return nil, r.selectErr
	}

	result := make([]LocalEvent, 0)
	for _, event := range r.events {
		if event.OwnerId != ownerId || !dateRange.Contains(event.Date) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, event.Status) {
			continue
		}
		if len(filter.EventIds) > 0 && !slices.Contains(filter.EventIds, event.Id) {
			continue
		}
		result = append(result, event)
	}
	sortEvents(result)
	return result, nil
}

func (r *RepositoryStub) GetEventsByIds(ctx context.Context, ownerId int, ids []string) ([]LocalEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selectErr != nil {
		return nil, r.selectErr
	}

	result := make([]LocalEvent, 0, len(ids))
	for _, id := range ids {
		if event, ok := r.events[id]; ok && event.OwnerId == ownerId {
			result = append(result, event)
		}
	}
	sortEvents(result)
	return result, nil
}

func (r *RepositoryStub) SelectByRemoteIds(ctx context.Context, ownerId int, remoteIds []string) ([]LocalEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selectErr != nil {
		return nil, r.selectErr
	}

	result := make([]LocalEvent, 0)
	for _, event := range r.events {
		if event.OwnerId == ownerId && event.Status == StatusSynced && slices.Contains(remoteIds, event.RemoteId) {
			result = append(result, event)
		}
	}
	sortEvents(result)
	return result, nil
}

func (r *RepositoryStub) UpdateFields(ctx context.Context, ownerId int, eventIds []string, update FieldUpdate) (int64, error) {
	if err := update.Validate(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return 0, r.updateErr
	}

	r.updates++
	var affected int64
	for _, id := range eventIds {
		event, ok := r.events[id]
		if !ok || event.OwnerId != ownerId {
			continue
		}
		r.events[id] = update.Apply(event)
		affected++
	}
	return affected, nil
}

func (r *RepositoryStub) GetSubjects(ctx context.Context, ownerId int, ids []string) (map[string]Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selectErr != nil {
		return nil, r.selectErr
	}
	result := make(map[string]Subject, len(ids))
	for _, id := range ids {
		if subject, ok := r.subjects[id]; ok && subject.OwnerId == ownerId {
			result[id] = subject
		}
	}
	return result, nil
}

func (r *RepositoryStub) GetSections(ctx context.Context, ids []string) (map[string]Section, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selectErr != nil {
		return nil, r.selectErr
	}
	result := make(map[string]Section, len(ids))
	for _, id := range ids {
		if section, ok := r.sections[id]; ok {
			result[id] = section
		}
	}
	return result, nil
}

func (r *RepositoryStub) AddEvent(event LocalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.Status == "" {
		event.Status = StatusPlanned
	}
	r.events[event.Id] = event
}

func (r *RepositoryStub) AddSubject(subject Subject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects[subject.Id] = subject
}

func (r *RepositoryStub) AddSection(section Section) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sections[section.Id] = section
}

func (r *RepositoryStub) Event(id string) (LocalEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[id]
	return event, ok
}

// UpdateCount returns how many UpdateFields calls reached the store.
func (r *RepositoryStub) UpdateCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updates
}

func (r *RepositoryStub) SetSelectError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selectErr = err
}

func (r *RepositoryStub) SetUpdateError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateErr = err
}

func sortEvents(events []LocalEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime.Before(b.StartTime)
		}
		return a.Id < b.Id
	})
}
