package calsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/klokku/calsync/internal/event_bus"
	"github.com/klokku/calsync/pkg/conflict"
	"github.com/klokku/calsync/pkg/formatter"
	"github.com/klokku/calsync/pkg/grouper"
	"github.com/klokku/calsync/pkg/remote"
	"github.com/klokku/calsync/pkg/schedule"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Service interface {
	SyncToRemote(ctx context.Context, ownerId int, request SyncRequest) (SyncResult, error)
	ResolveConflicts(ctx context.Context, ownerId int, conflicts []conflict.Conflict, resolutions []conflict.Resolution) (SyncResult, error)
	// DetectConflicts fetches the remote events of synced events in the range and reports divergence without writing.
	DetectConflicts(ctx context.Context, ownerId int, dateRange DateRange) (SyncResult, error)
}

// OptionsProvider returns the formatting options of an owner, e.g. their time zone.
type OptionsProvider interface {
	FormatOptions(ctx context.Context, ownerId int) (formatter.Options, error)
}

type Config struct {
	Policy  grouper.Policy
	Merge   conflict.MergePolicy
	Workers int
}

func DefaultConfig() Config {
	return Config{
		Policy:  grouper.DefaultPolicy(),
		Merge:   conflict.DefaultMergePolicy(),
		Workers: 4,
	}
}

type ServiceImpl struct {
	repo      schedule.Repository
	clients   remote.ClientProvider
	formatter *formatter.Formatter
	options   OptionsProvider
	detector  *conflict.Detector
	resolver  *conflict.Resolver
	eventBus  *event_bus.EventBus
	policy    grouper.Policy
	workers   int
}

func NewService(
	repo schedule.Repository,
	clients remote.ClientProvider,
	f *formatter.Formatter,
	options OptionsProvider,
	eventBus *event_bus.EventBus,
	cfg Config,
) *ServiceImpl {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	s := &ServiceImpl{
		repo:      repo,
		clients:   clients,
		formatter: f,
		options:   options,
		detector:  conflict.NewDetector(cfg.Merge),
		eventBus:  eventBus,
		policy:    cfg.Policy,
		workers:   cfg.Workers,
	}
	s.resolver = conflict.NewResolver(repo, s)
	return s
}

// syncContext is everything a group needs besides its own events.
type syncContext struct {
	ownerId  int
	dryRun   bool
	client   remote.Client
	options  formatter.Options
	subjects map[string]schedule.Subject
	sections map[string]schedule.Section
}

type groupResult struct {
	details   []Detail
	conflicts []conflict.Conflict
	quota     int
}

func (s *ServiceImpl) SyncToRemote(ctx context.Context, ownerId int, request SyncRequest) (SyncResult, error) {
	dateRange, err := request.Validate()
	if err != nil {
		return SyncResult{}, err
	}

	events, err := s.repo.SelectByOwnerAndRange(ctx, ownerId, dateRange, schedule.Filter{
		Statuses: []schedule.EventStatus{schedule.StatusPlanned, schedule.StatusSynced},
		EventIds: request.EventIds,
	})
	if err != nil {
		return SyncResult{}, err
	}
	events, err = s.withSharedMembers(ctx, ownerId, events)
	if err != nil {
		return SyncResult{}, err
	}

	result := newResult(request.DryRun)
	if len(events) == 0 {
		s.publish(ctx, ownerId, request.IdempotencyKey, result)
		return result, nil
	}

	sc, err := s.prepare(ctx, ownerId, events, request.DryRun)
	if err != nil {
		return SyncResult{}, err
	}

	groups := grouper.Partition(events, s.policy)
	if !request.DryRun {
		client, err := s.clients.ClientFor(ctx, ownerId)
		if err != nil {
			if !isRemoteError(err) {
				return SyncResult{}, err
			}
			log.Warnf("no remote calendar for user %d: %v", ownerId, err)
			for _, group := range groups {
				result.add(failAll(group, err)...)
			}
			s.publish(ctx, ownerId, request.IdempotencyKey, result)
			return result, nil
		}
		sc.client = client
	}

	results := make([]groupResult, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, group := range groups {
		g.Go(func() error {
			r, err := s.syncGroup(gctx, sc, group)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorf("sync for user %d aborted: %v", ownerId, err)
		return SyncResult{}, err
	}

	for _, r := range results {
		result.add(r.details...)
		result.Conflicts = append(result.Conflicts, r.conflicts...)
		result.QuotaUsed += r.quota
	}
	log.Infof("sync for user %d (dry run: %t): %d created, %d updated, %d skipped, %d failed, %d conflicts, quota %d",
		ownerId, request.DryRun, result.Summary.Created, result.Summary.Updated, result.Summary.Skipped,
		result.Summary.Failed, len(result.Conflicts), result.QuotaUsed)

	s.publish(ctx, ownerId, request.IdempotencyKey, result)
	return result, nil
}

func (s *ServiceImpl) prepare(ctx context.Context, ownerId int, events []schedule.LocalEvent, dryRun bool) (syncContext, error) {
	subjectIds := make([]string, 0, len(events))
	sectionIds := make([]string, 0, len(events))
	seen := make(map[string]bool)
	for _, event := range events {
		if !seen["subject:"+event.SubjectId] {
			seen["subject:"+event.SubjectId] = true
			subjectIds = append(subjectIds, event.SubjectId)
		}
		if !seen["section:"+event.SectionId] {
			seen["section:"+event.SectionId] = true
			sectionIds = append(sectionIds, event.SectionId)
		}
	}

	subjects, err := s.repo.GetSubjects(ctx, ownerId, subjectIds)
	if err != nil {
		return syncContext{}, err
	}
	sections, err := s.repo.GetSections(ctx, sectionIds)
	if err != nil {
		return syncContext{}, err
	}
	options, err := s.formatOptions(ctx, ownerId)
	if err != nil {
		return syncContext{}, err
	}
	return syncContext{
		ownerId:  ownerId,
		dryRun:   dryRun,
		options:  options,
		subjects: subjects,
		sections: sections,
	}, nil
}

func (s *ServiceImpl) formatOptions(ctx context.Context, ownerId int) (formatter.Options, error) {
	if s.options == nil {
		return formatter.Options{}, nil
	}
	return s.options.FormatOptions(ctx, ownerId)
}

func (s *ServiceImpl) syncGroup(ctx context.Context, sc syncContext, group grouper.Group) (groupResult, error) {
	subject, okSubject := sc.subjects[group.Key.SubjectId]
	section, okSection := sc.sections[group.Key.SectionId]
	if !okSubject || !okSection {
		err := fmt.Errorf("subject %s or section %s not found", group.Key.SubjectId, group.Key.SectionId)
		log.Warnf("skipping group %s: %v", group.Key, err)
		return groupResult{details: failAll(group, err)}, nil
	}

	switch group.Eligibility {
	case grouper.Blocked:
		err := fmt.Errorf("events of remote event %s no longer fit one recurring rule", group.Events[0].RemoteId)
		log.Warnf("skipping group %s: %v", group.Key, err)
		return groupResult{details: failAll(group, err)}, nil
	case grouper.BatchCreate:
		return s.createBatch(ctx, sc, group, subject, section)
	case grouper.BatchUpdate:
		return s.updateBatch(ctx, sc, group, subject, section)
	default:
		var result groupResult
		for _, event := range group.Events {
			if err := s.syncOne(ctx, sc, group, event, subject, section, &result); err != nil {
				return groupResult{}, err
			}
		}
		return result, nil
	}
}

func (s *ServiceImpl) createBatch(ctx context.Context, sc syncContext, group grouper.Group, subject schedule.Subject, section schedule.Section) (groupResult, error) {
	payload, err := s.formatter.FormatRecurring(group.Events, subject, section, sc.options)
	if err != nil {
		log.Errorf("could not format recurring event for group %s: %v", group.Key, err)
		return groupResult{details: failAll(group, err)}, nil
	}

	if sc.dryRun {
		ref := placeholder()
		return groupResult{details: detailsFor(group, ActionCreated, ref)}, nil
	}

	result := groupResult{quota: 1}
	ref, err := sc.client.Create(ctx, payload)
	if err != nil {
		log.Warnf("could not create recurring event for group %s: %v", group.Key, err)
		result.details = failAll(group, err)
		return result, nil
	}
	ref = ref.Normalize()
	if err := s.link(ctx, sc.ownerId, group.Events, ref); err != nil {
		return groupResult{}, err
	}
	result.details = detailsFor(group, ActionCreated, ref)
	return result, nil
}

func (s *ServiceImpl) updateBatch(ctx context.Context, sc syncContext, group grouper.Group, subject schedule.Subject, section schedule.Section) (groupResult, error) {
	payload, err := s.formatter.FormatRecurring(group.Events, subject, section, sc.options)
	if err != nil {
		log.Errorf("could not format recurring event for group %s: %v", group.Key, err)
		return groupResult{details: failAll(group, err)}, nil
	}

	// New events at the same time may have joined the group and are not linked yet.
	var first schedule.LocalEvent
	var members []string
	for _, event := range group.Events {
		if event.IsLinked() {
			if members == nil {
				first = event
			}
			members = append(members, event.Id)
		}
	}
	current := remote.Ref{RemoteId: first.RemoteId, Version: first.RemoteVersion}
	if sc.dryRun {
		return groupResult{details: detailsFor(group, ActionUpdated, current)}, nil
	}

	result := groupResult{quota: 1}
	ref, err := sc.client.Update(ctx, current.RemoteId, payload, current.Version)
	if err != nil {
		c, found := s.conflictFor(ctx, sc, first, payload, err, &result)
		if found {
			c.MemberEventIds = members
			result.conflicts = append(result.conflicts, c)
			err = conflictError(c)
		}
		log.Warnf("could not update recurring event %s of group %s: %v", current.RemoteId, group.Key, err)
		result.details = failAll(group, err)
		return result, nil
	}
	ref = ref.Normalize()
	if err := s.link(ctx, sc.ownerId, group.Events, ref); err != nil {
		return groupResult{}, err
	}
	result.details = detailsFor(group, ActionUpdated, ref)
	return result, nil
}

func (s *ServiceImpl) syncOne(
	ctx context.Context,
	sc syncContext,
	group grouper.Group,
	event schedule.LocalEvent,
	subject schedule.Subject,
	section schedule.Section,
	result *groupResult,
) error {
	detail := Detail{LocalEventId: event.Id, GroupKey: group.Key.String(), Reason: string(group.Reason)}

	payload, err := s.formatter.FormatSingle(event, subject, section, sc.options)
	if err != nil {
		log.Warnf("could not format event %s: %v", event.Id, err)
		detail.Action = ActionFailed
		detail.Error = err.Error()
		result.details = append(result.details, detail)
		return nil
	}

	// Presence of a remote id decides between create and update, so a retry never creates twice.
	if !event.IsLinked() {
		ref := placeholder()
		if !sc.dryRun {
			result.quota++
			ref, err = sc.client.Create(ctx, payload)
			if err != nil {
				log.Warnf("could not create remote event for %s: %v", event.Id, err)
				detail.Action = ActionFailed
				detail.Error = err.Error()
				result.details = append(result.details, detail)
				return nil
			}
			ref = ref.Normalize()
			if err := s.link(ctx, sc.ownerId, []schedule.LocalEvent{event}, ref); err != nil {
				return err
			}
		}
		detail.Action = ActionCreated
		detail.RemoteEventId = ref.RemoteId
		detail.Version = ref.Version
		result.details = append(result.details, detail)
		return nil
	}

	detail.RemoteEventId = event.RemoteId
	if sc.dryRun {
		detail.Action = ActionUpdated
		detail.Version = event.RemoteVersion
		result.details = append(result.details, detail)
		return nil
	}

	result.quota++
	ref, err := sc.client.Update(ctx, event.RemoteId, payload, event.RemoteVersion)
	if err != nil {
		if c, found := s.conflictFor(ctx, sc, event, payload, err, result); found {
			result.conflicts = append(result.conflicts, c)
			err = conflictError(c)
		}
		log.Warnf("could not update remote event %s for %s: %v", event.RemoteId, event.Id, err)
		detail.Action = ActionFailed
		detail.Error = err.Error()
		result.details = append(result.details, detail)
		return nil
	}
	ref = ref.Normalize()
	if err := s.link(ctx, sc.ownerId, []schedule.LocalEvent{event}, ref); err != nil {
		return err
	}
	detail.Action = ActionUpdated
	detail.RemoteEventId = ref.RemoteId
	detail.Version = ref.Version
	result.details = append(result.details, detail)
	return nil
}

// conflictFor classifies a failed update. Only precondition failures and missing remote events are
// conflicts, everything else stays a plain failure.
func (s *ServiceImpl) conflictFor(ctx context.Context, sc syncContext, event schedule.LocalEvent, payload remote.Payload, updateErr error, result *groupResult) (conflict.Conflict, bool) {
	var c conflict.Conflict
	switch {
	case errors.Is(updateErr, remote.ErrNotFound):
		c = s.detector.DeletedRemotely(event.Id, event.RemoteId, event.RemoteVersion)

	case errors.Is(updateErr, remote.ErrPreconditionFailed):
		result.quota++
		fetched, fetchErr := sc.client.Get(ctx, event.RemoteId)
		classified, found, err := s.detector.Classify(event.Id, event.RemoteId, event.RemoteVersion, payload, fetched, fetchErr)
		switch {
		case err != nil:
			log.Warnf("could not fetch remote event %s after rejected update: %v", event.RemoteId, err)
			c = s.detector.Mismatch(event.Id, event.RemoteId, event.RemoteVersion)
		case !found:
			return conflict.Conflict{}, false
		default:
			c = classified
		}

	default:
		return conflict.Conflict{}, false
	}

	if _, err := conflict.Conflicted(conflict.StateOf(event), c); err != nil {
		log.Errorf("unexpected state of event %s: %v", event.Id, err)
	}
	log.Infof("conflict on event %s: %s, suggested %s", event.Id, c.Type, c.SuggestedResolution)
	return c, true
}

// link stamps events with the remote reference in a single store update.
func (s *ServiceImpl) link(ctx context.Context, ownerId int, events []schedule.LocalEvent, ref remote.Ref) error {
	ids := make([]string, len(events))
	for i, event := range events {
		if _, err := conflict.Linked(conflict.StateOf(event), ref); err != nil {
			return err
		}
		ids[i] = event.Id
	}
	_, err := s.repo.UpdateFields(ctx, ownerId, ids, schedule.Linked(ref.RemoteId, ref.Version))
	return err
}

// withSharedMembers adds every synced event that shares a remote event with a candidate, so a
// recurring remote event is always rewritten from all of its occurrences.
func (s *ServiceImpl) withSharedMembers(ctx context.Context, ownerId int, events []schedule.LocalEvent) ([]schedule.LocalEvent, error) {
	seen := make(map[string]bool, len(events))
	linked := make(map[string]bool)
	remoteIds := make([]string, 0)
	for _, event := range events {
		seen[event.Id] = true
		if event.IsLinked() && !linked[event.RemoteId] {
			linked[event.RemoteId] = true
			remoteIds = append(remoteIds, event.RemoteId)
		}
	}
	if len(remoteIds) == 0 {
		return events, nil
	}

	members, err := s.repo.SelectByRemoteIds(ctx, ownerId, remoteIds)
	if err != nil {
		return nil, err
	}
	for _, member := range members {
		if !seen[member.Id] {
			seen[member.Id] = true
			events = append(events, member)
		}
	}
	return events, nil
}

func (s *ServiceImpl) ResolveConflicts(ctx context.Context, ownerId int, conflicts []conflict.Conflict, resolutions []conflict.Resolution) (SyncResult, error) {
	if len(resolutions) == 0 {
		resolutions = make([]conflict.Resolution, len(conflicts))
	}
	if len(resolutions) != len(conflicts) {
		return SyncResult{}, fmt.Errorf("%w: %d conflicts but %d resolutions", ErrInvalidArgument, len(conflicts), len(resolutions))
	}
	for i, resolution := range resolutions {
		if resolution != "" && !resolution.Valid() {
			return SyncResult{}, fmt.Errorf("%w: unknown resolution %q at position %d", ErrInvalidArgument, resolution, i)
		}
	}

	result := newResult(false)
	if len(conflicts) == 0 {
		return result, nil
	}

	client, err := s.clients.ClientFor(ctx, ownerId)
	if err != nil {
		if !isRemoteError(err) {
			return SyncResult{}, err
		}
		for i, c := range conflicts {
			for _, id := range c.EventIds() {
				result.add(Detail{LocalEventId: id, RemoteEventId: c.RemoteEventId, Action: ActionFailed,
					Error: err.Error(), Resolution: chosen(c, resolutions[i])})
			}
		}
		s.publish(ctx, ownerId, "", result)
		return result, nil
	}

	for i, c := range conflicts {
		resolution := chosen(c, resolutions[i])
		outcome, err := s.resolver.Resolve(ctx, ownerId, client, c, resolution)
		if err != nil {
			log.Errorf("resolving conflicts for user %d aborted: %v", ownerId, err)
			return SyncResult{}, err
		}
		result.QuotaUsed += outcome.QuotaUsed
		result.add(outcomeDetails(c, outcome)...)
	}

	log.Infof("resolved %d conflicts for user %d: %d created, %d updated, %d skipped, %d failed",
		len(conflicts), ownerId, result.Summary.Created, result.Summary.Updated, result.Summary.Skipped, result.Summary.Failed)
	s.publish(ctx, ownerId, "", result)
	return result, nil
}

// DetectConflicts compares every remote event linked from the range with the local state. One Get
// is issued per remote event, a recurring one is compared against its rebuilt recurring payload.
func (s *ServiceImpl) DetectConflicts(ctx context.Context, ownerId int, dateRange DateRange) (SyncResult, error) {
	parsed, err := dateRange.Parse()
	if err != nil {
		return SyncResult{}, err
	}
	events, err := s.repo.SelectByOwnerAndRange(ctx, ownerId, parsed, schedule.Filter{
		Statuses: []schedule.EventStatus{schedule.StatusSynced},
	})
	if err != nil {
		return SyncResult{}, err
	}
	events, err = s.withSharedMembers(ctx, ownerId, events)
	if err != nil {
		return SyncResult{}, err
	}

	result := newResult(false)
	if len(events) == 0 {
		return result, nil
	}
	sc, err := s.prepare(ctx, ownerId, events, false)
	if err != nil {
		return SyncResult{}, err
	}

	var order []string
	byRemote := make(map[string][]schedule.LocalEvent)
	for _, event := range formatter.SortByDate(events) {
		if _, ok := byRemote[event.RemoteId]; !ok {
			order = append(order, event.RemoteId)
		}
		byRemote[event.RemoteId] = append(byRemote[event.RemoteId], event)
	}

	client, err := s.clients.ClientFor(ctx, ownerId)
	if err != nil {
		if !isRemoteError(err) {
			return SyncResult{}, err
		}
		log.Warnf("no remote calendar for user %d: %v", ownerId, err)
		for _, remoteId := range order {
			result.add(checkDetails(byRemote[remoteId], ActionFailed, "", err)...)
		}
		return result, nil
	}

	results := make([]groupResult, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, remoteId := range order {
		g.Go(func() error {
			results[i] = s.check(gctx, sc, client, byRemote[remoteId])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SyncResult{}, err
	}

	for _, r := range results {
		result.add(r.details...)
		result.Conflicts = append(result.Conflicts, r.conflicts...)
		result.QuotaUsed += r.quota
	}
	log.Infof("checked %d remote events for user %d: %d conflicts, %d failed, quota %d",
		len(order), ownerId, len(result.Conflicts), result.Summary.Failed, result.QuotaUsed)
	s.publishConflicts(ctx, ownerId, result.Conflicts)
	return result, nil
}

// check fetches one remote event and classifies it against the events linked to it.
func (s *ServiceImpl) check(ctx context.Context, sc syncContext, client remote.Client, members []schedule.LocalEvent) groupResult {
	first := members[0]
	payload, err := s.format(sc, members)
	if err != nil {
		log.Warnf("could not format events of remote event %s: %v", first.RemoteId, err)
		return groupResult{details: checkDetails(members, ActionFailed, "", err)}
	}

	result := groupResult{quota: 1}
	fetched, fetchErr := client.Get(ctx, first.RemoteId)
	c, found, err := s.detector.Classify(first.Id, first.RemoteId, first.RemoteVersion, payload, fetched, fetchErr)
	switch {
	case err != nil:
		log.Warnf("could not fetch remote event %s: %v", first.RemoteId, err)
		result.details = checkDetails(members, ActionFailed, "", err)
	case !found:
		result.details = checkDetails(members, ActionSkipped, reasonInSync, nil)
	default:
		if len(members) > 1 {
			c.MemberEventIds = eventIds(members)
		}
		log.Infof("conflict on event %s: %s, suggested %s", first.Id, c.Type, c.SuggestedResolution)
		result.conflicts = []conflict.Conflict{c}
		result.details = checkDetails(members, ActionSkipped, string(c.Type), nil)
	}
	return result
}

func checkDetails(members []schedule.LocalEvent, action Action, reason string, err error) []Detail {
	details := make([]Detail, 0, len(members))
	for _, event := range members {
		d := Detail{
			LocalEventId:  event.Id,
			RemoteEventId: event.RemoteId,
			Action:        action,
			Version:       event.RemoteVersion,
			Batched:       len(members) > 1,
			Reason:        reason,
		}
		if err != nil {
			d.Error = err.Error()
		}
		details = append(details, d)
	}
	return details
}

func eventIds(events []schedule.LocalEvent) []string {
	ids := make([]string, len(events))
	for i, event := range events {
		ids[i] = event.Id
	}
	return ids
}

func chosen(c conflict.Conflict, resolution conflict.Resolution) conflict.Resolution {
	if resolution != "" {
		return resolution
	}
	if c.SuggestedResolution != "" {
		return c.SuggestedResolution
	}
	return conflict.Suggest(c, conflict.DefaultMergePolicy())
}

func outcomeDetails(c conflict.Conflict, outcome conflict.Outcome) []Detail {
	detail := Detail{RemoteEventId: c.RemoteEventId, Resolution: outcome.Resolution, Batched: len(c.MemberEventIds) > 0}
	switch outcome.Kind {
	case conflict.OutcomeCreated:
		detail.Action = ActionCreated
	case conflict.OutcomeUpdated:
		detail.Action = ActionUpdated
	case conflict.OutcomeLocalOnly:
		detail.Action = ActionSkipped
	case conflict.OutcomeAlreadyResolved:
		detail.Action = ActionSkipped
		detail.Reason = string(conflict.OutcomeAlreadyResolved)
	default:
		detail.Action = ActionFailed
		if outcome.Err != nil {
			detail.Error = outcome.Err.Error()
		}
	}
	switch st := outcome.State.(type) {
	case conflict.LinkedClean:
		detail.RemoteEventId = st.RemoteId
		detail.Version = st.Version
	case conflict.NotLinked:
		detail.RemoteEventId = ""
	}

	details := make([]Detail, 0, len(outcome.EventIds))
	for _, id := range outcome.EventIds {
		d := detail
		d.LocalEventId = id
		details = append(details, d)
	}
	return details
}

// Payload rebuilds the remote payload of events, recurring when there are several.
func (s *ServiceImpl) Payload(ctx context.Context, ownerId int, events []schedule.LocalEvent) (remote.Payload, error) {
	if len(events) == 0 {
		return remote.Payload{}, fmt.Errorf("%w: no events to format", formatter.ErrInvalidArgument)
	}
	sc, err := s.prepare(ctx, ownerId, events, false)
	if err != nil {
		return remote.Payload{}, err
	}
	return s.format(sc, events)
}

func (s *ServiceImpl) format(sc syncContext, events []schedule.LocalEvent) (remote.Payload, error) {
	first := events[0]
	subject, okSubject := sc.subjects[first.SubjectId]
	section, okSection := sc.sections[first.SectionId]
	if !okSubject || !okSection {
		return remote.Payload{}, fmt.Errorf("subject %s or section %s not found", first.SubjectId, first.SectionId)
	}
	if len(events) == 1 {
		return s.formatter.FormatSingle(first, subject, section, sc.options)
	}
	return s.formatter.FormatRecurring(events, subject, section, sc.options)
}

func (s *ServiceImpl) publish(ctx context.Context, ownerId int, key string, result SyncResult) {
	if s.eventBus == nil {
		return
	}
	s.publishConflicts(ctx, ownerId, result.Conflicts)
	err := s.eventBus.Publish(event_bus.NewEvent(ctx, event_bus.SyncCompletedEvent, event_bus.SyncCompleted{
		OwnerId:        ownerId,
		IdempotencyKey: key,
		DryRun:         result.IsDryRun,
		Created:        result.Summary.Created,
		Updated:        result.Summary.Updated,
		Skipped:        result.Summary.Skipped,
		Failed:         result.Summary.Failed,
		Conflicts:      len(result.Conflicts),
		QuotaUsed:      result.QuotaUsed,
	}))
	if err != nil {
		log.Errorf("failed to publish sync completion for user %d: %v", ownerId, err)
	}
}

func (s *ServiceImpl) publishConflicts(ctx context.Context, ownerId int, conflicts []conflict.Conflict) {
	if s.eventBus == nil {
		return
	}
	for _, c := range conflicts {
		err := s.eventBus.Publish(event_bus.NewEvent(ctx, event_bus.ConflictDetectedEvent, event_bus.ConflictDetected{
			OwnerId:             ownerId,
			LocalEventId:        c.LocalEventId,
			RemoteEventId:       c.RemoteEventId,
			Type:                string(c.Type),
			SuggestedResolution: string(c.SuggestedResolution),
		}))
		if err != nil {
			log.Errorf("failed to publish conflict of %s: %v", c.LocalEventId, err)
		}
	}
}

func placeholder() remote.Ref {
	return remote.Ref{RemoteId: dryRunIdPrefix + uuid.NewString(), Version: dryRunVersion}
}

func detailsFor(group grouper.Group, action Action, ref remote.Ref) []Detail {
	details := make([]Detail, 0, len(group.Events))
	for _, event := range group.Events {
		details = append(details, Detail{
			LocalEventId:  event.Id,
			RemoteEventId: ref.RemoteId,
			Action:        action,
			Version:       ref.Version,
			GroupKey:      group.Key.String(),
			Batched:       group.Batched(),
		})
	}
	return details
}

func failAll(group grouper.Group, err error) []Detail {
	details := make([]Detail, 0, len(group.Events))
	for _, event := range group.Events {
		details = append(details, Detail{
			LocalEventId:  event.Id,
			RemoteEventId: event.RemoteId,
			Action:        ActionFailed,
			Error:         err.Error(),
			GroupKey:      group.Key.String(),
			Batched:       group.Batched(),
			Reason:        string(group.Reason),
		})
	}
	return details
}

func conflictError(c conflict.Conflict) error {
	switch c.Type {
	case conflict.TypeDeletedRemotely:
		return fmt.Errorf("remote event %s no longer exists (%s)", c.RemoteEventId, c.Type)
	default:
		return fmt.Errorf("version mismatch: remote event %s was changed since version %s (%s)", c.RemoteEventId, c.LocalVersion, c.Type)
	}
}

func isRemoteError(err error) bool {
	return errors.Is(err, remote.ErrAuth) || errors.Is(err, remote.ErrTransient) || errors.Is(err, remote.ErrNotFound)
}
