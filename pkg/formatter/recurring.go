package formatter

import (
	"fmt"
	"sort"
	"time"

	"github.com/klokku/calsync/pkg/remote"
	"github.com/klokku/calsync/pkg/schedule"
	"github.com/teambition/rrule-go"
)

// canonicalWeekdays lists weekdays Sun..Sat, indexed by time.Weekday.
var canonicalWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// FormatRecurring builds one recurring payload standing for all events. The events must share
// subject, section and wall-clock start and end.
func (f *Formatter) FormatRecurring(events []schedule.LocalEvent, subject schedule.Subject, section schedule.Section, opts Options) (remote.Payload, error) {
	if len(events) == 0 {
		return remote.Payload{}, fmt.Errorf("%w: cannot synthesize a recurring event from zero occurrences", ErrInvalidArgument)
	}
	if err := checkUniform(events); err != nil {
		return remote.Payload{}, err
	}

	sorted := SortByDate(events)
	payload, err := f.FormatSingle(sorted[0], subject, section, opts)
	if err != nil {
		return remote.Payload{}, err
	}

	loc, err := time.LoadLocation(payload.TimeZone)
	if err != nil {
		return remote.Payload{}, fmt.Errorf("%w: unknown time zone %q", ErrInvalidArgument, payload.TimeZone)
	}
	rule := WeeklyRule(sorted, loc)
	payload.Recurrence = []string{"RRULE:" + rule.RRuleString()}
	return payload, nil
}

// WeeklyRule returns a weekly rule on the distinct weekdays of the events, ending at 23:59:59 of
// the latest date in loc.
func WeeklyRule(events []schedule.LocalEvent, loc *time.Location) rrule.ROption {
	var seen [7]bool
	var latest time.Time
	for _, event := range events {
		seen[event.Date.Weekday()] = true
		if event.Date.After(latest) {
			latest = event.Date
		}
	}

	weekdays := make([]rrule.Weekday, 0, 7)
	for day, present := range seen {
		if present {
			weekdays = append(weekdays, canonicalWeekdays[day])
		}
	}

	return rrule.ROption{
		Freq:      rrule.WEEKLY,
		Until:     time.Date(latest.Year(), latest.Month(), latest.Day(), 23, 59, 59, 0, loc),
		Byweekday: weekdays,
	}
}

func checkUniform(events []schedule.LocalEvent) error {
	first := events[0]
	for _, event := range events[1:] {
		switch {
		case event.SubjectId != first.SubjectId || event.SectionId != first.SectionId:
			return fmt.Errorf("%w: event %s belongs to %s/%s, expected %s/%s", ErrInvalidArgument,
				event.Id, event.SubjectId, event.SectionId, first.SubjectId, first.SectionId)
		case event.StartTime != first.StartTime || event.EndTime != first.EndTime:
			return fmt.Errorf("%w: event %s runs %s-%s, expected %s-%s", ErrInvalidArgument,
				event.Id, event.StartTime, event.EndTime, first.StartTime, first.EndTime)
		}
	}
	return nil
}

// SortByDate returns a copy ordered by date, start time and id.
func SortByDate(events []schedule.LocalEvent) []schedule.LocalEvent {
	sorted := make([]schedule.LocalEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime.Before(b.StartTime)
		}
		return a.Id < b.Id
	})
	return sorted
}
