package schedule

import (
	"errors"
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

type EventStatus string

const (
	StatusPlanned EventStatus = "planned"
	StatusSynced  EventStatus = "synced"
	StatusDeleted EventStatus = "deleted"
)

// ClockTime is a wall-clock time of day without any timezone.
type ClockTime struct {
	Hour   int
	Minute int
}

func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func MustClockTime(s string) ClockTime {
	t, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) Before(other ClockTime) bool {
	return c.Minutes() < other.Minutes()
}

// ParseDate parses a calendar date (YYYY-MM-DD) as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

func MustDate(s string) time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateRange is inclusive on both ends.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Contains(date time.Time) bool {
	return !date.Before(r.From) && !date.After(r.To)
}

func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return errors.New("date range requires both from and to")
	}
	if r.To.Before(r.From) {
		return fmt.Errorf("date range end %s is before start %s", r.To.Format(DateLayout), r.From.Format(DateLayout))
	}
	return nil
}

type LocalEvent struct {
	Id            string
	OwnerId       int
	SubjectId     string
	SectionId     string
	Date          time.Time
	StartTime     ClockTime
	EndTime       ClockTime
	Room          string // overrides the section room when set
	Status        EventStatus
	RemoteId      string
	RemoteVersion string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (e LocalEvent) IsLinked() bool {
	return e.RemoteId != ""
}

type Subject struct {
	Id       string
	OwnerId  int
	Code     string
	Name     string
	Color    string
	Metadata map[string]any
}

type Section struct {
	Id        string
	SubjectId string
	Code      string
	Teacher   string
	Room      string
	Rules     []RecurrenceRule
}

type RecurrenceRule struct {
	DayOfWeek time.Weekday
	StartTime ClockTime
	EndTime   ClockTime
	StartDate time.Time
	EndDate   time.Time
	SkipDates []time.Time
}

// Filter narrows a range selection. Empty fields do not filter.
type Filter struct {
	Statuses []EventStatus
	EventIds []string
}

// FieldUpdate is the only mutation this service applies to a local event.
type FieldUpdate struct {
	Status        EventStatus
	RemoteId      string
	RemoteVersion string
}

var ErrInvalidFieldUpdate = errors.New("invalid event field update")

func Linked(remoteId, version string) FieldUpdate {
	return FieldUpdate{Status: StatusSynced, RemoteId: remoteId, RemoteVersion: version}
}

func Unlinked() FieldUpdate {
	return FieldUpdate{Status: StatusPlanned}
}

// Validate enforces that synced events carry a remote id and version and planned ones carry neither.
func (u FieldUpdate) Validate() error {
	switch u.Status {
	case StatusSynced:
		if u.RemoteId == "" || u.RemoteVersion == "" {
			return fmt.Errorf("%w: synced requires remote id and version", ErrInvalidFieldUpdate)
		}
	case StatusPlanned:
		if u.RemoteId != "" || u.RemoteVersion != "" {
			return fmt.Errorf("%w: planned must not carry a remote link", ErrInvalidFieldUpdate)
		}
	default:
		return fmt.Errorf("%w: status %q cannot be set here", ErrInvalidFieldUpdate, u.Status)
	}
	return nil
}

// Apply returns a copy of the event with the update applied.
func (u FieldUpdate) Apply(event LocalEvent) LocalEvent {
	event.Status = u.Status
	event.RemoteId = u.RemoteId
	event.RemoteVersion = u.RemoteVersion
	return event
}
