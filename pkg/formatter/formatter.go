package formatter

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/klokku/calsync/pkg/colormap"
	"github.com/klokku/calsync/pkg/remote"
	"github.com/klokku/calsync/pkg/schedule"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrFormat is returned for a malformed single event. It only fails that event.
	ErrFormat = colormap.ErrFormat
	// ErrInvalidArgument signals a broken precondition of the caller.
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	DefaultTimeZone = "Asia/Seoul"
	civilLayout     = "2006-01-02T15:04:05"
)

var validate = validator.New()

// ReminderConfig holds the reminder attached to every formatted event.
type ReminderConfig struct {
	Enabled     bool                  `koanf:"enabled" json:"enabled"`
	LeadMinutes uint                  `koanf:"leadminutes" json:"leadMinutes" validate:"max=40320"`
	Channel     remote.ReminderMethod `koanf:"channel" json:"channel" validate:"oneof=popup email"`
}

func DefaultReminderConfig() ReminderConfig {
	return ReminderConfig{Enabled: true, LeadMinutes: 10, Channel: remote.ReminderPopup}
}

func (c ReminderConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: reminder config: %v", ErrInvalidArgument, err)
	}
	return nil
}

// Options tune a single formatting call.
type Options struct {
	TimeZone         string // overrides the formatter default when set
	DisableReminders bool
}

type Formatter struct {
	timeZone string
	reminder ReminderConfig
}

func New(timeZone string, reminder ReminderConfig) (*Formatter, error) {
	if timeZone == "" {
		timeZone = DefaultTimeZone
	}
	if _, err := time.LoadLocation(timeZone); err != nil {
		return nil, fmt.Errorf("%w: unknown time zone %q", ErrInvalidArgument, timeZone)
	}
	if err := reminder.Validate(); err != nil {
		return nil, err
	}
	return &Formatter{timeZone: timeZone, reminder: reminder}, nil
}

func NewDefault() *Formatter {
	return &Formatter{timeZone: DefaultTimeZone, reminder: DefaultReminderConfig()}
}

func (f *Formatter) TimeZone(opts Options) string {
	if opts.TimeZone != "" {
		return opts.TimeZone
	}
	return f.timeZone
}

// FormatSingle builds the remote payload of one event. Wall-clock times are kept as they are and
// only tagged with the time zone.
func (f *Formatter) FormatSingle(event schedule.LocalEvent, subject schedule.Subject, section schedule.Section, opts Options) (remote.Payload, error) {
	if event.Date.IsZero() {
		return remote.Payload{}, fmt.Errorf("%w: event %s has no date", ErrFormat, event.Id)
	}
	if !event.StartTime.Before(event.EndTime) {
		return remote.Payload{}, fmt.Errorf("%w: event %s ends at %s which is not after its start %s",
			ErrFormat, event.Id, event.EndTime, event.StartTime)
	}
	timeZone := f.TimeZone(opts)
	if _, err := time.LoadLocation(timeZone); err != nil {
		return remote.Payload{}, fmt.Errorf("%w: unknown time zone %q", ErrInvalidArgument, timeZone)
	}

	payload := remote.Payload{
		Summary:     summary(subject, section),
		Description: description(event, subject, section),
		Start:       civil(event.Date, event.StartTime),
		End:         civil(event.Date, event.EndTime),
		TimeZone:    timeZone,
	}

	if subject.Color != "" {
		colorId, err := colormap.Map(subject.Color)
		if err != nil {
			log.Warnf("subject %s has unusable color %q, event %s is sent without color: %v", subject.Id, subject.Color, event.Id, err)
		} else {
			payload.ColorId = string(colorId)
		}
	}

	if f.reminder.Enabled && !opts.DisableReminders {
		payload.Reminders = []remote.Reminder{{Method: f.reminder.Channel, Minutes: int(f.reminder.LeadMinutes)}}
	}
	return payload, nil
}

func summary(subject schedule.Subject, section schedule.Section) string {
	parts := make([]string, 0, 3)
	if subject.Code != "" {
		parts = append(parts, subject.Code)
	}
	if subject.Name != "" {
		parts = append(parts, subject.Name)
	}
	if section.Code != "" {
		parts = append(parts, "("+section.Code+")")
	}
	return strings.Join(parts, " ")
}

func description(event schedule.LocalEvent, subject schedule.Subject, section schedule.Section) string {
	lines := make([]string, 0, 2+len(subject.Metadata))
	if section.Teacher != "" {
		lines = append(lines, "Teacher: "+section.Teacher)
	}
	room := section.Room
	if event.Room != "" {
		room = event.Room
	}
	if room != "" {
		lines = append(lines, "Room: "+room)
	}

	keys := make([]string, 0, len(subject.Metadata))
	for k := range subject.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if value, ok := scalar(subject.Metadata[k]); ok {
			lines = append(lines, k+": "+value)
		}
	}
	return strings.Join(lines, "\n")
}

// scalar renders metadata values that fit on one line. Nested values are skipped.
func scalar(v any) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, value != ""
	case bool:
		return strconv.FormatBool(value), true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", value), true
	default:
		return "", false
	}
}

func civil(date time.Time, clock schedule.ClockTime) string {
	return time.Date(date.Year(), date.Month(), date.Day(), clock.Hour, clock.Minute, 0, 0, time.UTC).Format(civilLayout)
}
