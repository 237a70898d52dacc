package formatter

import (
	"testing"

	"github.com/klokku/calsync/pkg/remote"
	"github.com/klokku/calsync/pkg/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSubject = schedule.Subject{
	Id:    "subj-1",
	Code:  "CS101",
	Name:  "Algorithms",
	Color: "#039be5",
	Metadata: map[string]any{
		"credits":  float64(3),
		"required": true,
		"syllabus": map[string]any{"week1": "intro"},
		"notes":    "",
		"building": "Engineering",
	},
}

var testSection = schedule.Section{
	Id:        "sec-1",
	SubjectId: "subj-1",
	Code:      "A",
	Teacher:   "Kim",
	Room:      "B-201",
}

func testEvent(id, date string) schedule.LocalEvent {
	return schedule.LocalEvent{
		Id:        id,
		OwnerId:   1,
		SubjectId: "subj-1",
		SectionId: "sec-1",
		Date:      schedule.MustDate(date),
		StartTime: schedule.MustClockTime("09:00"),
		EndTime:   schedule.MustClockTime("10:30"),
		Status:    schedule.StatusPlanned,
	}
}

func TestFormatter_FormatSingle(t *testing.T) {
	f := NewDefault()

	t.Run("should build title, description, times, color and reminder", func(t *testing.T) {
		// given
		event := testEvent("e1", "2024-01-15")

		// when
		payload, err := f.FormatSingle(event, testSubject, testSection, Options{})

		// then
		require.NoError(t, err)
		assert.Equal(t, "CS101 Algorithms (A)", payload.Summary)
		assert.Equal(t, "Teacher: Kim\nRoom: B-201\nbuilding: Engineering\ncredits: 3\nrequired: true", payload.Description)
		assert.Equal(t, "2024-01-15T09:00:00", payload.Start)
		assert.Equal(t, "2024-01-15T10:30:00", payload.End)
		assert.Equal(t, "Asia/Seoul", payload.TimeZone)
		assert.Equal(t, "7", payload.ColorId)
		assert.Equal(t, []remote.Reminder{{Method: remote.ReminderPopup, Minutes: 10}}, payload.Reminders)
		assert.Empty(t, payload.Recurrence)
	})

	t.Run("should prefer event room over section room", func(t *testing.T) {
		// given
		event := testEvent("e1", "2024-01-15")
		event.Room = "Lab 3"

		// when
		payload, err := f.FormatSingle(event, schedule.Subject{Code: "CS101"}, testSection, Options{})

		// then
		require.NoError(t, err)
		assert.Equal(t, "Teacher: Kim\nRoom: Lab 3", payload.Description)
	})

	t.Run("should omit empty title parts", func(t *testing.T) {
		// when
		payload, err := f.FormatSingle(testEvent("e1", "2024-01-15"), schedule.Subject{Name: "Ethics"}, schedule.Section{}, Options{})

		// then
		require.NoError(t, err)
		assert.Equal(t, "Ethics", payload.Summary)
		assert.Empty(t, payload.Description)
	})

	t.Run("should keep wall clock time in requested time zone", func(t *testing.T) {
		// when
		payload, err := f.FormatSingle(testEvent("e1", "2024-01-15"), testSubject, testSection, Options{TimeZone: "America/New_York"})

		// then
		require.NoError(t, err)
		assert.Equal(t, "2024-01-15T09:00:00", payload.Start)
		assert.Equal(t, "America/New_York", payload.TimeZone)
	})

	t.Run("should skip reminders when disabled by options", func(t *testing.T) {
		// when
		payload, err := f.FormatSingle(testEvent("e1", "2024-01-15"), testSubject, testSection, Options{DisableReminders: true})

		// then
		require.NoError(t, err)
		assert.Empty(t, payload.Reminders)
	})

	t.Run("should skip color when subject color is malformed", func(t *testing.T) {
		// given
		subject := testSubject
		subject.Color = "blue"

		// when
		payload, err := f.FormatSingle(testEvent("e1", "2024-01-15"), subject, testSection, Options{})

		// then
		require.NoError(t, err)
		assert.Empty(t, payload.ColorId)
	})

	t.Run("should fail with format error when event ends before it starts", func(t *testing.T) {
		// given
		event := testEvent("e1", "2024-01-15")
		event.EndTime = schedule.MustClockTime("08:00")

		// when
		_, err := f.FormatSingle(event, testSubject, testSection, Options{})

		// then
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("should fail with invalid argument for unknown time zone", func(t *testing.T) {
		// when
		_, err := f.FormatSingle(testEvent("e1", "2024-01-15"), testSubject, testSection, Options{TimeZone: "Mars/Olympus"})

		// then
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestNew(t *testing.T) {
	t.Run("should reject lead minutes above four weeks", func(t *testing.T) {
		// when
		_, err := New("Asia/Seoul", ReminderConfig{Enabled: true, LeadMinutes: 40321, Channel: remote.ReminderPopup})

		// then
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("should reject unknown reminder channel", func(t *testing.T) {
		// when
		_, err := New("Asia/Seoul", ReminderConfig{Enabled: true, LeadMinutes: 10, Channel: "sms"})

		// then
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("should use configured reminder", func(t *testing.T) {
		// given
		f, err := New("", ReminderConfig{Enabled: true, LeadMinutes: 40320, Channel: remote.ReminderEmail})
		require.NoError(t, err)

		// when
		payload, err := f.FormatSingle(testEvent("e1", "2024-01-15"), testSubject, testSection, Options{})

		// then
		require.NoError(t, err)
		assert.Equal(t, DefaultTimeZone, payload.TimeZone)
		assert.Equal(t, []remote.Reminder{{Method: remote.ReminderEmail, Minutes: 40320}}, payload.Reminders)
	})
}
