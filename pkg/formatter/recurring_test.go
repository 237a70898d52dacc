package formatter

import (
	"testing"
	"time"

	"github.com/klokku/calsync/pkg/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"
)

func TestFormatter_FormatRecurring(t *testing.T) {
	f := NewDefault()

	t.Run("should synthesize weekly rule from observed weekdays", func(t *testing.T) {
		// given Mon/Wed/Fri 2024-01-15..2024-01-26, out of order
		events := []schedule.LocalEvent{
			testEvent("e3", "2024-01-19"),
			testEvent("e1", "2024-01-15"),
			testEvent("e4", "2024-01-26"),
			testEvent("e2", "2024-01-17"),
		}

		// when
		payload, err := f.FormatRecurring(events, testSubject, testSection, Options{})

		// then
		require.NoError(t, err)
		assert.Equal(t, "2024-01-15T09:00:00", payload.Start)
		assert.Equal(t, "2024-01-15T10:30:00", payload.End)
		// 23:59:59 in Seoul is 14:59:59 UTC
		assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;UNTIL=20240126T145959Z;BYDAY=MO,WE,FR"}, payload.Recurrence)
	})

	t.Run("should emit weekdays starting from sunday", func(t *testing.T) {
		// given
		events := []schedule.LocalEvent{
			testEvent("e1", "2024-01-20"), // Saturday
			testEvent("e2", "2024-01-21"), // Sunday
			testEvent("e3", "2024-01-23"), // Tuesday
		}

		// when
		payload, err := f.FormatRecurring(events, testSubject, testSection, Options{TimeZone: "UTC"})

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;UNTIL=20240123T235959Z;BYDAY=SU,TU,SA"}, payload.Recurrence)
	})

	t.Run("should produce a rule that parses back to the same weekdays", func(t *testing.T) {
		// given
		events := []schedule.LocalEvent{testEvent("e1", "2024-01-15"), testEvent("e2", "2024-01-18")}

		// when
		payload, err := f.FormatRecurring(events, testSubject, testSection, Options{})
		require.NoError(t, err)
		option, err := rrule.StrToROption(payload.Recurrence[0][len("RRULE:"):])

		// then
		require.NoError(t, err)
		assert.Equal(t, rrule.WEEKLY, option.Freq)
		assert.Equal(t, []rrule.Weekday{rrule.MO, rrule.TH}, option.Byweekday)
	})

	t.Run("should fail with invalid argument on empty input", func(t *testing.T) {
		// when
		_, err := f.FormatRecurring(nil, testSubject, testSection, Options{})

		// then
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Contains(t, err.Error(), "zero occurrences")
	})

	t.Run("should fail with invalid argument on mixed times", func(t *testing.T) {
		// given
		other := testEvent("e2", "2024-01-17")
		other.StartTime = schedule.MustClockTime("11:00")
		other.EndTime = schedule.MustClockTime("12:00")

		// when
		_, err := f.FormatRecurring([]schedule.LocalEvent{testEvent("e1", "2024-01-15"), other}, testSubject, testSection, Options{})

		// then
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestWeeklyRule(t *testing.T) {
	t.Run("should contain exactly the distinct weekdays and end on the latest date", func(t *testing.T) {
		// given
		seoul, err := time.LoadLocation("Asia/Seoul")
		require.NoError(t, err)
		events := []schedule.LocalEvent{
			testEvent("e1", "2024-03-04"),
			testEvent("e2", "2024-03-11"),
			testEvent("e3", "2024-03-13"),
			testEvent("e4", "2024-03-06"),
		}

		// when
		rule := WeeklyRule(events, seoul)

		// then
		assert.Equal(t, []rrule.Weekday{rrule.MO, rrule.WE}, rule.Byweekday)
		assert.True(t, time.Date(2024, 3, 13, 23, 59, 59, 0, seoul).Equal(rule.Until))
	})
}
