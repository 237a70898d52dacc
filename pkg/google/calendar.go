package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/klokku/calsync/pkg/remote"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

var ErrUnathenticated = fmt.Errorf("%w: user is unauthenticated, authentication is required", remote.ErrAuth)

const civilLayout = "2006-01-02T15:04:05"

// Calendar is a remote.Client backed by one Google calendar. Etags serve as version tokens.
type Calendar struct {
	service    *gcal.Service
	userId     int
	calendarId string
}

func newGoogleCalendar(service *gcal.Service, userId int, calendarId string) *Calendar {
	return &Calendar{
		service:    service,
		userId:     userId,
		calendarId: calendarId,
	}
}

func (c *Calendar) Create(ctx context.Context, payload remote.Payload) (remote.Ref, error) {
	log.Debugf("Inserting event %q into calendar %s of user %d", payload.Summary, c.calendarId, c.userId)
	result, err := c.service.Events.Insert(c.calendarId, toGoogleEvent(payload)).Context(ctx).Do()
	if err != nil {
		err := mapError(err)
		log.Errorf("unable to insert event in Google Calendar: %v", err)
		return remote.Ref{}, err
	}
	return remote.Ref{RemoteId: result.Id, Version: result.Etag}, nil
}

func (c *Calendar) Update(ctx context.Context, remoteId string, payload remote.Payload, expectedVersion string) (remote.Ref, error) {
	call := c.service.Events.Update(c.calendarId, remoteId, toGoogleEvent(payload)).Context(ctx)
	if expectedVersion != "" && expectedVersion != remote.AnyVersion {
		call.Header().Set("If-Match", expectedVersion)
	}
	result, err := call.Do()
	if err != nil {
		err := mapError(err)
		log.Errorf("unable to update event %s in Google Calendar: %v", remoteId, err)
		return remote.Ref{}, err
	}
	return remote.Ref{RemoteId: result.Id, Version: result.Etag}, nil
}

func (c *Calendar) Get(ctx context.Context, remoteId string) (remote.Event, error) {
	result, err := c.service.Events.Get(c.calendarId, remoteId).Context(ctx).Do()
	if err != nil {
		return remote.Event{}, mapError(err)
	}
	// deleted events stay readable with a cancelled status
	if result.Status == "cancelled" {
		return remote.Event{}, fmt.Errorf("%w: %s was cancelled", remote.ErrNotFound, remoteId)
	}
	return fromGoogleEvent(result), nil
}

func toGoogleEvent(payload remote.Payload) *gcal.Event {
	reminders := &gcal.EventReminders{
		UseDefault:      false,
		ForceSendFields: []string{"UseDefault"},
	}
	for _, r := range payload.Reminders {
		reminders.Overrides = append(reminders.Overrides, &gcal.EventReminder{
			Method:          string(r.Method),
			Minutes:         int64(r.Minutes),
			ForceSendFields: []string{"Minutes"},
		})
	}
	return &gcal.Event{
		Summary:     payload.Summary,
		Description: payload.Description,
		ColorId:     payload.ColorId,
		Start:       &gcal.EventDateTime{DateTime: payload.Start, TimeZone: payload.TimeZone},
		End:         &gcal.EventDateTime{DateTime: payload.End, TimeZone: payload.TimeZone},
		Recurrence:  payload.Recurrence,
		Reminders:   reminders,
	}
}

func fromGoogleEvent(event *gcal.Event) remote.Event {
	payload := remote.Payload{
		Summary:     event.Summary,
		Description: event.Description,
		ColorId:     event.ColorId,
		Recurrence:  event.Recurrence,
	}
	if event.Start != nil {
		payload.TimeZone = event.Start.TimeZone
		payload.Start = civil(event.Start)
	}
	if event.End != nil {
		payload.End = civil(event.End)
	}
	if event.Reminders != nil {
		for _, r := range event.Reminders.Overrides {
			payload.Reminders = append(payload.Reminders, remote.Reminder{
				Method:  remote.ReminderMethod(r.Method),
				Minutes: int(r.Minutes),
			})
		}
	}
	return remote.Event{
		Ref:     remote.Ref{RemoteId: event.Id, Version: event.Etag},
		Payload: payload,
	}
}

// civil renders the RFC3339 value Google returns as wall clock time in the event's own zone.
func civil(dt *gcal.EventDateTime) string {
	if dt.DateTime == "" {
		return dt.Date
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return dt.DateTime
	}
	if dt.TimeZone != "" {
		if loc, err := time.LoadLocation(dt.TimeZone); err == nil {
			t = t.In(loc)
		}
	}
	return t.Format(civilLayout)
}

func mapError(err error) error {
	if errors.Is(err, remote.ErrAuth) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
			return fmt.Errorf("%w: %v", remote.ErrNotFound, err)
		case apiErr.Code == http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %v", remote.ErrPreconditionFailed, err)
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", remote.ErrAuth, err)
		case apiErr.Code == http.StatusForbidden && !rateLimited(apiErr):
			return fmt.Errorf("%w: %v", remote.ErrAuth, err)
		case apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", remote.ErrTransient, err)
		default:
			return fmt.Errorf("google calendar rejected the request: %w", err)
		}
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %v", remote.ErrAuth, err)
	}
	return fmt.Errorf("%w: %v", remote.ErrTransient, err)
}

func rateLimited(err *googleapi.Error) bool {
	for _, item := range err.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}
