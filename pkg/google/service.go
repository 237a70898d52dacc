package google

import (
	"context"
	"fmt"

	"github.com/klokku/calsync/pkg/remote"
	"github.com/klokku/calsync/pkg/user"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

type CalendarItem struct {
	ID      string
	Summary string
}

type Service interface {
	remote.ClientProvider
	ListCalendars(ctx context.Context) ([]CalendarItem, error)
}

type ServiceImpl struct {
	auth        *GoogleAuth
	userService user.Service
	options     []option.ClientOption
}

// NewService builds the provider. Extra client options are appended to every calendar service,
// which allows pointing it at another endpoint.
func NewService(auth *GoogleAuth, userService user.Service, opts ...option.ClientOption) *ServiceImpl {
	return &ServiceImpl{
		auth:        auth,
		userService: userService,
		options:     opts,
	}
}

// ClientFor returns the calendar client of the owner's configured calendar.
func (s *ServiceImpl) ClientFor(ctx context.Context, ownerId int) (remote.Client, error) {
	owner, err := s.userService.GetUser(ctx, ownerId)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", ownerId, err)
	}
	service, err := s.prepareGoogleService(ctx, ownerId)
	if err != nil {
		return nil, err
	}
	calendarId := owner.Settings.GoogleCalendar.CalendarId
	if calendarId == "" {
		calendarId = user.DefaultCalendarId
	}
	return newGoogleCalendar(service, ownerId, calendarId), nil
}

func (s *ServiceImpl) ListCalendars(ctx context.Context) ([]CalendarItem, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	googleService, err := s.prepareGoogleService(ctx, userId)
	if err != nil {
		return nil, err
	}
	calendars, err := googleService.CalendarList.List().Context(ctx).Do()
	if err != nil {
		err := mapError(err)
		log.Errorf("unable to retrieve calendars from Google Calendar: %v", err)
		return nil, err
	}
	googleCalendars := make([]CalendarItem, 0, len(calendars.Items))
	for _, cal := range calendars.Items {
		googleCalendars = append(googleCalendars, CalendarItem{
			ID:      cal.Id,
			Summary: cal.Summary,
		})
	}
	return googleCalendars, nil
}

func (s *ServiceImpl) prepareGoogleService(ctx context.Context, userId int) (*calendar.Service, error) {
	client, err := s.auth.HTTPClient(ctx, userId)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, s.options...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		err := fmt.Errorf("unable to retrieve Calendar client: %v", err)
		log.Error(err)
		return nil, err
	}

	return service, nil
}
