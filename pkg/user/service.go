package user

import (
	"context"
	"fmt"
	"time"
)

const DefaultCalendarId = "primary"

type Service interface {
	GetCurrentUser(ctx context.Context) (User, error)
	CreateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id int) (User, error)
	GetUserByUid(ctx context.Context, uid string) (User, error)
	UpdateSettings(ctx context.Context, settings Settings) (User, error)
}

type ServiceImpl struct {
	repo            Repo
	defaultTimezone string
}

func NewService(repo Repo, defaultTimezone string) *ServiceImpl {
	return &ServiceImpl{repo: repo, defaultTimezone: defaultTimezone}
}

func (s *ServiceImpl) GetCurrentUser(ctx context.Context) (User, error) {
	userId, err := CurrentId(ctx)
	if err != nil {
		return User{}, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.GetUser(ctx, userId)
}

func (s *ServiceImpl) CreateUser(ctx context.Context, user User) (User, error) {
	if user.Uid == "" || user.Username == "" {
		return User{}, fmt.Errorf("%w: uid and username are required", ErrUserDataInvalid)
	}
	settings, err := s.normalize(user.Settings)
	if err != nil {
		return User{}, err
	}
	user.Settings = settings
	id, err := s.repo.CreateUser(ctx, user)
	if err != nil {
		return User{}, err
	}
	user.Id = id
	return user, nil
}

func (s *ServiceImpl) GetUser(ctx context.Context, id int) (User, error) {
	return s.repo.GetUser(ctx, id)
}

func (s *ServiceImpl) GetUserByUid(ctx context.Context, uid string) (User, error) {
	return s.repo.GetUserByUid(ctx, uid)
}

func (s *ServiceImpl) UpdateSettings(ctx context.Context, settings Settings) (User, error) {
	current, err := s.GetCurrentUser(ctx)
	if err != nil {
		return User{}, err
	}
	settings, err = s.normalize(settings)
	if err != nil {
		return User{}, err
	}
	if err := s.repo.UpdateSettings(ctx, current.Id, settings); err != nil {
		return User{}, err
	}
	current.Settings = settings
	return current, nil
}

func (s *ServiceImpl) normalize(settings Settings) (Settings, error) {
	if settings.Timezone == "" {
		settings.Timezone = s.defaultTimezone
	}
	if _, err := time.LoadLocation(settings.Timezone); err != nil {
		return Settings{}, fmt.Errorf("%w: unknown timezone %q", ErrUserDataInvalid, settings.Timezone)
	}
	if settings.GoogleCalendar.CalendarId == "" {
		settings.GoogleCalendar.CalendarId = DefaultCalendarId
	}
	return settings, nil
}
