package user

import (
	"context"
	"fmt"
	"sync"
)

type RepoStub struct {
	mu     sync.RWMutex
	nextId int
	data   map[int]User
}

func NewRepoStub() *RepoStub {
	return &RepoStub{nextId: 1, data: map[int]User{}}
}

func (s *RepoStub) CreateUser(ctx context.Context, user User) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Id = s.nextId
	s.data[user.Id] = user
	s.nextId++
	return user.Id, nil
}

func (s *RepoStub) GetUser(ctx context.Context, id int) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *RepoStub) GetUserByUid(ctx context.Context, uid string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data {
		if user.Uid == uid {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (s *RepoStub) UpdateSettings(ctx context.Context, userId int, settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.data[userId]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUserNotFound, userId)
	}
	user.Settings = settings
	s.data[userId] = user
	return nil
}
