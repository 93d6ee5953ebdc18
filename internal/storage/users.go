package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// GetUser returns the user with the given id.
func (s *Store) GetUser(userID string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	return user, ok
}

// GetUserByEmail scans for a user whose email matches, ignoring case.
func (s *Store) GetUserByEmail(email string) (User, bool) {
	needle := strings.TrimSpace(email)
	if needle == "" {
		return User{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, needle) {
			return user, true
		}
	}
	return User{}, false
}

// ListUsers returns every user ordered by creation time.
func (s *Store) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
	return users
}

// CreateUser stores a new user. The password must already be hashed.
// Email uniqueness is the caller's responsibility.
func (s *Store) CreateUser(ctx context.Context, input NewUser) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	userID := strings.TrimSpace(input.ID)
	if userID == "" {
		generated, err := s.ids.NewID()
		if err != nil {
			return User{}, fmt.Errorf("storage: generate user id: %w", err)
		}
		userID = generated
	}
	if err := validatePathSegment(userID); err != nil {
		return User{}, err
	}
	passwordVersion := input.PasswordVersion
	if passwordVersion == "" {
		passwordVersion = CurrentPasswordVersion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[userID]; exists {
		return User{}, fmt.Errorf("%w: %s", ErrDuplicateUserID, userID)
	}

	now := s.now()
	user := User{
		ID:              userID,
		Email:           strings.TrimSpace(input.Email),
		Password:        input.PasswordHash,
		FirstName:       strings.TrimSpace(input.FirstName),
		LastName:        strings.TrimSpace(input.LastName),
		PasswordVersion: passwordVersion,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.users[userID] = user
	if err := s.persistUsers(); err != nil {
		return User{}, err
	}
	return user, nil
}
