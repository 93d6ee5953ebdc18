package users

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/supportspark/internal/storage"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	// ErrInvalidRegistration indicates the registration payload failed validation.
	ErrInvalidRegistration = errors.New("users: invalid registration")
	// ErrEmailTaken indicates another account already uses the email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrNotDemoAccount indicates a demo login for an id outside the fixed demo accounts.
	ErrNotDemoAccount = errors.New("users: not a demo account")
	// ErrUserNotFound indicates the requested account does not exist.
	ErrUserNotFound = errors.New("users: user not found")

	errMissingStore = errors.New("users: account store required")
)

// AccountStore is the subset of the storage layer the account service depends on.
type AccountStore interface {
	GetUser(userID string) (storage.User, bool)
	GetUserByEmail(email string) (storage.User, bool)
	CreateUser(ctx context.Context, input storage.NewUser) (storage.User, error)
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Store     AccountStore
	Validator *validator.Validate
	Hasher    storage.PasswordHasher
	Logger    *zap.Logger
}

// Service registers and authenticates accounts.
type Service struct {
	store     AccountStore
	validator *validator.Validate
	hash      storage.PasswordHasher
	logger    *zap.Logger

	// registerMu serialises the email check and the insert of concurrent registrations.
	registerMu sync.Mutex
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	validate := cfg.Validator
	if validate == nil {
		validate = validator.New()
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = HashPassword
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     cfg.Store,
		validator: validate,
		hash:      hasher,
		logger:    logger,
	}, nil
}

// Registration is the input for creating an account.
type Registration struct {
	Email     string `validate:"required,email,max=320"`
	Password  string `validate:"required,min=8,max=72"`
	FirstName string `validate:"max=100"`
	LastName  string `validate:"max=100"`
}

// Register creates an account after checking the email is free.
func (s *Service) Register(ctx context.Context, registration Registration) (Profile, error) {
	registration.Email = normalizeEmail(registration.Email)
	registration.FirstName = normalize(registration.FirstName)
	registration.LastName = normalize(registration.LastName)
	if err := s.validator.Struct(registration); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}
	if len(registration.Password) > maxPasswordBytes {
		return Profile{}, fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidRegistration, maxPasswordBytes)
	}

	passwordHash, err := s.hash(registration.Password)
	if err != nil {
		s.logger.Error("password hashing failed", zap.Error(err))
		return Profile{}, err
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	if _, exists := s.store.GetUserByEmail(registration.Email); exists {
		return Profile{}, ErrEmailTaken
	}
	user, err := s.store.CreateUser(ctx, storage.NewUser{
		Email:           registration.Email,
		PasswordHash:    passwordHash,
		FirstName:       registration.FirstName,
		LastName:        registration.LastName,
		PasswordVersion: storage.CurrentPasswordVersion,
	})
	if err != nil {
		s.logger.Error("user creation failed", zap.String("email", registration.Email), zap.Error(err))
		return Profile{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return NewProfile(user), nil
}

// Authenticate verifies an email and password pair.
func (s *Service) Authenticate(_ context.Context, email, password string) (Profile, error) {
	user, ok := s.store.GetUserByEmail(normalizeEmail(email))
	if !ok {
		return Profile{}, ErrInvalidCredentials
	}
	if IsDemoAccount(user.ID) || !passwordMatches(user.Password, password) {
		return Profile{}, ErrInvalidCredentials
	}
	return NewProfile(user), nil
}

// EnterDemo signs in as one of the fixed demo accounts without a password.
func (s *Service) EnterDemo(_ context.Context, userID string) (Profile, error) {
	userID = normalize(userID)
	if !IsDemoAccount(userID) {
		return Profile{}, ErrNotDemoAccount
	}
	user, ok := s.store.GetUser(userID)
	if !ok {
		return Profile{}, ErrUserNotFound
	}
	return NewProfile(user), nil
}

// Get returns the public profile for userID.
func (s *Service) Get(userID string) (Profile, error) {
	user, ok := s.store.GetUser(userID)
	if !ok {
		return Profile{}, ErrUserNotFound
	}
	return NewProfile(user), nil
}

// GetByEmail returns the public profile registered under email.
func (s *Service) GetByEmail(email string) (Profile, error) {
	user, ok := s.store.GetUserByEmail(normalizeEmail(email))
	if !ok {
		return Profile{}, ErrUserNotFound
	}
	return NewProfile(user), nil
}
