package supporters

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/supportspark/internal/apperror"
	"github.com/MarcoPoloResearchLab/supportspark/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrUserNotFound indicates the invited email has no account.
	ErrUserNotFound = errors.New("supporters: user not found")
	// ErrSelfInvite indicates a member tried to invite themselves.
	ErrSelfInvite = errors.New("supporters: cannot invite yourself")
	// ErrAlreadyInvited indicates a relationship already exists for the pair.
	ErrAlreadyInvited = errors.New("supporters: relationship already exists")
	// ErrInvitationNotFound indicates the relationship id is unknown.
	ErrInvitationNotFound = errors.New("supporters: invitation not found")
	// ErrForbidden indicates the caller is not the invited supporter.
	ErrForbidden = errors.New("supporters: forbidden")
	// ErrNotPending indicates the invitation was already answered.
	ErrNotPending = errors.New("supporters: invitation already answered")

	errMissingStore = errors.New("supporters: store required")
)

const (
	opServiceNew = "supporters.service.new"
	opInvite     = "supporters.invite"
	opRespond    = "supporters.respond"
)

// Store is the subset of the storage layer the supporter service depends on.
type Store interface {
	GetUser(userID string) (storage.User, bool)
	GetUserByEmail(email string) (storage.User, bool)
	GetSupporter(supporterRecordID int64) (storage.Supporter, bool)
	FindSupporter(memberID, supporterID string) (storage.Supporter, bool)
	ListSupportersForMember(memberID string) []storage.Supporter
	ListSupportingForUser(userID string) []storage.Supporter
	CreateSupporter(ctx context.Context, memberID, supporterID string) (storage.Supporter, error)
	UpdateSupporterStatus(ctx context.Context, supporterRecordID int64, status storage.SupporterStatus) (storage.Supporter, error)
}

// ServiceConfig describes the dependencies of the supporter service.
type ServiceConfig struct {
	Store  Store
	Logger *zap.Logger
}

// Service manages invitations between members and their supporters.
type Service struct {
	store  Store
	logger *zap.Logger

	// mu makes the duplicate check and the insert of an invitation one step.
	mu sync.Mutex
}

// NewService constructs the supporter service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperror.New(opServiceNew, "missing_store", errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, logger: logger}, nil
}

// Party is the public view of the other side of a relationship.
type Party struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Relationship is a supporter record annotated with the counterpart's profile.
type Relationship struct {
	ID          int64                   `json:"id"`
	MemberID    string                  `json:"member_id"`
	SupporterID string                  `json:"supporter_id"`
	Status      storage.SupporterStatus `json:"status"`
	CreatedAt   time.Time               `json:"created_at"`
	Counterpart Party                   `json:"counterpart"`
}

// Overview groups the relationships of a user by role.
type Overview struct {
	// Supporters are the people following the user's updates.
	Supporters []Relationship `json:"supporters"`
	// Supporting are the members whose updates the user follows or was invited to.
	Supporting []Relationship `json:"supporting"`
}

// Invite creates a pending relationship in which memberID is supported by the owner of email.
func (s *Service) Invite(ctx context.Context, memberID, email string) (Relationship, error) {
	invitee, ok := s.store.GetUserByEmail(strings.ToLower(strings.TrimSpace(email)))
	if !ok {
		return Relationship{}, apperror.New(opInvite, "user_not_found", ErrUserNotFound)
	}
	if invitee.ID == memberID {
		return Relationship{}, apperror.New(opInvite, "self_invite", ErrSelfInvite)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.store.FindSupporter(memberID, invitee.ID); exists {
		return Relationship{}, apperror.New(opInvite, "already_invited", ErrAlreadyInvited)
	}
	record, err := s.store.CreateSupporter(ctx, memberID, invitee.ID)
	if err != nil {
		s.logger.Error("supporter invite failed",
			zap.String("member_id", memberID),
			zap.String("supporter_id", invitee.ID),
			zap.Error(err))
		return Relationship{}, apperror.New(opInvite, "store_failed", err)
	}
	s.logger.Info("supporter invited",
		zap.Int64("supporter_record_id", record.ID),
		zap.String("member_id", memberID))
	return s.annotate(record, invitee.ID), nil
}

// Accept marks the invitation as accepted. Only the invited supporter may answer.
func (s *Service) Accept(ctx context.Context, userID string, supporterRecordID int64) (Relationship, error) {
	return s.respond(ctx, userID, supporterRecordID, storage.SupporterStatusAccepted)
}

// Reject marks the invitation as rejected. Only the invited supporter may answer.
func (s *Service) Reject(ctx context.Context, userID string, supporterRecordID int64) (Relationship, error) {
	return s.respond(ctx, userID, supporterRecordID, storage.SupporterStatusRejected)
}

func (s *Service) respond(ctx context.Context, userID string, supporterRecordID int64, status storage.SupporterStatus) (Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.store.GetSupporter(supporterRecordID)
	if !ok {
		return Relationship{}, apperror.New(opRespond, "not_found", ErrInvitationNotFound)
	}
	if record.SupporterID != userID {
		return Relationship{}, apperror.New(opRespond, "forbidden", ErrForbidden)
	}
	if record.Status != storage.SupporterStatusPending {
		return Relationship{}, apperror.New(opRespond, "not_pending", ErrNotPending)
	}
	updated, err := s.store.UpdateSupporterStatus(ctx, supporterRecordID, status)
	if err != nil {
		s.logger.Error("supporter status update failed",
			zap.Int64("supporter_record_id", supporterRecordID),
			zap.String("status", string(status)),
			zap.Error(err))
		return Relationship{}, apperror.New(opRespond, "store_failed", err)
	}
	return s.annotate(updated, updated.MemberID), nil
}

// Overview lists both sides of the user's relationships.
func (s *Service) Overview(userID string) Overview {
	overview := Overview{
		Supporters: make([]Relationship, 0),
		Supporting: make([]Relationship, 0),
	}
	for _, record := range s.store.ListSupportersForMember(userID) {
		overview.Supporters = append(overview.Supporters, s.annotate(record, record.SupporterID))
	}
	for _, record := range s.store.ListSupportingForUser(userID) {
		overview.Supporting = append(overview.Supporting, s.annotate(record, record.MemberID))
	}
	return overview
}

func (s *Service) annotate(record storage.Supporter, counterpartID string) Relationship {
	counterpart := Party{ID: counterpartID, DisplayName: counterpartID}
	if user, ok := s.store.GetUser(counterpartID); ok {
		counterpart.Email = user.Email
		counterpart.DisplayName = user.DisplayName()
	}
	return Relationship{
		ID:          record.ID,
		MemberID:    record.MemberID,
		SupporterID: record.SupporterID,
		Status:      record.Status,
		CreatedAt:   record.CreatedAt,
		Counterpart: counterpart,
	}
}
