package conversations

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/supportspark/internal/apperror"
	"github.com/MarcoPoloResearchLab/supportspark/internal/storage"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrConversationNotFound indicates the conversation does not exist.
	ErrConversationNotFound = errors.New("conversations: conversation not found")
	// ErrMessageNotFound indicates a reply targeted an unknown message.
	ErrMessageNotFound = errors.New("conversations: message not found")
	// ErrForbidden indicates the caller may not see or change the conversation.
	ErrForbidden = errors.New("conversations: forbidden")
	// ErrInvalidInput indicates an empty title or message, or malformed attachments.
	ErrInvalidInput = errors.New("conversations: invalid input")
	// ErrUnknownAuthor indicates the acting user id has no account.
	ErrUnknownAuthor = errors.New("conversations: unknown author")

	errMissingStore = errors.New("conversations: store required")
	noOpLogger      = zap.NewNop()
)

const (
	opServiceNew = "conversations.service.new"
	opList       = "conversations.list"
	opGet        = "conversations.get"
	opCreate     = "conversations.create"
	opAddMessage = "conversations.add_message"
	opRename     = "conversations.rename"

	maxTitleLength   = 200
	maxContentLength = 10000
	imagesRule       = "max=4,dive,startswith=/uploads/"
)

// Store is the subset of the storage layer the conversation service depends on.
type Store interface {
	GetUser(userID string) (storage.User, bool)
	FindSupporter(memberID, supporterID string) (storage.Supporter, bool)
	ListSupportersForMember(memberID string) []storage.Supporter
	ListConversationsForUser(userID string) []storage.ConversationIndexEntry
	GetConversation(ctx context.Context, conversationID int64) (storage.Conversation, bool, error)
	CreateConversation(ctx context.Context, input storage.NewConversation) (storage.Conversation, error)
	UpdateConversation(ctx context.Context, conversation storage.Conversation) (storage.Conversation, error)
}

// ChangeNotifier receives the users who should hear that a conversation changed.
type ChangeNotifier interface {
	NotifyConversationChanged(userIDs []string, conversationID int64)
}

// IDProvider issues message identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

type ServiceConfig struct {
	Store      Store
	Notifier   ChangeNotifier
	Validator  *validator.Validate
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type Service struct {
	store     Store
	notifier  ChangeNotifier
	validator *validator.Validate
	sanitizer textSanitizer
	clock     func() time.Time
	ids       IDProvider
	logger    *zap.Logger

	// writeMu serialises read-modify-write cycles on conversation files.
	writeMu sync.Mutex
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperror.New(opServiceNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	validate := cfg.Validator
	if validate == nil {
		validate = validator.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		validator: validate,
		sanitizer: newTextSanitizer(),
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}, nil
}

// Summary is a listing row: the index entry plus who owns it relative to the viewer.
type Summary struct {
	ID         int64     `json:"id"`
	MemberID   string    `json:"member_id"`
	MemberName string    `json:"member_name"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	IsOwner    bool      `json:"is_owner"`
}

// NewConversationRequest is the input for starting a conversation.
type NewConversationRequest struct {
	Title   string
	Content string
	Images  []string
}

// PostRequest is the input for adding a message. A non-empty ParentID makes it a reply.
type PostRequest struct {
	ParentID string
	Content  string
	Images   []string
}

// List returns the conversations visible to userID, newest first.
func (s *Service) List(_ context.Context, userID string) ([]Summary, error) {
	if userID == "" {
		return nil, apperror.New(opList, "missing_user_id", ErrForbidden)
	}
	entries := s.store.ListConversationsForUser(userID)
	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		memberName := entry.MemberID
		if member, ok := s.store.GetUser(entry.MemberID); ok {
			memberName = member.DisplayName()
		}
		summaries = append(summaries, Summary{
			ID:         entry.ID,
			MemberID:   entry.MemberID,
			MemberName: memberName,
			Title:      entry.Title,
			CreatedAt:  entry.CreatedAt,
			IsOwner:    entry.MemberID == userID,
		})
	}
	return summaries, nil
}

// Get returns a conversation the viewer owns or supports.
func (s *Service) Get(ctx context.Context, userID string, conversationID int64) (storage.Conversation, error) {
	conversation, err := s.load(ctx, opGet, conversationID)
	if err != nil {
		return storage.Conversation{}, err
	}
	if !s.canView(userID, conversation.MemberID) {
		return storage.Conversation{}, apperror.New(opGet, "forbidden", ErrForbidden)
	}
	return conversation, nil
}

// Create starts a conversation owned by userID with its initial update.
func (s *Service) Create(ctx context.Context, userID string, request NewConversationRequest) (storage.Conversation, error) {
	author, ok := s.store.GetUser(userID)
	if !ok {
		return storage.Conversation{}, apperror.New(opCreate, "unknown_author", ErrUnknownAuthor)
	}
	title, err := s.cleanTitle(opCreate, request.Title)
	if err != nil {
		return storage.Conversation{}, err
	}
	message, err := s.newMessage(opCreate, author, request.Content, request.Images)
	if err != nil {
		return storage.Conversation{}, err
	}

	conversation, err := s.store.CreateConversation(ctx, storage.NewConversation{
		MemberID:       author.ID,
		Title:          title,
		InitialMessage: message,
	})
	if err != nil {
		s.logError(opCreate, "store_failed", err, zap.String("user_id", author.ID))
		return storage.Conversation{}, apperror.New(opCreate, "store_failed", err)
	}
	s.notify(conversation)
	return conversation, nil
}

// AddMessage appends a new update from the owner, or a reply from the owner or an
// accepted supporter.
func (s *Service) AddMessage(ctx context.Context, userID string, conversationID int64, request PostRequest) (storage.Conversation, error) {
	author, ok := s.store.GetUser(userID)
	if !ok {
		return storage.Conversation{}, apperror.New(opAddMessage, "unknown_author", ErrUnknownAuthor)
	}
	message, err := s.newMessage(opAddMessage, author, request.Content, request.Images)
	if err != nil {
		return storage.Conversation{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conversation, err := s.load(ctx, opAddMessage, conversationID)
	if err != nil {
		return storage.Conversation{}, err
	}
	if !s.canView(author.ID, conversation.MemberID) {
		return storage.Conversation{}, apperror.New(opAddMessage, "forbidden", ErrForbidden)
	}

	if request.ParentID == "" {
		if conversation.MemberID != author.ID {
			return storage.Conversation{}, apperror.New(opAddMessage, "replies_only", ErrForbidden)
		}
		conversation.Messages = append(conversation.Messages, message)
	} else if !conversation.AppendReply(request.ParentID, message) {
		return storage.Conversation{}, apperror.New(opAddMessage, "parent_not_found", ErrMessageNotFound)
	}

	updated, err := s.store.UpdateConversation(ctx, conversation)
	if err != nil {
		s.logError(opAddMessage, "store_failed", err,
			zap.String("user_id", author.ID),
			zap.Int64("conversation_id", conversationID))
		return storage.Conversation{}, apperror.New(opAddMessage, "store_failed", err)
	}
	s.notify(updated)
	return updated, nil
}

// Rename changes the title of a conversation owned by userID.
func (s *Service) Rename(ctx context.Context, userID string, conversationID int64, title string) (storage.Conversation, error) {
	cleaned, err := s.cleanTitle(opRename, title)
	if err != nil {
		return storage.Conversation{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conversation, err := s.load(ctx, opRename, conversationID)
	if err != nil {
		return storage.Conversation{}, err
	}
	if conversation.MemberID != userID {
		return storage.Conversation{}, apperror.New(opRename, "forbidden", ErrForbidden)
	}
	conversation.Title = cleaned
	updated, err := s.store.UpdateConversation(ctx, conversation)
	if err != nil {
		s.logError(opRename, "store_failed", err,
			zap.String("user_id", userID),
			zap.Int64("conversation_id", conversationID))
		return storage.Conversation{}, apperror.New(opRename, "store_failed", err)
	}
	s.notify(updated)
	return updated, nil
}

func (s *Service) load(ctx context.Context, operation string, conversationID int64) (storage.Conversation, error) {
	conversation, found, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		s.logError(operation, "load_failed", err, zap.Int64("conversation_id", conversationID))
		return storage.Conversation{}, apperror.New(operation, "load_failed", err)
	}
	if !found {
		return storage.Conversation{}, apperror.New(operation, "not_found", ErrConversationNotFound)
	}
	return conversation, nil
}

func (s *Service) canView(userID, memberID string) bool {
	if userID == "" {
		return false
	}
	if userID == memberID {
		return true
	}
	supporter, ok := s.store.FindSupporter(memberID, userID)
	return ok && supporter.Status == storage.SupporterStatusAccepted
}

func (s *Service) cleanTitle(operation, title string) (string, error) {
	cleaned := s.sanitizer.plainText(title)
	if cleaned == "" || len(cleaned) > maxTitleLength {
		return "", apperror.New(operation, "invalid_title", ErrInvalidInput)
	}
	return cleaned, nil
}

func (s *Service) newMessage(operation string, author storage.User, content string, images []string) (storage.Message, error) {
	if err := s.validator.Var(images, imagesRule); err != nil {
		return storage.Message{}, apperror.New(operation, "invalid_images", ErrInvalidInput)
	}
	cleaned := s.sanitizer.plainText(content)
	if (cleaned == "" && len(images) == 0) || len(cleaned) > maxContentLength {
		return storage.Message{}, apperror.New(operation, "invalid_content", ErrInvalidInput)
	}
	messageID, err := s.ids.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err, zap.String("user_id", author.ID))
		return storage.Message{}, apperror.New(operation, "id_generation_failed", err)
	}
	timestamp := s.clock().UTC()
	message := storage.Message{
		ID:         messageID,
		AuthorID:   author.ID,
		AuthorName: author.DisplayName(),
		Content:    cleaned,
		Timestamp:  &timestamp,
	}
	if len(images) > 0 {
		message.Images = append([]string(nil), images...)
	}
	return message, nil
}

func (s *Service) notify(conversation storage.Conversation) {
	if s.notifier == nil {
		return
	}
	audience := []string{conversation.MemberID}
	for _, supporter := range s.store.ListSupportersForMember(conversation.MemberID) {
		if supporter.Status == storage.SupporterStatusAccepted {
			audience = append(audience, supporter.SupporterID)
		}
	}
	sort.Strings(audience[1:])
	s.notifier.NotifyConversationChanged(audience, conversation.ID)
	s.logger.Debug("conversation change published",
		zap.Int64("conversation_id", conversation.ID),
		zap.Int("audience", len(audience)))
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("conversations service error", attrs...)
}
