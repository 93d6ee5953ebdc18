package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/supportspark/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	usersFileName              = "users.json"
	supportersFileName         = "supporters.json"
	conversationIndexFileName  = "conversations-index.json"
	conversationMetaFileName   = "conversations-meta.json"
	conversationsDirectoryName = "conversations"
	conversationFileExtension  = ".json"

	fileKindUsers        = "users"
	fileKindSupporters   = "supporters"
	fileKindIndex        = "conversation_index"
	fileKindMeta         = "conversation_meta"
	fileKindConversation = "conversation"
)

var (
	// ErrMissingDataDir indicates Open was called without a data directory.
	ErrMissingDataDir = errors.New("storage: data directory is required")
	// ErrInvalidIdentifier indicates an id that cannot be used as a path segment.
	ErrInvalidIdentifier = errors.New("storage: invalid identifier")
	// ErrDuplicateUserID indicates a caller-supplied user id is already taken.
	ErrDuplicateUserID = errors.New("storage: user id already exists")
	// ErrSupporterNotFound indicates a status update for an unknown relationship.
	ErrSupporterNotFound = errors.New("storage: supporter relationship not found")
	// ErrInvalidSupporterStatus indicates a status outside pending/accepted/rejected.
	ErrInvalidSupporterStatus = errors.New("storage: invalid supporter status")
	// ErrConversationNotFound indicates an update for a conversation missing from the index.
	ErrConversationNotFound = errors.New("storage: conversation not found")
	// ErrConversationOwnerChanged indicates an update that tried to move a conversation to another member.
	ErrConversationOwnerChanged = errors.New("storage: conversation owner cannot change")
)

// IDProvider issues identifiers for new users.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues random UUIDv4 tokens.
func NewUUIDProvider() IDProvider {
	return uuidProvider{}
}

func (uuidProvider) NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Config describes the data directory and collaborators of a Store.
type Config struct {
	DataDir    string
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store is the JSON-file backed persistence layer. The in-memory maps are the source
// of truth for reads; every mutation is flushed to disk before the lock is released,
// so disk writes land in the same order as the mutations they reflect.
type Store struct {
	dataDir string
	clock   func() time.Time
	ids     IDProvider
	logger  *zap.Logger

	mu              sync.RWMutex
	users           map[string]User
	supporters      map[int64]Supporter
	index           map[int64]ConversationIndexEntry
	meta            conversationMeta
	nextSupporterID int64
}

// Open hydrates every collection from cfg.DataDir, creating empty files where none
// exist, and returns a ready store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		return nil, ErrMissingDataDir
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := &Store{
		dataDir:    dataDir,
		clock:      clock,
		ids:        ids,
		logger:     logger,
		users:      make(map[string]User),
		supporters: make(map[int64]Supporter),
		index:      make(map[int64]ConversationIndexEntry),
	}

	if err := os.MkdirAll(store.conversationsRoot(), directoryPermissions); err != nil {
		return nil, fmt.Errorf("storage: create data directory: %w", err)
	}
	if err := store.load(); err != nil {
		return nil, err
	}

	logger.Info("storage initialized",
		zap.String("data_dir", dataDir),
		zap.Int("users", len(store.users)),
		zap.Int("supporters", len(store.supporters)),
		zap.Int("conversations", len(store.index)),
	)
	return store, nil
}

// DataDir returns the directory backing the store.
func (s *Store) DataDir() string {
	return s.dataDir
}

func (s *Store) load() error {
	users := []User{}
	if err := readOrInitJSON(s.usersPath(), &users, users); err != nil {
		return err
	}
	for _, user := range users {
		s.users[user.ID] = user
	}

	supporters := []Supporter{}
	if err := readOrInitJSON(s.supportersPath(), &supporters, supporters); err != nil {
		return err
	}
	for _, supporter := range supporters {
		s.supporters[supporter.ID] = supporter
		if supporter.ID > s.nextSupporterID {
			s.nextSupporterID = supporter.ID
		}
	}

	entries := []ConversationIndexEntry{}
	if err := readOrInitJSON(s.indexPath(), &entries, entries); err != nil {
		return err
	}
	var highestIndexed int64
	for _, entry := range entries {
		s.index[entry.ID] = entry
		if entry.ID > highestIndexed {
			highestIndexed = entry.ID
		}
	}

	meta := conversationMeta{}
	if err := readOrInitJSON(s.metaPath(), &meta, meta); err != nil {
		return err
	}
	// The counter file is written last on create, so it may trail the index after a partial failure.
	if meta.LastConversationID < highestIndexed {
		meta.LastConversationID = highestIndexed
	}
	s.meta = meta
	return nil
}

func (s *Store) usersPath() string {
	return filepath.Join(s.dataDir, usersFileName)
}

func (s *Store) supportersPath() string {
	return filepath.Join(s.dataDir, supportersFileName)
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dataDir, conversationIndexFileName)
}

func (s *Store) metaPath() string {
	return filepath.Join(s.dataDir, conversationMetaFileName)
}

func (s *Store) conversationsRoot() string {
	return filepath.Join(s.dataDir, conversationsDirectoryName)
}

func (s *Store) memberDirectory(memberID string) (string, error) {
	if err := validatePathSegment(memberID); err != nil {
		return "", err
	}
	return filepath.Join(s.conversationsRoot(), memberID), nil
}

func (s *Store) conversationPath(memberID string, conversationID int64) (string, error) {
	directory, err := s.memberDirectory(memberID)
	if err != nil {
		return "", err
	}
	return filepath.Join(directory, strconv.FormatInt(conversationID, 10)+conversationFileExtension), nil
}

func validatePathSegment(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || trimmed != value {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, value)
	}
	if trimmed == "." || trimmed == ".." || strings.ContainsAny(trimmed, `/\`) || strings.ContainsRune(trimmed, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, value)
	}
	return nil
}

// persist writes value to path and records the outcome. Callers hold s.mu.
func (s *Store) persist(kind, path string, value any) error {
	if err := WriteJSONAtomic(path, value); err != nil {
		observability.StorageWrites().WithLabelValues(kind, "error").Inc()
		s.logger.Error("storage write failed",
			zap.String("file_kind", kind),
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}
	observability.StorageWrites().WithLabelValues(kind, "ok").Inc()
	return nil
}

func (s *Store) persistUsers() error {
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
	return s.persist(fileKindUsers, s.usersPath(), users)
}

func (s *Store) persistSupporters() error {
	supporters := make([]Supporter, 0, len(s.supporters))
	for _, supporter := range s.supporters {
		supporters = append(supporters, supporter)
	}
	sort.Slice(supporters, func(i, j int) bool {
		return supporters[i].ID < supporters[j].ID
	})
	return s.persist(fileKindSupporters, s.supportersPath(), supporters)
}

func (s *Store) persistIndex() error {
	entries := make([]ConversationIndexEntry, 0, len(s.index))
	for _, entry := range s.index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
	return s.persist(fileKindIndex, s.indexPath(), entries)
}

func (s *Store) persistMeta() error {
	return s.persist(fileKindMeta, s.metaPath(), s.meta)
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}
