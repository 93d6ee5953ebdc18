package storage

import (
	"context"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
)

// ListConversationsForUser returns index entries for the user's own conversations and
// for every member who has accepted the user as a supporter, newest first.
func (s *Store) ListConversationsForUser(userID string) []ConversationIndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visibleMembers := map[string]struct{}{userID: {}}
	for _, supporter := range s.supporters {
		if supporter.SupporterID == userID && supporter.Status == SupporterStatusAccepted {
			visibleMembers[supporter.MemberID] = struct{}{}
		}
	}

	entries := make([]ConversationIndexEntry, 0)
	for _, entry := range s.index {
		if _, ok := visibleMembers[entry.MemberID]; ok {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
	return entries
}

// GetConversation resolves the owner through the index and reads the conversation file.
// An index entry whose file is missing is reported as not found.
func (s *Store) GetConversation(ctx context.Context, conversationID int64) (Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}

	s.mu.RLock()
	entry, ok := s.index[conversationID]
	s.mu.RUnlock()
	if !ok {
		return Conversation{}, false, nil
	}

	path, err := s.conversationPath(entry.MemberID, conversationID)
	if err != nil {
		return Conversation{}, false, err
	}
	var conversation Conversation
	found, err := readJSON(path, &conversation)
	if err != nil {
		return Conversation{}, false, err
	}
	if !found {
		s.logger.Warn("conversation index entry without file",
			zap.Int64("conversation_id", conversationID),
			zap.String("member_id", entry.MemberID),
			zap.String("path", path),
		)
		return Conversation{}, false, nil
	}
	return conversation, true, nil
}

// CreateConversation assigns the next conversation id and writes the conversation file,
// its index entry and the id counter, in that order.
func (s *Store) CreateConversation(ctx context.Context, input NewConversation) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if err := validatePathSegment(input.MemberID); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta.LastConversationID++
	conversation := Conversation{
		ID:        s.meta.LastConversationID,
		MemberID:  input.MemberID,
		Title:     input.Title,
		CreatedAt: s.now(),
		Messages:  cloneMessages([]Message{input.InitialMessage}),
	}
	if err := s.insertConversationLocked(conversation); err != nil {
		return Conversation{}, err
	}
	return conversation, nil
}

// insertConversationLocked persists a conversation whose id is already reserved. Callers hold s.mu.
func (s *Store) insertConversationLocked(conversation Conversation) error {
	directory, err := s.memberDirectory(conversation.MemberID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(directory, directoryPermissions); err != nil {
		return fmt.Errorf("storage: create member directory: %w", err)
	}
	path, err := s.conversationPath(conversation.MemberID, conversation.ID)
	if err != nil {
		return err
	}
	if err := s.persist(fileKindConversation, path, conversation); err != nil {
		return err
	}
	s.index[conversation.ID] = indexEntryFor(conversation)
	if err := s.persistIndex(); err != nil {
		return err
	}
	if conversation.ID > s.meta.LastConversationID {
		s.meta.LastConversationID = conversation.ID
	}
	return s.persistMeta()
}

// UpdateConversation rewrites the whole conversation file. When the title or creation
// time changed the index entry is rewritten as well, so listings never go stale.
func (s *Store) UpdateConversation(ctx context.Context, conversation Conversation) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[conversation.ID]
	if !ok {
		return Conversation{}, fmt.Errorf("%w: %d", ErrConversationNotFound, conversation.ID)
	}
	if conversation.MemberID != entry.MemberID {
		return Conversation{}, fmt.Errorf("%w: %d", ErrConversationOwnerChanged, conversation.ID)
	}

	updated := cloneConversation(conversation)
	path, err := s.conversationPath(entry.MemberID, updated.ID)
	if err != nil {
		return Conversation{}, err
	}
	if err := s.persist(fileKindConversation, path, updated); err != nil {
		return Conversation{}, err
	}
	if refreshed := indexEntryFor(updated); !sameIndexEntry(entry, refreshed) {
		s.index[updated.ID] = refreshed
		if err := s.persistIndex(); err != nil {
			return Conversation{}, err
		}
	}
	return updated, nil
}
