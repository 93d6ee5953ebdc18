package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DemoMemberID is the fixed id of the demo member account.
	DemoMemberID = "demo-member"
	// DemoSupporterID is the fixed id of the demo supporter account.
	DemoSupporterID = "demo-supporter"

	demoMemberEmail    = "demo.member@supportspark.app"
	demoSupporterEmail = "demo.supporter@supportspark.app"

	// DemoWelcomeConversationID and DemoCheckInConversationID are the preferred ids of the
	// demo threads. A thread whose preferred id already belongs to another conversation is
	// stored under the next free id instead.
	DemoWelcomeConversationID int64 = 1
	DemoCheckInConversationID int64 = 2
)

// PasswordHasher turns a plain password into the stored hash.
type PasswordHasher func(plain string) (string, error)

// SeedDemoData makes sure the demo accounts, their supporter link and the two demo
// conversations exist. Entities that are already present are left untouched.
// Demo passwords are random and never returned, so the accounts are only reachable
// through the demo login path.
func (s *Store) SeedDemoData(ctx context.Context, hashPassword PasswordHasher) error {
	accounts := []NewUser{
		{ID: DemoMemberID, Email: demoMemberEmail, FirstName: "Maya", LastName: "Member"},
		{ID: DemoSupporterID, Email: demoSupporterEmail, FirstName: "Sam", LastName: "Supporter"},
	}
	for _, account := range accounts {
		if _, ok := s.GetUser(account.ID); ok {
			continue
		}
		passwordHash, err := unusablePassword(hashPassword)
		if err != nil {
			return err
		}
		account.PasswordHash = passwordHash
		if _, err := s.CreateUser(ctx, account); err != nil {
			return fmt.Errorf("storage: seed demo user %s: %w", account.ID, err)
		}
		s.logger.Info("demo user created", zap.String("user_id", account.ID))
	}

	if _, ok := s.FindSupporter(DemoMemberID, DemoSupporterID); !ok {
		supporter, err := s.CreateSupporter(ctx, DemoMemberID, DemoSupporterID)
		if err != nil {
			return fmt.Errorf("storage: seed demo supporter: %w", err)
		}
		if _, err := s.UpdateSupporterStatus(ctx, supporter.ID, SupporterStatusAccepted); err != nil {
			return fmt.Errorf("storage: accept demo supporter: %w", err)
		}
		s.logger.Info("demo supporter link created", zap.Int64("supporter_id", supporter.ID))
	}

	member, _ := s.GetUser(DemoMemberID)
	supporter, _ := s.GetUser(DemoSupporterID)
	for _, conversation := range demoConversations(s.now(), member, supporter) {
		if err := s.seedConversation(ctx, conversation); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) seedConversation(ctx context.Context, conversation Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasDemoConversationLocked(conversation) {
		return nil
	}
	if _, taken := s.index[conversation.ID]; taken {
		preferred := conversation.ID
		conversation.ID = s.meta.LastConversationID + 1
		s.logger.Info("demo conversation id taken, using next free id",
			zap.Int64("preferred_id", preferred),
			zap.Int64("conversation_id", conversation.ID),
		)
	}
	if err := s.insertConversationLocked(conversation); err != nil {
		return fmt.Errorf("storage: seed demo conversation %d: %w", conversation.ID, err)
	}
	s.logger.Info("demo conversation created", zap.Int64("conversation_id", conversation.ID))
	return nil
}

// hasDemoConversationLocked reports whether the demo member already owns the thread,
// either under its preferred id or under the same title.
func (s *Store) hasDemoConversationLocked(conversation Conversation) bool {
	if entry, ok := s.index[conversation.ID]; ok && entry.MemberID == conversation.MemberID {
		return true
	}
	for _, entry := range s.index {
		if entry.MemberID == conversation.MemberID && entry.Title == conversation.Title {
			return true
		}
	}
	return false
}

func demoConversations(now time.Time, member, supporter User) []Conversation {
	weekAgo := now.Add(-7 * 24 * time.Hour)
	weekAgoReply := weekAgo.Add(3 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)
	return []Conversation{
		{
			ID:        DemoWelcomeConversationID,
			MemberID:  member.ID,
			Title:     "Starting my journey",
			CreatedAt: weekAgo,
			Messages: []Message{
				{
					ID:         "demo-1-1",
					AuthorID:   member.ID,
					AuthorName: member.DisplayName(),
					Content:    "Hi everyone! I'm sharing updates here so you can follow along with how things are going.",
					Timestamp:  &weekAgo,
					Replies: []Message{
						{
							ID:         "demo-1-2",
							AuthorID:   supporter.ID,
							AuthorName: supporter.DisplayName(),
							Content:    "So glad you set this up. We're cheering for you!",
							Timestamp:  &weekAgoReply,
						},
					},
				},
			},
		},
		{
			ID:        DemoCheckInConversationID,
			MemberID:  member.ID,
			Title:     "Weekly check-in",
			CreatedAt: yesterday,
			Messages: []Message{
				{
					ID:         "demo-2-1",
					AuthorID:   member.ID,
					AuthorName: member.DisplayName(),
					Content:    "This week was better than the last. Thank you for all the kind messages.",
					Timestamp:  &yesterday,
				},
			},
		},
	}
}

func unusablePassword(hashPassword PasswordHasher) (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("storage: generate demo password: %w", err)
	}
	plain := hex.EncodeToString(secret)
	if hashPassword == nil {
		return "!" + plain, nil
	}
	return hashPassword(plain)
}
