package storage

import (
	"strings"
	"time"
)

// CurrentPasswordVersion tags password hashes produced by the account service.
const CurrentPasswordVersion = "bcrypt-v1"

// SupporterStatus enumerates the lifecycle states of a supporter relationship.
type SupporterStatus string

const (
	// SupporterStatusPending marks an invitation that has not been answered.
	SupporterStatusPending SupporterStatus = "pending"
	// SupporterStatusAccepted grants the supporter read access to the member's updates.
	SupporterStatusAccepted SupporterStatus = "accepted"
	// SupporterStatusRejected marks a declined invitation.
	SupporterStatusRejected SupporterStatus = "rejected"
)

// Valid reports whether the status is one of the known states.
func (status SupporterStatus) Valid() bool {
	switch status {
	case SupporterStatusPending, SupporterStatusAccepted, SupporterStatusRejected:
		return true
	default:
		return false
	}
}

// User is a persisted account. Password holds a hash, never plain text.
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Password        string    `json:"password"`
	FirstName       string    `json:"firstName,omitempty"`
	LastName        string    `json:"lastName,omitempty"`
	PasswordVersion string    `json:"passwordVersion"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DisplayName returns "First Last" when a name is known and the email otherwise.
func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	return u.Email
}

// NewUser carries the fields supplied when creating a user. ID is optional.
type NewUser struct {
	ID              string
	Email           string
	PasswordHash    string
	FirstName       string
	LastName        string
	PasswordVersion string
}

// Message is one entry of a conversation thread. Replies nest recursively.
type Message struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"authorId"`
	AuthorName string     `json:"authorName"`
	Content    string     `json:"content"`
	Images     []string   `json:"images,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Replies    []Message  `json:"replies,omitempty"`
}

// Conversation is a titled update thread owned by a single member.
// Messages[0] is the initial update.
type Conversation struct {
	ID        int64     `json:"id"`
	MemberID  string    `json:"memberId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// FindMessage returns the message with the given id anywhere in the thread.
func (c *Conversation) FindMessage(messageID string) (*Message, bool) {
	return findMessage(c.Messages, messageID)
}

// AppendReply attaches reply under the message identified by parentID.
func (c *Conversation) AppendReply(parentID string, reply Message) bool {
	parent, ok := c.FindMessage(parentID)
	if !ok {
		return false
	}
	parent.Replies = append(parent.Replies, reply)
	return true
}

func findMessage(messages []Message, messageID string) (*Message, bool) {
	for index := range messages {
		if messages[index].ID == messageID {
			return &messages[index], true
		}
		if found, ok := findMessage(messages[index].Replies, messageID); ok {
			return found, true
		}
	}
	return nil, false
}

// NewConversation carries the fields supplied when creating a conversation.
type NewConversation struct {
	MemberID       string
	Title          string
	InitialMessage Message
}

// ConversationIndexEntry is the listing projection of a Conversation.
type ConversationIndexEntry struct {
	ID        int64     `json:"id"`
	MemberID  string    `json:"memberId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

func indexEntryFor(conversation Conversation) ConversationIndexEntry {
	return ConversationIndexEntry{
		ID:        conversation.ID,
		MemberID:  conversation.MemberID,
		Title:     conversation.Title,
		CreatedAt: conversation.CreatedAt,
	}
}

func sameIndexEntry(a, b ConversationIndexEntry) bool {
	return a.ID == b.ID && a.MemberID == b.MemberID && a.Title == b.Title && a.CreatedAt.Equal(b.CreatedAt)
}

// Supporter links a member to a user who follows their updates.
type Supporter struct {
	ID          int64           `json:"id"`
	MemberID    string          `json:"memberId"`
	SupporterID string          `json:"supporterId"`
	Status      SupporterStatus `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type conversationMeta struct {
	LastConversationID int64 `json:"lastConversationId"`
}

// cloneMessages deep-copies a thread. Empty images and replies become nil because the
// file format omits them, so a stored copy equals what a later read returns.
func cloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	cloned := make([]Message, len(messages))
	for index, message := range messages {
		cloned[index] = message
		cloned[index].Images = nil
		if len(message.Images) > 0 {
			cloned[index].Images = append([]string(nil), message.Images...)
		}
		if message.Timestamp != nil {
			timestamp := *message.Timestamp
			cloned[index].Timestamp = &timestamp
		}
		cloned[index].Replies = nil
		if len(message.Replies) > 0 {
			cloned[index].Replies = cloneMessages(message.Replies)
		}
	}
	return cloned
}

func cloneConversation(conversation Conversation) Conversation {
	cloned := conversation
	cloned.Messages = cloneMessages(conversation.Messages)
	return cloned
}
