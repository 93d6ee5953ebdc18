package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stepClock struct {
	current time.Time
}

func newStepClock() *stepClock {
	return &stepClock{current: time.Unix(1700000000, 0).UTC()}
}

func (c *stepClock) Now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

type sequenceIDs struct {
	next int
}

func (p *sequenceIDs) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("user-%d", p.next), nil
}

func openTestStore(t *testing.T, dataDir string, clock *stepClock) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{
		DataDir:    dataDir,
		Clock:      clock.Now,
		IDProvider: &sequenceIDs{next: len(mustReadUsers(t, dataDir))},
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func mustReadUsers(t *testing.T, dataDir string) []User {
	t.Helper()
	var users []User
	if _, err := readJSON(filepath.Join(dataDir, usersFileName), &users); err != nil {
		t.Fatalf("read users: %v", err)
	}
	return users
}

func mustCreateUser(t *testing.T, store *Store, email string) User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), NewUser{Email: email, PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return user
}

func mustCreateConversation(t *testing.T, store *Store, member User, title, content string) Conversation {
	t.Helper()
	conversation, err := store.CreateConversation(context.Background(), NewConversation{
		MemberID: member.ID,
		Title:    title,
		InitialMessage: Message{
			ID:         "m-" + title,
			AuthorID:   member.ID,
			AuthorName: member.DisplayName(),
			Content:    content,
		},
	})
	if err != nil {
		t.Fatalf("create conversation %q: %v", title, err)
	}
	return conversation
}

func TestOpenRequiresDataDir(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); !errors.Is(err, ErrMissingDataDir) {
		t.Fatalf("expected ErrMissingDataDir, got %v", err)
	}
}

func TestOpenInitializesEmptyFiles(t *testing.T) {
	dataDir := t.TempDir()
	openTestStore(t, dataDir, newStepClock())

	expected := map[string]string{
		usersFileName:             "[]",
		supportersFileName:        "[]",
		conversationIndexFileName: "[]",
		conversationMetaFileName:  "{\n  \"lastConversationId\": 0\n}",
	}
	for name, want := range expected {
		content, err := os.ReadFile(filepath.Join(dataDir, name))
		if err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
		if string(content) != want {
			t.Fatalf("unexpected %s content: %s", name, content)
		}
	}
}

func TestSupporterSeesAcceptedMemberConversation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), newStepClock())

	alice := mustCreateUser(t, store, "alice@example.com")
	bob := mustCreateUser(t, store, "bob@example.com")

	relationship, err := store.CreateSupporter(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("create supporter: %v", err)
	}
	if relationship.Status != SupporterStatusPending {
		t.Fatalf("expected pending status, got %s", relationship.Status)
	}
	if _, err := store.UpdateSupporterStatus(ctx, relationship.ID, SupporterStatusAccepted); err != nil {
		t.Fatalf("accept supporter: %v", err)
	}

	mustCreateConversation(t, store, alice, "Week one", "Hello")

	listed := store.ListConversationsForUser(bob.ID)
	if len(listed) != 1 {
		t.Fatalf("expected exactly one conversation, got %d", len(listed))
	}
	if listed[0].Title != "Week one" {
		t.Fatalf("unexpected title %q", listed[0].Title)
	}
}

func TestListConversationsVisibilityByStatus(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), newStepClock())

	member := mustCreateUser(t, store, "member@example.com")
	pendingMember := mustCreateUser(t, store, "pending@example.com")
	rejectedMember := mustCreateUser(t, store, "rejected@example.com")
	supporter := mustCreateUser(t, store, "supporter@example.com")

	first := mustCreateConversation(t, store, member, "C1", "one")
	second := mustCreateConversation(t, store, member, "C2", "two")
	mustCreateConversation(t, store, pendingMember, "Pending", "hidden")
	mustCreateConversation(t, store, rejectedMember, "Rejected", "hidden")
	own := mustCreateConversation(t, store, supporter, "Mine", "mine")

	accepted, err := store.CreateSupporter(ctx, member.ID, supporter.ID)
	if err != nil {
		t.Fatalf("create supporter: %v", err)
	}
	if _, err := store.UpdateSupporterStatus(ctx, accepted.ID, SupporterStatusAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := store.CreateSupporter(ctx, pendingMember.ID, supporter.ID); err != nil {
		t.Fatalf("create pending supporter: %v", err)
	}
	rejected, err := store.CreateSupporter(ctx, rejectedMember.ID, supporter.ID)
	if err != nil {
		t.Fatalf("create rejected supporter: %v", err)
	}
	if _, err := store.UpdateSupporterStatus(ctx, rejected.ID, SupporterStatusRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}

	listed := store.ListConversationsForUser(supporter.ID)
	gotIDs := make([]int64, 0, len(listed))
	for _, entry := range listed {
		gotIDs = append(gotIDs, entry.ID)
	}
	wantIDs := []int64{own.ID, second.ID, first.ID}
	if !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Fatalf("unexpected visible conversations: got %v want %v", gotIDs, wantIDs)
	}

	if listed := store.ListConversationsForUser(member.ID); len(listed) != 2 {
		t.Fatalf("member should only see own conversations, got %d", len(listed))
	}
}

func TestRecordsRoundTripThroughDisk(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	clock := newStepClock()
	store := openTestStore(t, dataDir, clock)

	member, err := store.CreateUser(ctx, NewUser{
		Email:        "member@example.com",
		PasswordHash: "$2a$10$hash",
		FirstName:    "Mia",
		LastName:     "Member",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	supporterUser := mustCreateUser(t, store, "supporter@example.com")
	supporter, err := store.CreateSupporter(ctx, member.ID, supporterUser.ID)
	if err != nil {
		t.Fatalf("create supporter: %v", err)
	}

	posted := clock.Now()
	replied := clock.Now()
	created, err := store.CreateConversation(ctx, NewConversation{
		MemberID: member.ID,
		Title:    "Scan results",
		InitialMessage: Message{
			ID:         "root",
			AuthorID:   member.ID,
			AuthorName: member.DisplayName(),
			Content:    "Good news today",
			Images:     []string{"/uploads/a.png", "/uploads/b.jpg"},
			Timestamp:  &posted,
		},
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if !created.AppendReply("root", Message{
		ID:         "reply",
		AuthorID:   supporterUser.ID,
		AuthorName: supporterUser.DisplayName(),
		Content:    "Wonderful!",
		Timestamp:  &replied,
	}) {
		t.Fatalf("expected reply to attach to root message")
	}
	updated, err := store.UpdateConversation(ctx, created)
	if err != nil {
		t.Fatalf("update conversation: %v", err)
	}

	reopened := openTestStore(t, dataDir, clock)

	gotMember, ok := reopened.GetUser(member.ID)
	if !ok || !reflect.DeepEqual(gotMember, member) {
		t.Fatalf("user did not round trip: got %+v want %+v", gotMember, member)
	}
	gotSupporter, ok := reopened.GetSupporter(supporter.ID)
	if !ok || !reflect.DeepEqual(gotSupporter, supporter) {
		t.Fatalf("supporter did not round trip: got %+v want %+v", gotSupporter, supporter)
	}
	gotConversation, ok, err := reopened.GetConversation(ctx, updated.ID)
	if err != nil || !ok {
		t.Fatalf("expected conversation, ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(gotConversation, updated) {
		t.Fatalf("conversation did not round trip:\ngot  %+v\nwant %+v", gotConversation, updated)
	}
}

func TestUpdateConversationTitleKeepsIndexInSync(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	clock := newStepClock()
	store := openTestStore(t, dataDir, clock)

	member := mustCreateUser(t, store, "member@example.com")
	conversation := mustCreateConversation(t, store, member, "Draft", "body")

	conversation.Title = "Final"
	if _, err := store.UpdateConversation(ctx, conversation); err != nil {
		t.Fatalf("update: %v", err)
	}

	listed := store.ListConversationsForUser(member.ID)
	if len(listed) != 1 || listed[0].Title != "Final" {
		t.Fatalf("listing not refreshed: %+v", listed)
	}

	var entries []ConversationIndexEntry
	if _, err := readJSON(filepath.Join(dataDir, conversationIndexFileName), &entries); err != nil {
		t.Fatalf("read index: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "Final" {
		t.Fatalf("index file not refreshed: %+v", entries)
	}

	stored, ok, err := openTestStore(t, dataDir, clock).GetConversation(ctx, conversation.ID)
	if err != nil || !ok {
		t.Fatalf("reload failed ok=%v err=%v", ok, err)
	}
	if stored.Title != "Final" {
		t.Fatalf("conversation file not refreshed: %q", stored.Title)
	}
}

func TestUpdateConversationCreatedAtKeepsIndexInSync(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	clock := newStepClock()
	store := openTestStore(t, dataDir, clock)

	member := mustCreateUser(t, store, "member@example.com")
	older := mustCreateConversation(t, store, member, "older", "a")
	newer := mustCreateConversation(t, store, member, "newer", "b")

	older.CreatedAt = newer.CreatedAt.Add(time.Hour)
	if _, err := store.UpdateConversation(ctx, older); err != nil {
		t.Fatalf("update: %v", err)
	}

	listed := store.ListConversationsForUser(member.ID)
	if len(listed) != 2 || listed[0].ID != older.ID || !listed[0].CreatedAt.Equal(older.CreatedAt) {
		t.Fatalf("listing not refreshed: %+v", listed)
	}

	reloaded := openTestStore(t, dataDir, clock).ListConversationsForUser(member.ID)
	if len(reloaded) != 2 || reloaded[0].ID != older.ID || !reloaded[0].CreatedAt.Equal(older.CreatedAt) {
		t.Fatalf("index file not refreshed: %+v", reloaded)
	}
}

func TestEmptyRepliesAndImagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	clock := newStepClock()
	store := openTestStore(t, dataDir, clock)

	member := mustCreateUser(t, store, "member@example.com")
	created, err := store.CreateConversation(ctx, NewConversation{
		MemberID: member.ID,
		Title:    "quiet day",
		InitialMessage: Message{
			ID:       "root",
			AuthorID: member.ID,
			Content:  "nothing new",
			Images:   []string{},
			Replies:  []Message{},
		},
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	created.Messages[0].Replies = []Message{{ID: "reply", AuthorID: member.ID, Content: "ok", Images: []string{}, Replies: []Message{}}}
	updated, err := store.UpdateConversation(ctx, created)
	if err != nil {
		t.Fatalf("update conversation: %v", err)
	}

	stored, ok, err := openTestStore(t, dataDir, clock).GetConversation(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("expected conversation, ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(stored, updated) {
		t.Fatalf("conversation did not round trip:\ngot  %+v\nwant %+v", stored, updated)
	}
}

func TestConversationIDsIncreaseAcrossRestarts(t *testing.T) {
	dataDir := t.TempDir()
	clock := newStepClock()

	var previous int64
	for restart := 0; restart < 3; restart++ {
		store := openTestStore(t, dataDir, clock)
		member := mustCreateUser(t, store, fmt.Sprintf("member-%d@example.com", restart))
		for index := 0; index < 3; index++ {
			conversation := mustCreateConversation(t, store, member, fmt.Sprintf("t-%d-%d", restart, index), "x")
			if conversation.ID <= previous {
				t.Fatalf("conversation id %d not greater than %d", conversation.ID, previous)
			}
			previous = conversation.ID
		}
	}
	if previous != 9 {
		t.Fatalf("expected nine sequential ids, last was %d", previous)
	}
}

func TestOpenRecoversCounterTrailingIndex(t *testing.T) {
	dataDir := t.TempDir()
	entries := []ConversationIndexEntry{{ID: 5, MemberID: "someone", Title: "orphan"}}
	if err := WriteJSONAtomic(filepath.Join(dataDir, conversationIndexFileName), entries); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if err := WriteJSONAtomic(filepath.Join(dataDir, conversationMetaFileName), conversationMeta{LastConversationID: 3}); err != nil {
		t.Fatalf("write meta: %v", err)
	}

	store := openTestStore(t, dataDir, newStepClock())
	member := mustCreateUser(t, store, "member@example.com")
	conversation := mustCreateConversation(t, store, member, "next", "x")
	if conversation.ID != 6 {
		t.Fatalf("expected id 6 after index high-water mark 5, got %d", conversation.ID)
	}
}

func TestGetConversationMissingFileIsNotFound(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	core, logs := observer.New(zapcore.DebugLevel)
	store, err := Open(ctx, Config{DataDir: dataDir, Clock: newStepClock().Now, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	member := mustCreateUser(t, store, "member@example.com")
	conversation := mustCreateConversation(t, store, member, "Gone", "x")

	path := filepath.Join(dataDir, conversationsDirectoryName, member.ID, fmt.Sprintf("%d.json", conversation.ID))
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove conversation file: %v", err)
	}

	_, ok, err := store.GetConversation(ctx, conversation.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatalf("expected not found for missing file")
	}
	warnings := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("conversation index entry without file").All()
	if len(warnings) != 1 {
		t.Fatalf("expected one inconsistency warning, got %d", len(warnings))
	}

	if _, ok, err := store.GetConversation(ctx, 999); ok || err != nil {
		t.Fatalf("expected unknown id to be not found, ok=%v err=%v", ok, err)
	}
}

func TestUpdateConversationRejectsUnknownAndOwnerChange(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), newStepClock())
	member := mustCreateUser(t, store, "member@example.com")
	other := mustCreateUser(t, store, "other@example.com")
	conversation := mustCreateConversation(t, store, member, "Mine", "x")

	if _, err := store.UpdateConversation(ctx, Conversation{ID: 42, MemberID: member.ID}); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	conversation.MemberID = other.ID
	if _, err := store.UpdateConversation(ctx, conversation); !errors.Is(err, ErrConversationOwnerChanged) {
		t.Fatalf("expected ErrConversationOwnerChanged, got %v", err)
	}
}

func TestUpdateSupporterStatusErrors(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), newStepClock())

	if _, err := store.UpdateSupporterStatus(ctx, 7, SupporterStatusAccepted); !errors.Is(err, ErrSupporterNotFound) {
		t.Fatalf("expected ErrSupporterNotFound, got %v", err)
	}
	if _, err := store.UpdateSupporterStatus(ctx, 7, SupporterStatus("blocked")); !errors.Is(err, ErrInvalidSupporterStatus) {
		t.Fatalf("expected ErrInvalidSupporterStatus, got %v", err)
	}
}

func TestSupporterIDsContinueAfterRestart(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	clock := newStepClock()
	store := openTestStore(t, dataDir, clock)
	first, err := store.CreateSupporter(ctx, "member", "supporter-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	reopened := openTestStore(t, dataDir, clock)
	second, err := reopened.CreateSupporter(ctx, "member", "supporter-b")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.ID != first.ID+1 {
		t.Fatalf("expected id %d, got %d", first.ID+1, second.ID)
	}
	if found, ok := reopened.FindSupporter("member", "supporter-a"); !ok || found.ID != first.ID {
		t.Fatalf("expected to find first relationship by pair")
	}
	if got := reopened.ListSupportersForMember("member"); len(got) != 2 {
		t.Fatalf("expected two supporters for member, got %d", len(got))
	}
	if got := reopened.ListSupportingForUser("supporter-b"); len(got) != 1 || got[0].ID != second.ID {
		t.Fatalf("unexpected supporting list %+v", got)
	}
}

func TestUserLookups(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), newStepClock())
	user := mustCreateUser(t, store, "Casey@Example.com")

	if user.PasswordVersion != CurrentPasswordVersion {
		t.Fatalf("expected default password version, got %q", user.PasswordVersion)
	}
	if !user.CreatedAt.Equal(user.UpdatedAt) || user.CreatedAt.IsZero() {
		t.Fatalf("expected matching non-zero timestamps")
	}
	if found, ok := store.GetUserByEmail("casey@example.com"); !ok || found.ID != user.ID {
		t.Fatalf("expected case-insensitive email lookup")
	}
	if _, ok := store.GetUserByEmail("nobody@example.com"); ok {
		t.Fatalf("expected missing email to be not found")
	}
	if _, ok := store.GetUser("missing"); ok {
		t.Fatalf("expected missing id to be not found")
	}
	if _, err := store.CreateUser(ctx, NewUser{ID: user.ID, Email: "dup@example.com"}); !errors.Is(err, ErrDuplicateUserID) {
		t.Fatalf("expected ErrDuplicateUserID, got %v", err)
	}
}

func TestCreateConversationRejectsUnsafeMemberID(t *testing.T) {
	store := openTestStore(t, t.TempDir(), newStepClock())
	for _, memberID := range []string{"", "..", "a/b", " padded"} {
		_, err := store.CreateConversation(context.Background(), NewConversation{MemberID: memberID, Title: "x"})
		if !errors.Is(err, ErrInvalidIdentifier) {
			t.Fatalf("member id %q: expected ErrInvalidIdentifier, got %v", memberID, err)
		}
	}
}
