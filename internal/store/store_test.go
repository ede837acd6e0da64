package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + sync columns)", result.Version)
	}
}

// TestMigrateSchemaHasRequiredColumns verifies the additive wave landed:
// a replica created at version 1 must gain these columns without losing rows.
func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"participant with email", "INSERT INTO conversation_participants (id, conversation_id, user_id, email) VALUES (?, ?, ?, ?)", []any{"p1", "c1", "u1", "a@x.com"}},
		{"chat with updated_at", "INSERT INTO chats (id, conversation_id, message, updated_at) VALUES (?, ?, ?, ?)", []any{"m1", "c1", "hi", "2026-01-01T00:00:00Z"}},
		{"story with text", "INSERT INTO stories (id, user_id, text) VALUES (?, ?, ?)", []any{"s1", "u1", "hello"}},
		{"file with size and hash", "INSERT INTO files (id, file_size, hash) VALUES (?, ?, ?)", []any{"f1", 1000, "abc"}},
		{"viewed marker with flags", "INSERT INTO viewed_stories (id, viewed, synced) VALUES (?, 1, 0)", []any{"s1"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact(&Contact{ID: "1", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	contacts, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 {
		t.Fatalf("got %d contacts, want 1", len(contacts))
	}
}

func TestContactUpsertOverwrites(t *testing.T) {
	db := testDB(t)

	c := &Contact{ID: "1", CreatorID: "me", RecipientID: "5", Name: "Alice", Email: "a@x.com"}
	if err := db.UpsertContact(c); err != nil {
		t.Fatal(err)
	}

	c.Name = "Alice Updated"
	c.IsMutual = true
	if err := db.UpsertContact(c); err != nil {
		t.Fatal(err)
	}

	contacts, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 {
		t.Fatalf("got %d contacts, want 1", len(contacts))
	}
	if contacts[0].Name != "Alice Updated" || !contacts[0].IsMutual {
		t.Errorf("contact = %+v", contacts[0])
	}
}

func TestGetContactByRecipient(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{ID: "1", RecipientID: "5", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetContactByRecipient("5")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "Alice" {
		t.Errorf("got %v, want Alice", c)
	}

	c, err = db.GetContactByRecipient("999")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("expected nil for unknown recipient")
	}
}

func TestChatUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "c1", Type: "single"}); err != nil {
		t.Fatal(err)
	}

	msg := &Chat{ID: "u-1", ConversationID: "c1", SenderID: "me", Message: "hello", MessageType: "text"}
	if err := db.UpsertChat(msg); err != nil {
		t.Fatal(err)
	}
	msg.Message = "hello updated"
	msg.Synced = true
	if err := db.UpsertChat(msg); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListConversationChats("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1 (idempotent upsert failed)", len(chats))
	}
	if chats[0].Message != "hello updated" || !chats[0].Synced {
		t.Errorf("chat = %+v", chats[0])
	}
}

func TestPendingChats(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "a", ConversationID: "c1", Message: "first", CreatedAt: "2026-01-01T00:00:01Z"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&Chat{ID: "b", ConversationID: "c1", Message: "second", CreatedAt: "2026-01-01T00:00:02Z"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&Chat{ID: "c", ConversationID: "c1", Message: "done", Synced: true}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if pending[0].ID != "a" || pending[1].ID != "b" {
		t.Errorf("pending order = %s, %s", pending[0].ID, pending[1].ID)
	}
}

func TestLatestChatCursor(t *testing.T) {
	db := testDB(t)

	cursor, err := db.LatestChatCursor()
	if err != nil {
		t.Fatal(err)
	}
	if cursor != "" {
		t.Errorf("empty store cursor = %q, want empty", cursor)
	}

	_ = db.UpsertChat(&Chat{ID: "a", UpdatedAt: "2026-01-02T00:00:00Z"})
	_ = db.UpsertChat(&Chat{ID: "b", UpdatedAt: "2026-01-03T00:00:00Z"})
	_ = db.UpsertChat(&Chat{ID: "c", UpdatedAt: "2026-01-01T00:00:00Z"})

	cursor, err = db.LatestChatCursor()
	if err != nil {
		t.Fatal(err)
	}
	if cursor != "2026-01-03T00:00:00Z" {
		t.Errorf("cursor = %q, want 2026-01-03T00:00:00Z", cursor)
	}
}

func TestStorySoftClear(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertStory(&Story{ID: "s1", UserID: "5", Text: "hi", FileID: "f1", ExpiresAt: "2099-01-01T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	if err := db.ClearStoryContent("s1"); err != nil {
		t.Fatal(err)
	}

	s, err := db.GetStory("s1")
	if err != nil {
		t.Fatal(err)
	}
	if s == nil {
		t.Fatal("soft-clear must keep the row")
	}
	if s.Text != "" || s.FileID != "" {
		t.Errorf("story content = %q/%q, want cleared", s.Text, s.FileID)
	}
}

func TestDeleteExpiredStories(t *testing.T) {
	db := testDB(t)

	_ = db.UpsertStory(&Story{ID: "old", ExpiresAt: "2020-01-01T00:00:00Z"})
	_ = db.UpsertStory(&Story{ID: "live", ExpiresAt: "2099-01-01T00:00:00Z"})
	_ = db.UpsertStory(&Story{ID: "never"})

	n, err := db.DeleteExpiredStories(Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d stories, want 1", n)
	}
	if s, _ := db.GetStory("old"); s != nil {
		t.Error("expired story not removed")
	}
	if s, _ := db.GetStory("live"); s == nil {
		t.Error("live story removed")
	}
}

func TestMarkStoryViewedWriteOnce(t *testing.T) {
	db := testDB(t)

	if err := db.MarkStoryViewed("s1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkStoryViewed("s1"); err != nil {
		t.Fatalf("second mark should be a no-op, got %v", err)
	}

	viewed, err := db.ViewedStoryIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(viewed) != 1 {
		t.Errorf("got %d viewed markers, want 1", len(viewed))
	}
}

func TestProfilePictureFile(t *testing.T) {
	db := testDB(t)

	_ = db.UpsertFile(&File{ID: "f1", UserID: "5", Text: ProfilePictureSentinel, FilePath: "/u/5.jpg", FileType: "image"})
	_ = db.UpsertFile(&File{ID: "f2", UserID: "5", Text: "", FilePath: "/other.jpg"})

	pp, err := db.ProfilePictureFile("5")
	if err != nil {
		t.Fatal(err)
	}
	if pp == nil || pp.ID != "f1" {
		t.Errorf("pp = %+v, want f1", pp)
	}

	if err := db.ClearProfilePicture("5"); err != nil {
		t.Fatal(err)
	}
	f, _ := db.GetFile("f1")
	if f == nil {
		t.Fatal("sentinel row must survive ClearProfilePicture")
	}
	if f.FilePath != "" || f.LocalStorage != "" {
		t.Errorf("pp not cleared: %+v", f)
	}
}

func TestUpsertFileDescriptorKeepsBlob(t *testing.T) {
	db := testDB(t)

	_ = db.UpsertFile(&File{ID: "f1", FilePath: "http://x/a.jpg", LocalStorage: "/tmp/f1.jpg", FileType: "image"})

	// A descriptor refresh without a blob path must not wipe the cache.
	if err := db.UpsertFileDescriptor(&File{ID: "f1", FilePath: "http://x/a.jpg", FileType: "image", FileSize: 5000}); err != nil {
		t.Fatal(err)
	}

	f, _ := db.GetFile("f1")
	if f.LocalStorage != "/tmp/f1.jpg" {
		t.Errorf("local_storage = %q, want preserved", f.LocalStorage)
	}
	if f.FileSize != 5000 {
		t.Errorf("file_size = %d, want refreshed to 5000", f.FileSize)
	}
}

func TestClearAll(t *testing.T) {
	db := testDB(t)

	_ = db.UpsertConversation(&Conversation{ID: "c1"})
	_ = db.UpsertChat(&Chat{ID: "m1", ConversationID: "c1"})
	_ = db.UpsertContact(&Contact{ID: "1"})
	_ = db.UpsertStory(&Story{ID: "s1", Text: "x"})

	if err := db.ClearAll(); err != nil {
		t.Fatal(err)
	}

	for _, table := range tables {
		set, err := db.ids(table)
		if err != nil {
			t.Fatal(err)
		}
		if len(set) != 0 {
			t.Errorf("table %s not empty after ClearAll", table)
		}
	}
}
