package sync

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/api"
	"github.com/chatbyx/chatsync/internal/bus"
	"github.com/chatbyx/chatsync/internal/store"
)

func testReconciler(t *testing.T) (*Reconciler, *store.DB, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	b := bus.New()
	return NewReconciler(db, b, zap.NewNop()), db, b
}

func TestContactsDiffDelete(t *testing.T) {
	r, db, _ := testReconciler(t)

	for _, id := range []string{"1", "2", "3"} {
		if err := db.UpsertContact(&store.Contact{ID: id, Name: "old " + id}); err != nil {
			t.Fatal(err)
		}
	}

	// Server listing: 2 is gone, 4 is new.
	server := []store.Contact{
		{ID: "1", Name: "Alice", RecipientID: "10"},
		{ID: "3", Name: "Carol", RecipientID: "30"},
		{ID: "4", Name: "Dave", RecipientID: "40"},
	}
	if err := r.Contacts(server); err != nil {
		t.Fatal(err)
	}

	local, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(local) != 3 {
		t.Fatalf("got %d contacts, want 3", len(local))
	}
	got := map[string]store.Contact{}
	for _, c := range local {
		got[c.ID] = c
	}
	if _, ok := got["2"]; ok {
		t.Error("contact 2 should be hard-deleted")
	}
	if got["4"].Name != "Dave" {
		t.Errorf("contact 4 = %+v", got["4"])
	}
	if !got["1"].Synced || got["1"].Deleted {
		t.Errorf("reconciled rows must be synced and not deleted: %+v", got["1"])
	}
}

func TestContactsIdempotent(t *testing.T) {
	r, db, _ := testReconciler(t)

	server := []store.Contact{{ID: "1", Name: "Alice"}, {ID: "2", Name: "Bob"}}
	if err := r.Contacts(server); err != nil {
		t.Fatal(err)
	}
	if err := r.Contacts(server); err != nil {
		t.Fatal(err)
	}

	local, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(local) != 2 {
		t.Fatalf("got %d contacts after repeat reconcile, want 2", len(local))
	}
}

func TestContactsSkipsBlankIDs(t *testing.T) {
	r, db, _ := testReconciler(t)

	server := []store.Contact{{ID: "", Name: "ghost"}, {ID: "1", Name: "Alice"}}
	if err := r.Contacts(server); err != nil {
		t.Fatal(err)
	}

	local, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(local) != 1 || local[0].ID != "1" {
		t.Fatalf("got %+v, want only contact 1", local)
	}
}

func TestContactsFeedUserIndex(t *testing.T) {
	r, db, _ := testReconciler(t)

	server := []store.Contact{{ID: "1", Name: "Alice", Email: "a@x.com", RecipientID: "10"}}
	if err := r.Contacts(server); err != nil {
		t.Fatal(err)
	}

	users, err := db.ListStoredUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].ID != "10" || users[0].Email != "a@x.com" {
		t.Fatalf("users_stored = %+v", users)
	}
}

func TestConversationsPreservesPendingChats(t *testing.T) {
	r, db, _ := testReconciler(t)

	// An unconfirmed optimistic send exists locally.
	if err := db.UpsertConversation(&store.Conversation{ID: "c1", Type: "single"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&store.Chat{ID: "uuid-local", ConversationID: "c1", Message: "pending"}); err != nil {
		t.Fatal(err)
	}

	// Server dump knows the conversation but not the pending chat.
	dump := &api.MessageDump{
		Conversations: []store.Conversation{{ID: "c1", Type: "single"}},
		Chats:         []store.Chat{{ID: "100", ConversationID: "c1", Message: "earlier"}},
	}
	if err := r.Conversations(dump); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListConversationChats("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2 (pending send must survive reconcile)", len(chats))
	}
	if m, _ := db.GetChat("uuid-local"); m == nil || m.Synced {
		t.Errorf("pending chat = %+v, want unsynced survivor", m)
	}
}

func TestConversationsDeletesAbsentRows(t *testing.T) {
	r, db, _ := testReconciler(t)

	_ = db.UpsertConversation(&store.Conversation{ID: "c1"})
	_ = db.UpsertConversation(&store.Conversation{ID: "c2"})
	_ = db.UpsertParticipant(&store.Participant{ID: "p1", ConversationID: "c1", UserID: "u1"})
	_ = db.UpsertParticipant(&store.Participant{ID: "p2", ConversationID: "c2", UserID: "u2"})
	_ = db.UpsertChat(&store.Chat{ID: "m1", ConversationID: "c2", Synced: true})

	dump := &api.MessageDump{
		Conversations: []store.Conversation{{ID: "c1"}},
		Participants:  []store.Participant{{ID: "p1", ConversationID: "c1", UserID: "u1"}},
	}
	if err := r.Conversations(dump); err != nil {
		t.Fatal(err)
	}

	if c, _ := db.GetConversation("c2"); c != nil {
		t.Error("conversation c2 should be deleted")
	}
	parts, err := db.ListParticipants()
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 || parts[0].ID != "p1" {
		t.Errorf("participants = %+v", parts)
	}
	if m, _ := db.GetChat("m1"); m != nil {
		t.Error("synced chat absent from the dump should be deleted")
	}
}

func TestStoriesReconcileKeepsViewedMarkers(t *testing.T) {
	r, db, _ := testReconciler(t)

	_ = db.UpsertStory(&store.Story{ID: "s1", Text: "old"})
	if err := db.MarkStoryViewed("s1"); err != nil {
		t.Fatal(err)
	}

	// s1 left the listing, s2 arrived.
	if err := r.Stories([]store.Story{{ID: "s2", UserID: "5", Text: "new"}}); err != nil {
		t.Fatal(err)
	}

	if s, _ := db.GetStory("s1"); s != nil {
		t.Error("story s1 should be deleted")
	}
	viewed, err := db.ViewedStoryIDs()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := viewed["s1"]; !ok {
		t.Error("viewed marker must survive story reconcile")
	}
}

func TestInsertChatsPublishesSingleEvent(t *testing.T) {
	r, db, b := testReconciler(t)

	ch, cancel := b.Subscribe("chats.", 8)
	defer cancel()

	batch := []store.Chat{
		{ID: "1", ConversationID: "c1", Message: "a"},
		{ID: "2", ConversationID: "c1", Message: "b"},
		{ID: "3", ConversationID: "c1", Message: "c"},
	}
	if err := r.InsertChats(batch); err != nil {
		t.Fatal(err)
	}

	if got := len(ch); got != 1 {
		t.Errorf("published %d events for one batch, want 1", got)
	}

	chats, err := db.ListConversationChats("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 3 {
		t.Fatalf("got %d chats, want 3", len(chats))
	}
	for _, m := range chats {
		if !m.Synced {
			t.Errorf("live-inserted chat %s not marked synced", m.ID)
		}
	}
}

func TestInsertChatsEmptyBatchIsSilent(t *testing.T) {
	r, _, b := testReconciler(t)

	ch, cancel := b.Subscribe("chats.", 1)
	defer cancel()

	if err := r.InsertChats(nil); err != nil {
		t.Fatal(err)
	}
	if len(ch) != 0 {
		t.Error("empty batch must not publish")
	}
}
