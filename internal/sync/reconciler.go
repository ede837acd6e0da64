// Package sync reconciles the local replica against server listings. A full
// listing is authoritative: rows absent from it are hard-deleted locally,
// everything in it is upserted as synced. Incremental batches from the live
// channels only upsert.
package sync

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/api"
	"github.com/chatbyx/chatsync/internal/bus"
	"github.com/chatbyx/chatsync/internal/store"
)

type Reconciler struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

func NewReconciler(db *store.DB, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, bus: b, logger: logger.Named("sync")}
}

// Contacts replaces the local contact set with the server listing and
// refreshes the known-user index from contact recipients.
func (r *Reconciler) Contacts(contacts []store.Contact) error {
	serverIDs := idSet(len(contacts))
	for i := range contacts {
		serverIDs[contacts[i].ID] = struct{}{}
	}

	localIDs, err := r.db.ContactIDs()
	if err != nil {
		return fmt.Errorf("reconcile contacts: %w", err)
	}
	deleted := 0
	for id := range localIDs {
		if _, ok := serverIDs[id]; ok {
			continue
		}
		if err := r.db.DeleteContact(id); err != nil {
			return fmt.Errorf("reconcile contacts: delete %s: %w", id, err)
		}
		deleted++
	}

	for i := range contacts {
		c := contacts[i]
		if c.ID == "" {
			r.logger.Warn("skipping contact with blank id")
			continue
		}
		c.Synced = true
		c.Deleted = false
		if err := r.db.UpsertContact(&c); err != nil {
			return fmt.Errorf("reconcile contacts: upsert %s: %w", c.ID, err)
		}
		if c.RecipientID != "" {
			if err := r.db.UpsertStoredUser(&store.StoredUser{ID: c.RecipientID, Email: c.Email}); err != nil {
				return fmt.Errorf("reconcile contacts: index user %s: %w", c.RecipientID, err)
			}
		}
	}

	r.logger.Debug("contacts reconciled",
		zap.Int("upserted", len(contacts)), zap.Int("deleted", deleted))
	r.bus.Publish(bus.Event{Kind: bus.KindContactsChanged})
	return nil
}

// Conversations replaces the local conversation, participant and chat sets
// with the server dump. Deletions run before upserts so an id reassigned
// between entities can never collide mid-pass.
func (r *Reconciler) Conversations(dump *api.MessageDump) error {
	if err := r.deleteAbsent(dump); err != nil {
		return err
	}

	for i := range dump.Conversations {
		c := dump.Conversations[i]
		if c.ID == "" {
			r.logger.Warn("skipping conversation with blank id")
			continue
		}
		c.Synced = true
		c.Deleted = false
		if err := r.db.UpsertConversation(&c); err != nil {
			return fmt.Errorf("reconcile conversations: upsert %s: %w", c.ID, err)
		}
	}
	for i := range dump.Participants {
		p := dump.Participants[i]
		if p.ID == "" {
			r.logger.Warn("skipping participant with blank id")
			continue
		}
		if err := r.db.UpsertParticipant(&p); err != nil {
			return fmt.Errorf("reconcile participants: upsert %s: %w", p.ID, err)
		}
		if p.UserID != "" {
			if err := r.db.UpsertStoredUser(&store.StoredUser{ID: p.UserID, Email: p.Email}); err != nil {
				return fmt.Errorf("reconcile participants: index user %s: %w", p.UserID, err)
			}
		}
	}
	for i := range dump.Chats {
		m := dump.Chats[i]
		if m.ID == "" {
			r.logger.Warn("skipping chat with blank id")
			continue
		}
		m.Synced = true
		m.Deleted = false
		if err := r.db.UpsertChat(&m); err != nil {
			return fmt.Errorf("reconcile chats: upsert %s: %w", m.ID, err)
		}
	}

	r.bus.Publish(bus.Event{Kind: bus.KindConversationsChanged})
	r.bus.Publish(bus.Event{Kind: bus.KindParticipantsChanged})
	r.bus.Publish(bus.Event{Kind: bus.KindChatsChanged})
	return nil
}

func (r *Reconciler) deleteAbsent(dump *api.MessageDump) error {
	type class struct {
		name   string
		server map[string]struct{}
		local  func() (map[string]struct{}, error)
		del    func(string) error
	}

	convIDs := idSet(len(dump.Conversations))
	for i := range dump.Conversations {
		convIDs[dump.Conversations[i].ID] = struct{}{}
	}
	partIDs := idSet(len(dump.Participants))
	for i := range dump.Participants {
		partIDs[dump.Participants[i].ID] = struct{}{}
	}
	chatIDs := idSet(len(dump.Chats))
	for i := range dump.Chats {
		chatIDs[dump.Chats[i].ID] = struct{}{}
	}

	// Unconfirmed local sends stay: the server does not know them yet, and
	// deleting them here would drop the message before the outbox retries.
	pending, err := r.db.PendingChats()
	if err != nil {
		return fmt.Errorf("reconcile chats: %w", err)
	}
	for i := range pending {
		chatIDs[pending[i].ID] = struct{}{}
	}

	classes := []class{
		{"chats", chatIDs, r.db.ChatIDs, r.db.DeleteChat},
		{"participants", partIDs, r.db.ParticipantIDs, r.db.DeleteParticipant},
		{"conversations", convIDs, r.db.ConversationIDs, r.db.DeleteConversation},
	}
	for _, cl := range classes {
		local, err := cl.local()
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", cl.name, err)
		}
		for id := range local {
			if _, ok := cl.server[id]; ok {
				continue
			}
			if err := cl.del(id); err != nil {
				return fmt.Errorf("reconcile %s: delete %s: %w", cl.name, id, err)
			}
		}
	}
	return nil
}

// Stories replaces the local story set with the server listing. Local viewed
// markers are untouched; they key on story id and simply go stale when the
// story leaves the listing.
func (r *Reconciler) Stories(stories []store.Story) error {
	serverIDs := idSet(len(stories))
	for i := range stories {
		serverIDs[stories[i].ID] = struct{}{}
	}

	localIDs, err := r.db.StoryIDs()
	if err != nil {
		return fmt.Errorf("reconcile stories: %w", err)
	}
	for id := range localIDs {
		if _, ok := serverIDs[id]; ok {
			continue
		}
		if err := r.db.DeleteStory(id); err != nil {
			return fmt.Errorf("reconcile stories: delete %s: %w", id, err)
		}
	}

	for i := range stories {
		s := stories[i]
		if s.ID == "" {
			r.logger.Warn("skipping story with blank id")
			continue
		}
		s.Synced = true
		s.Deleted = false
		if err := r.db.UpsertStory(&s); err != nil {
			return fmt.Errorf("reconcile stories: upsert %s: %w", s.ID, err)
		}
	}

	r.bus.Publish(bus.Event{Kind: bus.KindStoriesChanged})
	return nil
}

// InsertChats applies an incremental batch from the live channel: upsert
// only, no diffing, one event for the whole batch.
func (r *Reconciler) InsertChats(chats []store.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	for i := range chats {
		m := chats[i]
		if m.ID == "" {
			continue
		}
		m.Synced = true
		m.Deleted = false
		if err := r.db.UpsertChat(&m); err != nil {
			return fmt.Errorf("insert chats: upsert %s: %w", m.ID, err)
		}
	}
	r.bus.Publish(bus.Event{Kind: bus.KindChatsChanged})
	return nil
}

// InsertStories applies an incremental story batch from the live channel.
func (r *Reconciler) InsertStories(stories []store.Story) error {
	if len(stories) == 0 {
		return nil
	}
	for i := range stories {
		s := stories[i]
		if s.ID == "" {
			continue
		}
		s.Synced = true
		s.Deleted = false
		if err := r.db.UpsertStory(&s); err != nil {
			return fmt.Errorf("insert stories: upsert %s: %w", s.ID, err)
		}
	}
	r.bus.Publish(bus.Event{Kind: bus.KindStoriesChanged})
	return nil
}

func idSet(capacity int) map[string]struct{} {
	return make(map[string]struct{}, capacity)
}
