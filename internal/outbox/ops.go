package outbox

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/api"
	"github.com/chatbyx/chatsync/internal/bus"
	"github.com/chatbyx/chatsync/internal/media"
	"github.com/chatbyx/chatsync/internal/store"
)

// Service is the write API of the replica: every user-initiated mutation
// goes through here so the optimistic-insert and server-confirmation rules
// live in one place.
type Service struct {
	db     *store.DB
	client *api.Client
	sender *Sender
	cache  *media.Cache
	bus    *bus.Bus
	selfID string
	logger *zap.Logger
}

func NewService(db *store.DB, client *api.Client, sender *Sender, cache *media.Cache, b *bus.Bus, selfID string, logger *zap.Logger) *Service {
	return &Service{db: db, client: client, sender: sender, cache: cache, bus: b, selfID: selfID, logger: logger.Named("ops")}
}

// SendMessage inserts the message optimistically under a client-generated
// id, then kicks a flush. The message is visible in the thread immediately;
// the server echo later flips it to synced under the same id.
func (s *Service) SendMessage(ctx context.Context, conversationID, text string) (*store.Chat, error) {
	m := &store.Chat{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       s.selfID,
		Message:        text,
		MessageType:    "text",
		CreatedAt:      store.Now(),
	}
	if err := s.db.UpsertChat(m); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	s.bus.Publish(bus.Event{Kind: bus.KindChatsChanged})

	if err := s.sender.Flush(ctx); err != nil {
		// The optimistic row stays pending; the sender loop retries.
		s.logger.Debug("immediate flush failed", zap.Error(err))
	}
	return m, nil
}

// CreateConversation is server-first: a conversation id must come from the
// server before anything can reference it.
func (s *Service) CreateConversation(ctx context.Context, userIDs []string, convType string) (*store.Conversation, error) {
	conv, parts, err := s.client.CreateConversation(ctx, userIDs, convType)
	if err != nil {
		return nil, err
	}
	conv.Synced = true
	if err := s.db.UpsertConversation(conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	for i := range parts {
		if err := s.db.UpsertParticipant(&parts[i]); err != nil {
			return nil, fmt.Errorf("create conversation: participant: %w", err)
		}
		if parts[i].UserID != "" {
			_ = s.db.UpsertStoredUser(&store.StoredUser{ID: parts[i].UserID, Email: parts[i].Email})
		}
	}
	s.bus.Publish(bus.Event{Kind: bus.KindConversationsChanged})
	return conv, nil
}

// AddContact is server-first as well; the server decides whether the email
// matches a registered user.
func (s *Service) AddContact(ctx context.Context, email, name string) (*store.Contact, error) {
	c, err := s.client.SaveContact(ctx, email, name)
	if err != nil {
		return nil, err
	}
	c.Synced = true
	if err := s.db.UpsertContact(c); err != nil {
		return nil, fmt.Errorf("add contact: %w", err)
	}
	if c.RecipientID != "" {
		_ = s.db.UpsertStoredUser(&store.StoredUser{ID: c.RecipientID, Email: c.Email})
	}
	s.bus.Publish(bus.Event{Kind: bus.KindContactsChanged})
	return c, nil
}

// EditContact pushes the edit and applies the server's view of the row.
func (s *Service) EditContact(ctx context.Context, id, name, email string) (*store.Contact, error) {
	c, err := s.client.EditContact(ctx, id, name, email)
	if err != nil {
		return nil, err
	}
	c.Synced = true
	if err := s.db.UpsertContact(c); err != nil {
		return nil, fmt.Errorf("edit contact: %w", err)
	}
	s.bus.Publish(bus.Event{Kind: bus.KindContactsChanged})
	return c, nil
}

// RemoveContact deletes server-side then locally. Contacts are never
// tombstoned.
func (s *Service) RemoveContact(ctx context.Context, id string) error {
	if err := s.client.DeleteContact(ctx, id); err != nil {
		return err
	}
	if err := s.db.DeleteContact(id); err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}
	s.bus.Publish(bus.Event{Kind: bus.KindContactsChanged})
	return nil
}

// PostStory uploads the media first when present, then creates the story
// referencing the stored file.
func (s *Service) PostStory(ctx context.Context, text, filename, fileType string, content io.Reader) (*store.Story, error) {
	fileID := ""
	if content != nil {
		f, err := s.client.UploadFile(ctx, filename, fileType, "", content)
		if err != nil {
			return nil, err
		}
		f.Synced = true
		if err := s.db.UpsertFileDescriptor(f); err != nil {
			return nil, fmt.Errorf("post story: file: %w", err)
		}
		fileID = f.ID
	}

	st, err := s.client.CreateStory(ctx, text, fileID)
	if err != nil {
		return nil, err
	}
	st.Synced = true
	if err := s.db.UpsertStory(st); err != nil {
		return nil, fmt.Errorf("post story: %w", err)
	}
	s.bus.Publish(bus.Event{Kind: bus.KindStoriesChanged})
	return st, nil
}

// RemoveStory deletes server-side, then soft-clears locally: the row stays
// for expiry bookkeeping, the content goes.
func (s *Service) RemoveStory(ctx context.Context, id string) error {
	if err := s.client.DeleteStory(ctx, id); err != nil {
		return err
	}
	if err := s.db.ClearStoryContent(id); err != nil {
		return fmt.Errorf("remove story: %w", err)
	}
	s.bus.Publish(bus.Event{Kind: bus.KindStoriesChanged})
	return nil
}

// MarkStoryViewed records the write-once viewed marker.
func (s *Service) MarkStoryViewed(storyID string) error {
	if err := s.db.MarkStoryViewed(storyID); err != nil {
		return fmt.Errorf("mark viewed: %w", err)
	}
	s.bus.Publish(bus.Event{Kind: bus.KindStoriesChanged})
	return nil
}

// SetProfilePicture uploads a new avatar under the sentinel marker and
// records the returned descriptor.
func (s *Service) SetProfilePicture(ctx context.Context, filename, fileType string, content io.Reader) (*store.File, error) {
	f, err := s.client.UploadFile(ctx, filename, fileType, store.ProfilePictureSentinel, content)
	if err != nil {
		return nil, err
	}
	f.Text = store.ProfilePictureSentinel
	f.Synced = true
	if err := s.db.UpsertFileDescriptor(f); err != nil {
		return nil, fmt.Errorf("set profile picture: %w", err)
	}
	s.bus.Publish(bus.Event{Kind: bus.KindFilesChanged})
	return f, nil
}

// EditProfile pushes name/email changes for the local user and refreshes
// the stored-user index so views pick the new email up.
func (s *Service) EditProfile(ctx context.Context, name, email string) error {
	if err := s.client.EditUser(ctx, name, email); err != nil {
		return err
	}
	if s.selfID != "" && email != "" {
		if err := s.db.UpsertStoredUser(&store.StoredUser{ID: s.selfID, Email: email}); err != nil {
			return fmt.Errorf("edit profile: %w", err)
		}
	}
	return nil
}

// RemoveProfilePicture deletes the avatar server-side then clears the local
// sentinel row and cached blob.
func (s *Service) RemoveProfilePicture(ctx context.Context, userID string) error {
	f, err := s.db.ProfilePictureFile(userID)
	if err != nil {
		return err
	}
	if f != nil && f.ID != "" {
		if err := s.client.DeleteFile(ctx, f.ID); err != nil {
			return err
		}
	}
	return s.cache.RemoveProfilePicture(userID)
}
