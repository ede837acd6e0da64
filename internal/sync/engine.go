package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/api"
	"github.com/chatbyx/chatsync/internal/bus"
	"github.com/chatbyx/chatsync/internal/store"
)

// Engine drives full refreshes: fetch an authoritative listing, hand it to
// the reconciler. Live channels call the reconciler's incremental methods
// directly.
type Engine struct {
	client     *api.Client
	db         *store.DB
	reconciler *Reconciler
	bus        *bus.Bus
	logger     *zap.Logger
}

func NewEngine(client *api.Client, db *store.DB, r *Reconciler, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{client: client, db: db, reconciler: r, bus: b, logger: logger.Named("engine")}
}

// RefreshContacts pulls the full contact listing and reconciles it.
func (e *Engine) RefreshContacts(ctx context.Context) error {
	contacts, err := e.client.Contacts(ctx)
	if err != nil {
		return fmt.Errorf("refresh contacts: %w", err)
	}
	return e.reconciler.Contacts(contacts)
}

// RefreshMessages pulls the full conversation dump and reconciles it.
func (e *Engine) RefreshMessages(ctx context.Context) error {
	dump, err := e.client.DownloadMessages(ctx)
	if err != nil {
		return fmt.Errorf("refresh messages: %w", err)
	}
	return e.reconciler.Conversations(dump)
}

// RefreshStories pulls the visible story listing and reconciles it.
func (e *Engine) RefreshStories(ctx context.Context) error {
	stories, err := e.client.Stories(ctx)
	if err != nil {
		return fmt.Errorf("refresh stories: %w", err)
	}
	return e.reconciler.Stories(stories)
}

// RefreshAll runs every full refresh in order. Contacts come first so the
// user index is populated before profile pictures are requested.
func (e *Engine) RefreshAll(ctx context.Context) error {
	if err := e.RefreshContacts(ctx); err != nil {
		return err
	}
	if err := e.RefreshMessages(ctx); err != nil {
		return err
	}
	if err := e.RefreshStories(ctx); err != nil {
		return err
	}
	return e.RefreshProfilePictures(ctx)
}

// RefreshProfilePictures fetches the avatar descriptors for every known user
// and upserts them without touching cached blobs. Downloads happen lazily in
// the media cache.
func (e *Engine) RefreshProfilePictures(ctx context.Context) error {
	users, err := e.db.ListStoredUsers()
	if err != nil {
		return fmt.Errorf("refresh profile pictures: %w", err)
	}
	if len(users) == 0 {
		return nil
	}
	ids := make([]string, 0, len(users))
	for i := range users {
		ids = append(ids, users[i].ID)
	}

	files, err := e.client.UsersProfilePictures(ctx, ids)
	if err != nil {
		return fmt.Errorf("refresh profile pictures: %w", err)
	}
	for i := range files {
		f := files[i]
		if f.ID == "" {
			continue
		}
		f.Text = store.ProfilePictureSentinel
		if err := e.db.UpsertFileDescriptor(&f); err != nil {
			return fmt.Errorf("refresh profile pictures: upsert %s: %w", f.ID, err)
		}
	}

	e.logger.Debug("profile pictures refreshed", zap.Int("users", len(ids)), zap.Int("files", len(files)))
	e.bus.Publish(bus.Event{Kind: bus.KindFilesChanged})
	return nil
}
