package live

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/api"
	"github.com/chatbyx/chatsync/internal/bus"
	"github.com/chatbyx/chatsync/internal/config"
	"github.com/chatbyx/chatsync/internal/store"
	"github.com/chatbyx/chatsync/internal/sync"
)

// NewChatChannel wires the live-chats stream: cursor from the chats table,
// bootstrap via full message download, batches applied incrementally.
func NewChatChannel(client *api.Client, db *store.DB, engine *sync.Engine, r *sync.Reconciler, b *bus.Bus, cfg *config.Config, logger *zap.Logger, onState func(bool)) *Channel {
	return &Channel{
		Resource: "chats",
		Open: func(ctx context.Context, cursor string) (io.ReadCloser, error) {
			return client.OpenStream(ctx, "chats", cursor)
		},
		Cursor:    db.LatestChatCursor,
		Bootstrap: engine.RefreshMessages,
		Ingest: func(ctx context.Context, evt *ServerEvent) error {
			chats, err := api.DecodeChatBatch(evt.Data)
			if err != nil {
				return err
			}
			return r.InsertChats(chats)
		},
		OnStateChange: onState,
		Bus:           b,
		BackoffBase:   cfg.BackoffBase(),
		BackoffMax:    cfg.BackoffMax(),
		Logger:        logger,
	}
}

// NewStoryChannel wires the live-stories stream the same way, off the
// stories cursor.
func NewStoryChannel(client *api.Client, db *store.DB, engine *sync.Engine, r *sync.Reconciler, b *bus.Bus, cfg *config.Config, logger *zap.Logger, onState func(bool)) *Channel {
	return &Channel{
		Resource: "stories",
		Open: func(ctx context.Context, cursor string) (io.ReadCloser, error) {
			return client.OpenStream(ctx, "stories", cursor)
		},
		Cursor:    db.LatestStoryCursor,
		Bootstrap: engine.RefreshStories,
		Ingest: func(ctx context.Context, evt *ServerEvent) error {
			stories, err := api.DecodeStoryBatch(evt.Data)
			if err != nil {
				return err
			}
			return r.InsertStories(stories)
		},
		OnStateChange: onState,
		Bus:           b,
		BackoffBase:   cfg.BackoffBase(),
		BackoffMax:    cfg.BackoffMax(),
		Logger:        logger,
	}
}
