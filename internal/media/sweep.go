package media

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/bus"
	"github.com/chatbyx/chatsync/internal/store"
)

// Sweep collects expired stories and orphaned media. A file survives when a
// remaining story references it, when it is a profile-picture sentinel row,
// or when it has not been pushed to the server yet. Everything else loses
// its blob and its descriptor row.
func (c *Cache) Sweep(now string) error {
	expired, err := c.db.DeleteExpiredStories(now)
	if err != nil {
		return err
	}
	if expired > 0 {
		c.logger.Info("expired stories removed", zap.Int64("count", expired))
		c.bus.Publish(bus.Event{Kind: bus.KindStoriesChanged})
	}

	stories, err := c.db.ListStories()
	if err != nil {
		return err
	}
	referenced := make(map[string]struct{}, len(stories))
	for i := range stories {
		if stories[i].FileID != "" {
			referenced[stories[i].FileID] = struct{}{}
		}
	}

	files, err := c.db.ListFiles()
	if err != nil {
		return err
	}
	swept := 0
	for i := range files {
		f := files[i]
		if f.Text == store.ProfilePictureSentinel {
			continue
		}
		if !f.Synced {
			continue
		}
		if _, ok := referenced[f.ID]; ok {
			continue
		}
		if f.LocalStorage != "" {
			_ = os.Remove(f.LocalStorage)
		}
		if err := c.db.DeleteFile(f.ID); err != nil {
			return err
		}
		swept++
	}

	if swept > 0 {
		c.logger.Info("orphaned media swept", zap.Int("count", swept))
		c.bus.Publish(bus.Event{Kind: bus.KindFilesChanged})
	}
	return nil
}

// RunSweeper sweeps on a fixed interval until ctx is done. One pass runs
// immediately so a restart cleans up without waiting a full interval.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.Sweep(store.Now()); err != nil {
			c.logger.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
