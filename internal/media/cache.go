// Package media is the local blob cache. Descriptors live in the files
// table; blobs live under the session media directory. The cache serves
// local paths when a verified blob exists and falls back to the remote URL
// while a background download fills the cache.
package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chatbyx/chatsync/internal/bus"
	"github.com/chatbyx/chatsync/internal/config"
	"github.com/chatbyx/chatsync/internal/store"
)

// Remote is the server side of the cache: raw blob fetches plus descriptor
// lookups for files the replica has never seen.
type Remote interface {
	Download(ctx context.Context, fileURL string) (io.ReadCloser, error)
	GetFile(ctx context.Context, fileID string) (*store.File, error)
	UsersProfilePictures(ctx context.Context, userIDs []string) ([]store.File, error)
}

// Source tells the caller where a resolution points.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Resolution is the answer to "where do I read file X from right now".
type Resolution struct {
	Source Source
	// Path is the verified local blob (Source == local).
	Path string
	// URL is the remote fallback (Source == remote).
	URL string
	// FileType is the server-declared type ("image", "video", ...).
	FileType string
}

type Cache struct {
	db        *store.DB
	remote    Remote
	bus       *bus.Bus
	dir       string
	minValid  int64
	tolerance float64
	logger    *zap.Logger

	group singleflight.Group
}

func New(db *store.DB, remote Remote, b *bus.Bus, dir string, cfg *config.Config, logger *zap.Logger) *Cache {
	return &Cache{
		db:        db,
		remote:    remote,
		bus:       b,
		dir:       dir,
		minValid:  int64(cfg.Media.MinValidKB) * 1024,
		tolerance: cfg.Media.SizeTolerance,
		logger:    logger.Named("media"),
	}
}

// Resolve returns the best available source for a file. A verified local
// blob wins; otherwise the remote URL is returned immediately and a
// background download fills the cache for next time. A cached blob smaller
// than the validity floor is treated as a truncated partial: its reference
// is dropped and the remote URL served. A file the replica has never seen
// is looked up on the server first.
func (c *Cache) Resolve(ctx context.Context, fileID string) (*Resolution, error) {
	f, err := c.db.GetFile(fileID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		f, err = c.remote.GetFile(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("media: unknown file %s: %w", fileID, err)
		}
		if err := c.db.UpsertFileDescriptor(f); err != nil {
			return nil, err
		}
	}

	if f.LocalStorage != "" {
		fi, statErr := os.Stat(f.LocalStorage)
		if statErr == nil && fi.Size() >= c.minValid {
			return &Resolution{Source: SourceLocal, Path: f.LocalStorage, FileType: f.FileType}, nil
		}
		if statErr == nil {
			c.logger.Warn("cached blob below validity floor, dropping",
				zap.String("file_id", f.ID), zap.Int64("size", fi.Size()))
			_ = os.Remove(f.LocalStorage)
		}
		if err := c.db.ClearFileLocalStorage(f.ID); err != nil {
			return nil, err
		}
	}

	if f.FilePath == "" {
		return nil, fmt.Errorf("media: file %s has no source", fileID)
	}

	go c.fill(context.WithoutCancel(ctx), f)
	return &Resolution{Source: SourceRemote, URL: f.FilePath, FileType: f.FileType}, nil
}

// Fetch downloads a file synchronously and returns the verified local path.
func (c *Cache) Fetch(ctx context.Context, fileID string) (string, error) {
	f, err := c.db.GetFile(fileID)
	if err != nil {
		return "", err
	}
	if f == nil {
		return "", fmt.Errorf("media: unknown file %s", fileID)
	}
	return c.download(ctx, f)
}

// fill is the background half of Resolve. Concurrent resolves of the same
// file share one download through the singleflight group.
func (c *Cache) fill(ctx context.Context, f *store.File) {
	if _, err := c.download(ctx, f); err != nil {
		c.logger.Warn("background download abandoned",
			zap.String("file_id", f.ID), zap.Error(err))
	}
}

func (c *Cache) download(ctx context.Context, f *store.File) (string, error) {
	v, err, _ := c.group.Do(f.ID, func() (any, error) {
		dest := c.blobPath(f)
		var lastErr error
		// One retry, then the remote URL stays the source of record until
		// the next resolve.
		for attempt := 0; attempt < 2; attempt++ {
			if err := c.downloadOnce(ctx, f, dest); err != nil {
				lastErr = err
				continue
			}
			if err := c.db.SetFileLocalStorage(f.ID, dest); err != nil {
				return "", err
			}
			c.bus.Publish(bus.Event{Kind: bus.KindFilesChanged})
			return dest, nil
		}
		return "", lastErr
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) downloadOnce(ctx context.Context, f *store.File, dest string) error {
	body, err := c.remote.Download(ctx, f.FilePath)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	tmp := dest + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	n, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		if copyErr != nil {
			return copyErr
		}
		return closeErr
	}

	if f.FileSize > 0 && !withinTolerance(n, f.FileSize, c.tolerance) {
		_ = os.Remove(tmp)
		return fmt.Errorf("media: size mismatch for %s: got %d, declared %d", f.ID, n, f.FileSize)
	}
	return os.Rename(tmp, dest)
}

func withinTolerance(got, declared int64, tolerance float64) bool {
	diff := got - declared
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= float64(declared)*tolerance
}

func (c *Cache) blobPath(f *store.File) string {
	ext := ""
	if u, err := url.Parse(f.FilePath); err == nil {
		ext = path.Ext(u.Path)
	}
	name := f.ID + ext
	if f.FileType != "" {
		name = f.ID + "_" + f.FileType + ext
	}
	return filepath.Join(c.dir, name)
}

// ProfilePicture resolves a user's avatar. An unknown user is looked up on
// the server once; returns nil without error when the user has none.
func (c *Cache) ProfilePicture(ctx context.Context, userID string) (*Resolution, error) {
	f, err := c.db.ProfilePictureFile(userID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		files, err := c.remote.UsersProfilePictures(ctx, []string{userID})
		if err != nil {
			return nil, err
		}
		for i := range files {
			files[i].Text = store.ProfilePictureSentinel
			if err := c.db.UpsertFileDescriptor(&files[i]); err != nil {
				return nil, err
			}
		}
		if f, err = c.db.ProfilePictureFile(userID); err != nil {
			return nil, err
		}
	}
	if f == nil || f.FilePath == "" {
		return nil, nil
	}
	return c.Resolve(ctx, f.ID)
}

// WarmStories kicks background resolution for every visible story that
// carries media, so the blob is usually local by the time the feed is read.
func (c *Cache) WarmStories(ctx context.Context) error {
	stories, err := c.db.ListStories()
	if err != nil {
		return err
	}
	for i := range stories {
		if stories[i].FileID == "" {
			continue
		}
		if _, err := c.Resolve(ctx, stories[i].FileID); err != nil {
			c.logger.Debug("story media warm skipped",
				zap.String("story_id", stories[i].ID), zap.Error(err))
		}
	}
	return nil
}

// PrefetchProfilePictures warms the avatar cache for every known user.
func (c *Cache) PrefetchProfilePictures(ctx context.Context) error {
	users, err := c.db.ListStoredUsers()
	if err != nil {
		return err
	}
	for i := range users {
		if _, err := c.ProfilePicture(ctx, users[i].ID); err != nil {
			c.logger.Debug("avatar prefetch skipped",
				zap.String("user_id", users[i].ID), zap.Error(err))
		}
	}
	return nil
}

// RemoveProfilePicture clears a user's avatar locally: the sentinel row is
// nulled and the cached blob removed. Server-side deletion is the caller's
// concern.
func (c *Cache) RemoveProfilePicture(userID string) error {
	f, err := c.db.ProfilePictureFile(userID)
	if err != nil {
		return err
	}
	if f != nil && f.LocalStorage != "" {
		_ = os.Remove(f.LocalStorage)
	}
	if err := c.db.ClearProfilePicture(userID); err != nil {
		return err
	}
	c.bus.Publish(bus.Event{Kind: bus.KindFilesChanged})
	return nil
}
