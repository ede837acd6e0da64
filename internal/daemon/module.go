// Package daemon composes the replica daemon: store, sync engine, live
// channels, media cache and outbox, wired through fx with one lifecycle.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/api"
	"github.com/chatbyx/chatsync/internal/bus"
	"github.com/chatbyx/chatsync/internal/config"
	"github.com/chatbyx/chatsync/internal/live"
	"github.com/chatbyx/chatsync/internal/lock"
	"github.com/chatbyx/chatsync/internal/logging"
	"github.com/chatbyx/chatsync/internal/media"
	"github.com/chatbyx/chatsync/internal/notify"
	"github.com/chatbyx/chatsync/internal/outbox"
	"github.com/chatbyx/chatsync/internal/query"
	"github.com/chatbyx/chatsync/internal/session"
	"github.com/chatbyx/chatsync/internal/status"
	"github.com/chatbyx/chatsync/internal/store"
	intsync "github.com/chatbyx/chatsync/internal/sync"
)

// outboxInterval is the fallback flush cadence; bus events trigger flushes
// sooner.
const outboxInterval = 15 * time.Second

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideTracker,
			provideLock,
			provideStore,
			provideClient,
			provideNotices,
			provideReconciler,
			provideEngine,
			provideSender,
			provideCache,
			provideQueries,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Warn("no usable config, starting with defaults", zap.Error(err))
		cfg = &config.Config{}
		cfg.Defaults()
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideTracker(b *bus.Bus, logger *zap.Logger) *status.Tracker {
	return status.NewTracker(b, logger)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	if cfg.Media.InMemoryStore {
		dbPath = ":memory:"
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config, logger *zap.Logger) *api.Client {
	return api.New(cfg.Server.BaseURL, cfg.Server.FileBaseURL, cfg.Server.Token, logger)
}

func provideNotices(b *bus.Bus) *notify.Queue {
	return notify.NewQueue(b, 100)
}

func provideReconciler(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, b, logger)
}

func provideEngine(client *api.Client, db *store.DB, r *intsync.Reconciler, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(client, db, r, b, logger)
}

func provideSender(db *store.DB, client *api.Client, b *bus.Bus, notices *notify.Queue, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, notices, logger)
}

func provideCache(p Params, db *store.DB, client *api.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *media.Cache {
	return media.New(db, client, b, session.MediaDir(p.SessionName), cfg, logger)
}

func provideQueries(db *store.DB, cfg *config.Config) *query.Queries {
	return query.New(db, cfg.Server.UserID, cfg.Server.UserEmail)
}

func provideService(db *store.DB, client *api.Client, sender *outbox.Sender, cache *media.Cache, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Service {
	return outbox.NewService(db, client, sender, cache, b, cfg.Server.UserID, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, cfg *config.Config, db *store.DB,
	client *api.Client, engine *intsync.Engine, r *intsync.Reconciler, sender *outbox.Sender,
	cache *media.Cache, tracker *status.Tracker, b *bus.Bus, srv *Server, logger *zap.Logger) {

	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			if cfg.Server.Token == "" {
				logger.Info("no token configured, serving local replica only")
				tracker.Set(status.AuthRequired)
				return nil
			}

			go sender.Run(runCtx, outboxInterval)
			go cache.RunSweeper(runCtx, cfg.SweepInterval())

			go func() {
				cursor, err := db.LatestChatCursor()
				if err == nil && cursor == "" {
					tracker.Set(status.Bootstrapping)
				}
				if err := engine.RefreshAll(runCtx); err != nil {
					logger.Warn("initial refresh failed, replica serves stale data", zap.Error(err))
				}
				if err := cache.PrefetchProfilePictures(runCtx); err != nil {
					logger.Debug("avatar prefetch incomplete", zap.Error(err))
				}
			}()

			chatChannel := live.NewChatChannel(client, db, engine, r, b, cfg, logger, func(up bool) {
				tracker.ChannelConnected("chats", up)
			})
			storyChannel := live.NewStoryChannel(client, db, engine, r, b, cfg, logger, func(up bool) {
				tracker.ChannelConnected("stories", up)
			})
			go func() { _ = chatChannel.Run(runCtx) }()
			go func() { _ = storyChannel.Run(runCtx) }()

			// Every story delta warms the cache, so the blobs are usually
			// local before the feed is opened.
			go func() {
				events, cancelSub := b.Subscribe(bus.KindStoriesChanged, 16)
				defer cancelSub()
				for {
					select {
					case <-runCtx.Done():
						return
					case <-events:
						if err := cache.WarmStories(runCtx); err != nil && runCtx.Err() == nil {
							logger.Debug("story media warm incomplete", zap.Error(err))
						}
					}
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
