package live

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/bus"
)

// Bus topics announcing per-channel connectivity.
const (
	KindConnected    = "live.connected"
	KindDisconnected = "live.disconnected"
)

// Channel keeps one resource class live over SSE. The generic loop is shared
// by chats and stories; the per-resource behavior comes in as functions.
type Channel struct {
	// Resource names the stream ("chats", "stories"); it selects the server
	// endpoint and labels logs.
	Resource string

	// Open dials the stream from the given cursor.
	Open func(ctx context.Context, cursor string) (io.ReadCloser, error)

	// Cursor reads the current cursor from the store. Empty means the
	// replica has never synced this resource.
	Cursor func() (string, error)

	// Bootstrap runs a full refresh. Called once before the first connect
	// when the cursor is empty.
	Bootstrap func(ctx context.Context) error

	// Ingest applies one decoded event batch to the store.
	Ingest func(ctx context.Context, evt *ServerEvent) error

	// OnStateChange, when set, is told whether the channel currently holds a
	// connection.
	OnStateChange func(connected bool)

	// Bus, when set, carries live.connected / live.disconnected events with
	// the resource name as payload.
	Bus *bus.Bus

	BackoffBase time.Duration
	BackoffMax  time.Duration

	Logger *zap.Logger
}

// Run drives the channel until ctx is done. Every reconnect re-reads the
// cursor from the store, so events applied before a drop are never requested
// again and nothing between the drop and the reconnect is skipped.
func (c *Channel) Run(ctx context.Context) error {
	logger := c.Logger.Named("live").With(zap.String("resource", c.Resource))
	delay := c.BackoffBase

	cursor, err := c.Cursor()
	if err != nil {
		return err
	}
	if cursor == "" && c.Bootstrap != nil {
		logger.Info("empty replica, running full refresh before streaming")
		if err := c.Bootstrap(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("bootstrap failed, streaming from zero cursor", zap.Error(err))
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cursor, err = c.Cursor()
		if err != nil {
			return err
		}

		opened, ingested, streamErr := c.stream(ctx, logger, cursor)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if opened {
			// Any successful open earns a fresh backoff ladder, even when
			// the stream carried nothing but heartbeats before dropping.
			delay = c.BackoffBase
		}
		if ingested && c.Bootstrap != nil {
			// The stream only ever inserts; deletions made server-side
			// while it was up-but-lossy or during the drop need a full
			// listing to land. One refresh per established-then-lost
			// connection.
			if err := c.Bootstrap(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("post-drop refresh failed", zap.Error(err))
			}
		}
		if streamErr != nil {
			logger.Warn("stream dropped", zap.Error(streamErr), zap.Duration("retry_in", delay))
		} else {
			logger.Info("stream closed by server", zap.Duration("retry_in", delay))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.BackoffMax {
			delay = c.BackoffMax
		}
	}
}

// stream holds one connection open and applies its events. Returns whether
// the connection was established and whether any event was successfully
// ingested.
func (c *Channel) stream(ctx context.Context, logger *zap.Logger, cursor string) (opened, ingested bool, err error) {
	body, err := c.Open(ctx, cursor)
	if err != nil {
		return false, false, err
	}
	defer func() { _ = body.Close() }()

	if c.OnStateChange != nil {
		c.OnStateChange(true)
		defer c.OnStateChange(false)
	}
	if c.Bus != nil {
		c.Bus.Publish(bus.Event{Kind: KindConnected, Payload: c.Resource})
		defer c.Bus.Publish(bus.Event{Kind: KindDisconnected, Payload: c.Resource})
	}
	logger.Info("stream connected", zap.String("cursor", cursor))

	dec := NewDecoder(body)
	for {
		evt, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return true, ingested, nil
			}
			return true, ingested, err
		}
		if evt.Name == "heartbeat" || evt.Name == "ping" || len(evt.Data) == 0 {
			continue
		}
		if err := c.Ingest(ctx, evt); err != nil {
			// A malformed batch must not kill the connection; the next full
			// refresh repairs whatever it carried.
			logger.Error("batch rejected", zap.String("event", evt.Name), zap.Error(err))
			continue
		}
		ingested = true
	}
}
