package live

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/api"
	"github.com/chatbyx/chatsync/internal/bus"
	"github.com/chatbyx/chatsync/internal/store"
	intsync "github.com/chatbyx/chatsync/internal/sync"
)

// scriptedOpens returns streams in order, then fails.
type scriptedOpens struct {
	mu      sync.Mutex
	streams []string
	cursors []string
	times   []time.Time
}

func (s *scriptedOpens) open(ctx context.Context, cursor string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = append(s.cursors, cursor)
	s.times = append(s.times, time.Now())
	if len(s.streams) == 0 {
		return nil, errors.New("no more streams")
	}
	stream := s.streams[0]
	s.streams = s.streams[1:]
	return io.NopCloser(strings.NewReader(stream)), nil
}

func (s *scriptedOpens) seenCursors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cursors...)
}

func (s *scriptedOpens) openTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.times...)
}

func TestChannelBootstrapsEmptyReplica(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	bootstrapped := false
	opens := &scriptedOpens{}
	ch := &Channel{
		Resource: "chats",
		Open:     opens.open,
		Cursor:   func() (string, error) { return "", nil },
		Bootstrap: func(context.Context) error {
			bootstrapped = true
			cancel()
			return nil
		},
		Ingest:      func(context.Context, *ServerEvent) error { return nil },
		BackoffBase: time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
		Logger:      zap.NewNop(),
	}

	if err := ch.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if !bootstrapped {
		t.Error("empty cursor must trigger bootstrap")
	}
}

func TestChannelReconnectsFromStoreCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cursor advances after the first stream's batch lands.
	var mu sync.Mutex
	cursor := "2026-01-01T00:00:00Z"

	opens := &scriptedOpens{streams: []string{
		"event: chats\ndata: {\"chats\":[]}\n\n",
		"event: chats\ndata: {\"chats\":[]}\n\n",
	}}

	ingests := 0
	ch := &Channel{
		Resource: "chats",
		Open:     opens.open,
		Cursor: func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			return cursor, nil
		},
		Ingest: func(context.Context, *ServerEvent) error {
			mu.Lock()
			defer mu.Unlock()
			ingests++
			cursor = "2026-01-02T00:00:00Z"
			if ingests == 2 {
				cancel()
			}
			return nil
		},
		BackoffBase: time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
		Logger:      zap.NewNop(),
	}

	if err := ch.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}

	seen := opens.seenCursors()
	if len(seen) < 2 {
		t.Fatalf("got %d connects, want at least 2", len(seen))
	}
	if seen[0] != "2026-01-01T00:00:00Z" {
		t.Errorf("first connect cursor = %q", seen[0])
	}
	if seen[1] != "2026-01-02T00:00:00Z" {
		t.Errorf("reconnect cursor = %q, must reflect applied events", seen[1])
	}
}

func TestChannelBackoffResetsOnSuccessfulOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Six streams that open fine but carry only heartbeat comments. The
	// reconnect delay must stay at base throughout; a ladder keyed on
	// ingestion would have climbed to 160ms by the final gap.
	heartbeat := ": ping\n\n"
	opens := &scriptedOpens{streams: []string{
		heartbeat, heartbeat, heartbeat, heartbeat, heartbeat, heartbeat,
	}}

	ch := &Channel{
		Resource: "chats",
		Open: func(ctx context.Context, cursor string) (io.ReadCloser, error) {
			rc, err := opens.open(ctx, cursor)
			if err != nil {
				cancel()
			}
			return rc, err
		},
		Cursor:      func() (string, error) { return "c", nil },
		Ingest:      func(context.Context, *ServerEvent) error { return nil },
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  time.Second,
		Logger:      zap.NewNop(),
	}
	_ = ch.Run(ctx)

	times := opens.openTimes()
	if len(times) < 6 {
		t.Fatalf("connects = %d, want at least 6", len(times))
	}
	lastGap := times[5].Sub(times[4])
	if lastGap > 100*time.Millisecond {
		t.Errorf("gap before sixth open = %v, backoff must reset on every successful open", lastGap)
	}
}

func TestChannelCursorSurvivesOutOfOrderBatch(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	r := intsync.NewReconciler(db, bus.New(), zap.NewNop())

	// The second stream delivers a record older than the applied cursor;
	// the next reconnect must still resume from the newest updated_at.
	opens := &scriptedOpens{streams: []string{
		"event: chats\ndata: {\"chats\":[{\"id\":1,\"conversation_id\":9,\"message\":\"a\",\"updated_at\":\"2026-01-05T00:00:00Z\"}]}\n\n",
		"event: chats\ndata: {\"chats\":[{\"id\":2,\"conversation_id\":9,\"message\":\"b\",\"updated_at\":\"2026-01-03T00:00:00Z\"}]}\n\n",
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := &Channel{
		Resource: "chats",
		Open: func(ctx context.Context, cursor string) (io.ReadCloser, error) {
			rc, err := opens.open(ctx, cursor)
			if err != nil {
				cancel()
			}
			return rc, err
		},
		Cursor: db.LatestChatCursor,
		Ingest: func(_ context.Context, evt *ServerEvent) error {
			chats, err := api.DecodeChatBatch(evt.Data)
			if err != nil {
				return err
			}
			return r.InsertChats(chats)
		},
		BackoffBase: time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
		Logger:      zap.NewNop(),
	}
	_ = ch.Run(ctx)

	seen := opens.seenCursors()
	if len(seen) != 3 {
		t.Fatalf("connects = %d, want 3", len(seen))
	}
	if seen[1] != "2026-01-05T00:00:00Z" {
		t.Errorf("second connect cursor = %q", seen[1])
	}
	if seen[2] != "2026-01-05T00:00:00Z" {
		t.Errorf("third connect cursor = %q, an older batch must not move it backwards", seen[2])
	}
}

func TestChannelSurvivesMalformedBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opens := &scriptedOpens{streams: []string{
		"event: chats\ndata: not-json\n\nevent: chats\ndata: {\"chats\":[]}\n\n",
	}}

	good := 0
	ch := &Channel{
		Resource: "chats",
		Open:     opens.open,
		Cursor:   func() (string, error) { return "c", nil },
		Ingest: func(_ context.Context, evt *ServerEvent) error {
			if string(evt.Data) == "not-json" {
				return errors.New("bad payload")
			}
			good++
			cancel()
			return nil
		},
		BackoffBase: time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
		Logger:      zap.NewNop(),
	}

	_ = ch.Run(ctx)
	if good != 1 {
		t.Errorf("good batches = %d, a bad batch must not kill the stream", good)
	}
}
