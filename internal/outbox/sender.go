// Package outbox owns local writes: optimistic inserts into the replica and
// the retry loop that pushes unconfirmed messages to the server.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/api"
	"github.com/chatbyx/chatsync/internal/bus"
	"github.com/chatbyx/chatsync/internal/notify"
	"github.com/chatbyx/chatsync/internal/store"
)

// Sender drains unsynced messages to the server. A transport failure leaves
// the message pending for the next pass; a server rejection parks it and
// tells the user, because retrying a rejected payload can never succeed.
type Sender struct {
	db      *store.DB
	client  *api.Client
	bus     *bus.Bus
	notices *notify.Queue
	logger  *zap.Logger
}

func NewSender(db *store.DB, client *api.Client, b *bus.Bus, notices *notify.Queue, logger *zap.Logger) *Sender {
	return &Sender{db: db, client: client, bus: b, notices: notices, logger: logger.Named("outbox")}
}

// Flush pushes every pending message in send order. Returns the first
// transport error; rejections are handled in place and do not stop the pass.
func (s *Sender) Flush(ctx context.Context) error {
	pending, err := s.db.PendingChats()
	if err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	confirmed := 0
	for i := range pending {
		m := pending[i]
		echo, err := s.client.SendMessage(ctx, m.ConversationID, m.ID, m.Message)
		if err != nil {
			var perr *api.ProtocolError
			if errors.As(err, &perr) {
				if parkErr := s.park(&m, perr); parkErr != nil {
					return parkErr
				}
				continue
			}
			// Transport trouble: stop here, keep order, retry next pass.
			s.logger.Debug("flush interrupted", zap.String("chat_id", m.ID), zap.Error(err))
			break
		}
		if err := s.db.MarkChatSynced(m.ID, echo.UpdatedAt); err != nil {
			return fmt.Errorf("outbox: confirm %s: %w", m.ID, err)
		}
		confirmed++
	}

	if confirmed > 0 {
		s.logger.Info("messages confirmed", zap.Int("count", confirmed))
		s.bus.Publish(bus.Event{Kind: bus.KindChatsChanged})
	}
	return nil
}

// park takes a rejected message out of the retry loop and surfaces the
// rejection.
func (s *Sender) park(m *store.Chat, perr *api.ProtocolError) error {
	m.Deleted = true
	if err := s.db.UpsertChat(m); err != nil {
		return fmt.Errorf("outbox: park %s: %w", m.ID, err)
	}
	s.logger.Warn("message rejected by server",
		zap.String("chat_id", m.ID), zap.String("reason", perr.Message))
	s.notices.Push(notify.Notice{
		Level:   notify.LevelError,
		Title:   "Message not delivered",
		Body:    perr.Message,
		Created: store.Now(),
	})
	s.bus.Publish(bus.Event{Kind: bus.KindChatsChanged})
	return nil
}

// Run flushes on a fixed interval until ctx is done, and immediately when a
// chats change lands on the bus (an optimistic insert just happened).
func (s *Sender) Run(ctx context.Context, interval time.Duration) {
	events, cancel := s.bus.Subscribe(bus.KindChatsChanged, 16)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-events:
		}
		if err := s.Flush(ctx); err != nil {
			s.logger.Error("flush failed", zap.Error(err))
		}
	}
}
