// Package notify queues user-facing notices. Producers push from any
// goroutine; consumers either drain the queue or watch the bus for the
// notices topic.
package notify

import (
	"sync"

	"github.com/chatbyx/chatsync/internal/bus"
)

// Level grades a notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is one user-facing message.
type Notice struct {
	Level   Level
	Title   string
	Body    string
	Created string
}

// KindNotice is the bus topic published on every push.
const KindNotice = "notify.pushed"

// Queue is a bounded in-memory notice queue. When full, the oldest notice
// is dropped.
type Queue struct {
	mu      sync.Mutex
	notices []Notice
	limit   int
	bus     *bus.Bus
}

func NewQueue(b *bus.Bus, limit int) *Queue {
	if limit <= 0 {
		limit = 100
	}
	return &Queue{bus: b, limit: limit}
}

// Push appends a notice and announces it on the bus.
func (q *Queue) Push(n Notice) {
	q.mu.Lock()
	q.notices = append(q.notices, n)
	if len(q.notices) > q.limit {
		q.notices = q.notices[len(q.notices)-q.limit:]
	}
	q.mu.Unlock()

	q.bus.Publish(bus.Event{Kind: KindNotice, Payload: n})
}

// Drain returns and clears all queued notices.
func (q *Queue) Drain() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.notices
	q.notices = nil
	return out
}

// Reset discards queued notices without announcing anything. Used on
// logout, when pending notices belong to the torn-down session.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.notices = nil
	q.mu.Unlock()
}
