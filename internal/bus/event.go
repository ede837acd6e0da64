package bus

import "time"

// Change topics published when the local replica mutates. One event is
// emitted per entity class per batch, never per row, so subscribers
// recompute derived views once.
const (
	KindContactsChanged      = "contacts.changed"
	KindConversationsChanged = "conversations.changed"
	KindParticipantsChanged  = "participants.changed"
	KindChatsChanged         = "chats.changed"
	KindStoriesChanged       = "stories.changed"
	KindFilesChanged         = "files.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
