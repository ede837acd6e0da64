package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chats.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindChatsChanged, Timestamp: time.Now(), Payload: 3})

	select {
	case evt := <-ch:
		if evt.Kind != KindChatsChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindChatsChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("stories.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindChatsChanged})
	b.Publish(Event{Kind: KindStoriesChanged})

	select {
	case evt := <-ch:
		if evt.Kind != KindStoriesChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindStoriesChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the chats event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("contacts.", 10)
	unsub()
	unsub() // idempotent

	b.Publish(Event{Kind: KindContactsChanged})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("files.", 1)
	defer unsub()

	b.Publish(Event{Kind: KindFilesChanged, Payload: "one"})
	// Dropped: buffer is full and delivery is non-blocking.
	b.Publish(Event{Kind: KindFilesChanged, Payload: "two"})

	evt := <-ch
	if evt.Payload != "one" {
		t.Errorf("got %v, want one", evt.Payload)
	}
}
