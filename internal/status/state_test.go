package status

import (
	"testing"

	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/bus"
)

func testTracker(t *testing.T) (*Tracker, <-chan bus.Event) {
	t.Helper()
	b := bus.New()
	events, cancel := b.Subscribe("session.", 16)
	t.Cleanup(cancel)
	return NewTracker(b, zap.NewNop()), events
}

func TestDerivedStates(t *testing.T) {
	tr, _ := testTracker(t)

	tr.ChannelConnected("chats", true)
	if got := tr.Get(); got != Live {
		t.Errorf("one-of-one up: %s, want live", got)
	}

	tr.ChannelConnected("stories", false)
	if got := tr.Get(); got != Reconnecting {
		t.Errorf("one-of-two up: %s, want reconnecting", got)
	}

	tr.ChannelConnected("chats", false)
	if got := tr.Get(); got != Degraded {
		t.Errorf("none up: %s, want degraded", got)
	}

	tr.ChannelConnected("stories", true)
	tr.ChannelConnected("chats", true)
	if got := tr.Get(); got != Live {
		t.Errorf("all up again: %s, want live", got)
	}
}

func TestForcedStatesStick(t *testing.T) {
	tr, _ := testTracker(t)

	tr.Set(AuthRequired)
	tr.ChannelConnected("chats", true)
	if got := tr.Get(); got != AuthRequired {
		t.Errorf("state = %s, channel events must not clear auth_required", got)
	}
}

func TestTransitionsAnnounced(t *testing.T) {
	tr, events := testTracker(t)

	tr.Set(Bootstrapping)
	tr.Set(Bootstrapping) // no-op, no event

	select {
	case evt := <-events:
		if evt.Payload.(State) != Bootstrapping {
			t.Errorf("payload = %v", evt.Payload)
		}
	default:
		t.Fatal("transition not announced")
	}
	select {
	case <-events:
		t.Error("repeated Set must not announce")
	default:
	}
}
