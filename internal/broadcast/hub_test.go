package broadcast

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func testSnapshot() any { return map[string]any{"type": "snapshot"} }

func TestSubscribeReceivesSnapshotImmediately(t *testing.T) {
	h := New(4, testSnapshot, zap.NewNop())
	_, ch := h.Subscribe()

	select {
	case msg := <-ch:
		if m, ok := msg.(map[string]any); !ok || m["type"] != "snapshot" {
			t.Fatalf("unexpected first message: %#v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an immediate snapshot on subscribe")
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	h := New(8, testSnapshot, zap.NewNop())
	_, ch := h.Subscribe()
	<-ch // drain the initial snapshot

	for i := 0; i < 5; i++ {
		h.Publish(i)
	}
	for i := 0; i < 5; i++ {
		got := <-ch
		if got.(int) != i {
			t.Fatalf("message %d = %v, want %d (order violated)", i, got, i)
		}
	}
}

func TestLaggingSubscriberGetsCoalescedResync(t *testing.T) {
	h := New(4, testSnapshot, zap.NewNop())
	_, ch := h.Subscribe()
	<-ch // drain initial snapshot

	// Fill the queue to exact capacity, then publish one more to force
	// the overflow branch: drain + single coalesced resync.
	for i := 0; i < 5; i++ {
		h.Publish(i)
	}

	// Expect exactly 1 queued item, the resync snapshot (not one of the
	// deltas), since the queue was drained and refilled with a single
	// coalesced resync.
	var last any
	count := 0
	for {
		select {
		case msg := <-ch:
			last = msg
			count++
		default:
			goto done
		}
	}
done:
	if count != 1 {
		t.Fatalf("expected exactly 1 queued message after coalescing (the resync), got %d", count)
	}
	if m, ok := last.(map[string]any); !ok || m["type"] != "snapshot" {
		t.Fatalf("expected the coalesced resync snapshot, got %#v", last)
	}
}

func TestLaggingSubscriberStaysCoalescedAcrossBurst(t *testing.T) {
	h := New(4, testSnapshot, zap.NewNop())
	_, ch := h.Subscribe()
	<-ch // drain initial snapshot

	// Same S4 shape as the spec's boundary scenario: cap=4, then 10 rapid
	// publishes with nobody reading in between. The first 4 fill the
	// queue, the 5th overflows into a resync, and — unlike a single
	// overflow — the remaining 5 publishes arrive while the subscriber is
	// still lagging (the resync hasn't been read yet). They must all be
	// absorbed rather than triggering a second overflow/resync cycle.
	for i := 0; i < 10; i++ {
		h.Publish(i)
	}

	var last any
	count := 0
	for {
		select {
		case msg := <-ch:
			last = msg
			count++
		default:
			goto done
		}
	}
done:
	if count != 1 {
		t.Fatalf("expected exactly 1 queued message after a multi-overflow burst (one resync, not several), got %d", count)
	}
	if m, ok := last.(map[string]any); !ok || m["type"] != "snapshot" {
		t.Fatalf("expected the coalesced resync snapshot, got %#v", last)
	}
}

func TestLaggingSubscriberResumesAfterReaderCatchesUp(t *testing.T) {
	h := New(4, testSnapshot, zap.NewNop())
	_, ch := h.Subscribe()
	<-ch // drain initial snapshot

	for i := 0; i < 5; i++ {
		h.Publish(i) // 5th overflows into a resync; subscriber now lagging
	}
	<-ch // reader catches up: drains the pending resync

	h.Publish("after-catchup")

	select {
	case msg := <-ch:
		if msg.(string) != "after-catchup" {
			t.Fatalf("expected normal delivery to resume after catch-up, got %#v", msg)
		}
	default:
		t.Fatal("expected the post-catch-up publish to be delivered, not absorbed")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New(4, testSnapshot, zap.NewNop())
	id, ch := h.Subscribe()
	<-ch

	h.Unsubscribe(id)
	if h.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", h.SubscriberCount())
	}

	_, ok := <-ch
	if ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}

	// Unsubscribing twice or an unknown id must not panic.
	h.Unsubscribe(id)
	h.Unsubscribe(9999)
}

func TestPublishToNoSubscribersIsNoop(t *testing.T) {
	h := New(4, testSnapshot, zap.NewNop())
	h.Publish("hello") // must not panic or block
}
