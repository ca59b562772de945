package serviceclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDeduplicationOwnerAndWaiter(t *testing.T) {
	tracker := NewDeduplicationTracker()

	entry, owner := tracker.GetOrCreateEntry("key")
	if !owner {
		t.Fatal("expected first caller to own the entry")
	}

	waiterEntry, waiterOwner := tracker.GetOrCreateEntry("key")
	if waiterOwner {
		t.Fatal("expected second caller to be a waiter")
	}
	if waiterEntry != entry {
		t.Fatal("expected waiter to share the owner's entry")
	}

	result := make(chan *Response, 1)
	go func() {
		resp, _ := waiterEntry.Wait(context.Background())
		result <- resp
	}()

	tracker.Complete("key", &Response{StatusCode: 200, Body: []byte("shared")}, nil)

	select {
	case resp := <-result:
		if resp == nil || string(resp.Body) != "shared" {
			t.Errorf("waiter received wrong result: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not unblock after Complete")
	}
}

func TestDeduplicationPropagatesError(t *testing.T) {
	tracker := NewDeduplicationTracker()
	entry, _ := tracker.GetOrCreateEntry("key")

	callErr := errors.New("upstream broke")
	tracker.Complete("key", nil, callErr)

	resp, err := entry.Wait(context.Background())
	if resp != nil {
		t.Errorf("expected nil response, got %+v", resp)
	}
	if !errors.Is(err, callErr) {
		t.Errorf("expected owner's error, got %v", err)
	}
}

func TestDeduplicationWaitHonorsContext(t *testing.T) {
	tracker := NewDeduplicationTracker()
	_, _ = tracker.GetOrCreateEntry("key")
	entry, _ := tracker.GetOrCreateEntry("key")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := entry.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDeduplicationDistinctKeys(t *testing.T) {
	tracker := NewDeduplicationTracker()

	_, ownerA := tracker.GetOrCreateEntry("a")
	_, ownerB := tracker.GetOrCreateEntry("b")
	if !ownerA || !ownerB {
		t.Error("expected distinct keys to get their own entries")
	}
}

func TestDeduplicationEntryExpiresAfterComplete(t *testing.T) {
	tracker := NewDeduplicationTracker()
	_, _ = tracker.GetOrCreateEntry("key")
	tracker.Complete("key", &Response{StatusCode: 200}, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, owner := tracker.GetOrCreateEntry("key"); owner {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("completed entry was never cleaned up")
}

func TestDefaultDeduplicationCondition(t *testing.T) {
	if !DefaultDeduplicationCondition(&Request{Method: "GET"}) {
		t.Error("expected GET to be coalescable")
	}
	if !DefaultDeduplicationCondition(&Request{Method: "HEAD"}) {
		t.Error("expected HEAD to be coalescable")
	}
	if DefaultDeduplicationCondition(&Request{Method: "POST"}) {
		t.Error("expected POST not to be coalescable")
	}
}
