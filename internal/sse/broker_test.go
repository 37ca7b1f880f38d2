package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("tab-1")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDeliversToTopicOnly(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	mine := b.Subscribe("tab-1")
	defer b.Unsubscribe(mine)
	other := b.Subscribe("tab-2")
	defer b.Unsubscribe(other)

	b.Publish("tab-1", StateChanged(3))

	select {
	case msg := <-mine:
		s := string(msg)
		if !strings.Contains(s, "event: state.changed") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"version":3`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	// Both clients were visited in the same send.
	select {
	case msg := <-other:
		t.Errorf("other tab received %q", msg)
	default:
	}
}

func TestDropClosesTopic(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	a := b.Subscribe("tab-1")
	c := b.Subscribe("tab-2")
	defer b.Unsubscribe(c)

	b.Drop("tab-1")

	select {
	case _, ok := <-a:
		if ok {
			t.Fatal("expected dropped channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for drop")
	}
	if n := b.ClientCount(); n != 1 {
		t.Errorf("clients = %d, want 1", n)
	}
}

func TestStreamSendsInitialEvent(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.Stream(w, req, "tab-1", func() Event { return StateChanged(1) })
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish("tab-1", StateChanged(2))
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	first := strings.Index(body, `"version":1`)
	second := strings.Index(body, `"version":2`)
	if first < 0 || second < 0 || first > second {
		t.Errorf("handler output = %q, want version 1 then 2", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe("tab-1")
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish("tab-1", StateChanged(uint64(i)))
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("tab-1")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish("tab-1", StateChanged(1))
	b.Drop("tab-1")
}
