package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/adskit/ads/internal/common/logger"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	defer b.Close()

	var mu sync.Mutex
	var got []*Event
	sub, err := b.Subscribe("session.u1.events", func(_ context.Context, ev *Event) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	payload, _ := json.Marshal(map[string]string{"phase": "boot"})
	if err := b.Publish(context.Background(), "session.u1.events", &Event{Payload: payload}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0].Subject != "session.u1.events" {
		t.Errorf("expected subject stamped, got %q", got[0].Subject)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("expected timestamp stamped")
	}
}

func TestMemoryBusWildcard(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	defer b.Close()

	var mu sync.Mutex
	count := 0
	_, err := b.Subscribe("session.*", func(_ context.Context, ev *Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	_ = b.Publish(context.Background(), "session.u1.events", &Event{})
	_ = b.Publish(context.Background(), "session.u2.events", &Event{})
	_ = b.Publish(context.Background(), "other.topic", &Event{})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	})
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	defer b.Close()

	var mu sync.Mutex
	count := 0
	sub, _ := b.Subscribe("x", func(_ context.Context, ev *Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	_ = b.Publish(context.Background(), "x", &Event{})
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return count == 1 })

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	_ = b.Publish(context.Background(), "x", &Event{})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected no delivery after unsubscribe, got %d", count)
	}
}

func TestMemoryBusClosed(t *testing.T) {
	b := NewMemoryBus(logger.Default())
	_ = b.Close()
	if err := b.Publish(context.Background(), "x", &Event{}); err == nil {
		t.Error("expected publish on closed bus to fail")
	}
	if _, err := b.Subscribe("x", func(context.Context, *Event) error { return nil }); err == nil {
		t.Error("expected subscribe on closed bus to fail")
	}
}

func TestSubjectMatches(t *testing.T) {
	cases := []struct {
		subject, pattern string
		want             bool
	}{
		{"a.b.c", "a.b.c", true},
		{"a.b.c", "a.*", true},
		{"a.b", "a.*", true},
		{"a", "a.*", false},
		{"b.c", "a.*", false},
	}
	for _, tc := range cases {
		if got := subjectMatches(tc.subject, tc.pattern); got != tc.want {
			t.Errorf("subjectMatches(%q, %q) = %v, want %v", tc.subject, tc.pattern, got, tc.want)
		}
	}
}
