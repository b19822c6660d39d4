package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	payloads []string
	closed   bool
	fail     bool
	got      chan struct{}
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{got: make(chan struct{}, 8)}
}

func (s *recordingSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		s.got <- struct{}{}
		return errors.New("broken pipe")
	}
	s.payloads = append(s.payloads, string(payload))
	s.got <- struct{}{}
	return nil
}

func (s *recordingSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSubscriber) snapshot() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...), s.closed
}

func waitDelivery(t *testing.T, s *recordingSubscriber) {
	t.Helper()
	select {
	case <-s.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestHubRoutesByTopic(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	stack := newRecordingSubscriber()
	other := newRecordingSubscriber()
	hub.Register("llm-chat-stack", stack)
	hub.Register("other-stack", other)

	if !hub.Broadcast("llm-chat-stack", []byte(`{"phase":"apply"}`)) {
		t.Fatal("expected broadcast to be queued")
	}
	waitDelivery(t, stack)

	payloads, _ := stack.snapshot()
	if len(payloads) != 1 || payloads[0] != `{"phase":"apply"}` {
		t.Fatalf("unexpected payloads: %v", payloads)
	}
	if got, _ := other.snapshot(); len(got) != 0 {
		t.Fatalf("other topic received %v", got)
	}
}

func TestHubDropsFailingSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	broken := newRecordingSubscriber()
	broken.fail = true
	hub.Register("llm-chat-stack", broken)
	hub.Broadcast("llm-chat-stack", []byte("x"))
	waitDelivery(t, broken)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, closed := broken.snapshot(); closed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected failing subscriber to be closed")
}

func TestHubStopClosesSubscribers(t *testing.T) {
	hub := NewHub()
	sub := newRecordingSubscriber()
	hub.Register("llm-chat-stack", sub)
	hub.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, closed := sub.snapshot(); closed {
			if hub.Broadcast("llm-chat-stack", []byte("late")) {
				t.Fatal("expected broadcast after stop to be rejected")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected subscriber to be closed on stop")
}
