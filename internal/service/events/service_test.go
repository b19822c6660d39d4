package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/ws"
)

type channelSubscriber struct {
	payloads chan []byte
}

func (c channelSubscriber) Send(payload []byte) error {
	c.payloads <- payload
	return nil
}

func (c channelSubscriber) Close() {}

func TestObserveBroadcastsToDeploymentTopic(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Stop()
	sub := channelSubscriber{payloads: make(chan []byte, 1)}
	hub.Register("llm-chat-stack", sub)

	svc := New(hub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.Observe(domain.DeploymentEvent{
		Deployment: "llm-chat-stack",
		RunID:      "run-1",
		Phase:      "apply",
		Status:     domain.DeploymentCreating,
		At:         time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("PDT", -7*3600)),
	})

	select {
	case payload := <-sub.payloads:
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("payload is not json: %v", err)
		}
		if decoded["phase"] != "apply" || decoded["status"] != "CREATING" || decoded["run_id"] != "run-1" {
			t.Fatalf("unexpected payload: %s", payload)
		}
		if decoded["at"] != "2024-05-01T19:00:00Z" {
			t.Fatalf("expected UTC timestamp, got %v", decoded["at"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
