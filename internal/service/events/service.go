// Package events publishes reconcile progress to streaming subscribers.
package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/ws"
)

// Service broadcasts deployment events on the hub topic named after the deployment.
type Service struct {
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs an event service.
func New(hub *ws.Hub, logger *slog.Logger) Service {
	return Service{hub: hub, logger: logger}
}

// Observe implements reconcile.Observer.
func (s Service) Observe(event domain.DeploymentEvent) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEvent(event)
	if err != nil {
		s.logger.Warn("failed to marshal deployment event", "error", err)
		return
	}
	if !s.hub.Broadcast(event.Deployment, data) {
		s.logger.Debug("deployment event dropped", "deployment", event.Deployment, "phase", event.Phase)
	}
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// MarshalEvent formats a deployment event for streaming payloads.
func MarshalEvent(event domain.DeploymentEvent) ([]byte, error) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	event.At = event.At.UTC()
	return json.Marshal(event)
}
