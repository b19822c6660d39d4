// Package chat answers chat requests against the deployed model and keeps the
// conversation in the configured store.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/platform"
	"github.com/evanshlom/AwsAiProd/internal/repository"
	"github.com/evanshlom/AwsAiProd/pkg/config"
)

const defaultHistoryLimit = 10

// ErrNoStore indicates history was requested but no conversation store is configured.
var ErrNoStore = errors.New("chat: conversation store not configured")

// Request is one chat turn. History is oldest first.
type Request struct {
	Prompt    string           `json:"prompt"`
	History   []domain.Message `json:"history,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
}

// UnmarshalJSON decodes a chat turn, skipping history entries that are not
// message objects.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw struct {
		Prompt    string            `json:"prompt"`
		History   []json.RawMessage `json:"history"`
		SessionID string            `json:"session_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Request{Prompt: raw.Prompt, SessionID: raw.SessionID}
	for _, item := range raw.History {
		if !bytes.HasPrefix(bytes.TrimSpace(item), []byte("{")) {
			continue
		}
		var msg domain.Message
		if err := json.Unmarshal(item, &msg); err != nil {
			continue
		}
		r.History = append(r.History, msg)
	}
	return nil
}

// Reply carries the assistant's answer.
type Reply struct {
	Response string `json:"response"`
}

// Service runs chat turns.
type Service struct {
	models        platform.ModelInvoker
	conversations repository.ConversationRepository
	logger        *slog.Logger

	modelID      string
	historyLimit int
	maxTokens    int
	temperature  float64
	topP         float64

	now func() time.Time
}

// New returns a chat service. conversations may be nil, in which case turns are not stored.
func New(models platform.ModelInvoker, conversations repository.ConversationRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	limit := cfg.ChatHistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return Service{
		models:        models,
		conversations: conversations,
		logger:        logger,
		modelID:       cfg.ChatModelID,
		historyLimit:  limit,
		maxTokens:     cfg.ChatMaxTokens,
		temperature:   cfg.ChatTemperature,
		topP:          cfg.ChatTopP,
		now:           time.Now,
	}
}

// Chat renders the recent history and prompt as a transcript, invokes the model and,
// when a session id is present, stores the user and assistant turns at t and t+1 ms.
func (s Service) Chat(ctx context.Context, req Request) (Reply, error) {
	transcript := Transcript(req.History, req.Prompt, s.historyLimit)
	answer, err := s.models.Invoke(ctx, s.modelID, platform.InvokeRequest{
		Prompt:      transcript,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		TopP:        s.topP,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("invoke chat model: %w", err)
	}

	session := strings.TrimSpace(req.SessionID)
	if session != "" && s.conversations != nil {
		ts := s.now().UnixMilli()
		records := []domain.ConversationRecord{
			{SessionID: session, Timestamp: ts, Message: domain.Message{Role: domain.RoleUser, Content: req.Prompt}},
			{SessionID: session, Timestamp: ts + 1, Message: domain.Message{Role: domain.RoleAssistant, Content: answer}},
		}
		if err := s.conversations.AppendMessages(ctx, records); err != nil {
			s.logger.Error("failed to store conversation", "session_id", session, "error", err)
			return Reply{}, fmt.Errorf("store conversation: %w", err)
		}
	}
	return Reply{Response: answer}, nil
}

// History returns a session's stored turns, oldest first.
func (s Service) History(ctx context.Context, sessionID string) ([]domain.ConversationRecord, error) {
	if s.conversations == nil {
		return nil, ErrNoStore
	}
	return s.conversations.ListMessages(ctx, strings.TrimSpace(sessionID))
}

// Transcript renders the last limit history messages as "role: content" lines followed by
// the new user prompt and an open assistant turn. Messages without a role are user turns.
func Transcript(history []domain.Message, prompt string, limit int) string {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	var b strings.Builder
	for _, msg := range history {
		role := msg.Role
		if role == "" {
			role = domain.RoleUser
		}
		fmt.Fprintf(&b, "%s: %s\n", role, msg.Content)
	}
	fmt.Fprintf(&b, "%s: %s\n%s:", domain.RoleUser, prompt, domain.RoleAssistant)
	return b.String()
}
