package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/platform"
	"github.com/evanshlom/AwsAiProd/pkg/config"
)

type recordingModel struct {
	reply    string
	err      error
	modelIDs []string
	requests []platform.InvokeRequest
}

func (m *recordingModel) Invoke(_ context.Context, modelID string, req platform.InvokeRequest) (string, error) {
	m.modelIDs = append(m.modelIDs, modelID)
	m.requests = append(m.requests, req)
	return m.reply, m.err
}

type memoryConversations struct {
	appends [][]domain.ConversationRecord
	err     error
}

func (m *memoryConversations) AppendMessages(_ context.Context, records []domain.ConversationRecord) error {
	if m.err != nil {
		return m.err
	}
	m.appends = append(m.appends, records)
	return nil
}

func (m *memoryConversations) ListMessages(_ context.Context, sessionID string) ([]domain.ConversationRecord, error) {
	var out []domain.ConversationRecord
	for _, batch := range m.appends {
		for _, rec := range batch {
			if rec.SessionID == sessionID {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func testConfig() config.APIConfig {
	return config.APIConfig{
		ChatModelID:      "amazon.titan-text-express-v1",
		ChatHistoryLimit: 10,
		ChatMaxTokens:    512,
		ChatTemperature:  0.7,
		ChatTopP:         0.9,
	}
}

func newTestService(model platform.ModelInvoker, store *memoryConversations) Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	svc := New(model, store, logger, testConfig())
	svc.now = func() time.Time { return time.UnixMilli(1714564800000) }
	return svc
}

func TestChatForwardsLastTenMessagesAndStoresTwoRecords(t *testing.T) {
	history := make([]domain.Message, 0, 12)
	for i := 1; i <= 12; i++ {
		role := domain.RoleUser
		if i%2 == 0 {
			role = domain.RoleAssistant
		}
		history = append(history, domain.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
	}
	model := &recordingModel{reply: "See you in Vegas"}
	store := &memoryConversations{}

	reply, err := newTestService(model, store).Chat(context.Background(), Request{Prompt: "hello", History: history, SessionID: "s-1"})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if reply.Response != "See you in Vegas" {
		t.Fatalf("unexpected reply %q", reply.Response)
	}

	prompt := model.requests[0].Prompt
	if strings.Contains(prompt, "message 1\n") || strings.Contains(prompt, "message 2\n") {
		t.Fatalf("expected the two oldest messages to be dropped:\n%s", prompt)
	}
	if strings.Count(prompt, "\n") != 11 || !strings.HasPrefix(prompt, "user: message 3\n") {
		t.Fatalf("expected 10 history lines then the prompt:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "user: hello\nassistant:") {
		t.Fatalf("unexpected transcript tail:\n%s", prompt)
	}
	req := model.requests[0]
	if req.MaxTokens != 512 || req.Temperature != 0.7 || req.TopP != 0.9 || model.modelIDs[0] != "amazon.titan-text-express-v1" {
		t.Fatalf("unexpected invocation: %+v", req)
	}

	if len(store.appends) != 1 || len(store.appends[0]) != 2 {
		t.Fatalf("expected exactly two records, got %+v", store.appends)
	}
	user, assistant := store.appends[0][0], store.appends[0][1]
	if user.Timestamp != 1714564800000 || assistant.Timestamp != user.Timestamp+1 {
		t.Fatalf("unexpected timestamps %d, %d", user.Timestamp, assistant.Timestamp)
	}
	if user.Message != (domain.Message{Role: "user", Content: "hello"}) || assistant.Message != (domain.Message{Role: "assistant", Content: "See you in Vegas"}) {
		t.Fatalf("unexpected records: %+v", store.appends[0])
	}
}

func TestChatWithoutSessionStoresNothing(t *testing.T) {
	store := &memoryConversations{}
	if _, err := newTestService(&recordingModel{reply: "ok"}, store).Chat(context.Background(), Request{Prompt: "hi"}); err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if len(store.appends) != 0 {
		t.Fatalf("expected no records, got %d", len(store.appends))
	}
}

func TestChatSurfacesFailures(t *testing.T) {
	model := &recordingModel{err: errors.New("ValidationException: bad model")}
	if _, err := newTestService(model, &memoryConversations{}).Chat(context.Background(), Request{Prompt: "hi"}); err == nil || !strings.Contains(err.Error(), "ValidationException") {
		t.Fatalf("expected model error, got %v", err)
	}

	store := &memoryConversations{err: errors.New("table missing")}
	if _, err := newTestService(&recordingModel{reply: "ok"}, store).Chat(context.Background(), Request{Prompt: "hi", SessionID: "s"}); err == nil {
		t.Fatal("expected persistence failure to surface")
	}
}

func TestTranscriptDefaultsRole(t *testing.T) {
	got := Transcript([]domain.Message{{Content: "first"}, {Role: "assistant", Content: "second"}}, "third", 10)
	want := "user: first\nassistant: second\nuser: third\nassistant:"
	if got != want {
		t.Fatalf("Transcript = %q, want %q", got, want)
	}
}

func TestHistoryReturnsStoredTurns(t *testing.T) {
	store := &memoryConversations{}
	svc := newTestService(&recordingModel{reply: "ok"}, store)
	if _, err := svc.Chat(context.Background(), Request{Prompt: "hi", SessionID: "s-2"}); err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	records, err := svc.History(context.Background(), "s-2")
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(records) != 2 || records[0].Message.Role != "user" {
		t.Fatalf("unexpected history: %+v", records)
	}

	noStore := New(&recordingModel{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), testConfig())
	if _, err := noStore.History(context.Background(), "s"); !errors.Is(err, ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestRequestDecodeSkipsNonObjectHistory(t *testing.T) {
	body := `{"prompt":"hi","session_id":"s-9","history":["loose",null,{"role":"user","content":"first"},{"content":7},{"content":"second"}]}`
	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if req.Prompt != "hi" || req.SessionID != "s-9" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.History) != 2 || req.History[0].Content != "first" || req.History[1].Content != "second" {
		t.Fatalf("unexpected history: %+v", req.History)
	}
	if err := json.Unmarshal([]byte("{not json"), &req); err == nil {
		t.Fatal("expected error for malformed body")
	}
}
