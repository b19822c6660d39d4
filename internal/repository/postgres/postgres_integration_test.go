//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evanshlom/AwsAiProd/internal/app/migrate"
	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/repository"
	"github.com/evanshlom/AwsAiProd/internal/repository/postgres"
)

// Run with: TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/repository/postgres/
func newTestRepository(t *testing.T) *postgres.Repository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	runner, err := migrate.New(pool, dsn, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("migrate.New error: %v", err)
	}
	if err := runner.Ensure(ctx); err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	return postgres.New(pool)
}

func TestAppendMessagesUpsertsAndOrders(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	session := "it-" + uuid.NewString()

	first := []domain.ConversationRecord{
		{SessionID: session, Timestamp: 2000, Message: domain.Message{Role: domain.RoleAssistant, Content: "draft"}},
		{SessionID: session, Timestamp: 1000, Message: domain.Message{Role: domain.RoleUser, Content: "hello"}},
	}
	if err := repo.AppendMessages(ctx, first); err != nil {
		t.Fatalf("AppendMessages error: %v", err)
	}
	replay := []domain.ConversationRecord{
		{SessionID: session, Timestamp: 2000, Message: domain.Message{Role: domain.RoleAssistant, Content: "final"}},
	}
	if err := repo.AppendMessages(ctx, replay); err != nil {
		t.Fatalf("AppendMessages conflict error: %v", err)
	}

	got, err := repo.ListMessages(ctx, session)
	if err != nil {
		t.Fatalf("ListMessages error: %v", err)
	}
	if len(got) != 2 || got[0].Timestamp != 1000 || got[1].Message.Content != "final" {
		t.Fatalf("unexpected records: %+v", got)
	}

	bad := []domain.ConversationRecord{{SessionID: " ", Timestamp: 1}}
	if err := repo.AppendMessages(ctx, bad); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	name := "it-stack-" + uuid.NewString()

	run := &domain.ReconcileRun{
		ID:             uuid.NewString(),
		DeploymentName: name,
		ModelID:        "arn:model",
		Mode:           domain.ModeDeploy,
		Status:         domain.RunPending,
		StartedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	if err := repo.CreateRun(ctx, run); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected duplicate run to be rejected, got %v", err)
	}

	completed := run.StartedAt.Add(time.Minute)
	err := repo.UpdateRun(ctx, domain.ReconcileRunUpdate{
		RunID:       run.ID,
		Status:      domain.RunSuccess,
		Outputs:     map[string]string{"ApiEndpoint": "https://x"},
		SelfHeals:   1,
		CompletedAt: &completed,
	})
	if err != nil {
		t.Fatalf("UpdateRun error: %v", err)
	}
	if err := repo.UpdateRun(ctx, domain.ReconcileRunUpdate{RunID: uuid.NewString(), Status: domain.RunFailed}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown run, got %v", err)
	}

	runs, err := repo.ListRuns(ctx, name, 5)
	if err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != domain.RunSuccess || runs[0].Outputs["ApiEndpoint"] != "https://x" || runs[0].CompletedAt == nil {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}
