package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/repository"
	"github.com/evanshlom/AwsAiProd/internal/service/reconcile"
)

type fakeReconciler struct {
	result reconcile.Result
	err    error
	reqs   []reconcile.Request
	ctxErr error
}

func (f *fakeReconciler) Name() string { return "llm-chat-stack" }

func (f *fakeReconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	f.reqs = append(f.reqs, req)
	f.ctxErr = ctx.Err()
	return f.result, f.err
}

type fakeRunRepo struct {
	created    []domain.ReconcileRun
	updates    []domain.ReconcileRunUpdate
	failCreate bool
	listName   string
	listLimit  int
}

func (f *fakeRunRepo) CreateRun(_ context.Context, run *domain.ReconcileRun) error {
	if f.failCreate {
		return errors.New("db down")
	}
	f.created = append(f.created, *run)
	return nil
}

func (f *fakeRunRepo) UpdateRun(_ context.Context, update domain.ReconcileRunUpdate) error {
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeRunRepo) ListRuns(_ context.Context, name string, limit int) ([]domain.ReconcileRun, error) {
	f.listName, f.listLimit = name, limit
	return f.created, nil
}

var _ repository.ReconcileRunRepository = (*fakeRunRepo)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestTriggerRecordsSuccessfulRun(t *testing.T) {
	rec := &fakeReconciler{result: reconcile.Result{Outputs: map[string]string{"ApiEndpoint": "https://x"}, SelfHeals: 1}}
	runs := &fakeRunRepo{}
	svc := New(rec, runs, discardLogger())

	run, res, err := svc.Trigger(context.Background(), "model-a", domain.ModeUpdateModel)
	if err != nil {
		t.Fatalf("Trigger error: %v", err)
	}
	if res.Outputs["ApiEndpoint"] != "https://x" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if run.Status != domain.RunSuccess || run.CompletedAt == nil || run.SelfHeals != 1 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if len(runs.created) != 1 || runs.created[0].Status != domain.RunPending || runs.created[0].DeploymentName != "llm-chat-stack" {
		t.Fatalf("unexpected created run: %+v", runs.created)
	}
	if len(runs.updates) != 2 || runs.updates[0].Status != domain.RunRunning || runs.updates[1].Status != domain.RunSuccess {
		t.Fatalf("unexpected run updates: %+v", runs.updates)
	}
	if rec.reqs[0].RunID != run.ID || rec.reqs[0].Mode != domain.ModeUpdateModel {
		t.Fatalf("unexpected reconcile request: %+v", rec.reqs[0])
	}
}

func TestTriggerRecordsFailureReason(t *testing.T) {
	rec := &fakeReconciler{err: &reconcile.Error{Reason: reconcile.ReasonRecoveryExhausted, Op: "self_heal", Err: errors.New("still failed")}}
	runs := &fakeRunRepo{}
	run, _, err := New(rec, runs, discardLogger()).Trigger(context.Background(), "model-a", domain.ModeDeploy)
	if reconcile.ReasonOf(err) != reconcile.ReasonRecoveryExhausted {
		t.Fatalf("expected reconcile error, got %v", err)
	}
	if run.Status != domain.RunFailed || run.Reason != "RECOVERY_EXHAUSTED" {
		t.Fatalf("unexpected run: %+v", run)
	}
	last := runs.updates[len(runs.updates)-1]
	if last.Status != domain.RunFailed || last.Error == "" || last.CompletedAt == nil {
		t.Fatalf("unexpected final update: %+v", last)
	}
}

func TestTriggerSurvivesAuditFailure(t *testing.T) {
	rec := &fakeReconciler{}
	runs := &fakeRunRepo{failCreate: true}
	if _, _, err := New(rec, runs, discardLogger()).Trigger(context.Background(), "model-a", domain.ModeDeploy); err != nil {
		t.Fatalf("audit failures must not fail the run: %v", err)
	}
	if len(rec.reqs) != 1 {
		t.Fatal("expected reconcile to run")
	}
}

func TestListRunsScopesToDeployment(t *testing.T) {
	runs := &fakeRunRepo{}
	if _, err := New(&fakeReconciler{}, runs, discardLogger()).ListRuns(context.Background(), 0); err != nil {
		t.Fatalf("ListRuns error: %v", err)
	}
	if runs.listName != "llm-chat-stack" || runs.listLimit != 20 {
		t.Fatalf("unexpected list query: %q %d", runs.listName, runs.listLimit)
	}

	empty, err := New(&fakeReconciler{}, nil, discardLogger()).ListRuns(context.Background(), 5)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list without a store, got %v %v", empty, err)
	}
}

func TestTriggerSurvivesCallerCancellation(t *testing.T) {
	rec := &fakeReconciler{result: reconcile.Result{Outputs: map[string]string{"ApiEndpoint": "https://x"}}}
	runs := &fakeRunRepo{}
	svc := New(rec, runs, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, _, err := svc.Trigger(ctx, "model-a", domain.ModeDeploy)
	if err != nil {
		t.Fatalf("Trigger error: %v", err)
	}
	if rec.ctxErr != nil {
		t.Fatalf("reconcile saw a cancelled context: %v", rec.ctxErr)
	}
	if run.Status != domain.RunSuccess || len(runs.updates) != 2 || runs.updates[1].Status != domain.RunSuccess {
		t.Fatalf("unexpected run: %+v updates=%+v", run, runs.updates)
	}
}
