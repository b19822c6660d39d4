// Package deploy runs deployment reconciles and keeps their audit trail.
package deploy

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/repository"
	"github.com/evanshlom/AwsAiProd/internal/service/reconcile"
)

const defaultRunLimit = 20

// Reconciler drives the hosting deployment.
type Reconciler interface {
	Name() string
	Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error)
}

// Service wraps the reconciler with run bookkeeping.
type Service struct {
	reconciler Reconciler
	runs       repository.ReconcileRunRepository
	logger     *slog.Logger
	now        func() time.Time
}

// New returns a deployment run service. runs may be nil when no database is configured.
func New(reconciler Reconciler, runs repository.ReconcileRunRepository, logger *slog.Logger) Service {
	return Service{reconciler: reconciler, runs: runs, logger: logger, now: time.Now}
}

// Trigger records a run, reconciles the deployment to modelID and records the outcome.
// The reconcile outlives cancellation of ctx. The run is returned even when the
// reconcile fails.
func (s Service) Trigger(ctx context.Context, modelID string, mode domain.DeploymentMode) (*domain.ReconcileRun, reconcile.Result, error) {
	// Detached from the caller; the reconciler bounds the run with its deploy timeout.
	ctx = context.WithoutCancel(ctx)
	run := &domain.ReconcileRun{
		ID:             uuid.NewString(),
		DeploymentName: s.reconciler.Name(),
		ModelID:        strings.TrimSpace(modelID),
		Mode:           mode,
		Status:         domain.RunPending,
		StartedAt:      s.now().UTC(),
	}
	if s.runs != nil {
		if err := s.runs.CreateRun(ctx, run); err != nil {
			s.logger.Warn("failed to record reconcile run", "run_id", run.ID, "error", err)
		}
	}
	s.updateRun(ctx, domain.ReconcileRunUpdate{RunID: run.ID, Status: domain.RunRunning})
	run.Status = domain.RunRunning

	result, err := s.reconciler.Reconcile(ctx, reconcile.Request{ModelID: modelID, Mode: mode, RunID: run.ID})
	completed := s.now().UTC()
	run.CompletedAt = &completed

	if err != nil {
		run.Status = domain.RunFailed
		run.Reason = string(reconcile.ReasonOf(err))
		run.Error = err.Error()
		s.logger.Error("deployment run failed", "run_id", run.ID, "model", run.ModelID, "reason", run.Reason, "error", err)
	} else {
		run.Status = domain.RunSuccess
		run.Outputs = result.Outputs
		run.SelfHeals = result.SelfHeals
		s.logger.Info("deployment run succeeded", "run_id", run.ID, "model", run.ModelID, "self_heals", result.SelfHeals)
	}
	recordCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.updateRun(recordCtx, domain.ReconcileRunUpdate{
		RunID:       run.ID,
		Status:      run.Status,
		Reason:      run.Reason,
		Error:       run.Error,
		Outputs:     run.Outputs,
		SelfHeals:   run.SelfHeals,
		CompletedAt: run.CompletedAt,
	})
	return run, result, err
}

// Name returns the managed deployment name.
func (s Service) Name() string {
	return s.reconciler.Name()
}

// ListRuns returns recent runs for the managed deployment, newest first.
func (s Service) ListRuns(ctx context.Context, limit int) ([]domain.ReconcileRun, error) {
	if s.runs == nil {
		return []domain.ReconcileRun{}, nil
	}
	if limit <= 0 {
		limit = defaultRunLimit
	}
	return s.runs.ListRuns(ctx, s.reconciler.Name(), limit)
}

func (s Service) updateRun(ctx context.Context, update domain.ReconcileRunUpdate) {
	if s.runs == nil {
		return
	}
	if err := s.runs.UpdateRun(ctx, update); err != nil {
		s.logger.Warn("update reconcile run failed", "run_id", update.RunID, "error", err)
	}
}
