package jobs

import (
	"context"
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

const (
	defaultFailureMessage = "Unknown error"
	stoppedMessage        = "job was stopped before completion"
)

// StatusReader maps platform job states onto domain.JobState.
type StatusReader struct {
	client platform.CustomizationClient
	jobs   repository.JobRepository
	logger *slog.Logger
	grace  time.Duration
	now    func() time.Time
}

// NewStatusReader returns a status reader. jobs may be nil, in which case a job the
// platform does not list is always reported as PENDING_VISIBILITY.
func NewStatusReader(client platform.CustomizationClient, jobs repository.JobRepository, logger *slog.Logger, cfg config.APIConfig) StatusReader {
	return StatusReader{
		client: client,
		jobs:   jobs,
		logger: logger,
		grace:  cfg.JobVisibilityGrace,
		now:    time.Now,
	}
}

// Status reports the state of the job identified by an ARN or bare job name.
func (r StatusReader) Status(ctx context.Context, jobArn string) (domain.JobStatus, error) {
	jobArn = strings.TrimSpace(jobArn)
	name := JobName(jobArn)
	if name == "" {
		return domain.JobStatus{}, fmt.Errorf("%w: job arn is required", ErrInvalidInput)
	}

	state, err := r.client.GetJob(ctx, name)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return r.notVisible(ctx, jobArn, name, err)
		}
		return domain.JobStatus{}, err
	}

	status := domain.JobStatus{JobArn: jobArn}
	switch state.Status {
	case "InProgress":
		status.Status = domain.JobInProgress
	case "Completed":
		status.Status = domain.JobCompleted
		status.CompletedModelID = state.OutputModelArn
	case "Failed":
		status.Status = domain.JobFailed
		status.FailureMessage = state.FailureMessage
		if status.FailureMessage == "" {
			status.FailureMessage = defaultFailureMessage
		}
	case "Stopping", "Stopped":
		status.Status = domain.JobFailed
		status.FailureMessage = stoppedMessage
	default:
		status.Status = domain.JobQueued
	}
	return status, nil
}

func (r StatusReader) notVisible(ctx context.Context, jobArn, name string, cause error) (domain.JobStatus, error) {
	if r.jobs != nil && r.grace > 0 {
		job, err := r.jobs.GetJob(ctx, name)
		switch {
		case err == nil:
			if age := r.now().Sub(job.LaunchedAt); age > r.grace {
				r.logger.Warn("customization job missing after grace period", "job_name", name, "age", age)
				return domain.JobStatus{}, fmt.Errorf("%w: %s launched %s ago: %w", ErrJobNotFound, name, age.Round(time.Second), cause)
			}
		case errors.Is(err, repository.ErrNotFound):
		default:
			r.logger.Warn("failed to look up customization job", "job_name", name, "error", err)
		}
	}
	return domain.JobStatus{JobArn: jobArn, Status: domain.JobPendingVisibility}, nil
}

// JobName returns the last path segment of a job ARN.
func JobName(jobArn string) string {
	if i := strings.LastIndex(jobArn, "/"); i >= 0 {
		return jobArn[i+1:]
	}
	return jobArn
}
