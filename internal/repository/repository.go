package repository

import (
	"context"

	"github.com/evanshlom/AwsAiProd/internal/domain"
)

// ConversationRepository persists chat turns keyed by session and millisecond timestamp.
type ConversationRepository interface {
	AppendMessages(ctx context.Context, records []domain.ConversationRecord) error
	ListMessages(ctx context.Context, sessionID string) ([]domain.ConversationRecord, error)
}

// ReconcileRunRepository stores the audit trail of deployment reconciles.
type ReconcileRunRepository interface {
	CreateRun(ctx context.Context, run *domain.ReconcileRun) error
	UpdateRun(ctx context.Context, update domain.ReconcileRunUpdate) error
	ListRuns(ctx context.Context, deploymentName string, limit int) ([]domain.ReconcileRun, error)
}

// JobRepository records launched customization jobs.
type JobRepository interface {
	RecordJob(ctx context.Context, job domain.CustomizationJob) error
	GetJob(ctx context.Context, jobName string) (*domain.CustomizationJob, error)
}
