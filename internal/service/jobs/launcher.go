// Package jobs starts fine-tuning jobs and reports their progress.
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
	jobNamePrefix = "llm-tune"
	pendingModel  = "pending"

	// timestampLayout matches the millisecond ISO timestamps orchestrators pass in.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var (
	// ErrInvalidInput indicates the launch request lacks an account or bucket.
	ErrInvalidInput = errors.New("jobs: invalid input")
	// ErrJobNotFound indicates the platform still does not list a job well after launch.
	ErrJobNotFound = errors.New("jobs: customization job not found")
)

// DefaultHyperParameters are the fixed fine-tuning settings.
var DefaultHyperParameters = map[string]string{
	"epochCount":   "3",
	"batchSize":    "8",
	"learningRate": "0.00001",
}

// StartInput is a launch request. Empty fields fall back to configuration.
type StartInput struct {
	AccountID         string `json:"accountId"`
	Timestamp         string `json:"timestamp"`
	BaseModelID       string `json:"baseModelId,omitempty"`
	IncludeValidation bool   `json:"includeValidation,omitempty"`
}

// Launcher submits fine-tuning jobs.
type Launcher struct {
	client platform.CustomizationClient
	jobs   repository.JobRepository
	logger *slog.Logger
	cfg    config.APIConfig
	now    func() time.Time
}

// NewLauncher returns a launcher. jobs may be nil when no database is configured.
func NewLauncher(client platform.CustomizationClient, jobs repository.JobRepository, logger *slog.Logger, cfg config.APIConfig) Launcher {
	return Launcher{
		client: client,
		jobs:   jobs,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Start submits a job named after the cleaned timestamp. The returned handle carries
// ModelArn "pending"; the model ARN is known only once the job completes.
func (l Launcher) Start(ctx context.Context, in StartInput) (*domain.CustomizationJob, error) {
	bucket, roleARN := l.cfg.TrainingBucket, l.cfg.TrainingRoleARN
	if account := strings.TrimSpace(in.AccountID); account != "" {
		bucket = config.TrainingBucketName(account)
		roleARN = fmt.Sprintf("arn:aws:iam::%s:role/BedrockFineTuningRole", account)
	}
	if bucket == "" || roleARN == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}

	now := l.now().UTC()
	stamp := strings.TrimSpace(in.Timestamp)
	if stamp == "" {
		stamp = now.Format(timestampLayout)
	}
	suffix := CleanTimestamp(stamp)
	baseModel := strings.TrimSpace(in.BaseModelID)
	if baseModel == "" {
		baseModel = l.cfg.BaseModelID
	}
	prefix := l.cfg.CustomModelPrefix
	if prefix == "" {
		prefix = "custom-model"
	}

	req := platform.CustomizationJobInput{
		JobName:         jobNamePrefix + "-" + suffix,
		CustomModelName: prefix + "-" + suffix,
		BaseModelID:     baseModel,
		RoleARN:         roleARN,
		TrainingDataURI: fmt.Sprintf("s3://%s/train.jsonl", bucket),
		OutputDataURI:   fmt.Sprintf("s3://%s/output/", bucket),
		HyperParameters: DefaultHyperParameters,
	}
	if in.IncludeValidation {
		req.ValidationDataURI = fmt.Sprintf("s3://%s/eval.jsonl", bucket)
	}

	jobArn, err := l.client.CreateJob(ctx, req)
	if err != nil {
		l.logger.Error("customization job submission failed", "job_name", req.JobName, "error", err)
		return nil, err
	}
	job := &domain.CustomizationJob{
		JobArn:          jobArn,
		JobName:         req.JobName,
		CustomModelName: req.CustomModelName,
		BaseModelID:     baseModel,
		ModelArn:        pendingModel,
		LaunchedAt:      now,
	}
	if l.jobs != nil {
		if err := l.jobs.RecordJob(ctx, *job); err != nil {
			l.logger.Warn("failed to record customization job", "job_name", job.JobName, "error", err)
		}
	}
	l.logger.Info("customization job started", "job_name", job.JobName, "job_arn", jobArn, "base_model", baseModel)
	return job, nil
}

// CleanTimestamp turns an ISO timestamp into a name-safe suffix.
func CleanTimestamp(ts string) string {
	return strings.NewReplacer(":", "-", ".", "-", "T", "-", "Z", "").Replace(ts)
}
