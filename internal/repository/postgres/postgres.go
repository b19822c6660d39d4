package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ConversationRepository = (*Repository)(nil)
	_ repository.ReconcileRunRepository = (*Repository)(nil)
	_ repository.JobRepository          = (*Repository)(nil)
)

// AppendMessages inserts conversation records in one transaction.
func (r *Repository) AppendMessages(ctx context.Context, records []domain.ConversationRecord) error {
	if len(records) == 0 {
		return nil
	}
	const query = `INSERT INTO conversation_messages (session_id, ts_ms, role, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, ts_ms) DO UPDATE SET role = EXCLUDED.role, content = EXCLUDED.content`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, rec := range records {
		if strings.TrimSpace(rec.SessionID) == "" {
			return repository.ErrInvalidArgument
		}
		if _, err := tx.Exec(ctx, query, rec.SessionID, rec.Timestamp, rec.Message.Role, rec.Message.Content); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListMessages returns a session's records ordered by timestamp.
func (r *Repository) ListMessages(ctx context.Context, sessionID string) ([]domain.ConversationRecord, error) {
	const query = `SELECT session_id, ts_ms, role, content
		FROM conversation_messages
		WHERE session_id = $1
		ORDER BY ts_ms ASC`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ConversationRecord, 0)
	for rows.Next() {
		var rec domain.ConversationRecord
		if err := rows.Scan(&rec.SessionID, &rec.Timestamp, &rec.Message.Role, &rec.Message.Content); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CreateRun inserts a reconcile run.
func (r *Repository) CreateRun(ctx context.Context, run *domain.ReconcileRun) error {
	const query = `INSERT INTO reconcile_runs (id, deployment_name, model_id, mode, status, reason, error, outputs, self_heals, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	outputs, err := encodeOutputs(run.Outputs)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.DeploymentName,
		run.ModelID,
		string(run.Mode),
		run.Status,
		run.Reason,
		run.Error,
		outputs,
		run.SelfHeals,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrInvalidArgument
		}
		return err
	}
	return nil
}

// UpdateRun records the outcome of a run.
func (r *Repository) UpdateRun(ctx context.Context, update domain.ReconcileRunUpdate) error {
	const query = `UPDATE reconcile_runs
		SET status = $2,
			reason = $3,
			error = $4,
			outputs = COALESCE($5, outputs),
			self_heals = $6,
			completed_at = $7
		WHERE id = $1`
	outputs, err := encodeOutputs(update.Outputs)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, query,
		update.RunID,
		update.Status,
		update.Reason,
		update.Error,
		outputs,
		update.SelfHeals,
		update.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. An empty name lists every deployment.
func (r *Repository) ListRuns(ctx context.Context, deploymentName string, limit int) ([]domain.ReconcileRun, error) {
	const query = `SELECT id, deployment_name, model_id, mode, status, reason, error, outputs, self_heals, started_at, completed_at
		FROM reconcile_runs
		WHERE ($1 = '' OR deployment_name = $1)
		ORDER BY started_at DESC
		LIMIT $2`
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, query, deploymentName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]domain.ReconcileRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// RecordJob upserts a launched customization job.
func (r *Repository) RecordJob(ctx context.Context, job domain.CustomizationJob) error {
	const query = `INSERT INTO customization_jobs (job_name, job_arn, custom_model_name, base_model_id, model_arn, launched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_name) DO UPDATE SET job_arn = EXCLUDED.job_arn, model_arn = EXCLUDED.model_arn`
	if strings.TrimSpace(job.JobName) == "" {
		return repository.ErrInvalidArgument
	}
	_, err := r.pool.Exec(ctx, query, job.JobName, job.JobArn, job.CustomModelName, job.BaseModelID, job.ModelArn, job.LaunchedAt.UTC())
	return err
}

// GetJob fetches a job by name.
func (r *Repository) GetJob(ctx context.Context, jobName string) (*domain.CustomizationJob, error) {
	const query = `SELECT job_name, job_arn, custom_model_name, base_model_id, model_arn, launched_at
		FROM customization_jobs WHERE job_name = $1`
	row := r.pool.QueryRow(ctx, query, strings.TrimSpace(jobName))
	var job domain.CustomizationJob
	if err := row.Scan(&job.JobName, &job.JobArn, &job.CustomModelName, &job.BaseModelID, &job.ModelArn, &job.LaunchedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	job.LaunchedAt = job.LaunchedAt.UTC()
	return &job, nil
}

func scanRun(row pgx.Row) (*domain.ReconcileRun, error) {
	var (
		run         domain.ReconcileRun
		mode        string
		outputs     []byte
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&run.ID,
		&run.DeploymentName,
		&run.ModelID,
		&mode,
		&run.Status,
		&run.Reason,
		&run.Error,
		&outputs,
		&run.SelfHeals,
		&run.StartedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	run.Mode = domain.DeploymentMode(mode)
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &run.Outputs); err != nil {
			return nil, fmt.Errorf("decode run outputs: %w", err)
		}
	}
	run.StartedAt = run.StartedAt.UTC()
	if completedAt.Valid {
		value := completedAt.Time.UTC()
		run.CompletedAt = &value
	}
	return &run, nil
}

func encodeOutputs(outputs map[string]string) ([]byte, error) {
	if outputs == nil {
		return nil, nil
	}
	raw, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("encode run outputs: %w", err)
	}
	return raw, nil
}

// Ping verifies connectivity within a bounded window.
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.pool.Ping(ctx)
}
