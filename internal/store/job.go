package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"alphaforge.app/scout/core/db"
	"alphaforge.app/scout/internal/model"
)

const jobColumns = `id, mode, status, priority, cost_class, provider, scheduled_for,
	context_snapshot, trace_id, retry_count, max_retries, deferred_reason,
	error_message, result, created_at, started_at, finished_at`

type jobStore struct {
	q db.Querier
}

func (s *jobStore) Create(ctx context.Context, job *model.ResearchJob) error {
	var result []byte
	if job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("encode result summary: %w", err)
		}
		result = data
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO research_jobs (
			id, mode, status, priority, cost_class, provider, scheduled_for,
			context_snapshot, trace_id, retry_count, max_retries, deferred_reason,
			error_message, result, created_at, started_at, finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		job.ID,
		string(job.Mode),
		string(job.Status),
		job.Priority,
		string(job.CostClass),
		job.Provider,
		job.ScheduledFor,
		job.ContextSnapshot,
		job.TraceID,
		job.RetryCount,
		job.MaxRetries,
		job.DeferredReason,
		job.ErrorMessage,
		result,
		job.CreatedAt,
		job.StartedAt,
		job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *jobStore) GetByID(ctx context.Context, id int64) (*model.ResearchJob, error) {
	row := s.q.QueryRow(ctx, `SELECT `+jobColumns+` FROM research_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (s *jobStore) List(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + jobColumns + ` FROM research_jobs`)

	args := make([]any, 0, 3)
	conds := make([]string, 0, 2)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Mode != nil {
		args = append(args, string(*filter.Mode))
		conds = append(conds, fmt.Sprintf("mode = $%d", len(args)))
	}
	if len(conds) > 0 {
		query.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)))

	rows, err := s.q.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (s *jobStore) ListRunnable(ctx context.Context, now time.Time, limit int) ([]model.ResearchJob, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+jobColumns+`
		FROM research_jobs
		WHERE status = 'queued'
		  AND (scheduled_for IS NULL OR scheduled_for <= $1)
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list runnable jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (s *jobStore) OldestDeferred(ctx context.Context, mode model.Mode) (*model.ResearchJob, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM research_jobs
		WHERE status = 'deferred' AND mode = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, string(mode))

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query deferred job: %w", err)
	}
	return job, nil
}

func (s *jobStore) ClaimQueued(ctx context.Context, id int64, startedAt time.Time) (bool, error) {
	command, err := s.q.Exec(ctx, `
		UPDATE research_jobs
		SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'queued'
	`, id, startedAt)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return command.RowsAffected() == 1, nil
}

func (s *jobStore) Promote(ctx context.Context, id int64, scheduledFor time.Time) error {
	command, err := s.q.Exec(ctx, `
		UPDATE research_jobs
		SET status = 'queued', scheduled_for = $2, deferred_reason = NULL
		WHERE id = $1 AND status = 'deferred'
	`, id, scheduledFor)
	if err != nil {
		return fmt.Errorf("promote job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *jobStore) Requeue(ctx context.Context, id int64, retryCount int, scheduledFor time.Time) error {
	command, err := s.q.Exec(ctx, `
		UPDATE research_jobs
		SET status = 'queued', retry_count = $2, scheduled_for = $3, started_at = NULL
		WHERE id = $1 AND status = 'running'
	`, id, retryCount, scheduledFor)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *jobStore) MarkCompleted(ctx context.Context, id int64, retryCount int, result *model.ResultSummary, finishedAt time.Time) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result summary: %w", err)
	}

	command, err := s.q.Exec(ctx, `
		UPDATE research_jobs
		SET status = 'completed', retry_count = $2, result = $3, finished_at = $4
		WHERE id = $1 AND status = 'running'
	`, id, retryCount, data, finishedAt)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *jobStore) MarkFailed(ctx context.Context, id int64, retryCount int, errMsg string, finishedAt time.Time) error {
	command, err := s.q.Exec(ctx, `
		UPDATE research_jobs
		SET status = 'failed', retry_count = $2, error_message = $3, finished_at = $4
		WHERE id = $1 AND status = 'running'
	`, id, retryCount, errMsg, finishedAt)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *jobStore) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM research_jobs WHERE status = 'running'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return count, nil
}

func (s *jobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.q.Query(ctx, `SELECT status, COUNT(*) FROM research_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[model.JobStatus(status)] = count
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate status counts: %w", rows.Err())
	}
	return counts, nil
}

func scanJob(row pgx.Row) (*model.ResearchJob, error) {
	var (
		job       model.ResearchJob
		mode      string
		status    string
		costClass string
		snapshot  []byte
		result    []byte
	)

	err := row.Scan(
		&job.ID,
		&mode,
		&status,
		&job.Priority,
		&costClass,
		&job.Provider,
		&job.ScheduledFor,
		&snapshot,
		&job.TraceID,
		&job.RetryCount,
		&job.MaxRetries,
		&job.DeferredReason,
		&job.ErrorMessage,
		&result,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Mode = model.Mode(mode)
	job.Status = model.JobStatus(status)
	job.CostClass = model.CostClass(costClass)
	job.ContextSnapshot = json.RawMessage(snapshot)

	if len(result) > 0 {
		var summary model.ResultSummary
		if err := json.Unmarshal(result, &summary); err != nil {
			return nil, fmt.Errorf("decode result summary: %w", err)
		}
		job.Result = &summary
	}

	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]model.ResearchJob, error) {
	jobs := make([]model.ResearchJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return jobs, nil
}
