package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sitecraft/builder-service/internal/models"
)

const taskColumns = `id, kind, subject_id, status, attempts, max_attempts, run_at, locked_until,
	last_error, created_at, updated_at, completed_at`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// insertTask is used inside the transaction of the write that schedules the task.
func insertTask(ctx context.Context, db execer, t *models.Task) error {
	_, err := db.Exec(ctx, `
		INSERT INTO provision_tasks (id, kind, subject_id, status, attempts, max_attempts, run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.Kind, t.SubjectID, t.Status, t.Attempts, t.MaxAttempts, t.RunAt)
	if err != nil {
		return fmt.Errorf("insert provision task: %w", err)
	}
	return nil
}

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// ClaimDueTasks leases up to limit tasks that are due, or whose previous lease
// expired, and counts the attempt. Concurrent workers never claim the same row.
func (r *TaskRepository) ClaimDueTasks(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Task, error) {
	query := `
		UPDATE provision_tasks t SET
			status = 'running',
			attempts = t.attempts + 1,
			locked_until = $2,
			updated_at = NOW()
		WHERE t.id IN (
			SELECT id FROM provision_tasks
			WHERE (status = 'pending' AND run_at <= $1)
			   OR (status = 'running' AND locked_until < $1)
			ORDER BY run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns
	rows, err := r.pool.Query(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim provision tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *TaskRepository) CompleteTask(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE provision_tasks SET status = 'done', locked_until = NULL, completed_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("complete provision task: %w", err)
	}
	return nil
}

func (r *TaskRepository) RetryTask(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE provision_tasks SET status = 'pending', locked_until = NULL, run_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, runAt, lastErr)
	if err != nil {
		return fmt.Errorf("reschedule provision task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FailTask(ctx context.Context, id string, at time.Time, lastErr string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE provision_tasks SET status = 'failed', locked_until = NULL, last_error = $3, completed_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at, lastErr)
	if err != nil {
		return fmt.Errorf("fail provision task: %w", err)
	}
	return nil
}

// ListTasks returns the most recent tasks, optionally filtered by status.
func (r *TaskRepository) ListTasks(ctx context.Context, status string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + taskColumns + `
		FROM provision_tasks
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query provision tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows pgx.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		t := &models.Task{}
		err := rows.Scan(
			&t.ID, &t.Kind, &t.SubjectID, &t.Status, &t.Attempts, &t.MaxAttempts, &t.RunAt, &t.LockedUntil,
			&t.LastError, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan provision task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
