package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sitecraft/builder-service/internal/models"
)

type LogRepository struct {
	pool *pgxpool.Pool
}

func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Create creates a new activity log entry
func (r *LogRepository) Create(ctx context.Context, entry *models.ActivityLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO activity_logs (id, subject_id, action, status, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.SubjectID, entry.Action, entry.Status, entry.Message, entry.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}

	return nil
}

// ListActivity retrieves the latest logs for a subject
func (r *LogRepository) ListActivity(ctx context.Context, subjectID string, limit int) ([]*models.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, subject_id, action, status, message, metadata, created_at
		FROM activity_logs
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.ActivityLog
	for rows.Next() {
		entry := &models.ActivityLog{}
		err := rows.Scan(
			&entry.ID, &entry.SubjectID, &entry.Action, &entry.Status,
			&entry.Message, &entry.Metadata, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// LogAction is a helper to log an action
func (r *LogRepository) LogAction(ctx context.Context, subjectID, action, status, message string) error {
	return r.Create(ctx, &models.ActivityLog{
		SubjectID: subjectID,
		Action:    action,
		Status:    status,
		Message:   message,
	})
}

// LogActionWithMetadata is a helper to log an action with metadata
func (r *LogRepository) LogActionWithMetadata(ctx context.Context, subjectID, action, status, message string, metadata map[string]interface{}) error {
	return r.Create(ctx, &models.ActivityLog{
		SubjectID: subjectID,
		Action:    action,
		Status:    status,
		Message:   message,
		Metadata:  metadata,
	})
}
