package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sitecraft/builder-service/internal/models"
)

const websiteColumns = `id, user_id, name, template_id, status, customization, analytics,
	published_at, created_at, updated_at`

type WebsiteRepository struct {
	pool *pgxpool.Pool
}

func NewWebsiteRepository(pool *pgxpool.Pool) *WebsiteRepository {
	return &WebsiteRepository{pool: pool}
}

// CreateWebsite inserts the website together with its template pages and plugins.
func (r *WebsiteRepository) CreateWebsite(ctx context.Context, w *models.Website, pages []*models.Page, plugins []*models.Plugin) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if w.Customization == nil {
		w.Customization = map[string]interface{}{}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO websites (id, user_id, name, template_id, status, customization)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, w.ID, w.UserID, w.Name, w.TemplateID, w.Status, w.Customization).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert website: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range pages {
		batch.Queue(`
			INSERT INTO pages (id, website_id, title, slug, published)
			VALUES ($1, $2, $3, $4, $5)
		`, p.ID, p.WebsiteID, p.Title, p.Slug, p.Published)
	}
	for _, p := range plugins {
		batch.Queue(`
			INSERT INTO plugins (id, website_id, name, active)
			VALUES ($1, $2, $3, $4)
		`, p.ID, p.WebsiteID, p.Name, p.Active)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert pages and plugins: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *WebsiteRepository) GetWebsite(ctx context.Context, id string) (*models.Website, error) {
	query := `SELECT ` + websiteColumns + ` FROM websites WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// ListWebsitesByUser returns the user's websites that are not archived, newest first.
func (r *WebsiteRepository) ListWebsitesByUser(ctx context.Context, userID string) ([]*models.Website, error) {
	query := `
		SELECT ` + websiteColumns + `
		FROM websites
		WHERE user_id = $1 AND status != 'ARCHIVED'
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query websites: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *WebsiteRepository) ArchiveWebsite(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE websites SET status = 'ARCHIVED', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("archive website: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PublishWebsite moves a DRAFT website with an ACTIVE domain to PUBLISHED and
// enqueues its finalization task in the same transaction. ErrStateConflict
// means the row no longer satisfied the launch preconditions.
func (r *WebsiteRepository) PublishWebsite(ctx context.Context, id string, d models.Deployment, a *models.Analytics, task *models.Task) (*models.Website, error) {
	stamp, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal deployment: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The conditional update below runs on a fresh snapshot once the row
	// lock is held, so a concurrent detach is either seen or waits for us.
	if err := lockWebsiteDraft(ctx, tx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrStateConflict
		}
		return nil, err
	}

	query := `
		UPDATE websites w SET
			status = 'PUBLISHED',
			published_at = $2,
			customization = COALESCE(w.customization, '{}'::jsonb) || jsonb_build_object('deployment', $3::jsonb),
			analytics = $4,
			updated_at = NOW()
		WHERE w.id = $1
		  AND w.status = 'DRAFT'
		  AND EXISTS (SELECT 1 FROM domains d WHERE d.website_id = w.id AND d.status = 'ACTIVE')
		RETURNING ` + websiteColumns
	w, err := r.scanOne(tx.QueryRow(ctx, query, id, d.Timestamp, string(stamp), a))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrStateConflict
		}
		return nil, err
	}

	if err := insertTask(ctx, tx, task); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit publish: %w", err)
	}
	return w, nil
}

// ReconcilePublishFlags stamps published_at on published pages that lack it
// and returns the published page and active plugin counts.
func (r *WebsiteRepository) ReconcilePublishFlags(ctx context.Context, id string, at time.Time) (int, int, error) {
	_, err := r.pool.Exec(ctx, `
		UPDATE pages SET published_at = $2, updated_at = NOW()
		WHERE website_id = $1 AND published AND published_at IS NULL
	`, id, at)
	if err != nil {
		return 0, 0, fmt.Errorf("reconcile pages: %w", err)
	}

	var pages, plugins int
	err = r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM pages WHERE website_id = $1 AND published),
			(SELECT COUNT(*) FROM plugins WHERE website_id = $1 AND active)
	`, id).Scan(&pages, &plugins)
	if err != nil {
		return 0, 0, fmt.Errorf("count published content: %w", err)
	}
	return pages, plugins, nil
}

func (r *WebsiteRepository) RecordAnalytics(ctx context.Context, id string, a *models.Analytics) error {
	tag, err := r.pool.Exec(ctx, `UPDATE websites SET analytics = $2, updated_at = NOW() WHERE id = $1`, id, a)
	if err != nil {
		return fmt.Errorf("update analytics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *WebsiteRepository) scanOne(row pgx.Row) (*models.Website, error) {
	w := &models.Website{}
	err := row.Scan(
		&w.ID, &w.UserID, &w.Name, &w.TemplateID, &w.Status, &w.Customization, &w.Analytics,
		&w.PublishedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan website: %w", err)
	}
	return w, nil
}

func (r *WebsiteRepository) scanMany(rows pgx.Rows) ([]*models.Website, error) {
	var results []*models.Website
	for rows.Next() {
		w := &models.Website{}
		err := rows.Scan(
			&w.ID, &w.UserID, &w.Name, &w.TemplateID, &w.Status, &w.Customization, &w.Analytics,
			&w.PublishedAt, &w.CreatedAt, &w.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan website row: %w", err)
		}
		results = append(results, w)
	}
	return results, rows.Err()
}
