package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sitecraft/builder-service/internal/models"
)

const domainColumns = `id, website_id, name, status, ssl_enabled, failure_reason, activated_at, created_at, updated_at`

type DomainRepository struct {
	pool *pgxpool.Pool
}

func NewDomainRepository(pool *pgxpool.Pool) *DomainRepository {
	return &DomainRepository{pool: pool}
}

// AttachDomain inserts the domain and its activation task atomically.
// The unique constraints on name and website_id decide conflicts; there is
// no separate existence check.
func (r *DomainRepository) AttachDomain(ctx context.Context, d *models.Domain, task *models.Task) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO domains (id, website_id, name, status, ssl_enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, d.ID, d.WebsiteID, d.Name, d.Status, d.SSLEnabled).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if mapped := mapDomainConflict(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("insert domain: %w", err)
	}

	if err := insertTask(ctx, tx, task); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *DomainRepository) GetDomain(ctx context.Context, id string) (*models.Domain, error) {
	query := `SELECT ` + domainColumns + ` FROM domains WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *DomainRepository) GetDomainByWebsite(ctx context.Context, websiteID string) (*models.Domain, error) {
	query := `SELECT ` + domainColumns + ` FROM domains WHERE website_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, websiteID))
}

func (r *DomainRepository) DomainNameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM domains WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check domain name: %w", err)
	}
	return exists, nil
}

// ActivateDomain moves a PENDING domain to ACTIVE. It reports false when the
// domain was not PENDING, so re-running activation is harmless.
func (r *DomainRepository) ActivateDomain(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE domains SET status = 'ACTIVE', ssl_enabled = TRUE, activated_at = $2, failure_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("activate domain: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FailDomain moves a PENDING domain to FAILED with reason.
func (r *DomainRepository) FailDomain(ctx context.Context, id, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE domains SET status = 'FAILED', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`, id, reason)
	if err != nil {
		return false, fmt.Errorf("fail domain: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DetachDomain deletes the website's domain. It fails with ErrStateConflict
// when the website is PUBLISHED.
func (r *DomainRepository) DetachDomain(ctx context.Context, websiteID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Same lock order as PublishWebsite: website row first, then its domain.
	if err := lockWebsiteDraft(ctx, tx, websiteID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM domains WHERE website_id = $1`, websiteID)
	if err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit detach: %w", err)
	}
	return nil
}

// lockWebsiteDraft takes the row lock on a website and fails with
// ErrStateConflict once it is published.
func lockWebsiteDraft(ctx context.Context, tx pgx.Tx, websiteID string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM websites WHERE id = $1 FOR UPDATE`, websiteID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock website: %w", err)
	}
	if status == models.WebsiteStatusPublished {
		return ErrStateConflict
	}
	return nil
}

func (r *DomainRepository) scanOne(row pgx.Row) (*models.Domain, error) {
	d := &models.Domain{}
	err := row.Scan(
		&d.ID, &d.WebsiteID, &d.Name, &d.Status, &d.SSLEnabled, &d.FailureReason, &d.ActivatedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan domain: %w", err)
	}
	return d, nil
}
