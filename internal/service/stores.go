package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sitecraft/builder-service/internal/client"
	"github.com/sitecraft/builder-service/internal/models"
	"github.com/sitecraft/builder-service/internal/repository"
)

// WebsiteStore persists websites with their pages and plugins.
type WebsiteStore interface {
	CreateWebsite(ctx context.Context, w *models.Website, pages []*models.Page, plugins []*models.Plugin) error
	GetWebsite(ctx context.Context, id string) (*models.Website, error)
	ListWebsitesByUser(ctx context.Context, userID string) ([]*models.Website, error)
	ArchiveWebsite(ctx context.Context, id string) error
	PublishWebsite(ctx context.Context, id string, d models.Deployment, a *models.Analytics, task *models.Task) (*models.Website, error)
	ReconcilePublishFlags(ctx context.Context, id string, at time.Time) (pages int, plugins int, err error)
	RecordAnalytics(ctx context.Context, id string, a *models.Analytics) error
}

// DomainStore persists domains. AttachDomain must be a single atomic insert
// that reports repository.ErrDomainNameTaken or repository.ErrWebsiteHasDomain.
type DomainStore interface {
	AttachDomain(ctx context.Context, d *models.Domain, task *models.Task) error
	GetDomain(ctx context.Context, id string) (*models.Domain, error)
	GetDomainByWebsite(ctx context.Context, websiteID string) (*models.Domain, error)
	DomainNameExists(ctx context.Context, name string) (bool, error)
	ActivateDomain(ctx context.Context, id string, at time.Time) (bool, error)
	FailDomain(ctx context.Context, id, reason string) (bool, error)
	DetachDomain(ctx context.Context, websiteID string) error
}

type ActivityStore interface {
	LogAction(ctx context.Context, subjectID, action, status, message string) error
	LogActionWithMetadata(ctx context.Context, subjectID, action, status, message string, metadata map[string]interface{}) error
	ListActivity(ctx context.Context, subjectID string, limit int) ([]*models.ActivityLog, error)
}

type TaskLister interface {
	ListTasks(ctx context.Context, status string, limit int) ([]*models.Task, error)
}

// Provisioner is the hosting side of activation and publishing.
type Provisioner interface {
	ProvisionDomain(ctx context.Context, req *client.ProvisionDomainRequest) (*client.ProvisionDomainResponse, error)
	PublishSite(ctx context.Context, websiteID string, req *client.PublishSiteRequest) (*client.PublishSiteResponse, error)
}

// loadOwnedWebsite resolves the website and checks that userID owns it.
func loadOwnedWebsite(ctx context.Context, websites WebsiteStore, userID, websiteID string) (*models.Website, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if _, err := uuid.Parse(websiteID); err != nil {
		return nil, ErrWebsiteNotFound
	}

	w, err := websites.GetWebsite(ctx, websiteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWebsiteNotFound
		}
		return nil, fmt.Errorf("get website: %w", err)
	}
	if w.UserID != userID {
		return nil, ErrNotOwner
	}
	return w, nil
}

func logActivity(ctx context.Context, activity ActivityStore, subjectID, action, status, message string, metadata map[string]interface{}) {
	var err error
	if metadata != nil {
		err = activity.LogActionWithMetadata(ctx, subjectID, action, status, message, metadata)
	} else {
		err = activity.LogAction(ctx, subjectID, action, status, message)
	}
	if err != nil {
		log.Printf("[Activity] Failed to record %s for %s: %v", action, subjectID, err)
	}
}
