package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sitecraft/builder-service/internal/metrics"
	"github.com/sitecraft/builder-service/internal/models"
	"github.com/sitecraft/builder-service/internal/repository"
)

const (
	defaultTemplateID = "blank"
	maxWebsiteNameLen = 100
	activityListLimit = 50
)

// WebsiteService handles website CRUD around the provisioning lifecycle
type WebsiteService struct {
	websites WebsiteStore
	domains  DomainStore
	activity ActivityStore
	metrics  *metrics.Collector
}

// NewWebsiteService creates a new website service
func NewWebsiteService(websites WebsiteStore, domains DomainStore, activity ActivityStore, m *metrics.Collector) *WebsiteService {
	return &WebsiteService{
		websites: websites,
		domains:  domains,
		activity: activity,
		metrics:  m,
	}
}

// CreateWebsite creates a DRAFT website seeded from a template
func (s *WebsiteService) CreateWebsite(ctx context.Context, userID string, req *models.CreateWebsiteRequest) (*models.Website, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	if utf8.RuneCountInString(name) > maxWebsiteNameLen {
		return nil, invalid(fmt.Sprintf("name must be at most %d characters", maxWebsiteNameLen))
	}

	templateID := req.TemplateID
	if templateID == "" {
		templateID = defaultTemplateID
	}
	tmpl, ok := models.FindTemplate(templateID)
	if !ok {
		return nil, ErrUnknownTemplate
	}

	w := &models.Website{
		ID:            uuid.New().String(),
		UserID:        userID,
		Name:          name,
		TemplateID:    tmpl.ID,
		Status:        models.WebsiteStatusDraft,
		Customization: map[string]interface{}{},
	}

	pages := make([]*models.Page, 0, len(tmpl.Pages))
	for _, p := range tmpl.Pages {
		pages = append(pages, &models.Page{
			ID:        uuid.New().String(),
			WebsiteID: w.ID,
			Title:     p.Title,
			Slug:      p.Slug,
			Published: true,
		})
	}
	plugins := make([]*models.Plugin, 0, len(tmpl.Plugins))
	for _, plugin := range tmpl.Plugins {
		plugins = append(plugins, &models.Plugin{
			ID:        uuid.New().String(),
			WebsiteID: w.ID,
			Name:      plugin,
			Active:    true,
		})
	}

	if err := s.websites.CreateWebsite(ctx, w, pages, plugins); err != nil {
		return nil, fmt.Errorf("create website: %w", err)
	}

	log.Printf("[Website] Created website %s (template: %s) for user %s", w.ID, tmpl.ID, userID)
	logActivity(ctx, s.activity, w.ID, "website_created", "success",
		fmt.Sprintf("Website %q created from template %s", name, tmpl.ID), nil)
	s.metrics.RecordTransition("website", models.WebsiteStatusDraft)

	return w, nil
}

// ListWebsites returns the user's websites that are not archived
func (s *WebsiteService) ListWebsites(ctx context.Context, userID string) ([]*models.Website, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	websites, err := s.websites.ListWebsitesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list websites: %w", err)
	}
	return websites, nil
}

// GetWebsite returns the website and its domain, which may be nil
func (s *WebsiteService) GetWebsite(ctx context.Context, userID, websiteID string) (*models.Website, *models.Domain, error) {
	w, err := loadOwnedWebsite(ctx, s.websites, userID, websiteID)
	if err != nil {
		return nil, nil, err
	}

	d, err := s.domains.GetDomainByWebsite(ctx, w.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("get domain: %w", err)
		}
		d = nil
	}
	return w, d, nil
}

// ArchiveWebsite moves a website to ARCHIVED from any state
func (s *WebsiteService) ArchiveWebsite(ctx context.Context, userID, websiteID string) error {
	w, err := loadOwnedWebsite(ctx, s.websites, userID, websiteID)
	if err != nil {
		return err
	}
	if w.Status == models.WebsiteStatusArchived {
		return nil
	}

	if err := s.websites.ArchiveWebsite(ctx, w.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrWebsiteNotFound
		}
		return fmt.Errorf("archive website: %w", err)
	}

	log.Printf("[Website] Archived website %s (was %s)", w.ID, w.Status)
	logActivity(ctx, s.activity, w.ID, "website_archived", "success", "Website archived", nil)
	s.metrics.RecordTransition("website", models.WebsiteStatusArchived)
	return nil
}

// ListTemplates returns the template catalog
func (s *WebsiteService) ListTemplates() []models.Template {
	return models.Templates()
}

// ListActivity returns the latest activity of a website, newest first
func (s *WebsiteService) ListActivity(ctx context.Context, userID, websiteID string) ([]*models.ActivityLog, error) {
	w, err := loadOwnedWebsite(ctx, s.websites, userID, websiteID)
	if err != nil {
		return nil, err
	}
	logs, err := s.activity.ListActivity(ctx, w.ID, activityListLimit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return logs, nil
}
