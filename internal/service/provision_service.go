package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sitecraft/builder-service/internal/client"
	"github.com/sitecraft/builder-service/internal/config"
	"github.com/sitecraft/builder-service/internal/metrics"
	"github.com/sitecraft/builder-service/internal/models"
	"github.com/sitecraft/builder-service/internal/repository"
	"github.com/sitecraft/builder-service/internal/worker"
)

const taskListLimit = 100

// ProvisionService drives domain attachment, activation and website launch.
//
// Website: DRAFT --launch--> PUBLISHED; any --archive--> ARCHIVED.
// Domain:  attach --> PENDING --activate--> ACTIVE, or --give up--> FAILED.
//
// The delayed steps (activation, deployment finalization) are durable tasks
// written in the same transaction as the triggering change and executed by
// the worker through the handlers registered in RegisterHandlers.
type ProvisionService struct {
	cfg         config.ProvisioningConfig
	websites    WebsiteStore
	domains     DomainStore
	activity    ActivityStore
	tasks       TaskLister
	provisioner Provisioner
	metrics     *metrics.Collector
	now         func() time.Time
}

// NewProvisionService creates a new provision service
func NewProvisionService(
	cfg config.ProvisioningConfig,
	websites WebsiteStore,
	domains DomainStore,
	activity ActivityStore,
	tasks TaskLister,
	provisioner Provisioner,
	m *metrics.Collector,
) *ProvisionService {
	return &ProvisionService{
		cfg:         cfg,
		websites:    websites,
		domains:     domains,
		activity:    activity,
		tasks:       tasks,
		provisioner: provisioner,
		metrics:     m,
		now:         time.Now,
	}
}

// ==================== Domain attachment ====================

// AttachDomain attaches a new PENDING domain to the website and schedules its activation
func (s *ProvisionService) AttachDomain(ctx context.Context, userID, websiteID, domainName string) (*models.Domain, error) {
	name := models.NormalizeDomainName(domainName)
	if websiteID == "" || name == "" {
		return nil, invalid("websiteId and domainName are required")
	}
	if !models.ValidDomainName(name) {
		return nil, ErrInvalidDomainName
	}

	w, err := loadOwnedWebsite(ctx, s.websites, userID, websiteID)
	if err != nil {
		return nil, err
	}
	if w.Status == models.WebsiteStatusArchived {
		return nil, ErrWebsiteArchived
	}

	d := &models.Domain{
		ID:         uuid.New().String(),
		WebsiteID:  w.ID,
		Name:       name,
		Status:     models.DomainStatusPending,
		SSLEnabled: false,
	}
	task := s.newTask(models.TaskKindDomainActivation, d.ID, s.now().Add(s.cfg.ActivationDelay))

	if err := s.domains.AttachDomain(ctx, d, task); err != nil {
		switch {
		case errors.Is(err, repository.ErrDomainNameTaken):
			return nil, ErrDomainTaken
		case errors.Is(err, repository.ErrWebsiteHasDomain):
			return nil, ErrWebsiteHasDomain
		}
		return nil, fmt.Errorf("attach domain: %w", err)
	}

	log.Printf("[Provision] Domain %s attached to website %s, activation at %s",
		name, w.ID, task.RunAt.Format(time.RFC3339))
	logActivity(ctx, s.activity, w.ID, "domain_attached", "pending",
		fmt.Sprintf("Domain %s attached, activation scheduled", name), nil)
	s.metrics.RecordTransition("domain", models.DomainStatusPending)

	return d, nil
}

// CheckDomainAvailability reports whether no domain row uses name
func (s *ProvisionService) CheckDomainAvailability(ctx context.Context, domainName string) (*models.DomainAvailabilityResponse, error) {
	name := models.NormalizeDomainName(domainName)
	if name == "" {
		return nil, invalid("name is required")
	}
	if !models.ValidDomainName(name) {
		return nil, ErrInvalidDomainName
	}

	exists, err := s.domains.DomainNameExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check domain availability: %w", err)
	}
	return &models.DomainAvailabilityResponse{Name: name, Available: !exists}, nil
}

// DetachDomain removes the domain of a website that is not published.
// A pending activation for it finds no domain and completes as a no-op.
func (s *ProvisionService) DetachDomain(ctx context.Context, userID, websiteID string) error {
	w, err := loadOwnedWebsite(ctx, s.websites, userID, websiteID)
	if err != nil {
		return err
	}
	if w.Status == models.WebsiteStatusPublished {
		return ErrDomainInUse
	}

	d, err := s.domains.GetDomainByWebsite(ctx, w.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDomainNotFound
		}
		return fmt.Errorf("get domain: %w", err)
	}

	if err := s.domains.DetachDomain(ctx, w.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDomainNotFound
		}
		if errors.Is(err, repository.ErrStateConflict) {
			// launched between the status check and the delete
			return ErrDomainInUse
		}
		return fmt.Errorf("detach domain: %w", err)
	}

	log.Printf("[Provision] Domain %s (%s) detached from website %s", d.Name, d.Status, w.ID)
	logActivity(ctx, s.activity, w.ID, "domain_detached", "success",
		fmt.Sprintf("Domain %s detached", d.Name), nil)
	return nil
}

// ==================== Launch ====================

// Launch publishes a DRAFT website whose domain is ACTIVE and schedules
// deployment finalization
func (s *ProvisionService) Launch(ctx context.Context, userID, websiteID string) (*models.Website, error) {
	w, err := loadOwnedWebsite(ctx, s.websites, userID, websiteID)
	if err != nil {
		return nil, err
	}

	d, err := s.domainOf(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	if err := launchPrecondition(w, d); err != nil {
		return nil, err
	}

	now := s.now()
	deployment := models.Deployment{
		Timestamp:   now,
		Version:     s.cfg.DeployVersion,
		Environment: s.cfg.Environment,
	}
	analytics := &models.Analytics{
		Status:         models.AnalyticsStatusPending,
		LastDeployedAt: &now,
	}
	task := s.newTask(models.TaskKindDeploymentFinalization, w.ID, now.Add(s.cfg.FinalizeDelay))

	published, err := s.websites.PublishWebsite(ctx, w.ID, deployment, analytics, task)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, s.launchConflict(ctx, w.ID)
		}
		return nil, fmt.Errorf("publish website: %w", err)
	}

	log.Printf("[Provision] Website %s launched on %s (version: %s, env: %s)",
		w.ID, d.Name, deployment.Version, deployment.Environment)
	logActivity(ctx, s.activity, w.ID, "website_launched", "success",
		fmt.Sprintf("Website launched on %s", d.Name),
		map[string]interface{}{"version": deployment.Version, "environment": deployment.Environment})
	s.metrics.RecordTransition("website", models.WebsiteStatusPublished)

	return published, nil
}

// GetLaunchStatus returns the website status, domain, deployment stamp and analytics
func (s *ProvisionService) GetLaunchStatus(ctx context.Context, userID, websiteID string) (*models.LaunchStatusResponse, error) {
	w, err := loadOwnedWebsite(ctx, s.websites, userID, websiteID)
	if err != nil {
		return nil, err
	}
	d, err := s.domainOf(ctx, w.ID)
	if err != nil {
		return nil, err
	}

	return &models.LaunchStatusResponse{
		Status:     w.Status,
		Domain:     models.NewDomainResponse(d),
		Deployment: w.Deployment(),
		Analytics:  w.Analytics,
	}, nil
}

// launchPrecondition checks the launch rules in order of precedence.
func launchPrecondition(w *models.Website, d *models.Domain) error {
	switch {
	case w.Status == models.WebsiteStatusPublished:
		return ErrAlreadyPublished
	case w.Status == models.WebsiteStatusArchived:
		return ErrWebsiteArchived
	case d == nil:
		return ErrNoDomain
	case d.Status != models.DomainStatusActive:
		return ErrDomainNotActive
	}
	return nil
}

// launchConflict explains a conditional publish that matched nothing, which
// happens when another request changed the website in between.
func (s *ProvisionService) launchConflict(ctx context.Context, websiteID string) error {
	w, err := s.websites.GetWebsite(ctx, websiteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrWebsiteNotFound
		}
		return fmt.Errorf("reload website: %w", err)
	}
	d, err := s.domainOf(ctx, websiteID)
	if err != nil {
		return err
	}
	if err := launchPrecondition(w, d); err != nil {
		return err
	}
	return ErrConcurrentUpdate
}

// domainOf returns the website's domain or nil when it has none.
func (s *ProvisionService) domainOf(ctx context.Context, websiteID string) (*models.Domain, error) {
	d, err := s.domains.GetDomainByWebsite(ctx, websiteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return d, nil
}

// ==================== Tasks ====================

// ListTasks lists recent provisioning tasks for operators
func (s *ProvisionService) ListTasks(ctx context.Context, status string) ([]*models.Task, error) {
	switch status {
	case "", models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusDone, models.TaskStatusFailed:
	default:
		return nil, invalid(fmt.Sprintf("unknown task status %q", status))
	}

	tasks, err := s.tasks.ListTasks(ctx, status, taskListLimit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// RegisterHandlers wires the delayed transitions into the worker
func (s *ProvisionService) RegisterHandlers(w *worker.Worker) {
	w.Register(models.TaskKindDomainActivation, worker.Handler{
		Handle: s.activateDomain,
		GiveUp: s.failDomainActivation,
	})
	w.Register(models.TaskKindDeploymentFinalization, worker.Handler{
		Handle: s.finalizeDeployment,
		GiveUp: s.failDeploymentFinalization,
	})
}

func (s *ProvisionService) newTask(kind, subjectID string, runAt time.Time) *models.Task {
	return &models.Task{
		ID:          uuid.New().String(),
		Kind:        kind,
		SubjectID:   subjectID,
		Status:      models.TaskStatusPending,
		MaxAttempts: s.cfg.MaxAttempts,
		RunAt:       runAt,
	}
}

// activateDomain registers the domain with the hosting side and moves it
// PENDING -> ACTIVE. Detached or already settled domains are left alone.
func (s *ProvisionService) activateDomain(ctx context.Context, task *models.Task) error {
	d, err := s.domains.GetDomain(ctx, task.SubjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("[Provision] Domain %s no longer exists, skipping activation", task.SubjectID)
			return nil
		}
		return fmt.Errorf("get domain: %w", err)
	}
	if d.Status != models.DomainStatusPending {
		return nil
	}

	_, err = s.provisioner.ProvisionDomain(ctx, &client.ProvisionDomainRequest{
		Domain:    d.Name,
		WebsiteID: d.WebsiteID,
		EnableSSL: true,
	})
	if err != nil {
		return providerError("provision domain", err)
	}

	activated, err := s.domains.ActivateDomain(ctx, d.ID, s.now())
	if err != nil {
		return err
	}
	if activated {
		log.Printf("[Provision] Domain %s is active", d.Name)
		logActivity(ctx, s.activity, d.WebsiteID, "domain_activated", "success",
			fmt.Sprintf("Domain %s is active with SSL", d.Name), nil)
		s.metrics.RecordTransition("domain", models.DomainStatusActive)
	}
	return nil
}

func (s *ProvisionService) failDomainActivation(ctx context.Context, task *models.Task, cause error) error {
	d, err := s.domains.GetDomain(ctx, task.SubjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get domain: %w", err)
	}

	failed, err := s.domains.FailDomain(ctx, d.ID, cause.Error())
	if err != nil {
		return err
	}
	if failed {
		log.Printf("[Provision] Domain %s activation failed: %v", d.Name, cause)
		logActivity(ctx, s.activity, d.WebsiteID, "domain_activation_failed", "failed",
			fmt.Sprintf("Domain %s could not be activated: %v", d.Name, cause), nil)
		s.metrics.RecordTransition("domain", models.DomainStatusFailed)
	}
	return nil
}

// finalizeDeployment publishes the site on the hosting side, reconciles
// publish flags and marks analytics live. Re-running it is harmless.
func (s *ProvisionService) finalizeDeployment(ctx context.Context, task *models.Task) error {
	w, err := s.websites.GetWebsite(ctx, task.SubjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get website: %w", err)
	}
	if w.Status != models.WebsiteStatusPublished {
		log.Printf("[Provision] Website %s is %s, skipping finalization", w.ID, w.Status)
		return nil
	}
	if w.Analytics != nil && w.Analytics.Status == models.AnalyticsStatusLive {
		return nil
	}

	d, err := s.domains.GetDomainByWebsite(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("get domain: %w", err)
	}

	deployment := w.Deployment()
	if deployment == nil {
		deployment = &models.Deployment{Version: s.cfg.DeployVersion, Environment: s.cfg.Environment}
	}
	_, err = s.provisioner.PublishSite(ctx, w.ID, &client.PublishSiteRequest{
		Domain:      d.Name,
		Version:     deployment.Version,
		Environment: deployment.Environment,
	})
	if err != nil {
		return providerError("publish site", err)
	}

	now := s.now()
	pages, plugins, err := s.websites.ReconcilePublishFlags(ctx, w.ID, now)
	if err != nil {
		return err
	}

	analytics := &models.Analytics{
		Status:         models.AnalyticsStatusLive,
		LastDeployedAt: w.PublishedAt,
		PublishedPages: pages,
		ActivePlugins:  plugins,
		FinalizedAt:    &now,
	}
	if err := s.websites.RecordAnalytics(ctx, w.ID, analytics); err != nil {
		return err
	}

	log.Printf("[Provision] Deployment of website %s finalized (pages: %d, plugins: %d)", w.ID, pages, plugins)
	logActivity(ctx, s.activity, w.ID, "deployment_finalized", "success",
		fmt.Sprintf("Deployment finalized with %d pages and %d plugins", pages, plugins), nil)
	return nil
}

// failDeploymentFinalization records the failure in analytics. The website
// stays PUBLISHED.
func (s *ProvisionService) failDeploymentFinalization(ctx context.Context, task *models.Task, cause error) error {
	w, err := s.websites.GetWebsite(ctx, task.SubjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get website: %w", err)
	}

	analytics := &models.Analytics{
		Status:         models.AnalyticsStatusFailed,
		LastDeployedAt: w.PublishedAt,
		FailureReason:  cause.Error(),
	}
	if err := s.websites.RecordAnalytics(ctx, w.ID, analytics); err != nil {
		return err
	}

	log.Printf("[Provision] Deployment of website %s failed: %v", w.ID, cause)
	logActivity(ctx, s.activity, w.ID, "deployment_failed", "failed",
		fmt.Sprintf("Deployment finalization failed: %v", cause), nil)
	return nil
}

func providerError(op string, err error) error {
	err = fmt.Errorf("%s: %w", op, err)
	if errors.Is(err, client.ErrRejected) {
		return worker.Permanent(err)
	}
	return err
}
