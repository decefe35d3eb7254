package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sitecraft/builder-service/internal/models"
)

// MemoryStore keeps websites, domains, tasks and activity in process memory.
// It implements the same methods and conflict rules as the Postgres
// repositories and is used with STORAGE_DRIVER=memory and in tests.
type MemoryStore struct {
	mu       sync.Mutex
	websites map[string]*models.Website
	pages    map[string][]*models.Page
	plugins  map[string][]*models.Plugin
	domains  map[string]*models.Domain
	tasks    map[string]*models.Task
	logs     []*models.ActivityLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		websites: make(map[string]*models.Website),
		pages:    make(map[string][]*models.Page),
		plugins:  make(map[string][]*models.Plugin),
		domains:  make(map[string]*models.Domain),
		tasks:    make(map[string]*models.Task),
	}
}

// ==================== Websites ====================

func (s *MemoryStore) CreateWebsite(_ context.Context, w *models.Website, pages []*models.Page, plugins []*models.Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	w.CreatedAt, w.UpdatedAt = now, now
	if w.Customization == nil {
		w.Customization = map[string]interface{}{}
	}
	s.websites[w.ID] = w.Clone()

	for _, p := range pages {
		cp := *p
		cp.CreatedAt, cp.UpdatedAt = now, now
		s.pages[w.ID] = append(s.pages[w.ID], &cp)
	}
	for _, p := range plugins {
		cp := *p
		cp.CreatedAt, cp.UpdatedAt = now, now
		s.plugins[w.ID] = append(s.plugins[w.ID], &cp)
	}
	return nil
}

func (s *MemoryStore) GetWebsite(_ context.Context, id string) (*models.Website, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.websites[id]
	if !ok {
		return nil, ErrNotFound
	}
	return w.Clone(), nil
}

func (s *MemoryStore) ListWebsitesByUser(_ context.Context, userID string) ([]*models.Website, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Website
	for _, w := range s.websites {
		if w.UserID == userID && w.Status != models.WebsiteStatusArchived {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ArchiveWebsite(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.websites[id]
	if !ok {
		return ErrNotFound
	}
	w.Status = models.WebsiteStatusArchived
	w.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) PublishWebsite(_ context.Context, id string, d models.Deployment, a *models.Analytics, task *models.Task) (*models.Website, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.websites[id]
	if !ok || w.Status != models.WebsiteStatusDraft {
		return nil, ErrStateConflict
	}
	dom := s.domainByWebsite(id)
	if dom == nil || dom.Status != models.DomainStatusActive {
		return nil, ErrStateConflict
	}

	published := d.Timestamp
	w.Status = models.WebsiteStatusPublished
	w.PublishedAt = &published
	w.Customization[models.CustomizationDeploymentKey] = d
	if a != nil {
		cp := *a
		w.Analytics = &cp
	} else {
		w.Analytics = nil
	}
	w.UpdatedAt = time.Now()

	s.putTask(task)
	return w.Clone(), nil
}

func (s *MemoryStore) ReconcilePublishFlags(_ context.Context, id string, at time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pages, plugins int
	for _, p := range s.pages[id] {
		if !p.Published {
			continue
		}
		if p.PublishedAt == nil {
			t := at
			p.PublishedAt = &t
			p.UpdatedAt = time.Now()
		}
		pages++
	}
	for _, p := range s.plugins[id] {
		if p.Active {
			plugins++
		}
	}
	return pages, plugins, nil
}

func (s *MemoryStore) RecordAnalytics(_ context.Context, id string, a *models.Analytics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.websites[id]
	if !ok {
		return ErrNotFound
	}
	if a != nil {
		cp := *a
		w.Analytics = &cp
	} else {
		w.Analytics = nil
	}
	w.UpdatedAt = time.Now()
	return nil
}

// Pages returns copies of the website's pages.
func (s *MemoryStore) Pages(websiteID string) []models.Page {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Page, 0, len(s.pages[websiteID]))
	for _, p := range s.pages[websiteID] {
		out = append(out, *p)
	}
	return out
}

// ==================== Domains ====================

func (s *MemoryStore) AttachDomain(_ context.Context, d *models.Domain, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Name first, over the whole map, so the error does not depend on
	// iteration order.
	for _, existing := range s.domains {
		if existing.Name == d.Name {
			return ErrDomainNameTaken
		}
	}
	if s.domainByWebsite(d.WebsiteID) != nil {
		return ErrWebsiteHasDomain
	}

	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	cp := *d
	s.domains[d.ID] = &cp
	s.putTask(task)
	return nil
}

func (s *MemoryStore) GetDomain(_ context.Context, id string) (*models.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) GetDomainByWebsite(_ context.Context, websiteID string) (*models.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.domainByWebsite(websiteID)
	if d == nil {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) DomainNameExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.domains {
		if d.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ActivateDomain(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[id]
	if !ok || d.Status != models.DomainStatusPending {
		return false, nil
	}
	activated := at
	d.Status = models.DomainStatusActive
	d.SSLEnabled = true
	d.ActivatedAt = &activated
	d.FailureReason = nil
	d.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) FailDomain(_ context.Context, id, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[id]
	if !ok || d.Status != models.DomainStatusPending {
		return false, nil
	}
	d.Status = models.DomainStatusFailed
	d.FailureReason = &reason
	d.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) DetachDomain(_ context.Context, websiteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.websites[websiteID]; ok && w.Status == models.WebsiteStatusPublished {
		return ErrStateConflict
	}
	d := s.domainByWebsite(websiteID)
	if d == nil {
		return ErrNotFound
	}
	delete(s.domains, d.ID)
	return nil
}

func (s *MemoryStore) domainByWebsite(websiteID string) *models.Domain {
	for _, d := range s.domains {
		if d.WebsiteID == websiteID {
			return d
		}
	}
	return nil
}

// ==================== Tasks ====================

func (s *MemoryStore) putTask(t *models.Task) {
	if t == nil {
		return
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	s.tasks[t.ID] = &cp
}

func (s *MemoryStore) ClaimDueTasks(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Task
	for _, t := range s.tasks {
		pending := t.Status == models.TaskStatusPending && !t.RunAt.After(now)
		expired := t.Status == models.TaskStatusRunning && t.LockedUntil != nil && t.LockedUntil.Before(now)
		if pending || expired {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	lockedUntil := now.Add(lease)
	out := make([]*models.Task, 0, len(due))
	for _, t := range due {
		t.Status = models.TaskStatusRunning
		t.Attempts++
		until := lockedUntil
		t.LockedUntil = &until
		t.UpdatedAt = time.Now()
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) CompleteTask(_ context.Context, id string, at time.Time) error {
	return s.finishTask(id, func(t *models.Task) {
		done := at
		t.Status = models.TaskStatusDone
		t.CompletedAt = &done
	})
}

func (s *MemoryStore) RetryTask(_ context.Context, id string, runAt time.Time, lastErr string) error {
	return s.finishTask(id, func(t *models.Task) {
		t.Status = models.TaskStatusPending
		t.RunAt = runAt
		t.LastError = &lastErr
	})
}

func (s *MemoryStore) FailTask(_ context.Context, id string, at time.Time, lastErr string) error {
	return s.finishTask(id, func(t *models.Task) {
		done := at
		t.Status = models.TaskStatusFailed
		t.CompletedAt = &done
		t.LastError = &lastErr
	})
}

func (s *MemoryStore) finishTask(id string, apply func(*models.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	apply(t)
	t.LockedUntil = nil
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListTasks(_ context.Context, status string, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var out []*models.Task
	for _, t := range s.tasks {
		if status == "" || t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ==================== Activity ====================

func (s *MemoryStore) LogAction(ctx context.Context, subjectID, action, status, message string) error {
	return s.LogActionWithMetadata(ctx, subjectID, action, status, message, nil)
}

func (s *MemoryStore) LogActionWithMetadata(_ context.Context, subjectID, action, status, message string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, &models.ActivityLog{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Action:    action,
		Status:    status,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) ListActivity(_ context.Context, subjectID string, limit int) ([]*models.ActivityLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var out []*models.ActivityLog
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.logs[i].SubjectID == subjectID {
			cp := *s.logs[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
