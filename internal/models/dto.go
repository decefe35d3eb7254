package models

import "time"

// ==================== User API DTOs ====================

// CreateWebsiteRequest is the body of POST /api/v1/websites
type CreateWebsiteRequest struct {
	Name       string `json:"name" binding:"required"`
	TemplateID string `json:"templateId"`
}

// AttachDomainRequest is the body of POST /api/v1/domains
type AttachDomainRequest struct {
	WebsiteID  string `json:"websiteId" binding:"required"`
	DomainName string `json:"domainName" binding:"required"`
}

// WebsiteResponse is the public view of a website
type WebsiteResponse struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	TemplateID    string                 `json:"templateId"`
	Status        string                 `json:"status"`
	Customization map[string]interface{} `json:"customization"`
	Domain        *DomainResponse        `json:"domain,omitempty"`
	PublishedAt   *string                `json:"publishedAt,omitempty"`
	CreatedAt     string                 `json:"createdAt"`
	UpdatedAt     string                 `json:"updatedAt"`
}

// DomainResponse is the public view of a domain
type DomainResponse struct {
	ID            string  `json:"id"`
	WebsiteID     string  `json:"websiteId"`
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	SSLEnabled    bool    `json:"sslEnabled"`
	FailureReason *string `json:"failureReason,omitempty"`
	ActivatedAt   *string `json:"activatedAt,omitempty"`
	CreatedAt     string  `json:"createdAt"`
}

// DomainAvailabilityResponse is returned by GET /api/v1/domains?name=
type DomainAvailabilityResponse struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// LaunchStatusResponse is returned by GET /api/v1/websites/:id/launch
type LaunchStatusResponse struct {
	Status     string          `json:"status"`
	Domain     *DomainResponse `json:"domain"`
	Deployment *Deployment     `json:"deployment"`
	Analytics  *Analytics      `json:"analytics"`
}

// ActivityResponse is one activity log entry
type ActivityResponse struct {
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt string                 `json:"createdAt"`
}

// ==================== Internal API DTOs ====================

// TaskResponse is the ops view of a provisioning task
type TaskResponse struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	SubjectID   string  `json:"subjectId"`
	Status      string  `json:"status"`
	Attempts    int     `json:"attempts"`
	MaxAttempts int     `json:"maxAttempts"`
	RunAt       string  `json:"runAt"`
	LastError   *string `json:"lastError,omitempty"`
	CompletedAt *string `json:"completedAt,omitempty"`
}

// ==================== Converters ====================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// NewDomainResponse returns nil for a nil domain
func NewDomainResponse(d *Domain) *DomainResponse {
	if d == nil {
		return nil
	}
	return &DomainResponse{
		ID:            d.ID,
		WebsiteID:     d.WebsiteID,
		Name:          d.Name,
		Status:        d.Status,
		SSLEnabled:    d.SSLEnabled,
		FailureReason: d.FailureReason,
		ActivatedAt:   formatTimePtr(d.ActivatedAt),
		CreatedAt:     formatTime(d.CreatedAt),
	}
}

func NewWebsiteResponse(w *Website, d *Domain) *WebsiteResponse {
	customization := w.Customization
	if customization == nil {
		customization = map[string]interface{}{}
	}
	return &WebsiteResponse{
		ID:            w.ID,
		Name:          w.Name,
		TemplateID:    w.TemplateID,
		Status:        w.Status,
		Customization: customization,
		Domain:        NewDomainResponse(d),
		PublishedAt:   formatTimePtr(w.PublishedAt),
		CreatedAt:     formatTime(w.CreatedAt),
		UpdatedAt:     formatTime(w.UpdatedAt),
	}
}

func NewActivityResponse(l *ActivityLog) ActivityResponse {
	return ActivityResponse{
		Action:    l.Action,
		Status:    l.Status,
		Message:   l.Message,
		Metadata:  l.Metadata,
		CreatedAt: formatTime(l.CreatedAt),
	}
}

func NewTaskResponse(t *Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Kind:        t.Kind,
		SubjectID:   t.SubjectID,
		Status:      t.Status,
		Attempts:    t.Attempts,
		MaxAttempts: t.MaxAttempts,
		RunAt:       formatTime(t.RunAt),
		LastError:   t.LastError,
		CompletedAt: formatTimePtr(t.CompletedAt),
	}
}
