package models

import (
	"encoding/json"
	"time"
)

// Website status constants
const (
	WebsiteStatusDraft     = "DRAFT"
	WebsiteStatusPublished = "PUBLISHED"
	WebsiteStatusArchived  = "ARCHIVED"
)

// Analytics status constants
const (
	AnalyticsStatusPending = "pending"
	AnalyticsStatusLive    = "live"
	AnalyticsStatusFailed  = "failed"
)

// CustomizationDeploymentKey is where the launch stamp lives inside Website.Customization.
const CustomizationDeploymentKey = "deployment"

// Website is a user's site
type Website struct {
	ID            string
	UserID        string
	Name          string
	TemplateID    string
	Status        string
	Customization map[string]interface{}
	Analytics     *Analytics
	PublishedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Page belongs to a website
type Page struct {
	ID          string
	WebsiteID   string
	Title       string
	Slug        string
	Published   bool
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Plugin belongs to a website
type Plugin struct {
	ID        string
	WebsiteID string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deployment is the stamp recorded on launch
type Deployment struct {
	Timestamp   time.Time `json:"timestamp"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
}

// Analytics is the deployment metadata maintained by finalization
type Analytics struct {
	Status         string     `json:"status"`
	LastDeployedAt *time.Time `json:"lastDeployedAt,omitempty"`
	PublishedPages int        `json:"publishedPages"`
	ActivePlugins  int        `json:"activePlugins"`
	FinalizedAt    *time.Time `json:"finalizedAt,omitempty"`
	FailureReason  string     `json:"failureReason,omitempty"`
}

// Deployment extracts the launch stamp from the customization map.
// The value is a Deployment when set in-process and a decoded JSON object
// when read back from storage.
func (w *Website) Deployment() *Deployment {
	raw, ok := w.Customization[CustomizationDeploymentKey]
	if !ok || raw == nil {
		return nil
	}

	switch v := raw.(type) {
	case Deployment:
		return &v
	case *Deployment:
		return v
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var d Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil
	}
	return &d
}

// Clone returns a copy that shares no mutable state with w.
func (w *Website) Clone() *Website {
	cp := *w
	cp.Customization = make(map[string]interface{}, len(w.Customization))
	for k, v := range w.Customization {
		cp.Customization[k] = v
	}
	if w.Analytics != nil {
		a := *w.Analytics
		cp.Analytics = &a
	}
	return &cp
}
