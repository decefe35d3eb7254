package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// ErrRejected means the hosting service refused the request itself (4xx);
// repeating it will not help.
var ErrRejected = errors.New("rejected by hosting service")

// HostingClient calls the hosting service that registers domains, issues
// certificates and serves published sites.
type HostingClient struct {
	baseURL    string
	adminKey   string
	httpClient *http.Client
}

// NewHostingClient creates a new hosting client
func NewHostingClient(baseURL, adminKey string) *HostingClient {
	return &HostingClient{
		baseURL:  baseURL,
		adminKey: adminKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ProvisionDomainRequest asks the hosting service to route a domain and issue its certificate
type ProvisionDomainRequest struct {
	Domain    string `json:"domain"`
	WebsiteID string `json:"website_id"`
	EnableSSL bool   `json:"enable_ssl"`
}

// ProvisionDomainResponse is the response from provisioning a domain
type ProvisionDomainResponse struct {
	Domain     string `json:"domain"`
	Status     string `json:"status"`
	SSLEnabled bool   `json:"ssl_enabled"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PublishSiteRequest asks the hosting service to serve the site's current content
type PublishSiteRequest struct {
	Domain      string `json:"domain"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// PublishSiteResponse is the response from publishing a site
type PublishSiteResponse struct {
	WebsiteID string `json:"website_id"`
	Status    string `json:"status"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProvisionDomain registers a domain. Provisioning an already routed domain succeeds.
func (c *HostingClient) ProvisionDomain(ctx context.Context, req *ProvisionDomainRequest) (*ProvisionDomainResponse, error) {
	log.Printf("[HostingClient] Provisioning domain %s for website %s", req.Domain, req.WebsiteID)

	var result ProvisionDomainResponse
	status, err := c.post(ctx, "/api/admin/domains", req, &result)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(status, result.Error); err != nil {
		return &result, err
	}

	log.Printf("[HostingClient] Domain provisioned: %s (status: %s)", result.Domain, result.Status)
	return &result, nil
}

// PublishSite deploys a website on its domain
func (c *HostingClient) PublishSite(ctx context.Context, websiteID string, req *PublishSiteRequest) (*PublishSiteResponse, error) {
	log.Printf("[HostingClient] Publishing website %s on %s (version: %s)", websiteID, req.Domain, req.Version)

	var result PublishSiteResponse
	status, err := c.post(ctx, "/api/admin/sites/"+url.PathEscape(websiteID)+"/publish", req, &result)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(status, result.Error); err != nil {
		return &result, err
	}

	log.Printf("[HostingClient] Website published: %s (status: %s)", websiteID, result.Status)
	return &result, nil
}

func (c *HostingClient) post(ctx context.Context, path string, in, out interface{}) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Admin-Key", c.adminKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil && resp.StatusCode == http.StatusOK {
			return resp.StatusCode, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
		}
	}
	return resp.StatusCode, nil
}

func checkStatus(status int, msg string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, status, msg)
	default:
		return fmt.Errorf("hosting-service returned status %d: %s", status, msg)
	}
}

// LocalProvisioner stands in for the hosting service when none is configured.
// Every domain activates and every publish succeeds.
type LocalProvisioner struct{}

func (LocalProvisioner) ProvisionDomain(_ context.Context, req *ProvisionDomainRequest) (*ProvisionDomainResponse, error) {
	log.Printf("[HostingClient] No hosting service configured, activating %s locally", req.Domain)
	return &ProvisionDomainResponse{Domain: req.Domain, Status: "active", SSLEnabled: req.EnableSSL}, nil
}

func (LocalProvisioner) PublishSite(_ context.Context, websiteID string, req *PublishSiteRequest) (*PublishSiteResponse, error) {
	return &PublishSiteResponse{WebsiteID: websiteID, Status: "published", URL: "https://" + req.Domain}, nil
}
