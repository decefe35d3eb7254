package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitecraft/builder-service/internal/models"
	"github.com/sitecraft/builder-service/internal/service"
)

type Handler struct {
	websiteService   *service.WebsiteService
	provisionService *service.ProvisionService
}

func NewHandler(websiteService *service.WebsiteService, provisionService *service.ProvisionService) *Handler {
	return &Handler{
		websiteService:   websiteService,
		provisionService: provisionService,
	}
}

// ==================== Domain Handlers ====================

// AttachDomain attaches a domain to one of the user's websites
func (h *Handler) AttachDomain(c *gin.Context) {
	var req models.AttachDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "websiteId and domainName are required")
		return
	}

	d, err := h.provisionService.AttachDomain(c.Request.Context(), c.GetString(userIDKey), req.WebsiteID, req.DomainName)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.NewDomainResponse(d))
}

// CheckDomain reports whether a domain name is free
// GET /domains?name=
func (h *Handler) CheckDomain(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		badRequest(c, "name query parameter is required")
		return
	}

	resp, err := h.provisionService.CheckDomainAvailability(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DetachDomain removes the domain of a website that is not published
func (h *Handler) DetachDomain(c *gin.Context) {
	if err := h.provisionService.DetachDomain(c.Request.Context(), c.GetString(userIDKey), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ==================== Launch Handlers ====================

func (h *Handler) Launch(c *gin.Context) {
	w, err := h.provisionService.Launch(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewWebsiteResponse(w, nil))
}

func (h *Handler) GetLaunchStatus(c *gin.Context) {
	resp, err := h.provisionService.GetLaunchStatus(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ==================== Website Handlers ====================

// CreateWebsite creates a draft website for the current user
func (h *Handler) CreateWebsite(c *gin.Context) {
	var req models.CreateWebsiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}

	w, err := h.websiteService.CreateWebsite(c.Request.Context(), c.GetString(userIDKey), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.NewWebsiteResponse(w, nil))
}

func (h *Handler) ListWebsites(c *gin.Context) {
	websites, err := h.websiteService.ListWebsites(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]*models.WebsiteResponse, 0, len(websites))
	for _, w := range websites {
		resp = append(resp, models.NewWebsiteResponse(w, nil))
	}
	c.JSON(http.StatusOK, gin.H{"websites": resp})
}

func (h *Handler) GetWebsite(c *gin.Context) {
	w, d, err := h.websiteService.GetWebsite(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewWebsiteResponse(w, d))
}

// ArchiveWebsite archives the website; its domain stays attached
func (h *Handler) ArchiveWebsite(c *gin.Context) {
	if err := h.websiteService.ArchiveWebsite(c.Request.Context(), c.GetString(userIDKey), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ListActivity(c *gin.Context) {
	logs, err := h.websiteService.ListActivity(c.Request.Context(), c.GetString(userIDKey), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]models.ActivityResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, models.NewActivityResponse(l))
	}
	c.JSON(http.StatusOK, gin.H{"activity": resp})
}

// ListTemplates returns the template catalog
func (h *Handler) ListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": h.websiteService.ListTemplates()})
}

// ==================== Internal API Handlers ====================

// ListTasks lists provisioning tasks, optionally filtered by ?status=
func (h *Handler) ListTasks(c *gin.Context) {
	tasks, err := h.provisionService.ListTasks(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]models.TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, models.NewTaskResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": resp})
}
