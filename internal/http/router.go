package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitecraft/builder-service/internal/config"
	"github.com/sitecraft/builder-service/internal/metrics"
	"github.com/sitecraft/builder-service/internal/ratelimit"
	"github.com/sitecraft/builder-service/internal/service"
)

// Limiters holds the two limiter instances and the optional decision stats.
type Limiters struct {
	// API 用户 API 的通用限流
	API ratelimit.Checker
	// Mutate 创建/挂载/发布等写操作的更严格限流
	Mutate ratelimit.Checker
	Stats  ratelimit.StatsRecorder
}

type Server struct {
	router   *gin.Engine
	handler  *Handler
	cfg      *config.Config
	limiters Limiters
	metrics  *metrics.Collector
	db       *pgxpool.Pool
}

// NewServer wires the routes. pool may be nil when running on the memory
// store, in which case the DB browser is not mounted.
func NewServer(cfg *config.Config, websiteService *service.WebsiteService, provisionService *service.ProvisionService, limiters Limiters, m *metrics.Collector, pool *pgxpool.Pool) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(MetricsMiddleware(m))

	s := &Server{
		router:   router,
		handler:  NewHandler(websiteService, provisionService),
		cfg:      cfg,
		limiters: limiters,
		metrics:  m,
		db:       pool,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "builder-service",
		})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	mutate := RateLimitMiddleware("mutate", s.limiters.Mutate, s.limiters.Stats, s.metrics)

	// User API - requires JWT authentication
	user := s.router.Group("/api/v1")
	user.Use(RateLimitMiddleware("api", s.limiters.API, s.limiters.Stats, s.metrics))
	user.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	{
		user.GET("/templates", s.handler.ListTemplates)

		user.POST("/websites", mutate, s.handler.CreateWebsite)
		user.GET("/websites", s.handler.ListWebsites)
		user.GET("/websites/:id", s.handler.GetWebsite)
		user.DELETE("/websites/:id", s.handler.ArchiveWebsite)
		user.GET("/websites/:id/activity", s.handler.ListActivity)

		user.POST("/domains", mutate, s.handler.AttachDomain)
		user.GET("/domains", s.handler.CheckDomain)
		user.DELETE("/websites/:id/domain", s.handler.DetachDomain)

		user.POST("/websites/:id/launch", mutate, s.handler.Launch)
		user.GET("/websites/:id/launch", s.handler.GetLaunchStatus)
	}

	// Internal API - ops tooling
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		internal.GET("/tasks", s.handler.ListTasks)

		if s.db != nil {
			dbAdminHandler := NewDBAdminHandler(s.db, s.cfg.Database.Schema)
			dbAdmin := internal.Group("/admin/db")
			{
				dbAdmin.GET("/tables", dbAdminHandler.ListTables)
				dbAdmin.GET("/tables/:table/schema", dbAdminHandler.GetTableSchema)
				dbAdmin.GET("/tables/:table/rows", dbAdminHandler.QueryRows)
			}
		}
	}
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
