package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sitecraft/builder-service/internal/client"
	"github.com/sitecraft/builder-service/internal/config"
	"github.com/sitecraft/builder-service/internal/db"
	"github.com/sitecraft/builder-service/internal/http"
	"github.com/sitecraft/builder-service/internal/metrics"
	"github.com/sitecraft/builder-service/internal/ratelimit"
	"github.com/sitecraft/builder-service/internal/repository"
	"github.com/sitecraft/builder-service/internal/service"
	"github.com/sitecraft/builder-service/internal/worker"
)

// stores groups the persistence the services need; the memory store and the
// Postgres repositories both satisfy it.
type stores struct {
	websites service.WebsiteStore
	domains  service.DomainStore
	activity service.ActivityStore
	tasks    interface {
		service.TaskLister
		worker.TaskStore
	}
}

func main() {
	log.Println("Starting Builder Service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx := context.Background()

	// Initialize storage
	var st stores
	var pool *pgxpool.Pool
	switch cfg.Storage.Driver {
	case "memory":
		log.Println("[main] Using in-memory storage, data is lost on restart")
		mem := repository.NewMemoryStore()
		st = stores{websites: mem, domains: mem, activity: mem, tasks: mem}
	default:
		database, err := db.New(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}

		pool = database.Pool
		st = stores{
			websites: repository.NewWebsiteRepository(pool),
			domains:  repository.NewDomainRepository(pool),
			activity: repository.NewLogRepository(pool),
			tasks:    repository.NewTaskRepository(pool),
		}
	}

	m := metrics.New()

	// Initialize rate limiters
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			// limiters fail open, so a missing Redis only degrades limiting
			log.Printf("[main] Redis ping failed: %v", err)
		}
	}
	limiters := newLimiters(cfg.RateLimit, rdb)

	// Initialize clients
	var provisioner service.Provisioner = client.LocalProvisioner{}
	if cfg.Hosting.ServiceURL != "" {
		provisioner = client.NewHostingClient(cfg.Hosting.ServiceURL, cfg.Hosting.AdminKey)
	} else {
		log.Println("[main] HOSTING_SERVICE_URL not set, domains activate locally")
	}

	// Initialize services
	websiteService := service.NewWebsiteService(st.websites, st.domains, st.activity, m)
	provisionService := service.NewProvisionService(
		cfg.Provisioning,
		st.websites,
		st.domains,
		st.activity,
		st.tasks,
		provisioner,
		m,
	)

	// Initialize worker
	w := worker.New(st.tasks, cfg.Worker, m)
	provisionService.RegisterHandlers(w)
	if cfg.Worker.Enabled {
		if err := w.Start(); err != nil {
			log.Fatalf("Failed to start worker: %v", err)
		}
	} else {
		log.Println("[main] Worker disabled, delayed transitions run elsewhere")
	}

	// Initialize HTTP server
	server := http.NewServer(cfg, websiteService, provisionService, limiters, m, pool)
	httpServer := &nethttp.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	w.Stop()

	log.Println("Server exited")
}

func newLimiters(cfg config.RateLimitConfig, rdb *redis.Client) http.Limiters {
	var l http.Limiters
	if cfg.Backend == "redis" && rdb != nil {
		l.API = ratelimit.NewRedisLimiter(rdb, "builder:ratelimit:api", cfg.API.Max, cfg.API.Window)
		l.Mutate = ratelimit.NewRedisLimiter(rdb, "builder:ratelimit:mutate", cfg.Mutate.Max, cfg.Mutate.Window)
		log.Printf("[main] Rate limiting via Redis (api: %d/%s, mutate: %d/%s)",
			cfg.API.Max, cfg.API.Window, cfg.Mutate.Max, cfg.Mutate.Window)
	} else {
		l.API = ratelimit.NewFixedWindow(cfg.API.Max, cfg.API.Window, cfg.API.Capacity, cfg.API.TTL)
		l.Mutate = ratelimit.NewFixedWindow(cfg.Mutate.Max, cfg.Mutate.Window, cfg.Mutate.Capacity, cfg.Mutate.TTL)
	}
	if cfg.Stats && rdb != nil {
		l.Stats = ratelimit.NewRedisStats(rdb, "builder:ratelimit:stats", 24*time.Hour)
	}
	return l
}
