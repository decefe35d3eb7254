package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// insecureDefaults must never reach a release deployment.
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"internal-service-secret":              true,
	"":                                     true,
}

type Config struct {
	Server         ServerConfig       `yaml:"server"`
	Database       DatabaseConfig     `yaml:"database"`
	Storage        StorageConfig      `yaml:"storage"`
	JWT            JWTConfig          `yaml:"jwt"`
	Redis          RedisConfig        `yaml:"redis"`
	RateLimit      RateLimitConfig    `yaml:"rate_limit"`
	Provisioning   ProvisioningConfig `yaml:"provisioning"`
	Worker         WorkerConfig       `yaml:"worker"`
	Hosting        HostingConfig      `yaml:"hosting"`
	InternalSecret string             `yaml:"internal_secret"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Schema   string `yaml:"schema"`
	SSLMode  string `yaml:"sslmode"`
}

// StorageConfig selects the store backing websites, domains and tasks.
// "postgres" for deployments, "memory" for local development.
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

type JWTConfig struct {
	SecretKey string `yaml:"secret_key"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// LimitConfig is one fixed-window limiter: at most Max requests per Window,
// with at most Capacity tracked clients, each forgotten after TTL.
type LimitConfig struct {
	Max      int           `yaml:"max"`
	Window   time.Duration `yaml:"window"`
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	// Backend is "memory" (per instance) or "redis" (shared).
	Backend string      `yaml:"backend"`
	Stats   bool        `yaml:"stats"`
	API     LimitConfig `yaml:"api"`
	Mutate  LimitConfig `yaml:"mutate"`
}

type ProvisioningConfig struct {
	ActivationDelay time.Duration `yaml:"activation_delay"`
	FinalizeDelay   time.Duration `yaml:"finalize_delay"`
	MaxAttempts     int           `yaml:"max_attempts"`
	DeployVersion   string        `yaml:"deploy_version"`
	Environment     string        `yaml:"environment"`
}

type WorkerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Lease        time.Duration `yaml:"lease"`
	Backoff      time.Duration `yaml:"backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	ProviderRPS  float64       `yaml:"provider_rps"`
}

type HostingConfig struct {
	ServiceURL string `yaml:"service_url"`
	AdminKey   string `yaml:"admin_key"`
}

// Default returns the built-in configuration before any file or env overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8006",
			Mode: "release",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "saas_user",
			Password: "saas_pass",
			DBName:   "saas_db",
			Schema:   "builder",
			SSLMode:  "disable",
		},
		Storage: StorageConfig{Driver: "postgres"},
		RateLimit: RateLimitConfig{
			Backend: "memory",
			API: LimitConfig{
				Max:      60,
				Window:   time.Minute,
				Capacity: 500,
				TTL:      15 * time.Minute,
			},
			Mutate: LimitConfig{
				Max:      5,
				Window:   time.Minute,
				Capacity: 500,
				TTL:      15 * time.Minute,
			},
		},
		Provisioning: ProvisioningConfig{
			ActivationDelay: 5 * time.Second,
			FinalizeDelay:   2 * time.Second,
			MaxAttempts:     5,
			DeployVersion:   "1.0.0",
			Environment:     "production",
		},
		Worker: WorkerConfig{
			Enabled:      true,
			PollInterval: 2 * time.Second,
			BatchSize:    20,
			Lease:        time.Minute,
			Backoff:      5 * time.Second,
			MaxBackoff:   5 * time.Minute,
			ProviderRPS:  5,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any), and finally environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	log.Printf("[config] Builder Service loaded: port=%s storage=%s db=%s/%s.%s hosting=%s",
		cfg.Server.Port, cfg.Storage.Driver, cfg.Database.Host, cfg.Database.DBName, cfg.Database.Schema, cfg.Hosting.ServiceURL)

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Mode = getEnv("GIN_MODE", cfg.Server.Mode)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.Schema = getEnv("DB_SCHEMA", cfg.Database.Schema)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.JWT.SecretKey = getEnv("JWT_SECRET_KEY", cfg.JWT.SecretKey)
	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)

	cfg.RateLimit.Backend = getEnv("RATE_LIMIT_BACKEND", cfg.RateLimit.Backend)
	cfg.RateLimit.Stats = getEnvBool("RATE_LIMIT_STATS", cfg.RateLimit.Stats)
	cfg.RateLimit.API.Max = getEnvInt("RATE_LIMIT_MAX", cfg.RateLimit.API.Max)
	cfg.RateLimit.API.Window = getEnvDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.API.Window)
	cfg.RateLimit.API.Capacity = getEnvInt("RATE_LIMIT_CAPACITY", cfg.RateLimit.API.Capacity)
	cfg.RateLimit.API.TTL = getEnvDuration("RATE_LIMIT_TTL", cfg.RateLimit.API.TTL)
	cfg.RateLimit.Mutate.Max = getEnvInt("RATE_LIMIT_MUTATE_MAX", cfg.RateLimit.Mutate.Max)
	cfg.RateLimit.Mutate.Window = getEnvDuration("RATE_LIMIT_MUTATE_WINDOW", cfg.RateLimit.Mutate.Window)
	cfg.RateLimit.Mutate.Capacity = getEnvInt("RATE_LIMIT_MUTATE_CAPACITY", cfg.RateLimit.Mutate.Capacity)
	cfg.RateLimit.Mutate.TTL = getEnvDuration("RATE_LIMIT_MUTATE_TTL", cfg.RateLimit.Mutate.TTL)

	cfg.Provisioning.ActivationDelay = getEnvDuration("DOMAIN_ACTIVATION_DELAY", cfg.Provisioning.ActivationDelay)
	cfg.Provisioning.FinalizeDelay = getEnvDuration("DEPLOY_FINALIZE_DELAY", cfg.Provisioning.FinalizeDelay)
	cfg.Provisioning.MaxAttempts = getEnvInt("TASK_MAX_ATTEMPTS", cfg.Provisioning.MaxAttempts)
	cfg.Provisioning.DeployVersion = getEnv("DEPLOY_VERSION", cfg.Provisioning.DeployVersion)
	cfg.Provisioning.Environment = getEnv("DEPLOY_ENVIRONMENT", cfg.Provisioning.Environment)

	cfg.Worker.Enabled = getEnvBool("WORKER_ENABLED", cfg.Worker.Enabled)
	cfg.Worker.PollInterval = getEnvDuration("WORKER_POLL_INTERVAL", cfg.Worker.PollInterval)
	cfg.Worker.BatchSize = getEnvInt("WORKER_BATCH_SIZE", cfg.Worker.BatchSize)
	cfg.Worker.Lease = getEnvDuration("WORKER_LEASE", cfg.Worker.Lease)
	cfg.Worker.Backoff = getEnvDuration("WORKER_BACKOFF", cfg.Worker.Backoff)
	cfg.Worker.MaxBackoff = getEnvDuration("WORKER_MAX_BACKOFF", cfg.Worker.MaxBackoff)
	cfg.Worker.ProviderRPS = getEnvFloat("WORKER_PROVIDER_RPS", cfg.Worker.ProviderRPS)

	cfg.Hosting.ServiceURL = getEnv("HOSTING_SERVICE_URL", cfg.Hosting.ServiceURL)
	cfg.Hosting.AdminKey = getEnv("HOSTING_ADMIN_KEY", cfg.Hosting.AdminKey)

	cfg.InternalSecret = getEnv("INTERNAL_SECRET", cfg.InternalSecret)
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	if c.Storage.Driver != "postgres" && c.Storage.Driver != "memory" {
		return fmt.Errorf("STORAGE_DRIVER must be postgres or memory, got %q", c.Storage.Driver)
	}
	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimit.Backend)
	}
	if (c.RateLimit.Backend == "redis" || c.RateLimit.Stats) && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when the redis rate limit backend or stats are enabled")
	}
	for _, l := range []struct {
		name string
		LimitConfig
	}{{"api", c.RateLimit.API}, {"mutate", c.RateLimit.Mutate}} {
		if l.Max <= 0 || l.Window <= 0 {
			return fmt.Errorf("rate limit %s: max and window must be positive", l.name)
		}
		if l.Capacity <= 0 || l.TTL <= 0 {
			return fmt.Errorf("rate limit %s: capacity and ttl must be positive", l.name)
		}
	}
	if c.Provisioning.MaxAttempts <= 0 {
		return fmt.Errorf("TASK_MAX_ATTEMPTS must be positive")
	}
	if c.Provisioning.ActivationDelay < 0 || c.Provisioning.FinalizeDelay < 0 {
		return fmt.Errorf("provisioning delays must not be negative")
	}
	if c.Worker.Enabled && (c.Worker.PollInterval < time.Second || c.Worker.BatchSize <= 0) {
		return fmt.Errorf("worker poll interval must be at least 1s and batch size positive")
	}

	// 调试模式允许使用开发密钥
	if c.Server.Mode != "release" {
		return nil
	}

	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}
	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
