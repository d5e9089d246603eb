package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/malwarebo/partnersync/models"
)

type Config struct {
	Environment string           `json:"environment"`
	Database    DatabaseConfig   `json:"database"`
	Server      ServerConfig     `json:"server"`
	Redis       RedisConfig      `json:"redis"`
	Partner     PartnerConfig    `json:"partner"`
	Webhook     WebhookConfig    `json:"webhook"`
	Queue       QueueConfig      `json:"queue"`
	Scheduler   SchedulerConfig  `json:"scheduler"`
	Security    SecurityConfig   `json:"security"`
	Monitoring  MonitoringConfig `json:"monitoring"`
}

type DatabaseConfig struct {
	Driver       string        `json:"driver"`
	Path         string        `json:"path"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	User         string        `json:"user"`
	Password     string        `json:"password"`
	DBName       string        `json:"dbname"`
	SSLMode      string        `json:"sslmode"`
	MaxOpenConns int           `json:"max_open_conns"`
	MaxIdleConns int           `json:"max_idle_conns"`
	MaxLifetime  time.Duration `json:"max_lifetime"`
	MaxIdleTime  time.Duration `json:"max_idle_time"`
	ReplicaDSNs  []string      `json:"replica_dsns"`
}

type ServerConfig struct {
	Port           string        `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	MaxHeaderBytes int           `json:"max_header_bytes"`
}

type RedisConfig struct {
	Enabled  bool          `json:"enabled"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl"`
}

type PartnerConfig struct {
	BaseURL        string        `json:"base_url"`
	LoginPath      string        `json:"login_path"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	Domain         string        `json:"domain"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

type MarketplaceRouteConfig struct {
	Pattern string `json:"pattern"`
	OwnerID int    `json:"owner_id"`
}

type WebhookConfig struct {
	SignatureHeader   string                   `json:"signature_header"`
	HMACKey           string                   `json:"hmac_key"`
	EncryptionKey     string                   `json:"encryption_key"`
	ProductCategory   int                      `json:"product_category"`
	OrderCategory     int                      `json:"order_category"`
	ProductOwnerIDs   []int                    `json:"product_owner_ids"`
	DefaultOrderOwner int                      `json:"default_order_owner"`
	MarketplaceRoutes []MarketplaceRouteConfig `json:"marketplace_routes"`
	RateLimitRPS      float64                  `json:"rate_limit_rps"`
	RateLimitBurst    int                      `json:"rate_limit_burst"`
	MaxBodyBytes      int64                    `json:"max_body_bytes"`
}

type QueueConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	Workers           int           `json:"workers"`
	PollInterval      time.Duration `json:"poll_interval"`
	ProcessingTimeout time.Duration `json:"processing_timeout"`
	RetentionAge      time.Duration `json:"retention_age"`
	SweepInterval     time.Duration `json:"sweep_interval"`
	DeliveryURL       string        `json:"delivery_url"`
}

type SchedulerConfig struct {
	TickInterval  time.Duration          `json:"tick_interval"`
	JobTimeout    time.Duration          `json:"job_timeout"`
	ShutdownGrace time.Duration          `json:"shutdown_grace"`
	MaxConcurrent int                    `json:"max_concurrent"`
	Timezone      string                 `json:"timezone"`
	Jobs          []models.JobDefinition `json:"jobs"`
}

type SecurityConfig struct {
	AdminAPIKey string `json:"admin_api_key"`
}

type MonitoringConfig struct {
	LogLevel      string  `json:"log_level"`
	LogFormat     string  `json:"log_format"`
	OTLPEndpoint  string  `json:"otlp_endpoint"`
	OTLPInsecure  bool    `json:"otlp_insecure"`
	EnableTracing bool    `json:"enable_tracing"`
	EnableMetrics bool    `json:"enable_metrics"`
	SampleRate    float64 `json:"sample_rate"`
}

// LoadConfig reads .env, then config/config.json (or CONFIG_PATH), then
// environment overrides, then fills defaults for the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configDir, err := filepath.Abs("config")
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(configDir, "config.json")
	}
	return LoadConfigFrom(configPath)
}

func LoadConfigFrom(configPath string) (*Config, error) {
	config := &Config{}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = env
	}
	if config.Environment == "" {
		config.Environment = "development"
	}

	if err := config.loadFromEnv(); err != nil {
		return nil, err
	}

	config.setEnvironmentDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

type envReader struct {
	errs []error
}

func (e *envReader) str(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func (e *envReader) int(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) bool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}
}

func (c *Config) loadFromEnv() error {
	env := &envReader{}

	env.str("DB_DRIVER", &c.Database.Driver)
	env.str("DB_PATH", &c.Database.Path)
	env.str("DB_HOST", &c.Database.Host)
	env.int("DB_PORT", &c.Database.Port)
	env.str("DB_USER", &c.Database.User)
	env.str("DB_PASSWORD", &c.Database.Password)
	env.str("DB_NAME", &c.Database.DBName)
	env.str("DB_SSLMODE", &c.Database.SSLMode)
	if replicas := os.Getenv("DB_REPLICA_DSNS"); replicas != "" {
		c.Database.ReplicaDSNs = strings.Split(replicas, ",")
	}

	env.str("SERVER_PORT", &c.Server.Port)

	env.bool("REDIS_ENABLED", &c.Redis.Enabled)
	env.str("REDIS_HOST", &c.Redis.Host)
	env.int("REDIS_PORT", &c.Redis.Port)
	env.str("REDIS_PASSWORD", &c.Redis.Password)

	env.str("PARTNER_BASE_URL", &c.Partner.BaseURL)
	env.str("PARTNER_LOGIN_PATH", &c.Partner.LoginPath)
	env.str("PARTNER_USERNAME", &c.Partner.Username)
	env.str("PARTNER_PASSWORD", &c.Partner.Password)
	env.str("PARTNER_DOMAIN", &c.Partner.Domain)
	env.duration("PARTNER_REQUEST_TIMEOUT", &c.Partner.RequestTimeout)

	env.str("WEBHOOK_SIGNATURE_HEADER", &c.Webhook.SignatureHeader)
	env.str("WEBHOOK_HMAC_KEY", &c.Webhook.HMACKey)
	env.str("WEBHOOK_ENCRYPTION_KEY", &c.Webhook.EncryptionKey)

	env.int("QUEUE_MAX_ATTEMPTS", &c.Queue.MaxAttempts)
	env.int("QUEUE_WORKERS", &c.Queue.Workers)
	env.str("QUEUE_DELIVERY_URL", &c.Queue.DeliveryURL)

	env.duration("SCHEDULER_TICK_INTERVAL", &c.Scheduler.TickInterval)
	env.str("SCHEDULER_TIMEZONE", &c.Scheduler.Timezone)

	env.str("ADMIN_API_KEY", &c.Security.AdminAPIKey)

	env.str("LOG_LEVEL", &c.Monitoring.LogLevel)
	env.str("LOG_FORMAT", &c.Monitoring.LogFormat)
	env.str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Monitoring.OTLPEndpoint)
	env.bool("OTEL_EXPORTER_OTLP_INSECURE", &c.Monitoring.OTLPInsecure)

	if len(env.errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(env.errs...))
	}
	return nil
}

func (c *Config) setEnvironmentDefaults() {
	c.setCommonDefaults()

	switch c.Environment {
	case "production":
		c.setProductionDefaults()
	case "staging":
		c.setStagingDefaults()
	default: // development
		c.setDevelopmentDefaults()
	}
}

func (c *Config) setCommonDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Partner.LoginPath == "" {
		c.Partner.LoginPath = "/api/auth/login"
	}
	if c.Partner.RequestTimeout == 0 {
		c.Partner.RequestTimeout = 30 * time.Second
	}
	if c.Webhook.SignatureHeader == "" {
		c.Webhook.SignatureHeader = "X-Partner-Signature"
	}
	if c.Webhook.MaxBodyBytes == 0 {
		c.Webhook.MaxBodyBytes = 1 << 20
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Queue.ProcessingTimeout == 0 {
		c.Queue.ProcessingTimeout = 5 * time.Minute
	}
	if c.Queue.RetentionAge == 0 {
		c.Queue.RetentionAge = 7 * 24 * time.Hour
	}
	if c.Queue.SweepInterval == 0 {
		c.Queue.SweepInterval = time.Minute
	}
	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = 10 * time.Second
	}
	if c.Scheduler.JobTimeout == 0 {
		c.Scheduler.JobTimeout = 30 * time.Second
	}
	if c.Scheduler.ShutdownGrace == 0 {
		c.Scheduler.ShutdownGrace = 15 * time.Second
	}
	if c.Scheduler.MaxConcurrent == 0 {
		c.Scheduler.MaxConcurrent = 4
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "json"
	}
	if c.Monitoring.SampleRate == 0 {
		c.Monitoring.SampleRate = 1.0
	}
}

func (c *Config) setDevelopmentDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = time.Hour
	}
	if c.Webhook.RateLimitRPS == 0 {
		c.Webhook.RateLimitRPS = 1000.0
	}
	if c.Webhook.RateLimitBurst == 0 {
		c.Webhook.RateLimitBurst = 2000
	}
}

func (c *Config) setStagingDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 50
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 12 * time.Hour
	}
	if c.Webhook.RateLimitRPS == 0 {
		c.Webhook.RateLimitRPS = 200.0
	}
	if c.Webhook.RateLimitBurst == 0 {
		c.Webhook.RateLimitBurst = 400
	}
}

func (c *Config) setProductionDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 20
	}
	if c.Database.MaxLifetime == 0 {
		c.Database.MaxLifetime = time.Hour
	}
	if c.Database.MaxIdleTime == 0 {
		c.Database.MaxIdleTime = 10 * time.Minute
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 24 * time.Hour
	}
	if c.Webhook.RateLimitRPS == 0 {
		c.Webhook.RateLimitRPS = 50.0
	}
	if c.Webhook.RateLimitBurst == 0 {
		c.Webhook.RateLimitBurst = 100
	}
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// Location returns the scheduler time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Scheduler.Timezone)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsStaging() bool {
	return c.Environment == "staging"
}
