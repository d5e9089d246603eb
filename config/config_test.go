package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `{
	"environment": "staging",
	"database": {"driver": "sqlite", "path": "partnersync.db"},
	"partner": {"base_url": "https://api.partner.test", "username": "svc", "password": "pw", "domain": "partner.test"},
	"webhook": {
		"hmac_key": "6b6579",
		"encryption_key": "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=",
		"product_category": 100,
		"order_category": 200,
		"product_owner_ids": [11, 12],
		"default_order_owner": 20,
		"marketplace_routes": [{"pattern": "(?i)^amazon", "owner_id": 21}]
	},
	"scheduler": {
		"timezone": "Europe/Berlin",
		"jobs": [
			{"id": "stock", "schedule": {"kind": "interval", "interval_seconds": 300}, "request": {"url": "https://api.partner.test/stock"}}
		]
	}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadConfigFrom_FileAndDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")

	cfg, err := LoadConfigFrom(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadConfigFrom() error = %v", err)
	}

	if cfg.Environment != "staging" || !cfg.IsStaging() {
		t.Errorf("Environment = %v, want staging", cfg.Environment)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("Queue.MaxAttempts = %d, want 3", cfg.Queue.MaxAttempts)
	}
	if cfg.Scheduler.TickInterval != 10*time.Second {
		t.Errorf("Scheduler.TickInterval = %v, want 10s", cfg.Scheduler.TickInterval)
	}
	if cfg.Webhook.SignatureHeader == "" {
		t.Error("Webhook.SignatureHeader default not applied")
	}
	if cfg.Webhook.RateLimitRPS != 200 {
		t.Errorf("Webhook.RateLimitRPS = %v, want staging default 200", cfg.Webhook.RateLimitRPS)
	}
	if len(cfg.Scheduler.Jobs) != 1 || cfg.Scheduler.Jobs[0].Schedule.IntervalSeconds != 300 {
		t.Errorf("Scheduler.Jobs = %+v", cfg.Scheduler.Jobs)
	}

	key, err := cfg.Webhook.EncryptionKeyBytes()
	if err != nil || len(key) != 32 {
		t.Errorf("EncryptionKeyBytes() = %d bytes, %v", len(key), err)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestLoadConfigFrom_EnvOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("QUEUE_WORKERS", "8")
	t.Setenv("SCHEDULER_TICK_INTERVAL", "30s")
	t.Setenv("WEBHOOK_SIGNATURE_HEADER", "X-Signature")
	t.Setenv("ADMIN_API_KEY", "admin-secret")

	cfg, err := LoadConfigFrom(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadConfigFrom() error = %v", err)
	}

	if !cfg.IsProduction() {
		t.Errorf("Environment = %v, want production", cfg.Environment)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want 9090", cfg.Server.Port)
	}
	if cfg.Queue.Workers != 8 {
		t.Errorf("Queue.Workers = %d, want 8", cfg.Queue.Workers)
	}
	if cfg.Scheduler.TickInterval != 30*time.Second {
		t.Errorf("Scheduler.TickInterval = %v, want 30s", cfg.Scheduler.TickInterval)
	}
	if cfg.Webhook.SignatureHeader != "X-Signature" {
		t.Errorf("Webhook.SignatureHeader = %v, want X-Signature", cfg.Webhook.SignatureHeader)
	}
	if cfg.Security.AdminAPIKey != "admin-secret" {
		t.Errorf("Security.AdminAPIKey not loaded from env")
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want production default 15s", cfg.Server.ReadTimeout)
	}
}

func TestLoadConfigFrom_InvalidEnv(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "many")

	_, err := LoadConfigFrom(writeConfig(t, validConfig))
	if err == nil || !strings.Contains(err.Error(), "QUEUE_WORKERS") {
		t.Errorf("LoadConfigFrom() error = %v, want QUEUE_WORKERS error", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"short encryption key", func(c *Config) { c.Webhook.EncryptionKey = "00ff" }, "encryption_key"},
		{"missing hmac key", func(c *Config) { c.Webhook.HMACKey = "" }, "hmac_key"},
		{"one product owner", func(c *Config) { c.Webhook.ProductOwnerIDs = []int{1} }, "product_owner_ids"},
		{"bad route pattern", func(c *Config) { c.Webhook.MarketplaceRoutes[0].Pattern = "(" }, "marketplace_routes"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "timezone"},
		{"zero attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }, "max_attempts"},
		{"postgres without host", func(c *Config) { c.Database.Driver = "postgres" }, "host"},
		{"partner without password", func(c *Config) { c.Partner.Password = "" }, "password"},
		{"redis enabled without host", func(c *Config) { c.Redis.Enabled = true }, "redis"},
		{"bad log level", func(c *Config) { c.Monitoring.LogLevel = "loud" }, "log_level"},
		{"duplicate job", func(c *Config) { c.Scheduler.Jobs = append(c.Scheduler.Jobs, c.Scheduler.Jobs[0]) }, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", "")
			cfg, err := LoadConfigFrom(writeConfig(t, validConfig))
			if err != nil {
				t.Fatalf("LoadConfigFrom() error = %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDatabaseURL(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, DBName: "sync", SSLMode: "disable"}}
	want := "postgres://u:p@db:5432/sync?sslmode=disable"
	if got := cfg.GetDatabaseURL(); got != want {
		t.Errorf("GetDatabaseURL() = %v, want %v", got, want)
	}
}
