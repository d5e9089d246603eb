package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/malwarebo/partnersync/security"
	"go.uber.org/zap/zapcore"
)

func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Partner.Validate(); err != nil {
		return fmt.Errorf("partner config: %w", err)
	}

	if err := c.Webhook.Validate(); err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	if err := c.Monitoring.Validate(); err != nil {
		return fmt.Errorf("monitoring config: %w", err)
	}

	return nil
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("path is required for the sqlite driver")
		}
		return nil
	case "postgres":
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}

	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	return nil
}

func (c *RedisConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	return nil
}

func (c *PartnerConfig) Validate() error {
	if c.BaseURL == "" {
		if c.Username != "" {
			return fmt.Errorf("base_url is required when credentials are set")
		}
		return nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("base_url must be an absolute http(s) url")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("username and password are required - set PARTNER_USERNAME and PARTNER_PASSWORD")
	}
	return nil
}

func (c *WebhookConfig) Validate() error {
	if c.SignatureHeader == "" {
		return fmt.Errorf("signature_header is required")
	}
	if _, err := c.HMACKeyBytes(); err != nil {
		return fmt.Errorf("hmac_key: %w - set WEBHOOK_HMAC_KEY", err)
	}
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return fmt.Errorf("encryption_key: %w - set WEBHOOK_ENCRYPTION_KEY", err)
	}
	if len(c.ProductOwnerIDs) != 2 {
		return fmt.Errorf("product_owner_ids must list exactly two owners, got %d", len(c.ProductOwnerIDs))
	}
	for i, route := range c.MarketplaceRoutes {
		if _, err := regexp.Compile(route.Pattern); err != nil {
			return fmt.Errorf("marketplace_routes[%d]: %w", i, err)
		}
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}

func (c *WebhookConfig) HMACKeyBytes() ([]byte, error) {
	return security.DecodeKey(c.HMACKey)
}

// EncryptionKeyBytes decodes the AES-256 key, which must be 32 bytes.
func (c *WebhookConfig) EncryptionKeyBytes() ([]byte, error) {
	key, err := security.DecodeKey(c.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *QueueConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.DeliveryURL != "" {
		if u, err := url.Parse(c.DeliveryURL); err != nil || u.Host == "" {
			return fmt.Errorf("delivery_url must be an absolute url")
		}
	}
	return nil
}

func (c *SchedulerConfig) Validate() error {
	if c.TickInterval < time.Second {
		return fmt.Errorf("tick_interval must be at least 1s")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	seen := make(map[string]bool, len(c.Jobs))
	for _, job := range c.Jobs {
		if seen[job.ID] {
			return errors.New("duplicate job id " + job.ID)
		}
		seen[job.ID] = true
	}
	return nil
}

func (c *MonitoringConfig) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("log_format must be json or console")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1")
	}
	return nil
}
