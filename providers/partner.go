package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/malwarebo/partnersync/cache"
	"github.com/malwarebo/partnersync/resilience"
	"github.com/malwarebo/partnersync/utils"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrPartnerAuth       = errors.New("partner rejected credentials")
	ErrPartnerBadPayload = errors.New("partner returned an unusable login response")
)

const (
	defaultLoginPath    = "/api/auth/login"
	defaultLoginTimeout = 30 * time.Second
)

type PartnerConfig struct {
	BaseURL   string
	LoginPath string
	Username  string
	Password  string
	Domain    string
	Timeout   time.Duration
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// PartnerClient authenticates against the partner API and hands out bearer
// tokens through the shared TokenCache.
type PartnerClient struct {
	config     PartnerConfig
	httpClient *http.Client
	tokens     *cache.TokenCache
	breaker    *gobreaker.CircuitBreaker
	retry      RetryConfig
	group      singleflight.Group
	now        func() time.Time
	logger     *utils.Logger
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func CreatePartnerClient(config PartnerConfig, tokens *cache.TokenCache, httpClient *http.Client) *PartnerClient {
	if config.LoginPath == "" {
		config.LoginPath = defaultLoginPath
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(config.Timeout)
	}
	return &PartnerClient{
		config:     config,
		httpClient: httpClient,
		tokens:     tokens,
		breaker:    resilience.CreateCircuitBreaker(resilience.CircuitBreakerConfig{Name: "partner-login", MaxFailures: 5, Timeout: time.Minute}),
		retry:      DefaultRetryConfig(),
		now:        time.Now,
		logger:     utils.NewLogger("partner_client"),
	}
}

func (c *PartnerClient) Tokens() *cache.TokenCache {
	return c.tokens
}

// Token returns a cached token or logs in. Concurrent misses share a single
// login call. The login is detached from ctx: a caller that gives up early
// gets ctx.Err() while the login keeps running and fills the cache.
func (c *PartnerClient) Token(ctx context.Context) (string, error) {
	if token, ok := c.tokens.GetToken(); ok {
		return token, nil
	}

	ch := c.group.DoChan("login", func() (interface{}, error) {
		if token, ok := c.tokens.GetToken(); ok {
			return token, nil
		}
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loginTimeout())
		defer cancel()
		resp, err := c.Login(loginCtx)
		if err != nil {
			return "", err
		}
		return resp.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *PartnerClient) loginTimeout() time.Duration {
	if c.retry.MaxElapsed > 0 {
		return c.retry.MaxElapsed
	}
	return defaultLoginTimeout
}

func (c *PartnerClient) InvalidateToken() {
	c.tokens.Invalidate()
}

// Login performs the credential exchange and stores the token in the cache.
func (c *PartnerClient) Login(ctx context.Context) (*LoginResponse, error) {
	resp, err := resilience.Execute(c.breaker, func() (*LoginResponse, error) {
		return Retry(ctx, c.retry, func() (*LoginResponse, error) {
			return c.login(ctx)
		})
	})
	if err != nil {
		c.logger.Error(ctx, "partner login failed", zap.Error(err))
		return nil, err
	}

	expiresAt := c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	c.tokens.SetToken(resp.AccessToken, expiresAt)
	c.logger.Info(ctx, "partner login succeeded", zap.Time("expires_at", expiresAt))
	return resp, nil
}

func (c *PartnerClient) login(ctx context.Context) (*LoginResponse, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.config.Username,
		"password": c.config.Password,
	})
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + c.config.LoginPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("error building login request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		return nil, backoff.Permanent(ErrPartnerAuth)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("partner login: status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, backoff.Permanent(fmt.Errorf("partner login: status %d", resp.StatusCode))
	}

	var out LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrPartnerBadPayload, err))
	}
	if out.AccessToken == "" || out.ExpiresIn <= 0 {
		return nil, backoff.Permanent(ErrPartnerBadPayload)
	}
	return &out, nil
}

// Authorize attaches the bearer token to req.
func (c *PartnerClient) Authorize(ctx context.Context, req *http.Request) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// IsPartnerURL reports whether raw points at the partner domain or one of its
// subdomains.
func (c *PartnerClient) IsPartnerURL(raw string) bool {
	domain := strings.ToLower(strings.TrimSpace(c.config.Domain))
	if domain == "" {
		if base, err := url.Parse(c.config.BaseURL); err == nil {
			domain = strings.ToLower(base.Hostname())
		}
	}
	if domain == "" {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == domain || strings.HasSuffix(host, "."+domain)
}
