package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/malwarebo/partnersync/models"
	"github.com/malwarebo/partnersync/observability"
	"github.com/malwarebo/partnersync/resilience"
	"github.com/malwarebo/partnersync/utils"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	maxResponseBody     = 1000
	defaultTokenTimeout = 5 * time.Second
)

// TokenSource hands out partner bearer tokens. PartnerClient satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	InvalidateToken()
	IsPartnerURL(raw string) bool
}

// JobExecutor runs one scheduled request. Implementations report every
// failure in the result instead of returning an error.
type JobExecutor interface {
	Execute(ctx context.Context, job models.ScheduledJob) models.ExecutionResult
}

type partnerResponse struct {
	status int
	body   string
}

// HTTPJobExecutor performs scheduled HTTP calls, attaching the partner token
// when the target is the partner API.
type HTTPJobExecutor struct {
	client       *http.Client
	tokens       TokenSource
	breaker      *gobreaker.CircuitBreaker
	tokenTimeout time.Duration
	now          func() time.Time
	logger       *utils.Logger
}

func NewHTTPJobExecutor(client *http.Client, tokens TokenSource) *HTTPJobExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPJobExecutor{
		client:       client,
		tokens:       tokens,
		breaker:      resilience.CreateCircuitBreaker(resilience.CircuitBreakerConfig{Name: "partner-jobs", MaxFailures: 5, Timeout: time.Minute}),
		tokenTimeout: defaultTokenTimeout,
		now:          time.Now,
		logger:       utils.NewLogger("job_executor"),
	}
}

// tokenBudget bounds the wait for a partner token to a quarter of what is
// left of the job deadline, so the request itself always gets to run.
func (e *HTTPJobExecutor) tokenBudget(ctx context.Context) time.Duration {
	budget := e.tokenTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if share := time.Until(deadline) / 4; share < budget {
			budget = share
		}
	}
	return budget
}

func (e *HTTPJobExecutor) token(ctx context.Context) (string, error) {
	tokenCtx, cancel := context.WithTimeout(ctx, e.tokenBudget(ctx))
	defer cancel()
	return e.tokens.Token(tokenCtx)
}

func (e *HTTPJobExecutor) Execute(ctx context.Context, job models.ScheduledJob) (result models.ExecutionResult) {
	started := e.now()
	result.ExecutedAt = started.UTC()

	ctx, span := observability.StartSpan(ctx, "scheduler.execute",
		attribute.String("job.id", job.ID),
		attribute.String("http.method", job.Request.Method),
	)
	var spanErr error
	defer func() {
		result.DurationMs = e.now().Sub(started).Milliseconds()
		observability.EndSpan(span, spanErr)
	}()

	req, err := e.buildRequest(ctx, job.Request)
	if err != nil {
		spanErr = err
		result.Error = err.Error()
		return result
	}

	partner := e.tokens != nil && e.tokens.IsPartnerURL(job.Request.URL)
	authorized := false
	if job.Request.UseAuthToken {
		switch {
		case !partner:
			e.logger.Debug(ctx, "auth token not attached to non-partner url", zap.String("job_id", job.ID))
		default:
			token, err := e.token(ctx)
			if err != nil || token == "" {
				result.Degraded = true
				e.logger.Warn(ctx, "no partner token available, executing job without authorization",
					zap.String("job_id", job.ID),
					zap.Error(err),
				)
			} else {
				req.Header.Set("Authorization", "Bearer "+token)
				authorized = true
			}
		}
	}

	var resp partnerResponse
	if partner {
		resp, err = resilience.Execute(e.breaker, func() (partnerResponse, error) {
			return e.do(req)
		})
	} else {
		resp, err = e.do(req)
	}
	if err != nil {
		spanErr = err
		result.Error = err.Error()
		return result
	}

	result.StatusCode = resp.status
	result.ResponseBody = resp.body
	result.Success = resp.status >= 200 && resp.status < 300
	if !result.Success {
		result.Error = fmt.Sprintf("unexpected status %d", resp.status)
		spanErr = errors.New(result.Error)
	}

	if resp.status == http.StatusUnauthorized && authorized {
		e.tokens.InvalidateToken()
		e.logger.Warn(ctx, "partner rejected token, cache invalidated", zap.String("job_id", job.ID))
	}
	return result
}

func (e *HTTPJobExecutor) buildRequest(ctx context.Context, r models.JobRequest) (*http.Request, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (e *HTTPJobExecutor) do(req *http.Request) (partnerResponse, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return partnerResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return partnerResponse{}, fmt.Errorf("failed to read response: %w", err)
	}
	io.Copy(io.Discard, resp.Body)

	return partnerResponse{status: resp.StatusCode, body: strings.ToValidUTF8(string(body), "")}, nil
}
