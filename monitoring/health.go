package monitoring

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
	Degraded  HealthStatus = "degraded"
)

const defaultCheckTimeout = 5 * time.Second

type CheckFunc func(context.Context) error

type CheckResult struct {
	Status     HealthStatus `json:"status"`
	Critical   bool         `json:"critical"`
	DurationMs int64        `json:"duration_ms"`
	CheckedAt  time.Time    `json:"checked_at"`
	Error      string       `json:"error,omitempty"`
}

type SystemHealth struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
}

type namedCheck struct {
	name     string
	fn       CheckFunc
	critical bool
}

// HealthService aggregates dependency checks. A failing critical check makes
// the service unhealthy, a failing non-critical one only degrades it.
type HealthService struct {
	mu           sync.RWMutex
	checks       []namedCheck
	checkTimeout time.Duration
	startTime    time.Time
	version      string
	now          func() time.Time
}

func CreateHealthService(version string) *HealthService {
	return &HealthService{
		checkTimeout: defaultCheckTimeout,
		startTime:    time.Now(),
		version:      version,
		now:          time.Now,
	}
}

func (hs *HealthService) AddCheck(name string, check CheckFunc) {
	hs.register(namedCheck{name: name, fn: check, critical: true})
}

func (hs *HealthService) AddNonCriticalCheck(name string, check CheckFunc) {
	hs.register(namedCheck{name: name, fn: check})
}

// register replaces a check with the same name.
func (hs *HealthService) register(check namedCheck) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	for i := range hs.checks {
		if hs.checks[i].name == check.name {
			hs.checks[i] = check
			return
		}
	}
	hs.checks = append(hs.checks, check)
}

func (hs *HealthService) run(ctx context.Context, check namedCheck) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, hs.checkTimeout)
	defer cancel()

	start := hs.now()
	err := check.fn(ctx)
	result := CheckResult{
		Status:     Healthy,
		Critical:   check.critical,
		DurationMs: hs.now().Sub(start).Milliseconds(),
		CheckedAt:  hs.now(),
	}
	if err != nil {
		result.Status = Degraded
		if check.critical {
			result.Status = Unhealthy
		}
		result.Error = err.Error()
	}
	return result
}

// GetHealth runs every check concurrently, each under its own timeout.
func (hs *HealthService) GetHealth(ctx context.Context) SystemHealth {
	hs.mu.RLock()
	checks := append([]namedCheck(nil), hs.checks...)
	hs.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = hs.run(ctx, check)
			return nil
		})
	}
	g.Wait()

	health := SystemHealth{
		Status:    Healthy,
		Timestamp: hs.now(),
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    hs.now().Sub(hs.startTime).Round(time.Second).String(),
		Version:   hs.version,
	}
	for i, check := range checks {
		result := results[i]
		health.Checks[check.name] = result
		switch {
		case result.Status == Unhealthy:
			health.Status = Unhealthy
		case result.Status == Degraded && health.Status == Healthy:
			health.Status = Degraded
		}
	}
	return health
}

func (hs *HealthService) IsHealthy(ctx context.Context) bool {
	return hs.GetHealth(ctx).Status == Healthy
}
