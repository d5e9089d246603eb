package services

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/malwarebo/partnersync/models"
	"github.com/malwarebo/partnersync/observability"
	"github.com/malwarebo/partnersync/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SchedulerConfig struct {
	TickInterval  time.Duration
	JobTimeout    time.Duration
	ShutdownGrace time.Duration
	MaxConcurrent int
	Location      *time.Location
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:  10 * time.Second,
		JobTimeout:    30 * time.Second,
		ShutdownGrace: 15 * time.Second,
		MaxConcurrent: 4,
		Location:      time.UTC,
	}
}

// JobScheduler keeps recurring HTTP jobs in memory and fires the due ones on
// every tick. A tick never overlaps the previous one.
type JobScheduler struct {
	mu       sync.RWMutex
	jobs     map[string]*models.ScheduledJob
	executor JobExecutor
	config   SchedulerConfig
	metrics  *observability.Metrics
	now      func() time.Time
	logger   *utils.Logger

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	cancelRun context.CancelFunc
	lastTick  atomic.Int64
}

func NewJobScheduler(executor JobExecutor, config SchedulerConfig, metrics *observability.Metrics) *JobScheduler {
	defaults := DefaultSchedulerConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = defaults.ShutdownGrace
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &JobScheduler{
		jobs:     make(map[string]*models.ScheduledJob),
		executor: executor,
		config:   config,
		metrics:  metrics,
		now:      time.Now,
		logger:   utils.NewLogger("scheduler"),
	}
}

func normalizeRequest(r models.JobRequest) models.JobRequest {
	r.Method = strings.ToUpper(r.Method)
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.Headers = maps.Clone(r.Headers)
	return r
}

func sameRequest(a, b models.JobRequest) bool {
	return a.Method == b.Method &&
		a.URL == b.URL &&
		a.Body == b.Body &&
		a.UseAuthToken == b.UseAuthToken &&
		maps.Equal(a.Headers, b.Headers)
}

func snapshot(job *models.ScheduledJob) *models.ScheduledJob {
	out := *job
	out.Request.Headers = maps.Clone(job.Request.Headers)
	if job.LastExecution != nil {
		t := *job.LastExecution
		out.LastExecution = &t
	}
	if job.LastResult != nil {
		r := *job.LastResult
		out.LastResult = &r
	}
	return &out
}

// AddOrUpdate registers def or replaces the schedule and request of an
// existing job with the same id. Execution history and creation time survive
// an update, and an unchanged active job keeps its next execution time.
func (s *JobScheduler) AddOrUpdate(def models.JobDefinition) (*models.ScheduledJob, error) {
	if strings.TrimSpace(def.ID) == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidSchedule)
	}
	if err := ValidateSchedule(def.Schedule); err != nil {
		return nil, err
	}
	if err := ValidateJobRequest(def.Request); err != nil {
		return nil, err
	}
	request := normalizeRequest(def.Request)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.jobs[def.ID]
	if ok && existing.IsActive && existing.Schedule == def.Schedule && sameRequest(existing.Request, request) {
		return snapshot(existing), nil
	}

	next, err := NextExecution(def.Schedule, now, s.config.Location)
	if err != nil {
		return nil, err
	}

	job := &models.ScheduledJob{
		ID:            def.ID,
		Schedule:      def.Schedule,
		Request:       request,
		NextExecution: next,
		IsActive:      true,
		CreatedAt:     now.UTC(),
	}
	if ok {
		job.CreatedAt = existing.CreatedAt
		job.LastExecution = existing.LastExecution
		job.LastResult = existing.LastResult
		job.ExecutionCount = existing.ExecutionCount
	}
	s.jobs[def.ID] = job

	s.logger.Info(context.Background(), "scheduled job registered",
		zap.String("job_id", def.ID),
		zap.String("kind", string(def.Schedule.Kind)),
		zap.Bool("updated", ok),
		zap.Time("next_execution", next),
	)
	return snapshot(job), nil
}

func (s *JobScheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	s.logger.Info(context.Background(), "scheduled job removed", zap.String("job_id", id))
	return nil
}

func (s *JobScheduler) Get(id string) (*models.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return snapshot(job), nil
}

// List returns all jobs ordered by id.
func (s *JobScheduler) List() []*models.ScheduledJob {
	s.mu.RLock()
	out := make([]*models.ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, snapshot(job))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *JobScheduler) Pause(id string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	job.IsActive = false
	return snapshot(job), nil
}

// Resume reactivates a paused job with a next execution computed from now.
func (s *JobScheduler) Resume(id string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.IsActive {
		return snapshot(job), nil
	}
	next, err := NextExecution(job.Schedule, s.now(), s.config.Location)
	if err != nil {
		return nil, err
	}
	job.NextExecution = next
	job.IsActive = true
	return snapshot(job), nil
}

func (s *JobScheduler) due(now time.Time) []*models.ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ScheduledJob
	for _, job := range s.jobs {
		if job.IsActive && !job.NextExecution.After(now) {
			out = append(out, snapshot(job))
		}
	}
	return out
}

// RunDue executes every job due at the current time and waits for all of them.
// It returns the number of jobs executed.
func (s *JobScheduler) RunDue(ctx context.Context) int {
	s.lastTick.Store(s.now().UnixNano())

	jobs := s.due(s.now())
	if len(jobs) == 0 {
		return 0
	}

	var g errgroup.Group
	g.SetLimit(s.config.MaxConcurrent)
	for _, job := range jobs {
		g.Go(func() error {
			s.runJob(ctx, job)
			return nil
		})
	}
	g.Wait()
	return len(jobs)
}

func (s *JobScheduler) execute(ctx context.Context, job *models.ScheduledJob) (result models.ExecutionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error(ctx, "scheduled job panicked", zap.String("job_id", job.ID), zap.Any("panic", rec))
			result = models.ExecutionResult{
				Success:    false,
				Error:      fmt.Sprintf("job panicked: %v", rec),
				ExecutedAt: s.now().UTC(),
			}
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()
	return s.executor.Execute(jobCtx, *job)
}

func (s *JobScheduler) runJob(ctx context.Context, job *models.ScheduledJob) {
	ctx = utils.WithCorrelationID(ctx, "job:"+job.ID)
	result := s.execute(ctx, job)
	finished := s.now()
	if result.ExecutedAt.IsZero() {
		result.ExecutedAt = finished.UTC()
	}

	s.metrics.JobExecuted(ctx, job.ID, result.Success, result.DurationMs)
	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.Bool("success", result.Success),
		zap.Int("status_code", result.StatusCode),
		zap.Int64("duration_ms", result.DurationMs),
		zap.Bool("degraded", result.Degraded),
	}
	if result.Success {
		s.logger.Info(ctx, "scheduled job executed", fields...)
	} else {
		s.logger.Warn(ctx, "scheduled job failed", append(fields, zap.String("error", result.Error))...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return
	}
	executedAt := result.ExecutedAt
	current.LastExecution = &executedAt
	current.LastResult = &result
	current.ExecutionCount++

	next, err := NextExecution(current.Schedule, finished, s.config.Location)
	if err != nil {
		s.logger.Error(ctx, "failed to compute next execution", zap.String("job_id", job.ID), zap.Error(err))
		next = finished.Add(s.config.TickInterval)
	}
	current.NextExecution = next
}

// Start launches the tick loop. The loop only schedules its next wake-up after
// the current scan has finished.
func (s *JobScheduler) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.stop != nil {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelRun = cancel
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.lastTick.Store(s.now().UnixNano())

	go s.loop(runCtx, s.stop, s.done)
	s.logger.Info(ctx, "scheduler started",
		zap.Duration("tick_interval", s.config.TickInterval),
		zap.Int("max_concurrent", s.config.MaxConcurrent),
	)
}

func (s *JobScheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(s.config.TickInterval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			s.RunDue(ctx)
			timer.Reset(s.config.TickInterval)
		}
	}
}

// Stop prevents new ticks and gives in-flight jobs the shutdown grace period
// before cancelling them.
func (s *JobScheduler) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	stop, done, cancel := s.stop, s.done, s.cancelRun
	s.stop, s.done, s.cancelRun = nil, nil, nil
	s.lifecycle.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	defer cancel()

	grace := time.NewTimer(s.config.ShutdownGrace)
	defer grace.Stop()

	var err error
	select {
	case <-done:
		s.logger.Info(ctx, "scheduler stopped")
		return nil
	case <-grace.C:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.logger.Warn(ctx, "scheduler grace period elapsed, cancelling in-flight jobs")
	cancel()
	<-done
	return err
}

func (s *JobScheduler) Running() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.stop != nil
}

func (s *JobScheduler) LastTick() time.Time {
	return time.Unix(0, s.lastTick.Load())
}

// CheckHealth fails when the loop is running but has missed several ticks.
func (s *JobScheduler) CheckHealth(ctx context.Context) error {
	if !s.Running() {
		return fmt.Errorf("scheduler is not running")
	}
	if lag := s.now().Sub(s.LastTick()); lag > 3*s.config.TickInterval+s.config.JobTimeout {
		return fmt.Errorf("scheduler last ticked %s ago", lag.Round(time.Second))
	}
	return nil
}
