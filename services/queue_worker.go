package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/malwarebo/partnersync/models"
	"github.com/malwarebo/partnersync/observability"
	"github.com/malwarebo/partnersync/stores"
	"github.com/malwarebo/partnersync/utils"
	"go.uber.org/zap"
)

// WorkQueue is the consumer side of the queue store.
type WorkQueue interface {
	Claim(ctx context.Context) (*models.QueueItem, error)
	MarkCompleted(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, errMsg string) error
	ReleaseStale(ctx context.Context, maxProcessing time.Duration) (int64, error)
	DeleteCompletedOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

type QueueHandler interface {
	Handle(ctx context.Context, item *models.QueueItem) error
}

type QueueHandlerFunc func(ctx context.Context, item *models.QueueItem) error

func (f QueueHandlerFunc) Handle(ctx context.Context, item *models.QueueItem) error {
	return f(ctx, item)
}

type QueueWorkerConfig struct {
	Workers           int
	PollInterval      time.Duration
	ProcessingTimeout time.Duration
	RetentionAge      time.Duration
	SweepInterval     time.Duration
}

// QueueWorker drains the work queue with a fixed number of consumers and runs
// a janitor that returns stuck items to eligibility and prunes old completed
// items.
type QueueWorker struct {
	queue   WorkQueue
	handler QueueHandler
	config  QueueWorkerConfig
	metrics *observability.Metrics
	logger  *utils.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueueWorker(queue WorkQueue, handler QueueHandler, config QueueWorkerConfig, metrics *observability.Metrics) *QueueWorker {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = 5 * time.Minute
	}
	if config.RetentionAge <= 0 {
		config.RetentionAge = 7 * 24 * time.Hour
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	return &QueueWorker{
		queue:   queue,
		handler: handler,
		config:  config,
		metrics: metrics,
		logger:  utils.NewLogger("queue_worker"),
	}
}

func (w *QueueWorker) handle(ctx context.Context, item *models.QueueItem) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return w.handler.Handle(ctx, item)
}

// ProcessNext claims and handles a single item. It reports false when the
// queue had nothing eligible.
func (w *QueueWorker) ProcessNext(ctx context.Context) (bool, error) {
	item, err := w.queue.Claim(ctx)
	if errors.Is(err, stores.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim item: %w", err)
	}

	if item.CorrelationID != nil {
		ctx = utils.WithCorrelationID(ctx, *item.CorrelationID)
	}
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.ProcessingTimeout)
	defer cancel()

	fields := []zap.Field{
		zap.Uint64("item_id", item.ID),
		zap.Int("owner_id", item.OwnerID),
		zap.Int("category", item.Category),
		zap.Int("attempt", item.Attempts),
	}

	if herr := w.handle(workCtx, item); herr != nil {
		w.metrics.ItemProcessed(ctx, "failed")
		w.logger.Warn(ctx, "queue item failed", append(fields, zap.Error(herr))...)
		if err := w.queue.MarkFailed(workCtx, item.ID, herr.Error()); err != nil {
			return true, fmt.Errorf("failed to mark item %d failed: %w", item.ID, err)
		}
		return true, nil
	}

	w.metrics.ItemProcessed(ctx, "completed")
	w.logger.Debug(ctx, "queue item completed", fields...)
	if err := w.queue.MarkCompleted(workCtx, item.ID); err != nil {
		return true, fmt.Errorf("failed to mark item %d completed: %w", item.ID, err)
	}
	return true, nil
}

// Sweep runs one janitor pass.
func (w *QueueWorker) Sweep(ctx context.Context) (released, deleted int64, err error) {
	released, err = w.queue.ReleaseStale(ctx, 2*w.config.ProcessingTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to release stale items: %w", err)
	}
	deleted, err = w.queue.DeleteCompletedOlderThan(ctx, w.config.RetentionAge)
	if err != nil {
		return released, 0, fmt.Errorf("failed to delete completed items: %w", err)
	}
	if released > 0 || deleted > 0 {
		w.logger.Info(ctx, "queue sweep finished", zap.Int64("released", released), zap.Int64("deleted", deleted))
	}
	return released, deleted, nil
}

func (w *QueueWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i := 0; i < w.config.Workers; i++ {
		w.wg.Add(1)
		go w.consume(runCtx, i)
	}
	w.wg.Add(1)
	go w.janitor(runCtx)

	w.logger.Info(ctx, "queue worker started", zap.Int("workers", w.config.Workers))
}

func (w *QueueWorker) consume(ctx context.Context, id int) {
	defer w.wg.Done()

	for {
		processed, err := w.ProcessNext(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.logger.Error(ctx, "queue consumer error", zap.Int("worker", id), zap.Error(err))
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.config.PollInterval):
		}
	}
}

func (w *QueueWorker) janitor(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := w.Sweep(ctx); err != nil {
				w.logger.Error(ctx, "queue sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop stops claiming new items and waits for in-flight handlers until ctx
// expires.
func (w *QueueWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info(ctx, "queue worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
