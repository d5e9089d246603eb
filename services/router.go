package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/malwarebo/partnersync/models"
	"github.com/malwarebo/partnersync/observability"
	"github.com/malwarebo/partnersync/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Enqueuer is the part of the work queue the router writes to.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, items []*models.QueueItem) error
}

type DispatchResult struct {
	Success  bool                `json:"success"`
	Strategy string              `json:"strategy"`
	Items    []*models.QueueItem `json:"items,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// StrategyRouter picks the first strategy that accepts a result and persists
// what it builds. The fallback strategy is consulted last and accepts
// everything.
type StrategyRouter struct {
	strategies []Strategy
	fallback   Strategy
	queue      Enqueuer
	metrics    *observability.Metrics
	logger     *utils.Logger
}

func NewStrategyRouter(queue Enqueuer, fallback Strategy, strategies ...Strategy) *StrategyRouter {
	return &StrategyRouter{
		strategies: strategies,
		fallback:   fallback,
		queue:      queue,
		logger:     utils.NewLogger("strategy_router"),
	}
}

func (r *StrategyRouter) WithMetrics(m *observability.Metrics) *StrategyRouter {
	r.metrics = m
	return r
}

func (r *StrategyRouter) selectStrategy(result models.ParseResult) Strategy {
	for _, s := range r.strategies {
		if s.CanHandle(result) {
			return s
		}
	}
	return r.fallback
}

// Dispatch never panics and never returns an error; failures are reported in
// the result.
func (r *StrategyRouter) Dispatch(ctx context.Context, dc DispatchContext, result models.ParseResult) (out DispatchResult) {
	ctx, span := observability.StartSpan(ctx, "strategy.dispatch",
		attribute.String("shape", string(result.Shape)),
	)
	var (
		spanErr  error
		strategy Strategy
	)
	defer func() {
		if rec := recover(); rec != nil {
			name := ""
			if strategy != nil {
				name = strategy.Name()
			}
			spanErr = fmt.Errorf("strategy %s panicked: %v", name, rec)
			r.logger.Error(ctx, "strategy panicked", zap.String("strategy", name), zap.Any("panic", rec))
			out = DispatchResult{Success: false, Strategy: name, Error: spanErr.Error()}
		}
		observability.EndSpan(span, spanErr)
	}()

	strategy = r.selectStrategy(result)
	if strategy == nil {
		spanErr = errors.New("no strategy accepts this payload")
		return DispatchResult{Success: false, Error: spanErr.Error()}
	}
	span.SetAttributes(attribute.String("strategy", strategy.Name()))

	if strategy == r.fallback && result.Shape != models.PayloadShapeUnrecognized {
		r.logger.Warn(ctx, "no strategy for classified payload, storing diagnostic item",
			zap.String("shape", string(result.Shape)))
	}

	items, err := strategy.Build(ctx, dc, result)
	if err != nil {
		spanErr = err
		r.logger.Error(ctx, "strategy failed", zap.String("strategy", strategy.Name()), zap.Error(err))
		return DispatchResult{Success: false, Strategy: strategy.Name(), Error: err.Error()}
	}

	if err := r.queue.EnqueueBatch(ctx, items); err != nil {
		spanErr = err
		r.logger.Error(ctx, "failed to enqueue items", zap.String("strategy", strategy.Name()), zap.Error(err))
		return DispatchResult{Success: false, Strategy: strategy.Name(), Error: fmt.Sprintf("failed to enqueue: %v", err)}
	}

	for _, item := range items {
		r.metrics.ItemsEnqueued(ctx, item.Category, 1)
	}
	r.logger.Info(ctx, "payload dispatched",
		zap.String("strategy", strategy.Name()),
		zap.Int("items", len(items)),
		zap.String("change_type", result.ChangeType),
	)
	return DispatchResult{Success: true, Strategy: strategy.Name(), Items: items}
}
