package services

import (
	"context"
	"errors"

	"github.com/malwarebo/partnersync/models"
	"github.com/malwarebo/partnersync/observability"
	"github.com/malwarebo/partnersync/security"
	"github.com/malwarebo/partnersync/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrWebhookRejected = errors.New("webhook verification failed")
	ErrDispatchFailed  = errors.New("webhook processing failed")
)

// Opener verifies and decrypts an envelope, reporting the failing step.
type Opener interface {
	Open(env models.WebhookEnvelope, signature string) (string, error)
}

type IngestResult struct {
	Strategy string
	Shape    models.PayloadShape
	Items    []*models.QueueItem
}

// IngestionService runs verify, decrypt, classify and dispatch for one
// inbound webhook.
type IngestionService struct {
	opener     Opener
	classifier *PayloadClassifier
	router     *StrategyRouter
	metrics    *observability.Metrics
	logger     *utils.Logger
}

func NewIngestionService(opener Opener, classifier *PayloadClassifier, router *StrategyRouter, metrics *observability.Metrics) *IngestionService {
	return &IngestionService{
		opener:     opener,
		classifier: classifier,
		router:     router,
		metrics:    metrics,
		logger:     utils.NewLogger("ingestion"),
	}
}

// Ingest returns ErrWebhookRejected for any signature or decryption problem
// and ErrDispatchFailed, wrapped with the strategy error, when the payload
// could not be turned into queue items.
func (s *IngestionService) Ingest(ctx context.Context, env models.WebhookEnvelope, signature string) (*IngestResult, error) {
	ctx, span := observability.StartSpan(ctx, "webhook.ingest",
		attribute.String("webhook.guid", env.GUID),
		attribute.String("webhook.type", env.WebhookType),
	)
	var err error
	defer func() { observability.EndSpan(span, err) }()

	plaintext, openErr := s.opener.Open(env, signature)
	if openErr != nil {
		cause := "decrypt"
		if errors.Is(openErr, security.ErrSignatureMismatch) {
			cause = "signature"
		}
		s.logger.Warn(ctx, "webhook rejected",
			zap.String("guid", env.GUID),
			zap.String("webhook_type", env.WebhookType),
			zap.String("cause", cause),
		)
		s.metrics.WebhookReceived(ctx, "rejected")
		err = ErrWebhookRejected
		return nil, err
	}

	parsed := s.classifier.Classify(plaintext, env.WebhookType)
	s.logger.Debug(ctx, "webhook classified",
		zap.String("guid", env.GUID),
		zap.String("shape", string(parsed.Shape)),
	)

	dispatch := s.router.Dispatch(ctx, DispatchContext{
		GUID:          env.GUID,
		Kind:          env.WebhookType,
		Plaintext:     plaintext,
		CorrelationID: correlationFor(ctx, env),
	}, parsed)
	if !dispatch.Success {
		s.metrics.WebhookReceived(ctx, "failed")
		err = errors.Join(ErrDispatchFailed, errors.New(dispatch.Error))
		return nil, err
	}

	s.metrics.WebhookReceived(ctx, "accepted")
	return &IngestResult{Strategy: dispatch.Strategy, Shape: parsed.Shape, Items: dispatch.Items}, nil
}

func correlationFor(ctx context.Context, env models.WebhookEnvelope) string {
	if env.GUID != "" {
		return env.GUID
	}
	return utils.GetCorrelationID(ctx)
}
