package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/malwarebo/partnersync/models"
	"github.com/malwarebo/partnersync/resilience"
	"github.com/malwarebo/partnersync/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DeliveryHandler forwards queue items to the downstream consumer over HTTP.
type DeliveryHandler struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *utils.Logger
}

func NewDeliveryHandler(url string, client *http.Client) *DeliveryHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &DeliveryHandler{
		url:     url,
		client:  client,
		breaker: resilience.CreateCircuitBreaker(resilience.CircuitBreakerConfig{Name: "delivery", MaxFailures: 10, Timeout: 30 * time.Second}),
		logger:  utils.NewLogger("delivery"),
	}
}

// Handle posts the item payload. Without a configured url the item is only
// logged.
func (h *DeliveryHandler) Handle(ctx context.Context, item *models.QueueItem) error {
	if h.url == "" {
		h.logger.Info(ctx, "no delivery url configured, item acknowledged",
			zap.Uint64("item_id", item.ID),
			zap.Int("owner_id", item.OwnerID),
			zap.Int("category", item.Category),
		)
		return nil
	}

	_, err := resilience.Execute(h.breaker, func() (int, error) {
		return h.post(ctx, item)
	})
	return err
}

func (h *DeliveryHandler) post(ctx context.Context, item *models.QueueItem) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(item.Payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build delivery request: %w", err)
	}

	contentType := "application/json"
	if item.Category == models.DiagnosticCategory {
		contentType = "text/plain; charset=utf-8"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", strconv.Itoa(item.OwnerID))
	req.Header.Set("X-Category", strconv.Itoa(item.Category))
	req.Header.Set("X-Queue-Item-ID", strconv.FormatUint(item.ID, 10))
	req.Header.Set("X-Attempt", strconv.Itoa(item.Attempts))
	if item.Kind != "" {
		req.Header.Set("X-Webhook-Type", item.Kind)
	}
	if item.CorrelationID != nil {
		req.Header.Set("X-Correlation-ID", *item.CorrelationID)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("delivery rejected with status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
