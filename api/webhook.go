package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/malwarebo/partnersync/models"
	"github.com/malwarebo/partnersync/services"
	"github.com/malwarebo/partnersync/utils"
	"go.uber.org/zap"
)

const defaultMaxBodyBytes = 1 << 20

type Ingestor interface {
	Ingest(ctx context.Context, env models.WebhookEnvelope, signature string) (*services.IngestResult, error)
}

type WebhookHandler struct {
	ingestor        Ingestor
	signatureHeader string
	maxBodyBytes    int64
	logger          *utils.Logger
}

func CreateWebhookHandler(ingestor Ingestor, signatureHeader string, maxBodyBytes int64) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &WebhookHandler{
		ingestor:        ingestor,
		signatureHeader: signatureHeader,
		maxBodyBytes:    maxBodyBytes,
		logger:          utils.NewLogger("webhook_handler"),
	}
}

func webhookFailure(w http.ResponseWriter, apiErr *utils.APIError, message, guid string) {
	writeJSON(w, apiErr.Code, models.WebhookResponse{
		Success: false,
		Error:   apiErr.Message,
		Message: message,
		GUID:    guid,
	})
}

// HandlePartnerWebhook accepts a signed, encrypted partner event. Every
// failure is answered with 400 so the partner redelivers it.
func (h *WebhookHandler) HandlePartnerWebhook(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error(r.Context(), "webhook handler panicked", zap.Any("panic", rec))
			webhookFailure(w, utils.ErrWebhookProcessingFailed, "Unexpected error while processing webhook", "")
		}
	}()

	signature := r.Header.Get(h.signatureHeader)
	if signature == "" {
		http.Error(w, "Missing signature header", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		webhookFailure(w, utils.ErrWebhookInvalidPayload, "Failed to read webhook payload", "")
		return
	}

	var env models.WebhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		webhookFailure(w, utils.ErrWebhookInvalidPayload, "Webhook body is not a valid envelope", "")
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), env, signature)
	switch {
	case errors.Is(err, services.ErrWebhookRejected):
		webhookFailure(w, utils.ErrWebhookVerificationFailed, "Signature or payload could not be verified", env.GUID)
		return
	case err != nil:
		h.logger.Error(r.Context(), "webhook processing failed", zap.String("guid", env.GUID), zap.Error(err))
		webhookFailure(w, utils.ErrWebhookProcessingFailed, "Webhook could not be queued, please retry", env.GUID)
		return
	}

	writeJSON(w, http.StatusOK, models.WebhookResponse{
		Success: true,
		Message: fmt.Sprintf("Webhook accepted, %d item(s) queued", len(result.Items)),
		GUID:    env.GUID,
	})
}
