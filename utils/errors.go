package utils

import (
	"context"
	"errors"
	"net/http"
)

// APIError is an error with the HTTP status it should be reported as.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Is matches on status and message, so a copy carrying details still
// matches its sentinel.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func (e *APIError) WithDetails(details string) *APIError {
	return &APIError{Code: e.Code, Message: e.Message, Details: details}
}

func NewAPIError(code int, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

var ErrInvalidRequest = NewAPIError(http.StatusBadRequest, "Invalid request")

var (
	ErrWebhookVerificationFailed = NewAPIError(http.StatusBadRequest, "Webhook verification failed")
	ErrWebhookInvalidPayload     = NewAPIError(http.StatusBadRequest, "Invalid webhook payload")
	ErrWebhookProcessingFailed   = NewAPIError(http.StatusBadRequest, "Webhook processing failed")
)

var (
	ErrJobNotFound       = NewAPIError(http.StatusNotFound, "Job not found")
	ErrInvalidSchedule   = NewAPIError(http.StatusBadRequest, "Invalid schedule")
	ErrQueueItemNotFound = NewAPIError(http.StatusNotFound, "Queue item not found")
	ErrQueueItemConflict = NewAPIError(http.StatusConflict, "Queue item cannot be changed in its current state")
)

// StatusCode maps err to the HTTP status it should be reported as.
func StatusCode(err error) int {
	var apiErr *APIError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &apiErr):
		return apiErr.Code
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
