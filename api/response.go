package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/malwarebo/partnersync/utils"
)

const maxPageLimit = 100

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// writeError renders err using the status and message of the APIError it
// wraps. Anything else becomes a 500 without internal details.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *utils.APIError
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.Code, ErrorResponse{Error: apiErr.Message, Details: apiErr.Details})
		return
	}
	writeJSON(w, utils.StatusCode(err), ErrorResponse{Error: "Internal server error"})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, utils.ErrInvalidRequest.WithDetails(name + " must be an integer")
	}
	return &v, nil
}
