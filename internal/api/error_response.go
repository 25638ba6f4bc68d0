package api //nolint:revive // package name is intentional

import (
	"net/http"

	"github.com/goccy/go-json"

	apierrors "github.com/blueberrycongee/dinescout/pkg/errors"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err *apierrors.APIError) {
	h.writeJSON(w, err.HTTPStatusCode(), ErrorResponse{
		Error: ErrorDetail{
			Message: err.Message,
			Type:    err.Type,
			Code:    err.Code,
		},
	})
}
