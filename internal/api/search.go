package api //nolint:revive // package name is intentional

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/dinescout/internal/httputil"
	"github.com/blueberrycongee/dinescout/internal/observability"
	"github.com/blueberrycongee/dinescout/internal/search"
	apierrors "github.com/blueberrycongee/dinescout/pkg/errors"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

// SubmitResponse is the body of POST /api/v1/search.
type SubmitResponse struct {
	RequestID string          `json:"requestId"`
	Status    types.JobStatus `json:"status"`
	StreamURL string          `json:"streamUrl"`
}

// SearchResponse is the body of GET /api/v1/search/{requestId}.
type SearchResponse struct {
	RequestID string              `json:"requestId"`
	Status    types.JobStatus     `json:"status"`
	UpdatedAt time.Time           `json:"updatedAt"`
	Result    *types.SearchResult `json:"result,omitempty"`
}

// SubmitSearch handles POST /api/v1/search.
func (h *Handler) SubmitSearch(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadLimitedBody(r.Body, h.maxBody)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			h.writeError(w, &apierrors.APIError{StatusCode: http.StatusRequestEntityTooLarge, Message: "request body too large", Type: apierrors.TypeInvalidRequest})
			return
		}
		h.writeError(w, apierrors.NewInvalidRequestError("failed to read request body"))
		return
	}
	defer r.Body.Close()

	var q types.SearchQuery
	if err := json.Unmarshal(body, &q); err != nil {
		h.writeError(w, apierrors.NewInvalidRequestError("invalid JSON: "+err.Error()))
		return
	}
	if (q.Location.Lat == nil) != (q.Location.Lng == nil) {
		h.writeError(w, apierrors.NewInvalidRequestError("location needs both lat and lng"))
		return
	}
	if q.Language == "" {
		q.Language = uiLanguage(r)
	}

	p := principalFromRequest(r)
	job, err := h.searches.Submit(r.Context(), q, search.Owner{SessionID: p.SessionID, UserID: p.UserID})
	if err != nil {
		h.logger.Error("search submit failed", "request_id", observability.RequestIDFromContext(r.Context()), "error", err)
		if errors.Is(err, search.ErrRunnerClosed) {
			h.writeError(w, apierrors.NewServiceUnavailableError("server is shutting down"))
			return
		}
		h.writeError(w, apierrors.NewInternalError("could not start search"))
		return
	}

	h.writeJSON(w, http.StatusAccepted, SubmitResponse{
		RequestID: job.RequestID,
		Status:    job.Status,
		StreamURL: "/api/v1/search/" + job.RequestID + "/assistant",
	})
}

// GetSearch handles GET /api/v1/search/{requestId}, the polling fallback of the stream.
func (h *Handler) GetSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := observability.SanitizeID(r.PathValue("requestId"))
	if !ok {
		h.writeError(w, apierrors.NewInvalidRequestError("invalid request id"))
		return
	}

	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		h.logger.Error("job lookup failed", "request_id", id, "error", err)
		h.writeError(w, apierrors.NewServiceUnavailableError("job store unavailable"))
		return
	}
	if job == nil {
		h.writeError(w, apierrors.NewNotFoundError("search not found"))
		return
	}
	if err := h.authorizer.Authorize(r.Context(), job, principalFromRequest(r)); err != nil {
		h.writeError(w, apierrors.NewUnauthorizedError("not authorized to access this search"))
		return
	}

	resp := SearchResponse{RequestID: job.RequestID, Status: job.Status, UpdatedAt: job.UpdatedAt}
	if job.Status.IsTerminal() {
		result, err := h.jobs.GetResult(r.Context(), id)
		if err != nil {
			h.logger.Warn("result lookup failed", "request_id", id, "error", err)
		}
		resp.Result = result
	}
	h.writeJSON(w, http.StatusOK, resp)
}
