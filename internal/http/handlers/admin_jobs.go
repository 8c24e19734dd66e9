package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/donforce/messaging-ai-platform/internal/conversation"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// AdminJobsHandler reports the status of queued background work, currently
// the attribution signals recorded by the webhook handler.
type AdminJobsHandler struct {
	jobs   conversation.JobRecorder
	logger *logging.Logger
}

func NewAdminJobsHandler(jobs conversation.JobRecorder, logger *logging.Logger) *AdminJobsHandler {
	if jobs == nil {
		panic("handlers: jobs handler requires a job store")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminJobsHandler{jobs: jobs, logger: logger}
}

// GetJob returns one background job record.
// GET /admin/jobs/{jobID}
func (h *AdminJobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id required")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, conversation.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("failed to load job", "error", err, "job_id", jobID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, job)
}
