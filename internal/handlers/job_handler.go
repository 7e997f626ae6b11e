package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
	"github.com/ternarybob/casestrainer/internal/services/report"
)

// JobHandler serves job status, listing, cancellation and reports.
type JobHandler struct {
	storage interfaces.StorageManager
	events  interfaces.EventService
	reports *report.Service
	logger  arbor.ILogger
}

func NewJobHandler(storage interfaces.StorageManager, events interfaces.EventService, reports *report.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		storage: storage,
		events:  events,
		reports: reports,
		logger:  logger,
	}
}

// taskStatusResponse is the polling payload for GET /api/task_status/{id}.
type taskStatusResponse struct {
	JobID              string            `json:"job_id"`
	Status             models.JobStatus  `json:"status"`
	Progress           float64           `json:"progress"`
	CurrentStep        string            `json:"current_step"`
	ETASeconds         int               `json:"eta_seconds"`
	TotalCitations     int               `json:"total_citations"`
	ProcessedCitations int               `json:"processed_citations"`
	Results            *models.JobResult `json:"results,omitempty"`
	Error              string            `json:"error,omitempty"`
	ErrorKind          models.ErrorKind  `json:"error_kind,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
}

func jobSummary(job *models.Job) taskStatusResponse {
	return taskStatusResponse{
		JobID:              job.ID,
		Status:             job.Status,
		Progress:           job.Progress,
		CurrentStep:        job.CurrentStep,
		ETASeconds:         job.ETASeconds,
		TotalCitations:     job.TotalCitations,
		ProcessedCitations: job.ProcessedCitations,
		Error:              job.Error,
		ErrorKind:          job.ErrorKind,
		CreatedAt:          job.CreatedAt,
		CompletedAt:        job.CompletedAt,
	}
}

// TaskStatusHandler handles GET /api/task_status/{job_id}.
func (h *JobHandler) TaskStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	jobID := PathSegment(r.URL.Path, "/api/task_status/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, err := h.storage.JobStorage().GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to load job")
		WriteError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	resp := jobSummary(job)
	if job.Status == models.JobStatusCompleted {
		resp.Results = job.Result
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ListJobsHandler handles GET /api/jobs with status, limit and offset query
// parameters. Listings stay light; results are fetched per job.
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	opts := &interfaces.JobListOptions{
		Status: r.URL.Query().Get("status"),
		Limit:  QueryInt(r, "limit", 50),
		Offset: QueryInt(r, "offset", 0),
	}
	if opts.Limit > 500 {
		opts.Limit = 500
	}

	jobs, err := h.storage.JobStorage().ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	total, err := h.storage.JobStorage().CountJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count jobs")
		WriteError(w, http.StatusInternalServerError, "failed to count jobs")
		return
	}

	summaries := make([]taskStatusResponse, len(jobs))
	for i, job := range jobs {
		summaries[i] = jobSummary(job)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   summaries,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// CancelJobHandler handles POST /api/jobs/{id}/cancel. Queued jobs cancel
// immediately; running jobs get the flag and the worker stops at the next
// stage boundary.
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	jobID := PathSegment(r.URL.Path, "/api/jobs/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	jobs := h.storage.JobStorage()
	for attempt := 0; ; attempt++ {
		job, err := jobs.GetJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, models.ErrJobNotFound) {
				WriteError(w, http.StatusNotFound, "job not found")
				return
			}
			WriteError(w, http.StatusInternalServerError, "failed to load job")
			return
		}
		if job.Status.Terminal() {
			WriteError(w, http.StatusConflict, "job already "+string(job.Status))
			return
		}

		job.CancelRequested = true
		if job.Status == models.JobStatusQueued {
			now := time.Now()
			job.Status = models.JobStatusCancelled
			job.CompletedAt = &now
		}

		err = jobs.UpdateJob(r.Context(), job)
		if err == nil {
			if job.Status == models.JobStatusCancelled {
				h.events.Publish(r.Context(), interfaces.Event{Type: interfaces.EventJobCancelled, Payload: job})
			}
			h.logger.Info().Str("job_id", jobID).Str("status", string(job.Status)).Msg("Cancel requested")
			WriteJSON(w, http.StatusOK, map[string]string{
				"job_id": jobID,
				"status": string(job.Status),
			})
			return
		}
		if !errors.Is(err, models.ErrJobConflict) || attempt >= 2 {
			h.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to cancel job")
			WriteError(w, http.StatusInternalServerError, "failed to cancel job")
			return
		}
	}
}

// ReportHandler handles GET /api/jobs/{id}/report?format=markdown|html|pdf.
func (h *JobHandler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	jobID := PathSegment(r.URL.Path, "/api/jobs/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, err := h.storage.JobStorage().GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}

	switch format {
	case "markdown":
		out, err := h.reports.Markdown(job)
		if h.reportError(w, jobID, err) {
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(out))
	case "html":
		out, err := h.reports.HTML(job)
		if h.reportError(w, jobID, err) {
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(out)
	case "pdf":
		out, err := h.reports.PDF(job)
		if h.reportError(w, jobID, err) {
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="report-`+jobID+`.pdf"`)
		w.Write(out)
	default:
		WriteError(w, http.StatusBadRequest, "unknown format: "+format)
	}
}

// reportError writes the failure response and reports whether one was
// written.
func (h *JobHandler) reportError(w http.ResponseWriter, jobID string, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, report.ErrNoResult) {
		WriteError(w, http.StatusConflict, "job has not completed")
		return true
	}
	h.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to render report")
	WriteError(w, http.StatusInternalServerError, "failed to render report")
	return true
}
