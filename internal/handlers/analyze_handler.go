package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

// AnalyzeRequest is the JSON submission body. File submissions arrive as
// multipart form data instead.
type AnalyzeRequest struct {
	Type string `json:"type" validate:"required,oneof=text url"`
	Text string `json:"text" validate:"required_if=Type text"`
	URL  string `json:"url" validate:"required_if=Type url,omitempty,url"`
}

// AnalyzeHandler accepts documents for citation analysis. Small text inputs
// run inline; everything else becomes a queued job.
type AnalyzeHandler struct {
	cfg      *common.Config
	loader   interfaces.DocumentLoader
	analysis interfaces.AnalysisService
	storage  interfaces.StorageManager
	queue    interfaces.QueueManager
	events   interfaces.EventService
	logger   arbor.ILogger
	validate *validator.Validate
}

func NewAnalyzeHandler(
	cfg *common.Config,
	loaderSvc interfaces.DocumentLoader,
	analysis interfaces.AnalysisService,
	storage interfaces.StorageManager,
	queue interfaces.QueueManager,
	events interfaces.EventService,
	logger arbor.ILogger,
) *AnalyzeHandler {
	return &AnalyzeHandler{
		cfg:      cfg,
		loader:   loaderSvc,
		analysis: analysis,
		storage:  storage,
		queue:    queue,
		events:   events,
		logger:   logger,
		validate: validator.New(),
	}
}

// AnalyzeHandler handles POST /api/analyze.
func (h *AnalyzeHandler) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		h.handleFileSubmission(w, r)
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20+int64(h.cfg.Loader.MaxBodySize))).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	switch req.Type {
	case "text":
		h.handleTextSubmission(w, r, req.Text)
	case "url":
		h.handleURLSubmission(w, r, req.URL)
	}
}

// handleTextSubmission runs the inline path for small inputs and falls back
// to a queued job when the text is large or citation-heavy.
func (h *AnalyzeHandler) handleTextSubmission(w http.ResponseWriter, r *http.Request, text string) {
	snapshot, err := h.loader.LoadText(r.Context(), text)
	if err != nil {
		WriteError(w, http.StatusBadRequest, loadErrorMessage(err))
		return
	}

	if snapshot.SizeBytes <= h.cfg.Jobs.SyncMaxBytes {
		result, err := h.analysis.AnalyzeSync(r.Context(), snapshot.Text)
		if err != nil {
			h.logger.Error().Err(err).Msg("Inline analysis failed")
			WriteError(w, http.StatusInternalServerError, "analysis failed")
			return
		}
		if result.Metadata.Total <= h.cfg.Jobs.SyncMaxCitations {
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"status":  "completed",
				"results": result,
			})
			return
		}
		// Citation-heavy despite its size: requeue for full verification.
	}

	descriptor := models.InputDescriptor{
		Type:      models.InputTypeText,
		SizeBytes: snapshot.SizeBytes,
		TextHash:  hashText(snapshot.Text),
	}
	h.enqueueJob(w, r, descriptor, snapshot)
}

func (h *AnalyzeHandler) handleURLSubmission(w http.ResponseWriter, r *http.Request, url string) {
	if !h.cfg.AllowTestURLs() && isLoopbackURL(url) {
		WriteError(w, http.StatusBadRequest, "loopback URLs are not allowed")
		return
	}

	snapshot, err := h.loader.LoadURL(r.Context(), url)
	if err != nil {
		WriteError(w, loadErrorStatus(err), loadErrorMessage(err))
		return
	}

	descriptor := models.InputDescriptor{
		Type:      models.InputTypeURL,
		URL:       url,
		SizeBytes: snapshot.SizeBytes,
		TextHash:  hashText(snapshot.Text),
	}
	h.enqueueJob(w, r, descriptor, snapshot)
}

func (h *AnalyzeHandler) handleFileSubmission(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(int64(h.cfg.Loader.MaxBodySize)); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, int64(h.cfg.Loader.MaxBodySize)+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	contentType := header.Header.Get("Content-Type")
	snapshot, err := h.loader.LoadFile(r.Context(), header.Filename, contentType, body)
	if err != nil {
		WriteError(w, loadErrorStatus(err), loadErrorMessage(err))
		return
	}

	descriptor := models.InputDescriptor{
		Type:        models.InputTypeFile,
		Filename:    header.Filename,
		ContentType: contentType,
		SizeBytes:   snapshot.SizeBytes,
		TextHash:    hashText(snapshot.Text),
	}
	h.enqueueJob(w, r, descriptor, snapshot)
}

// enqueueJob persists the job record and snapshot, then makes the work
// visible to the queue. The job record is written before the message so a
// worker can never receive a message for a missing job.
func (h *AnalyzeHandler) enqueueJob(w http.ResponseWriter, r *http.Request, descriptor models.InputDescriptor, snapshot *models.DocumentSnapshot) {
	ctx := r.Context()
	now := time.Now()
	job := &models.Job{
		ID:              common.NewJobID(),
		InputDescriptor: descriptor,
		Status:          models.JobStatusQueued,
		CurrentStep:     models.StepQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	snapshot.JobID = job.ID

	if err := h.storage.JobStorage().SaveJob(ctx, job); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save job")
		WriteError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	if err := h.storage.DocumentStorage().SaveSnapshot(ctx, snapshot); err != nil {
		h.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to save document snapshot")
		h.storage.JobStorage().DeleteJob(ctx, job.ID)
		WriteError(w, http.StatusInternalServerError, "failed to store document")
		return
	}

	payload, _ := json.Marshal(models.AnalyzePayload{JobID: job.ID})
	msg := &models.QueueMessage{
		JobID:   job.ID,
		Type:    models.MessageTypeAnalyze,
		Payload: payload,
	}
	if err := h.queue.Enqueue(ctx, msg); err != nil {
		h.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to enqueue job")
		h.storage.DocumentStorage().DeleteSnapshot(ctx, job.ID)
		h.storage.JobStorage().DeleteJob(ctx, job.ID)
		WriteError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	h.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobQueued, Payload: job})
	h.logger.Info().Str("job_id", job.ID).Str("type", string(descriptor.Type)).
		Int("size_bytes", descriptor.SizeBytes).Msg("Job queued")

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(models.JobStatusQueued),
	})
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func isLoopbackURL(url string) bool {
	lowered := strings.ToLower(url)
	return strings.Contains(lowered, "localhost") ||
		strings.Contains(lowered, "127.0.0.1") ||
		strings.Contains(lowered, "[::1]")
}

// loadErrorStatus maps loader failures onto response codes: bad documents
// are the client's problem, unreachable sources are upstream's.
func loadErrorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrFetchFailed):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

func loadErrorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrFetchFailed):
		return "failed to fetch document"
	case errors.Is(err, models.ErrUnsupportedType):
		return "unsupported document type"
	case errors.Is(err, models.ErrDecodeFailed):
		return "document could not be decoded"
	default:
		return "invalid input"
	}
}
