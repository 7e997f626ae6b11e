// Package analysis orchestrates the citation pipeline for a job:
// extract -> isolate -> name extraction -> cluster -> verify. It owns job
// progress, ETA, the stage watchdog and the extraction cache; terminal job
// states are written by the queue handler in this package.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

// Stage weights. Verification dominates because it is the only stage that
// leaves the process.
const (
	weightExtract = 10
	weightIsolate = 20
	weightCluster = 10
	weightVerify  = 60
)

const (
	defaultJobTimeout    = 20 * time.Minute
	defaultStageWatchdog = 120 * time.Second
	extractionCacheTTL   = 24 * time.Hour
)

var _ interfaces.AnalysisService = (*Service)(nil)

// Service implements the analysis pipeline.
type Service struct {
	extractor interfaces.CitationExtractor
	isolator  interfaces.ContextIsolator
	namer     interfaces.CaseNameExtractor
	clusterer interfaces.ClusterBuilder
	verifier  interfaces.Verifier
	storage   interfaces.StorageManager
	events    interfaces.EventService
	logger    arbor.ILogger

	jobTimeout    time.Duration
	stageWatchdog time.Duration
}

// NewService wires the pipeline stages together.
func NewService(
	cfg *common.Config,
	extractor interfaces.CitationExtractor,
	isolator interfaces.ContextIsolator,
	namer interfaces.CaseNameExtractor,
	clusterer interfaces.ClusterBuilder,
	verifier interfaces.Verifier,
	storage interfaces.StorageManager,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Service {
	return &Service{
		extractor:     extractor,
		isolator:      isolator,
		namer:         namer,
		clusterer:     clusterer,
		verifier:      verifier,
		storage:       storage,
		events:        events,
		logger:        logger,
		jobTimeout:    parseDuration(cfg.Jobs.Timeout, defaultJobTimeout),
		stageWatchdog: parseDuration(cfg.Jobs.StageWatchdog, defaultStageWatchdog),
	}
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// pipelineOutput is everything the pipeline produces before verification.
// This is also the extraction cache payload: a repeat submission of the same
// text skips straight to verification.
type pipelineOutput struct {
	Extraction *models.Extraction     `json:"extraction"`
	Names      []models.ExtractedName `json:"names"`
	Clusters   []*models.Cluster      `json:"clusters"`
	Excluded   int                    `json:"excluded"`
}

// run carries the per-invocation progress state. setProgress is called from
// concurrent verification workers, so the mutable fields sit behind mu.
type run struct {
	svc          *Service
	job          *models.Job
	cancel       context.CancelFunc
	start        time.Time
	progressMark atomic.Int64
	timings      map[string]float64

	mu           sync.Mutex
	lastProgress float64
	step         string
	stepStart    time.Time
	stepProgress float64
}

// Run executes the full pipeline for a queued job. Progress is monotone;
// cancellation is honored at stage boundaries and inside verification; a
// stage that reports no progress within the watchdog interval fails the job
// as stalled. No partial results are returned on any failure path.
func (s *Service) Run(ctx context.Context, job *models.Job, text string) (*models.JobResult, error) {
	runCtx, cancelRun := context.WithTimeout(ctx, s.jobTimeout)
	defer cancelRun()

	r := &run{
		svc:     s,
		job:     job,
		cancel:  cancelRun,
		start:   time.Now(),
		timings: map[string]float64{},
	}
	r.progressMark.Store(time.Now().UnixNano())

	var stalled atomic.Bool
	watchDone := make(chan struct{})
	go r.watch(runCtx, cancelRun, &stalled, watchDone)
	defer func() {
		cancelRun()
		<-watchDone
	}()

	result, err := r.execute(runCtx, text)
	if err != nil {
		switch {
		case stalled.Load():
			return nil, models.NewKindedError(models.ErrorKindStalled,
				fmt.Errorf("no progress within %s", s.stageWatchdog))
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return nil, models.NewKindedError(models.ErrorKindStalled,
				fmt.Errorf("job exceeded wall clock of %s", s.jobTimeout))
		default:
			return nil, err
		}
	}
	return result, nil
}

func (r *run) execute(ctx context.Context, text string) (*models.JobResult, error) {
	s := r.svc
	hash := textHash(text)

	out := s.cachedPipeline(ctx, hash)
	if out != nil {
		s.logger.Debug().Str("job_id", r.job.ID).Msg("Extraction cache hit")
		r.timings["extraction"] = 0
		r.setProgress(ctx, models.StepClustering, weightExtract+weightIsolate+weightCluster, 0)
	} else {
		var err error
		out, err = r.prepare(ctx, text)
		if err != nil {
			return nil, err
		}
		s.storePipeline(ctx, hash, out)
	}

	total := len(out.Extraction.Occurrences)
	if err := s.updateJob(ctx, r.job, func(j *models.Job) {
		j.TotalCitations = total
	}); err != nil {
		s.logger.Warn().Str("job_id", r.job.ID).Err(err).Msg("Failed to record citation count")
	}

	if err := r.checkCancelled(ctx); err != nil {
		return nil, err
	}

	verifyStart := time.Now()
	preVerify := float64(weightExtract + weightIsolate + weightCluster)
	err := s.verifier.VerifyClusters(ctx, out.Clusters, func(done, totalClusters int) {
		frac := float64(done) / float64(totalClusters)
		processed := int(float64(total) * frac)
		r.setProgress(ctx, models.StepVerifying, preVerify+weightVerify*frac, processed)
	})
	r.timings["verification"] = time.Since(verifyStart).Seconds()
	if err != nil {
		return nil, err
	}

	if err := r.checkCancelled(ctx); err != nil {
		return nil, err
	}

	r.setProgress(ctx, models.StepFinalizing, 100, total)
	return buildResult(out, r.timings), nil
}

// prepare runs the local stages: extract, isolate + name, cluster.
func (r *run) prepare(ctx context.Context, text string) (*pipelineOutput, error) {
	s := r.svc

	stageStart := time.Now()
	extraction, err := s.extractor.Extract(ctx, text)
	if err != nil {
		return nil, models.NewKindedError(models.ErrorKindInternal, err)
	}
	r.timings["extraction"] = time.Since(stageStart).Seconds()
	r.setProgress(ctx, models.StepExtraction, weightExtract, 0)
	if err := r.checkCancelled(ctx); err != nil {
		return nil, err
	}

	stageStart = time.Now()
	contexts := s.isolator.Isolate(text, extraction)
	names := make([]models.ExtractedName, len(extraction.Occurrences))
	for _, c := range contexts {
		names[c.OccurrenceIndex] = s.namer.ExtractName(c.Text, c.Forward)
	}
	r.timings["isolation"] = time.Since(stageStart).Seconds()
	r.setProgress(ctx, models.StepIsolation, weightExtract+weightIsolate, 0)
	if err := r.checkCancelled(ctx); err != nil {
		return nil, err
	}

	stageStart = time.Now()
	clusters, excluded := s.clusterer.Build(text, extraction.Occurrences, names)
	r.timings["clustering"] = time.Since(stageStart).Seconds()
	r.setProgress(ctx, models.StepClustering, weightExtract+weightIsolate+weightCluster, 0)
	if err := r.checkCancelled(ctx); err != nil {
		return nil, err
	}

	return &pipelineOutput{
		Extraction: extraction,
		Names:      names,
		Clusters:   clusters,
		Excluded:   excluded,
	}, nil
}

// AnalyzeSync runs the local stages inline for the small-input path. No
// verification happens and no job record is written; every cluster comes
// back unverified.
func (s *Service) AnalyzeSync(ctx context.Context, text string) (*models.JobResult, error) {
	extraction, err := s.extractor.Extract(ctx, text)
	if err != nil {
		return nil, models.NewKindedError(models.ErrorKindInternal, err)
	}

	contexts := s.isolator.Isolate(text, extraction)
	names := make([]models.ExtractedName, len(extraction.Occurrences))
	for _, c := range contexts {
		names[c.OccurrenceIndex] = s.namer.ExtractName(c.Text, c.Forward)
	}
	clusters, excluded := s.clusterer.Build(text, extraction.Occurrences, names)

	out := &pipelineOutput{
		Extraction: extraction,
		Names:      names,
		Clusters:   clusters,
		Excluded:   excluded,
	}
	return buildResult(out, nil), nil
}

// watch fails the run when no stage reports progress inside the watchdog
// interval.
func (r *run) watch(ctx context.Context, cancel context.CancelFunc, stalled *atomic.Bool, done chan<- struct{}) {
	defer close(done)

	interval := r.svc.stageWatchdog / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, r.progressMark.Load())
			if time.Since(last) > r.svc.stageWatchdog {
				stalled.Store(true)
				cancel()
				return
			}
		}
	}
}

// setProgress advances the job record and publishes a progress event.
// Progress never moves backwards. The write under optimistic concurrency
// doubles as the cancellation probe during verification: a cancel request
// bumps the job record, the conflicting write re-reads it, and the fresh
// flag aborts the run so no further lookups are scheduled.
func (r *run) setProgress(ctx context.Context, step string, progress float64, processed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if progress < r.lastProgress {
		progress = r.lastProgress
	}
	if step != r.step {
		r.step = step
		r.stepStart = time.Now()
		r.stepProgress = r.lastProgress
	}
	r.lastProgress = progress
	r.progressMark.Store(time.Now().UnixNano())

	eta := r.eta(progress)
	if err := r.svc.updateJob(ctx, r.job, func(j *models.Job) {
		j.Status = models.JobStatusRunning
		j.CurrentStep = step
		j.Progress = progress
		j.ETASeconds = eta
		if processed > j.ProcessedCitations {
			j.ProcessedCitations = processed
		}
	}); err != nil {
		r.svc.logger.Warn().Str("job_id", r.job.ID).Err(err).Msg("Failed to update job progress")
	}

	if r.job.CancelRequested && r.cancel != nil {
		r.cancel()
	}

	jobCopy := *r.job
	r.svc.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobProgress, Payload: &jobCopy})
}

// eta estimates remaining seconds from the current step's observed rate,
// floored at one second while work remains. Before the step has moved the
// whole-run rate stands in.
func (r *run) eta(progress float64) int {
	if progress >= 100 {
		return 0
	}
	elapsed := time.Since(r.stepStart).Seconds()
	delta := progress - r.stepProgress
	if delta <= 0 || elapsed <= 0 {
		elapsed = time.Since(r.start).Seconds()
		delta = progress
	}
	if delta <= 0 || elapsed <= 0 {
		return 0
	}
	eta := int((100 - progress) * elapsed / delta)
	if eta < 1 {
		eta = 1
	}
	return eta
}

// checkCancelled enforces cooperative cancellation at stage boundaries. It
// re-reads the job so a cancel flag set by the API is honored even though
// the worker holds its own copy.
func (r *run) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return models.NewKindedError(models.ErrorKindCancelled, err)
	}
	fresh, err := r.svc.storage.JobStorage().GetJob(ctx, r.job.ID)
	if err != nil {
		return nil
	}
	if fresh.CancelRequested || fresh.Status == models.JobStatusCancelled {
		return models.NewKindedError(models.ErrorKindCancelled, errors.New("cancel requested"))
	}
	return nil
}

// updateJob applies a mutation under optimistic concurrency, re-reading and
// reapplying on conflict.
func (s *Service) updateJob(ctx context.Context, job *models.Job, mutate func(*models.Job)) error {
	for attempt := 0; ; attempt++ {
		mutate(job)
		err := s.storage.JobStorage().UpdateJob(ctx, job)
		if err == nil || !errors.Is(err, models.ErrJobConflict) || attempt >= 2 {
			return err
		}
		fresh, gerr := s.storage.JobStorage().GetJob(ctx, job.ID)
		if gerr != nil {
			return gerr
		}
		*job = *fresh
	}
}

// buildResult assembles the job result and its counts. The flat citations
// view mirrors each occurrence's cluster verification status; statutes and
// regulations are unverified by definition.
func buildResult(out *pipelineOutput, timings map[string]float64) *models.JobResult {
	statusByOffset := make(map[int]models.VerificationStatus)
	for _, c := range out.Clusters {
		for _, m := range c.Occurrences {
			statusByOffset[m.StartOffset] = m.Verification
		}
	}

	citations := make([]models.CitationOccurrence, len(out.Extraction.Occurrences))
	copy(citations, out.Extraction.Occurrences)
	for i := range citations {
		if status, ok := statusByOffset[citations[i].StartOffset]; ok && status != "" {
			citations[i].Verification = status
		} else if citations[i].Verification == "" {
			citations[i].Verification = models.VerificationUnverified
		}
	}

	clusters := make([]models.Cluster, len(out.Clusters))
	metadata := models.ResultMetadata{
		Total:            len(citations),
		TotalClusters:    len(out.Clusters),
		StatutesExcluded: out.Excluded,
		Warnings:         out.Extraction.Warnings,
	}
	for i, c := range out.Clusters {
		clusters[i] = *c
		switch c.VerificationStatus {
		case models.VerificationVerified:
			metadata.Verified++
		case models.VerificationByParallel:
			metadata.VerifiedByParallel++
		case models.VerificationFailed:
			metadata.Failed++
		default:
			metadata.Unverified++
		}
	}

	return &models.JobResult{
		Clusters:  clusters,
		Citations: citations,
		Metadata:  metadata,
		Timing:    timings,
	}
}

// textHash keys the extraction cache. The schema version is folded in so a
// payload shape change cannot resurrect stale tuples.
func textHash(text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|v%d", text, models.CacheSchemaVersion)))
	return hex.EncodeToString(sum[:])
}

func (s *Service) cachedPipeline(ctx context.Context, hash string) *pipelineOutput {
	entry, err := s.storage.CacheStorage().Get(ctx, models.CacheNamespaceExtraction, hash)
	if err != nil {
		return nil
	}
	var out pipelineOutput
	if err := json.Unmarshal(entry.Payload, &out); err != nil {
		s.logger.Warn().Str("hash", hash).Err(err).Msg("Discarding undecodable extraction cache entry")
		return nil
	}
	if out.Extraction == nil {
		return nil
	}
	return &out
}

func (s *Service) storePipeline(ctx context.Context, hash string, out *pipelineOutput) {
	payload, err := json.Marshal(out)
	if err != nil {
		s.logger.Warn().Str("hash", hash).Err(err).Msg("Failed to encode extraction cache payload")
		return
	}
	now := time.Now()
	entry := &models.CacheEntry{
		Key:       hash,
		Namespace: models.CacheNamespaceExtraction,
		Payload:   payload,
		Source:    "pipeline",
		StoredAt:  now,
		ExpiresAt: now.Add(extractionCacheTTL),
	}
	if err := s.storage.CacheStorage().Set(ctx, entry); err != nil {
		s.logger.Warn().Str("hash", hash).Err(err).Msg("Failed to store extraction cache entry")
	}
}
