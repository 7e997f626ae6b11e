package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

// HandleAnalyzeMessage is the queue handler for analyze messages. A nil
// return acknowledges the message; returning an error leaves it for
// visibility-timeout redelivery, so only transient failures propagate.
func (s *Service) HandleAnalyzeMessage(ctx context.Context, msg *interfaces.ReceivedMessage) error {
	jobID := msg.Body.JobID
	jobs := s.storage.JobStorage()

	job, err := jobs.GetJob(ctx, jobID)
	if err != nil {
		// Nothing to run against. Ack so the message cannot poison the queue.
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Analyze message for unknown job")
		return nil
	}
	if job.Status.Terminal() {
		return nil
	}
	if job.CancelRequested {
		s.finalizeCancelled(ctx, job)
		return nil
	}

	snapshot, err := s.storage.DocumentStorage().GetSnapshot(ctx, jobID)
	if err != nil {
		s.finalizeFailed(ctx, job, models.NewKindedError(models.ErrorKindInput,
			errors.New("document snapshot missing")))
		return nil
	}

	if err := s.updateJob(ctx, job, func(j *models.Job) {
		j.Status = models.JobStatusRunning
		j.CurrentStep = models.StepExtraction
		j.Attempts = msg.ReceiveCount
		if j.StartedAt == nil {
			now := time.Now()
			j.StartedAt = &now
		}
	}); err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to mark job running")
	}

	result, runErr := s.Run(ctx, job, snapshot.Text)
	switch {
	case runErr == nil:
		s.finalizeCompleted(ctx, job, result)
		return nil
	case models.KindOf(runErr) == models.ErrorKindCancelled:
		s.finalizeCancelled(ctx, job)
		return nil
	case models.KindOf(runErr) == models.ErrorKindTransient:
		s.logger.Warn().Str("job_id", jobID).Err(runErr).Msg("Transient failure, leaving message for redelivery")
		return runErr
	default:
		s.finalizeFailed(ctx, job, runErr)
		return nil
	}
}

// HandleDeadMessage marks the job failed when its message exceeded the
// receive limit. Partial state from earlier attempts is discarded.
func (s *Service) HandleDeadMessage(ctx context.Context, msg *interfaces.ReceivedMessage) {
	jobID := msg.Body.JobID
	job, err := s.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil || job.Status.Terminal() {
		return
	}
	s.logger.Error().Str("job_id", jobID).Int("receive_count", msg.ReceiveCount).
		Msg("Job message exceeded receive limit")
	s.finalizeFailed(ctx, job, models.NewKindedError(models.ErrorKindTransient,
		errors.New("job retried too many times")))
}

func (s *Service) finalizeCompleted(ctx context.Context, job *models.Job, result *models.JobResult) {
	now := time.Now()
	if err := s.updateJob(ctx, job, func(j *models.Job) {
		j.Status = models.JobStatusCompleted
		j.CurrentStep = models.StepFinalizing
		j.Progress = 100
		j.ETASeconds = 0
		j.Result = result
		j.ProcessedCitations = result.Metadata.Total
		j.TotalCitations = result.Metadata.Total
		j.Error = ""
		j.ErrorKind = ""
		j.CompletedAt = &now
	}); err != nil {
		s.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to record job completion")
		return
	}
	s.logger.Info().Str("job_id", job.ID).
		Int("clusters", result.Metadata.TotalClusters).
		Int("verified", result.Metadata.Verified+result.Metadata.VerifiedByParallel).
		Msg("Job completed")
	s.publishJob(ctx, interfaces.EventJobCompleted, job)
}

func (s *Service) finalizeCancelled(ctx context.Context, job *models.Job) {
	now := time.Now()
	if err := s.updateJob(ctx, job, func(j *models.Job) {
		j.Status = models.JobStatusCancelled
		j.Result = nil
		j.ETASeconds = 0
		j.CompletedAt = &now
	}); err != nil {
		s.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to record job cancellation")
		return
	}
	s.logger.Info().Str("job_id", job.ID).Msg("Job cancelled")
	s.publishJob(ctx, interfaces.EventJobCancelled, job)
}

func (s *Service) finalizeFailed(ctx context.Context, job *models.Job, cause error) {
	now := time.Now()
	if err := s.updateJob(ctx, job, func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.Result = nil
		j.ETASeconds = 0
		j.Error = cause.Error()
		j.ErrorKind = models.KindOf(cause)
		j.CompletedAt = &now
	}); err != nil {
		s.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to record job failure")
		return
	}
	s.logger.Warn().Str("job_id", job.ID).Str("kind", string(models.KindOf(cause))).
		Err(cause).Msg("Job failed")
	s.publishJob(ctx, interfaces.EventJobFailed, job)
}

func (s *Service) publishJob(ctx context.Context, eventType interfaces.EventType, job *models.Job) {
	jobCopy := *job
	s.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: &jobCopy})
}
