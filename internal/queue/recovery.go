package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// RecoveryAction selects what happens to a job found stuck in running.
type RecoveryAction string

const (
	// RecoveryReset returns the job to pending so the scheduler retries it
	// from the start. Sheet-level idempotence makes the retry safe.
	RecoveryReset RecoveryAction = "reset"
	// RecoveryFail marks the job failed with an interruption message.
	RecoveryFail RecoveryAction = "fail"
)

// ParseRecoveryAction validates a configured action string.
func ParseRecoveryAction(s string) (RecoveryAction, error) {
	switch strings.ToLower(s) {
	case string(RecoveryReset):
		return RecoveryReset, nil
	case string(RecoveryFail):
		return RecoveryFail, nil
	default:
		return "", fmt.Errorf("unknown recovery action %q", s)
	}
}

// RecoveryService repairs jobs left in running status by a crash or
// restart. It runs once at startup before the scheduler starts, and
// periodically as a sweep. The sweep only touches jobs whose started_at
// predates this process's start: anything started later belongs to a live
// routine and must not be clobbered.
type RecoveryService struct {
	jobs         interfaces.JobStorage
	events       interfaces.EventLogger
	logger       arbor.ILogger
	action       RecoveryAction
	processStart time.Time
}

// NewRecoveryService creates a recovery service. The construction time is
// the cutoff for the bulk sweep, so build it before the scheduler starts
// dispatching.
func NewRecoveryService(jobs interfaces.JobStorage, events interfaces.EventLogger, action RecoveryAction, logger arbor.ILogger) *RecoveryService {
	return &RecoveryService{
		jobs:         jobs,
		events:       events,
		logger:       logger,
		action:       action,
		processStart: time.Now(),
	}
}

// RecoverStuckJobs applies the configured action to every job stuck in
// running status from a previous process. Returns the number of jobs
// repaired.
func (s *RecoveryService) RecoverStuckJobs(ctx context.Context) (int, error) {
	stuck, err := s.jobs.GetJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	recovered := 0
	for _, job := range stuck {
		if job.StartedAt == nil || !job.StartedAt.Before(s.processStart) {
			s.logger.Debug().
				Str("job_id", job.JobID).
				Msg("Skipping running job started by this process")
			continue
		}
		if err := s.applyAction(ctx, job, s.action); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to recover stuck job")
			continue
		}
		recovered++
	}

	s.events.Emit(ctx, models.EventJobsRecovered, "success", interfaces.EventFields{
		Message: fmt.Sprintf("Recovered %d stuck jobs (action=%s)", recovered, s.action),
		Metadata: map[string]interface{}{
			"count":  recovered,
			"action": string(s.action),
		},
	})

	s.logger.Info().
		Int("count", recovered).
		Str("action", string(s.action)).
		Msg("Stuck job recovery completed")

	return recovered, nil
}

// FixStuckJob applies a recovery action to a single job. It is an explicit
// operator action, so unlike the bulk sweep it is not scoped to the process
// start cutoff; it refuses jobs that are not in running status.
func (s *RecoveryService) FixStuckJob(ctx context.Context, jobID string, action RecoveryAction) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusRunning {
		return fmt.Errorf("job %s is %s, not running: %w", jobID, job.Status, ErrInvalidTransition)
	}

	return s.applyAction(ctx, job, action)
}

func (s *RecoveryService) applyAction(ctx context.Context, job *models.BackgroundJob, action RecoveryAction) error {
	switch action {
	case RecoveryFail:
		job.MarkFailed("job interrupted by service restart")
	default:
		job.Status = models.JobStatusPending
		job.StartedAt = nil
		job.Progress = models.JobProgress{}
		job.ErrorMessage = ""
	}

	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	s.logger.Info().
		Str("job_id", job.JobID).
		Str("action", string(action)).
		Msg("Stuck job recovered")
	return nil
}
