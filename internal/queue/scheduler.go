package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// ErrInvalidTransition is returned when an operation would move a job out of
// a terminal status.
var ErrInvalidTransition = errors.New("job is in a terminal state")

// ErrUnknownJobType is returned when a job's type has no registered routine.
var ErrUnknownJobType = errors.New("no routine registered for job type")

// ProcessFunc executes one job to a terminal status. The routine owns status
// transitions and progress persistence; returning an error marks the job
// failed only if the routine has not already reached a terminal status.
type ProcessFunc func(ctx context.Context, job *models.BackgroundJob) error

// CreateOptions carries the optional fields of a job submission.
type CreateOptions struct {
	CallbackURL     string
	CallbackHeaders map[string]string
	UserID          string
	Priority        int
}

// Scheduler owns the background job lifecycle: it persists submissions,
// polls for pending work, dispatches at most one new job per tick up to the
// concurrency cap, and delivers completion webhooks. The polling loop only
// exits when its context is cancelled.
type Scheduler struct {
	jobs     interfaces.JobStorage
	events   interfaces.EventLogger
	notifier *Notifier
	logger   arbor.ILogger

	pollInterval  time.Duration
	errorBackoff  time.Duration
	maxConcurrent int

	registry map[models.JobType]ProcessFunc

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler from queue configuration
func NewScheduler(cfg *common.Config, jobs interfaces.JobStorage, events interfaces.EventLogger, notifier *Notifier, logger arbor.ILogger) (*Scheduler, error) {
	pollInterval, err := cfg.PollInterval()
	if err != nil {
		return nil, err
	}
	errorBackoff, err := cfg.ErrorBackoff()
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		jobs:          jobs,
		events:        events,
		notifier:      notifier,
		logger:        logger,
		pollInterval:  pollInterval,
		errorBackoff:  errorBackoff,
		maxConcurrent: cfg.Queue.MaxConcurrentJobs,
		registry:      make(map[models.JobType]ProcessFunc),
		running:       make(map[string]struct{}),
	}, nil
}

// Register binds a processing routine to a job type. Must be called before
// Start.
func (s *Scheduler) Register(jobType models.JobType, fn ProcessFunc) {
	s.registry[jobType] = fn
}

// CreateJob persists a new pending job. An invalid callback URL does not
// fail the submission: the URL is dropped and the returned note explains
// why no webhook will be delivered.
func (s *Scheduler) CreateJob(ctx context.Context, jobType models.JobType, input models.JobInput, opts CreateOptions) (*models.BackgroundJob, string, error) {
	job := models.NewBackgroundJob(common.NewJobID(), jobType, input)
	job.UserID = opts.UserID
	if opts.Priority >= 1 && opts.Priority <= 10 {
		job.Priority = opts.Priority
	}

	var note string
	if opts.CallbackURL != "" {
		if err := validateCallbackURL(opts.CallbackURL); err != nil {
			note = fmt.Sprintf("callback_url rejected, no webhook will be sent: %v", err)
			s.logger.Warn().
				Str("job_id", job.JobID).
				Str("callback_url", opts.CallbackURL).
				Msg("Invalid callback URL dropped at job creation")
		} else {
			job.CallbackURL = opts.CallbackURL
			job.CallbackHeaders = opts.CallbackHeaders
		}
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, "", err
	}

	s.events.Emit(ctx, models.EventJobCreated, "pending", interfaces.EventFields{
		JobID:   job.JobID,
		Message: fmt.Sprintf("Created %s job", jobType),
	})

	s.logger.Info().
		Str("job_id", job.JobID).
		Str("job_type", string(jobType)).
		Int("priority", job.Priority).
		Msg("Job created")

	return job, note, nil
}

// Cancel transitions a pending or running job to cancelled. A running job
// stops before its next work item; completed work is kept. Cancelling a
// terminal job returns ErrInvalidTransition.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return fmt.Errorf("cannot cancel job %s in status %s: %w", jobID, job.Status, ErrInvalidTransition)
	}

	job.MarkCancelled()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return err
	}

	s.events.Emit(ctx, models.EventJobStatusChanged, string(models.JobStatusCancelled), interfaces.EventFields{
		JobID: jobID,
	})

	s.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	return nil
}

// Start runs the polling loop until ctx is cancelled, then waits for
// in-flight jobs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Dur("poll_interval", s.pollInterval).
		Int("max_concurrent", s.maxConcurrent).
		Msg("Job scheduler started")

	for {
		if err := s.dispatch(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Scheduler iteration failed")
			if !sleepCtx(ctx, s.errorBackoff) {
				break
			}
			continue
		}
		if !sleepCtx(ctx, s.pollInterval) {
			break
		}
	}

	s.logger.Info().Msg("Job scheduler stopping, waiting for running jobs")
	s.wg.Wait()
	s.logger.Info().Msg("Job scheduler stopped")
}

// dispatch launches at most one pending job per tick when below the
// concurrency cap.
func (s *Scheduler) dispatch(ctx context.Context) error {
	s.mu.Lock()
	inFlight := len(s.running)
	s.mu.Unlock()

	if inFlight >= s.maxConcurrent {
		return nil
	}

	job, err := s.jobs.NextPending(ctx)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	s.mu.Lock()
	if _, already := s.running[job.JobID]; already {
		s.mu.Unlock()
		return nil
	}
	s.running[job.JobID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, job)
	return nil
}

// RunningCount returns the number of in-flight jobs.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (s *Scheduler) run(ctx context.Context, job *models.BackgroundJob) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, job.JobID)
		s.mu.Unlock()
	}()

	job.MarkStarted()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		// A cancel landing between NextPending and this write leaves the job
		// terminal; the storage guard rejects the running write and the job
		// never starts.
		if errors.Is(err, interfaces.ErrTerminalState) {
			s.logger.Info().Str("job_id", job.JobID).Msg("Job cancelled before start")
			return
		}
		s.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to mark job running")
		return
	}
	s.events.Emit(ctx, models.EventJobStatusChanged, string(models.JobStatusRunning), interfaces.EventFields{
		JobID: job.JobID,
	})

	fn, ok := s.registry[job.JobType]
	var runErr error
	if !ok {
		runErr = fmt.Errorf("%w: %s", ErrUnknownJobType, job.JobType)
	} else {
		runErr = s.safeRun(ctx, fn, job)
	}

	// The routine persists its own terminal status; reload to see it.
	final, err := s.jobs.GetJob(ctx, job.JobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to reload job after run")
		return
	}

	if !final.IsTerminal() {
		if runErr == nil {
			runErr = fmt.Errorf("routine returned without reaching a terminal status")
		}
		final.MarkFailed(runErr.Error())
		if err := s.jobs.UpdateJob(ctx, final); err != nil {
			if errors.Is(err, interfaces.ErrTerminalState) {
				// A cancel beat the failure write; reload so the event and
				// webhook decision below see the real status.
				if final, err = s.jobs.GetJob(ctx, job.JobID); err != nil {
					s.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to reload job after terminal race")
					return
				}
			} else {
				s.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to mark job failed")
				return
			}
		}
	}

	s.events.Emit(ctx, models.EventJobStatusChanged, string(final.Status), interfaces.EventFields{
		JobID:   final.JobID,
		Message: final.ErrorMessage,
	})

	s.logger.Info().
		Str("job_id", final.JobID).
		Str("status", string(final.Status)).
		Msg("Job finished")

	// Cancelled jobs get no webhook.
	if final.Status == models.JobStatusCompleted || final.Status == models.JobStatusFailed {
		s.notifier.Notify(ctx, final)
	}
}

// safeRun converts a routine panic into a job failure instead of taking the
// scheduler down.
func (s *Scheduler) safeRun(ctx context.Context, fn ProcessFunc, job *models.BackgroundJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job routine panicked: %v", r)
			s.logger.Error().Str("job_id", job.JobID).Msgf("Job routine panic: %v", r)
		}
	}()
	return fn(ctx, job)
}

// validateCallbackURL accepts absolute http or https URLs only.
func validateCallbackURL(raw string) error {
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return fmt.Errorf("callback URL must start with http:// or https://")
	}
	return nil
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
