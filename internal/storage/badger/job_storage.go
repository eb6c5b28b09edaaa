package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.BackgroundJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Insert(job.JobID, job); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("job %s: %w", job.JobID, interfaces.ErrDuplicate)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.BackgroundJob, error) {
	var job models.BackgroundJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateJob overwrites the stored document inside a single transaction. A
// write that would change the status of a job already in a terminal state is
// rejected with ErrTerminalState: cancellation races the processing routine,
// and the first terminal write wins.
func (s *JobStorage) UpdateJob(ctx context.Context, job *models.BackgroundJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	err := s.db.Store().Badger().Update(func(tx *badger.Txn) error {
		var current models.BackgroundJob
		err := s.db.Store().TxGet(tx, job.JobID, &current)
		if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		if err == nil && current.IsTerminal() && job.Status != current.Status {
			return fmt.Errorf("job %s is %s: %w", job.JobID, current.Status, interfaces.ErrTerminalState)
		}
		return s.db.Store().TxUpsert(tx, job.JobID, job)
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrTerminalState) {
			return err
		}
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// NextPending returns the single best pending candidate: ascending priority
// (1 = highest), then ascending creation time. Returns nil when the pending
// set is empty.
func (s *JobStorage) NextPending(ctx context.Context) (*models.BackgroundJob, error) {
	var jobs []models.BackgroundJob
	query := badgerhold.Where("Status").Eq(models.JobStatusPending).
		SortBy("Priority", "CreatedAt").
		Limit(1)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.BackgroundJob, error) {
	query := badgerhold.Where("JobID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.UserID != "" {
			query = query.And("UserID").Eq(opts.UserID)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
	}

	// Newest first
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.BackgroundJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.BackgroundJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.BackgroundJob, error) {
	var jobs []models.BackgroundJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to get jobs by status: %w", err)
	}

	result := make([]*models.BackgroundJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.BackgroundJob{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.BackgroundJob{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}
