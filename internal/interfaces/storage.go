package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/folio/internal/models"
)

// Storage sentinel errors. Implementations map their backend's error values
// onto these so callers can branch without knowing the backend.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")

	// ErrTerminalState is returned by UpdateJob when the write would move a
	// job out of a terminal status, e.g. a routine's stale running copy
	// arriving after a cancel was persisted.
	ErrTerminalState = errors.New("job is in a terminal state")
)

// JobListOptions filters and bounds job listing queries.
type JobListOptions struct {
	Status models.JobStatus
	UserID string
	Limit  int
	Offset int
}

// JobStorage is durable CRUD for job documents plus the dequeue query.
type JobStorage interface {
	// CreateJob inserts a new job document. Returns ErrDuplicate if the
	// job ID already exists.
	CreateJob(ctx context.Context, job *models.BackgroundJob) error

	// GetJob returns the job or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*models.BackgroundJob, error)

	// UpdateJob overwrites the stored document. Cancellation introduces a
	// second writer, so implementations must reject writes that would change
	// the status of a job already in a terminal state, returning
	// ErrTerminalState. Same-status writes to a terminal job are allowed.
	UpdateJob(ctx context.Context, job *models.BackgroundJob) error

	// NextPending returns the best pending candidate (lowest priority
	// number, then earliest creation time), or nil when none exist.
	NextPending(ctx context.Context) (*models.BackgroundJob, error)

	// ListJobs returns jobs matching the options, newest first.
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.BackgroundJob, error)

	// GetJobsByStatus returns all jobs in the given status.
	GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.BackgroundJob, error)

	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)

	DeleteJob(ctx context.Context, jobID string) error
}

// FileListOptions filters and bounds upload listing queries.
type FileListOptions struct {
	Status models.ProcessingStatus
	Limit  int
	Offset int
}

// UploadStorage persists uploaded file records and their sheet children.
type UploadStorage interface {
	CreateFileUpload(ctx context.Context, upload *models.FileUpload) error
	GetFileUpload(ctx context.Context, fileID string) (*models.FileUpload, error)
	UpdateFileUpload(ctx context.Context, upload *models.FileUpload) error
	GetFilesByParentID(ctx context.Context, parentID string) ([]*models.FileUpload, error)
	ListFiles(ctx context.Context, opts *FileListOptions) ([]*models.FileUpload, error)
	DeleteFileUpload(ctx context.Context, fileID string) error
}

// PortfolioStorage persists extracted portfolio documents.
type PortfolioStorage interface {
	// UpsertPortfolio inserts or replaces by portfolio ID, so re-running a
	// sheet produces one document rather than accumulating.
	UpsertPortfolio(ctx context.Context, portfolio *models.Portfolio) error
	GetPortfolio(ctx context.Context, portfolioID string) (*models.Portfolio, error)
	ListPortfolios(ctx context.Context, limit int) ([]*models.Portfolio, error)
}

// EventStorage appends observability records.
type EventStorage interface {
	WriteEvent(ctx context.Context, event *models.ProcessingEvent) error
	ListEventsByJob(ctx context.Context, jobID string, limit int) ([]*models.ProcessingEvent, error)
}

// ETFStorage caches ETF holdings documents keyed by ISIN.
type ETFStorage interface {
	UpsertHoldings(ctx context.Context, holdings *models.ETFHoldings) error
	GetHoldings(ctx context.Context, isin string) (*models.ETFHoldings, error)
	ListHoldings(ctx context.Context, limit int) ([]*models.ETFHoldings, error)
}

// StorageManager provides access to all storage interfaces.
type StorageManager interface {
	JobStorage() JobStorage
	UploadStorage() UploadStorage
	PortfolioStorage() PortfolioStorage
	EventStorage() EventStorage
	ETFStorage() ETFStorage
	Close() error
}
