package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// ETFRoutine processes etf_holdings_fetch jobs: fetch holdings for each
// requested ISIN, honoring the cache. One failed ISIN does not fail the
// job; the job fails only when every ISIN fails.
type ETFRoutine struct {
	jobs    interfaces.JobStorage
	fetcher interfaces.HoldingsFetcher
	logger  arbor.ILogger
}

// NewETFRoutine creates the etf_holdings_fetch routine
func NewETFRoutine(jobs interfaces.JobStorage, fetcher interfaces.HoldingsFetcher, logger arbor.ILogger) *ETFRoutine {
	return &ETFRoutine{
		jobs:    jobs,
		fetcher: fetcher,
		logger:  logger,
	}
}

func (r *ETFRoutine) Process(ctx context.Context, job *models.BackgroundJob) error {
	input := job.Input.ETF
	if input == nil {
		return fmt.Errorf("etf_holdings_fetch job %s has no etf input", job.JobID)
	}
	if len(input.ISINs) == 0 {
		return fmt.Errorf("etf_holdings_fetch job %s has no ISINs", job.JobID)
	}

	job.Progress = models.JobProgress{TotalItems: len(input.ISINs)}
	if stop, err := r.persist(ctx, job); stop || err != nil {
		return err
	}

	result := &models.ETFResult{Requested: len(input.ISINs)}

	for _, isin := range input.ISINs {
		current, err := r.jobs.GetJob(ctx, job.JobID)
		if err != nil {
			return err
		}
		if current.Status == models.JobStatusCancelled {
			r.logger.Info().Str("job_id", job.JobID).Msg("Job cancelled, stopping ISIN loop")
			return nil
		}

		job.Progress.CurrentItem = isin
		if stop, err := r.persist(ctx, job); stop || err != nil {
			return err
		}

		_, fromCache, err := r.fetcher.FetchHoldings(ctx, isin, input.ForceRefresh)
		if err != nil {
			r.logger.Warn().Err(err).Str("isin", isin).Msg("ETF holdings fetch failed")
			result.Failed = append(result.Failed, isin)
			job.Progress.FailedItems++
		} else {
			if fromCache {
				result.Cached++
			} else {
				result.Fetched++
			}
			job.Progress.CompletedItems++
		}

		if stop, err := r.persist(ctx, job); stop || err != nil {
			return err
		}
	}

	job.Progress.CurrentItem = ""

	// Result stays nil on the failed path: result is only present on
	// completed jobs.
	if len(result.Failed) == result.Requested {
		job.MarkFailed(fmt.Sprintf("all %d ISINs failed to fetch: %s", result.Requested, strings.Join(result.Failed, ", ")))
		_, err := r.persist(ctx, job)
		return err
	}

	job.MarkCompleted(&models.JobResult{JobType: models.JobTypeETFHoldingsFetch, ETF: result})
	_, err := r.persist(ctx, job)
	return err
}

// persist writes the job document, yielding when another writer already put
// the job into a terminal state.
func (r *ETFRoutine) persist(ctx context.Context, job *models.BackgroundJob) (bool, error) {
	if err := r.jobs.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, interfaces.ErrTerminalState) {
			r.logger.Info().
				Str("job_id", job.JobID).
				Msg("Job reached a terminal status elsewhere, stopping ISIN loop")
			return true, nil
		}
		return false, err
	}
	return false, nil
}
