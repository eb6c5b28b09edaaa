package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
)

// webhookPayload is the body POSTed to a job's callback URL on completion
// or failure.
type webhookPayload struct {
	JobID        string             `json:"job_id"`
	JobType      models.JobType     `json:"job_type"`
	Status       models.JobStatus   `json:"status"`
	Progress     models.JobProgress `json:"progress"`
	Result       *models.JobResult  `json:"result,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

// Notifier delivers completion webhooks. Delivery is best effort: every
// failure is recorded as an event and swallowed, it never changes the job's
// outcome.
type Notifier struct {
	client  *http.Client
	events  interfaces.EventLogger
	logger  arbor.ILogger
	timeout time.Duration
}

// NewNotifier creates a webhook notifier with the given delivery timeout
func NewNotifier(timeout time.Duration, events interfaces.EventLogger, logger arbor.ILogger) *Notifier {
	return &Notifier{
		client:  &http.Client{Timeout: timeout},
		events:  events,
		logger:  logger,
		timeout: timeout,
	}
}

// Notify POSTs the job outcome to its callback URL. No-op when the job has
// no callback URL.
func (n *Notifier) Notify(ctx context.Context, job *models.BackgroundJob) {
	if job.CallbackURL == "" {
		return
	}

	// The URL was validated at creation but the record may predate that
	// check, re-validate before dialing.
	if err := validateCallbackURL(job.CallbackURL); err != nil {
		n.events.Emit(ctx, models.EventWebhookSkipped, "failed", interfaces.EventFields{
			JobID:   job.JobID,
			Message: err.Error(),
		})
		n.logger.Warn().
			Str("job_id", job.JobID).
			Str("callback_url", job.CallbackURL).
			Msg("Webhook skipped: invalid callback URL")
		return
	}

	payload := webhookPayload{
		JobID:        job.JobID,
		JobType:      job.JobType,
		Status:       job.Status,
		Progress:     job.Progress,
		Result:       job.Result,
		ErrorMessage: job.ErrorMessage,
		CompletedAt:  job.CompletedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.recordFailure(ctx, job, fmt.Sprintf("failed to encode payload: %v", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(body))
	if err != nil {
		n.recordFailure(ctx, job, fmt.Sprintf("failed to build request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range job.CallbackHeaders {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.recordFailure(ctx, job, fmt.Sprintf("delivery failed: %v", err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.recordFailure(ctx, job, fmt.Sprintf("callback returned status %d", resp.StatusCode))
		return
	}

	n.events.Emit(ctx, models.EventWebhookSent, "success", interfaces.EventFields{
		JobID:   job.JobID,
		Message: fmt.Sprintf("Delivered %s webhook", job.Status),
	})
	n.logger.Info().
		Str("job_id", job.JobID).
		Int("status_code", resp.StatusCode).
		Msg("Webhook delivered")
}

func (n *Notifier) recordFailure(ctx context.Context, job *models.BackgroundJob, reason string) {
	n.events.Emit(ctx, models.EventWebhookFailed, "failed", interfaces.EventFields{
		JobID:   job.JobID,
		Message: reason,
	})
	n.logger.Warn().
		Str("job_id", job.JobID).
		Str("callback_url", job.CallbackURL).
		Str("reason", reason).
		Msg("Webhook delivery failed")
}
