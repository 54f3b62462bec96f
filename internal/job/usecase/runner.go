package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	credentialUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/usecase"
	jobdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/job/repository"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/metrics"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/retry"
)

// Handler executes one claimed job. Returning nil marks the job done; a
// retryable error re-queues it with backoff; a terminal error (auth, invalid
// payload) fails it immediately.
type Handler func(ctx context.Context, job *jobdomain.Job) error

// Summary reports the outcome of one poll cycle.
type Summary struct {
	Processed int `json:"processed"`
	Done      int `json:"done"`
	Requeued  int `json:"requeued"`
	Failed    int `json:"failed"`
	Reclaimed int `json:"reclaimed"`
}

// Options are the runner tunables, all bounded.
type Options struct {
	PollBatchSize int
	MaxAttempts   int
	JobTimeout    time.Duration
	InterJobDelay time.Duration
	StaleAfter    time.Duration
	// Backoff overrides the job-level retry backoff when BaseDelay is set.
	Backoff retry.Policy
}

// Runner polls the queue and executes due jobs sequentially. Safety against
// double-processing comes from the atomic claim, not from single-threading:
// concurrent RunOnce invocations are allowed.
type Runner struct {
	repo     repository.JobRepository
	handlers map[jobdomain.JobKind]Handler
	opts     Options
	backoff  retry.Policy
	metrics  *metrics.Metrics
}

func NewRunner(repo repository.JobRepository, opts Options, m *metrics.Metrics) *Runner {
	if opts.PollBatchSize <= 0 {
		opts.PollBatchSize = 10
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 3 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	if opts.Backoff.BaseDelay <= 0 {
		// Job-level backoff is coarser than the per-request policy: failed
		// jobs wait at least 30s before the next pick-up.
		opts.Backoff = retry.Policy{BaseDelay: 30 * time.Second, MaxDelay: 10 * time.Minute}
	}

	return &Runner{
		repo:     repo,
		handlers: make(map[jobdomain.JobKind]Handler),
		opts:     opts,
		backoff:  opts.Backoff,
		metrics:  m,
	}
}

// Register binds a handler to a job kind. Every kind in jobdomain.Kinds must
// be registered before RunOnce is called; Verify enforces that.
func (r *Runner) Register(kind jobdomain.JobKind, h Handler) {
	r.handlers[kind] = h
}

// Verify returns an error if any job kind has no handler.
func (r *Runner) Verify() error {
	for _, kind := range jobdomain.Kinds() {
		if _, ok := r.handlers[kind]; !ok {
			return fmt.Errorf("no handler registered for job kind %q", kind)
		}
	}
	return nil
}

// Enqueue validates and persists a new queued job.
func (r *Runner) Enqueue(userID string, kind jobdomain.JobKind, payload jobdomain.JobPayload) (*jobdomain.Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	if userID == "" {
		return nil, errors.New("job owner is required")
	}

	data, err := jobdomain.EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	job := &jobdomain.Job{
		UserID:  userID,
		Kind:    kind,
		Payload: data,
		BatchID: payload.BatchID,
	}
	if err := r.repo.Enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}

// RunOnce performs one bounded poll cycle: reclaim stale jobs, select due
// jobs, claim and execute each sequentially with its own timeout and a small
// delay between jobs. Safe to invoke repeatedly and concurrently.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	var summary Summary

	reclaimed, err := r.repo.ReclaimStale(time.Now().Add(-r.opts.StaleAfter))
	if err != nil {
		return summary, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	if reclaimed > 0 {
		log.Printf("[JobRunner] Reclaimed %d stale jobs", reclaimed)
		summary.Reclaimed = int(reclaimed)
	}

	jobs, err := r.repo.FindDue(r.opts.PollBatchSize, time.Now())
	if err != nil {
		return summary, fmt.Errorf("poll queue: %w", err)
	}

	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && r.opts.InterJobDelay > 0 {
			time.Sleep(r.opts.InterJobDelay)
		}

		claimed, err := r.repo.Claim(job.ID, job.UserID)
		if err != nil {
			log.Printf("[JobRunner] Claim failed for job %s: %v", job.ID, err)
			continue
		}
		if !claimed {
			// Another runner got there first; not an error.
			if r.metrics != nil {
				r.metrics.ClaimsLost.Inc()
			}
			continue
		}

		summary.Processed++
		switch r.execute(ctx, job) {
		case outcomeDone:
			summary.Done++
		case outcomeRequeued:
			summary.Requeued++
		case outcomeFailed:
			summary.Failed++
		}
	}

	return summary, nil
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRequeued
	outcomeFailed
)

func (r *Runner) execute(ctx context.Context, job *jobdomain.Job) outcome {
	handler, ok := r.handlers[job.Kind]
	if !ok {
		log.Printf("[JobRunner] No handler for kind %s (job %s)", job.Kind, job.ID)
		return r.fail(job, job.Attempts+1, fmt.Sprintf("no handler for kind %s", job.Kind))
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.opts.JobTimeout)
	defer cancel()

	err := handler(jobCtx, job)
	if err == nil {
		if markErr := r.repo.MarkDone(job.ID); markErr != nil {
			log.Printf("[JobRunner] Failed to mark job %s done: %v", job.ID, markErr)
		}
		r.count(job.Kind, "done")
		return outcomeDone
	}

	attempts := job.Attempts + 1

	var authErr *credentialUsecase.AuthError
	switch {
	case errors.As(err, &authErr):
		// Revoked consent cannot succeed on retry.
		log.Printf("[JobRunner] Job %s (%s) failed with auth error: %v", job.ID, job.Kind, err)
		return r.fail(job, attempts, err.Error())
	case errors.Is(err, jobdomain.ErrInvalidPayload):
		log.Printf("[JobRunner] Job %s (%s) has invalid payload: %v", job.ID, job.Kind, err)
		return r.fail(job, attempts, err.Error())
	case attempts >= r.opts.MaxAttempts:
		log.Printf("[JobRunner] Job %s (%s) exhausted %d attempts: %v", job.ID, job.Kind, attempts, err)
		return r.fail(job, attempts, err.Error())
	default:
		runAfter := time.Now().Add(r.backoff.Backoff(attempts))
		if requeueErr := r.repo.Requeue(job.ID, attempts, runAfter, err.Error()); requeueErr != nil {
			log.Printf("[JobRunner] Failed to requeue job %s: %v", job.ID, requeueErr)
		}
		log.Printf("[JobRunner] Job %s (%s) attempt %d failed, retrying after %s: %v",
			job.ID, job.Kind, attempts, runAfter.Format(time.RFC3339), err)
		r.count(job.Kind, "requeued")
		return outcomeRequeued
	}
}

func (r *Runner) fail(job *jobdomain.Job, attempts int, lastError string) outcome {
	if err := r.repo.MarkError(job.ID, attempts, lastError); err != nil {
		log.Printf("[JobRunner] Failed to mark job %s errored: %v", job.ID, err)
	}
	r.count(job.Kind, "error")
	return outcomeFailed
}

func (r *Runner) count(kind jobdomain.JobKind, result string) {
	if r.metrics != nil {
		r.metrics.JobsProcessed.WithLabelValues(string(kind), result).Inc()
	}
}
