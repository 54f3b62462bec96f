package repository

import (
	"time"

	jobdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/domain"
)

// JobRepository defines persistence for the durable job queue. All state
// transitions are single conditional UPDATEs; coordination between runners
// happens entirely through these rows.
type JobRepository interface {
	// Enqueue writes a queued job, filling in id and timestamps.
	Enqueue(job *jobdomain.Job) error

	// FindByID returns nil, nil when the job does not exist.
	FindByID(id string) (*jobdomain.Job, error)

	// FindDue returns up to limit queued jobs whose run_after has passed,
	// oldest first.
	FindDue(limit int, now time.Time) ([]*jobdomain.Job, error)

	// Claim transitions queued -> processing conditioned on job id, owning
	// user id, and current status. Returns false when another runner won the
	// race or ownership does not match.
	Claim(id, userID string) (bool, error)

	// MarkDone transitions processing -> done.
	MarkDone(id string) error

	// MarkError transitions to the terminal error state.
	MarkError(id string, attempts int, lastError string) error

	// Requeue puts a failed job back to queued with the attempt count and a
	// backoff deadline.
	Requeue(id string, attempts int, runAfter time.Time, lastError string) error

	// ReclaimStale re-queues jobs stuck in processing since before the cutoff
	// (crashed runs). Returns how many were reclaimed.
	ReclaimStale(cutoff time.Time) (int64, error)

	// LastDone returns the most recently completed job of a kind for a user,
	// nil when none exists.
	LastDone(userID string, kind jobdomain.JobKind) (*jobdomain.Job, error)
}
