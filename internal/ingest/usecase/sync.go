package usecase

import (
	"context"
	"time"

	jobdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/provider"
)

// TokenSource is the vault contract the processors depend on.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID, provider string) (string, error)
}

// MailAPI is the paginated mail provider surface.
type MailAPI interface {
	ListMessageIDs(ctx context.Context, accessToken, query, pageToken string, pageSize int64) (provider.MailPage, error)
	FetchMessages(ctx context.Context, accessToken string, ids []string) ([]provider.MailItem, error)
}

// CalendarAPI is the paginated calendar provider surface.
type CalendarAPI interface {
	ListEvents(ctx context.Context, accessToken, pageToken string, pageSize int64) (provider.EventPage, error)
}

// Enqueuer chains follow-up jobs; the job runner satisfies it.
type Enqueuer interface {
	Enqueue(userID string, kind jobdomain.JobKind, payload jobdomain.JobPayload) (*jobdomain.Job, error)
}

// SyncOptions bounds one sync run. The caps protect runtime and memory; the
// delays protect provider quotas.
type SyncOptions struct {
	MaxItems        int
	RunDeadline     time.Duration
	PageSize        int64
	FetchBatchSize  int
	InterBatchDelay time.Duration
}

func (o SyncOptions) withDefaults() SyncOptions {
	if o.MaxItems <= 0 {
		o.MaxItems = 500
	}
	if o.RunDeadline <= 0 {
		o.RunDeadline = 2 * time.Minute
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.FetchBatchSize <= 0 {
		o.FetchBatchSize = 25
	}
	return o
}

// runBudget tracks the item cap and wall-clock deadline for one run.
type runBudget struct {
	deadline time.Time
	maxItems int
	written  int
}

func newRunBudget(opts SyncOptions) *runBudget {
	return &runBudget{
		deadline: time.Now().Add(opts.RunDeadline),
		maxItems: opts.MaxItems,
	}
}

func (b *runBudget) exhausted() bool {
	return b.written >= b.maxItems || !time.Now().Before(b.deadline)
}

// remaining caps a prospective fetch to what the budget still allows.
func (b *runBudget) remaining(want int) int {
	left := b.maxItems - b.written
	if want > left {
		return left
	}
	return want
}
