package usecase

import (
	"context"
	"fmt"
	"log"
	"time"

	ingestdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/repository"
	jobdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/metrics"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/provider"

	"github.com/google/uuid"
)

// CalendarSyncProcessor handles calendar_sync jobs. The calendar list API
// returns full payloads, so there is no separate fetch stage; pages are
// bulk inserted directly.
type CalendarSyncProcessor struct {
	vault     TokenSource
	calendar  CalendarAPI
	rawEvents repository.RawEventRepository
	enqueuer  Enqueuer
	opts      SyncOptions
	metrics   *metrics.Metrics
}

func NewCalendarSyncProcessor(vault TokenSource, calendar CalendarAPI, rawEvents repository.RawEventRepository, enqueuer Enqueuer, opts SyncOptions, m *metrics.Metrics) *CalendarSyncProcessor {
	return &CalendarSyncProcessor{
		vault:     vault,
		calendar:  calendar,
		rawEvents: rawEvents,
		enqueuer:  enqueuer,
		opts:      opts.withDefaults(),
		metrics:   m,
	}
}

// Handle implements the job runner contract for KindCalendarSync.
func (p *CalendarSyncProcessor) Handle(ctx context.Context, job *jobdomain.Job) error {
	payload, err := job.DecodePayload()
	if err != nil {
		return err
	}

	batchID := payload.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}

	token, err := p.vault.GetValidToken(ctx, job.UserID, provider.Calendar)
	if err != nil {
		return err
	}

	budget := newRunBudget(p.opts)
	pageToken := payload.PageToken
	truncated := false
	resumeToken := ""

	for !budget.exhausted() {
		page, err := p.calendar.ListEvents(ctx, token, pageToken, p.opts.PageSize)
		if err != nil {
			return fmt.Errorf("list calendar page: %w", err)
		}

		items := page.Items
		if keep := budget.remaining(len(items)); keep < len(items) {
			// Budget ran out mid-page. Resume from the token that listed
			// this page so the trimmed remainder is re-listed; the overlap
			// is absorbed downstream by normalization dedupe.
			items = items[:keep]
			truncated = true
			resumeToken = pageToken
		}

		events := make([]*ingestdomain.RawEvent, 0, len(items))
		for _, item := range items {
			events = append(events, &ingestdomain.RawEvent{
				UserID:     job.UserID,
				Provider:   provider.Calendar,
				SourceID:   item.ID,
				Payload:    item.Payload,
				OccurredAt: item.StartsAt,
				BatchID:    batchID,
			})
		}

		if err := p.rawEvents.CreateBatch(events); err != nil {
			return fmt.Errorf("write raw events: %w", err)
		}
		budget.written += len(events)
		if p.metrics != nil && len(events) > 0 {
			p.metrics.RawEventsWritten.WithLabelValues(provider.Calendar).Add(float64(len(events)))
		}

		if truncated {
			break
		}
		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
		if p.opts.InterBatchDelay > 0 {
			time.Sleep(p.opts.InterBatchDelay)
		}
	}
	if !truncated && pageToken != "" && budget.exhausted() {
		truncated = true
		resumeToken = pageToken
	}

	if truncated {
		if _, err := p.enqueuer.Enqueue(job.UserID, jobdomain.KindCalendarSync, jobdomain.JobPayload{
			PageToken: resumeToken,
		}); err != nil {
			return fmt.Errorf("enqueue resume sync: %w", err)
		}
		log.Printf("[CalendarSync] Run for user %s truncated after %d items, resume queued", job.UserID, budget.written)
	}

	if budget.written > 0 {
		if _, err := p.enqueuer.Enqueue(job.UserID, jobdomain.KindNormalizeCalendar, jobdomain.JobPayload{
			BatchID: batchID,
		}); err != nil {
			return fmt.Errorf("enqueue normalization: %w", err)
		}
	}

	log.Printf("[CalendarSync] User %s batch %s: %d raw events written", job.UserID, batchID, budget.written)
	return nil
}
