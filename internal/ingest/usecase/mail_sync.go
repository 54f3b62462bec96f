package usecase

import (
	"context"
	"encoding/json"
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

// MailSyncProcessor handles mail_sync jobs: page through the provider's
// message list, fetch bodies in bounded sub-batches, append raw events in
// bulk, then chain a normalization job for the batch.
type MailSyncProcessor struct {
	vault     TokenSource
	mail      MailAPI
	rawEvents repository.RawEventRepository
	enqueuer  Enqueuer
	opts      SyncOptions
	metrics   *metrics.Metrics
}

func NewMailSyncProcessor(vault TokenSource, mail MailAPI, rawEvents repository.RawEventRepository, enqueuer Enqueuer, opts SyncOptions, m *metrics.Metrics) *MailSyncProcessor {
	return &MailSyncProcessor{
		vault:     vault,
		mail:      mail,
		rawEvents: rawEvents,
		enqueuer:  enqueuer,
		opts:      opts.withDefaults(),
		metrics:   m,
	}
}

// Handle implements the job runner contract for KindMailSync.
func (p *MailSyncProcessor) Handle(ctx context.Context, job *jobdomain.Job) error {
	payload, err := job.DecodePayload()
	if err != nil {
		return err
	}

	batchID := payload.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}

	token, err := p.vault.GetValidToken(ctx, job.UserID, provider.Gmail)
	if err != nil {
		return err
	}

	budget := newRunBudget(p.opts)
	pageToken := payload.PageToken
	truncated := false
	resumeToken := ""

	for !budget.exhausted() {
		page, err := p.mail.ListMessageIDs(ctx, token, payload.Query, pageToken, p.opts.PageSize)
		if err != nil {
			return fmt.Errorf("list mail page: %w", err)
		}

		ingested, err := p.ingestPage(ctx, job.UserID, batchID, token, page.IDs, budget)
		if err != nil {
			return err
		}
		if ingested < len(page.IDs) {
			// Budget ran out mid-page. Resume from the token that listed
			// this page so the unwritten remainder is re-listed; the
			// overlap is absorbed downstream by normalization dedupe.
			truncated = true
			resumeToken = pageToken
			break
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}
	if !truncated && pageToken != "" && budget.exhausted() {
		truncated = true
		resumeToken = pageToken
	}

	// Cap or deadline hit mid-pagination: resume later under a fresh batch.
	if truncated {
		if _, err := p.enqueuer.Enqueue(job.UserID, jobdomain.KindMailSync, jobdomain.JobPayload{
			PageToken: resumeToken,
			Query:     payload.Query,
		}); err != nil {
			return fmt.Errorf("enqueue resume sync: %w", err)
		}
		log.Printf("[MailSync] Run for user %s truncated after %d items, resume queued", job.UserID, budget.written)
	}

	// Exactly one normalization job per batch that wrote rows, even for
	// partial runs: normalization is incremental and idempotent.
	if budget.written > 0 {
		if _, err := p.enqueuer.Enqueue(job.UserID, jobdomain.KindNormalizeMail, jobdomain.JobPayload{
			BatchID: batchID,
		}); err != nil {
			return fmt.Errorf("enqueue normalization: %w", err)
		}
	}

	log.Printf("[MailSync] User %s batch %s: %d raw events written", job.UserID, batchID, budget.written)
	return nil
}

// ingestPage fetches one page's bodies in bounded sub-batches and bulk
// inserts each sub-batch as a single statement. It returns the number of
// ids actually ingested, which falls short of len(ids) when the budget
// runs out mid-page.
func (p *MailSyncProcessor) ingestPage(ctx context.Context, userID, batchID, token string, ids []string, budget *runBudget) (int, error) {
	ingested := 0
	for start := 0; start < len(ids) && !budget.exhausted(); start += p.opts.FetchBatchSize {
		end := start + p.opts.FetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		sub := ids[start:end]
		if keep := budget.remaining(len(sub)); keep < len(sub) {
			sub = sub[:keep]
		}
		if len(sub) == 0 {
			break
		}

		items, err := p.mail.FetchMessages(ctx, token, sub)
		if err != nil {
			return ingested, fmt.Errorf("fetch mail batch: %w", err)
		}

		events := make([]*ingestdomain.RawEvent, 0, len(items))
		for _, item := range items {
			data, err := json.Marshal(item)
			if err != nil {
				return ingested, fmt.Errorf("encode mail item %s: %w", item.ID, err)
			}
			events = append(events, &ingestdomain.RawEvent{
				UserID:     userID,
				Provider:   provider.Gmail,
				SourceID:   item.ID,
				Payload:    data,
				OccurredAt: time.UnixMilli(item.InternalDate),
				BatchID:    batchID,
			})
		}

		if err := p.rawEvents.CreateBatch(events); err != nil {
			return ingested, fmt.Errorf("write raw events: %w", err)
		}
		budget.written += len(events)
		ingested += len(sub)
		if p.metrics != nil {
			p.metrics.RawEventsWritten.WithLabelValues(provider.Gmail).Add(float64(len(events)))
		}

		if p.opts.InterBatchDelay > 0 {
			time.Sleep(p.opts.InterBatchDelay)
		}
	}
	return ingested, nil
}
