package usecase

import (
	"context"
	"fmt"
	"log"

	ingestdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/domain"
	ingestrepo "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/repository"
	interactiondomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/repository"
	jobdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/metrics"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/provider"
)

// transform projects one raw event into a partially filled interaction.
// Ownership and dedup fields are stamped by the normalizer.
type transform func(event *ingestdomain.RawEvent) (*interactiondomain.Interaction, error)

// Normalizer consumes a batch of raw events and projects the ones not yet
// seen into canonical interactions. The whole run is three round trips:
// load batch, one existence query, one bulk insert.
type Normalizer struct {
	rawEvents    ingestrepo.RawEventRepository
	interactions repository.InteractionRepository
	metrics      *metrics.Metrics
}

func NewNormalizer(rawEvents ingestrepo.RawEventRepository, interactions repository.InteractionRepository, m *metrics.Metrics) *Normalizer {
	return &Normalizer{
		rawEvents:    rawEvents,
		interactions: interactions,
		metrics:      m,
	}
}

// HandleMail implements the job runner contract for KindNormalizeMail.
func (n *Normalizer) HandleMail(ctx context.Context, job *jobdomain.Job) error {
	return n.normalize(job, provider.Gmail, parseMailEvent)
}

// HandleCalendar implements the job runner contract for KindNormalizeCalendar.
func (n *Normalizer) HandleCalendar(ctx context.Context, job *jobdomain.Job) error {
	return n.normalize(job, provider.Calendar, parseCalendarEvent)
}

func (n *Normalizer) normalize(job *jobdomain.Job, source string, parse transform) error {
	payload, err := job.DecodePayload()
	if err != nil {
		return err
	}
	if payload.BatchID == "" {
		return fmt.Errorf("%w: normalization requires a batch id", jobdomain.ErrInvalidPayload)
	}

	events, err := n.rawEvents.FindByUserAndBatch(job.UserID, payload.BatchID)
	if err != nil {
		return fmt.Errorf("load raw events: %w", err)
	}
	if len(events) == 0 {
		log.Printf("[Normalize] Batch %s has no raw events, nothing to do", payload.BatchID)
		return nil
	}

	// One existence query for the whole batch instead of a per-row lookup.
	sourceIDs := make([]string, 0, len(events))
	for _, ev := range events {
		sourceIDs = append(sourceIDs, ev.SourceID)
	}
	existing, err := n.interactions.ExistingSourceIDs(job.UserID, source, sourceIDs)
	if err != nil {
		return fmt.Errorf("existence check: %w", err)
	}

	var (
		toInsert  []*interactiondomain.Interaction
		skipped   int
		malformed int
		seen      = make(map[string]bool, len(events))
	)
	for _, ev := range events {
		if ev.SourceID == "" {
			malformed++
			log.Printf("[Normalize] Raw event %s in batch %s has no source id, skipping", ev.ID, payload.BatchID)
			continue
		}
		if existing[ev.SourceID] || seen[ev.SourceID] {
			skipped++
			continue
		}
		seen[ev.SourceID] = true

		item, err := parse(ev)
		if err != nil {
			// A malformed item never aborts the batch.
			malformed++
			log.Printf("[Normalize] Failed to parse raw event %s (source id %s): %v", ev.ID, ev.SourceID, err)
			continue
		}

		item.UserID = job.UserID
		item.Source = source
		item.SourceID = ev.SourceID
		item.BatchID = payload.BatchID
		toInsert = append(toInsert, item)
	}

	if err := n.interactions.CreateBatch(toInsert); err != nil {
		return fmt.Errorf("insert interactions: %w", err)
	}

	if n.metrics != nil {
		n.metrics.InteractionsCreated.WithLabelValues(source).Add(float64(len(toInsert)))
		n.metrics.InteractionsSkipped.WithLabelValues(source, "duplicate").Add(float64(skipped))
		n.metrics.InteractionsSkipped.WithLabelValues(source, "malformed").Add(float64(malformed))
	}

	log.Printf("[Normalize] Batch %s: %d inserted, %d skipped, %d malformed",
		payload.BatchID, len(toInsert), skipped, malformed)
	return nil
}
