package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	ingestdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/domain"
	ingestrepo "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/repository"
	ingestusecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/usecase"
	interactiondomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/interaction/repository"
	jobdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/provider"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type normalizerEnv struct {
	rawEvents    ingestrepo.RawEventRepository
	interactions repository.InteractionRepository
	normalizer   *Normalizer
}

func newNormalizerEnv(t *testing.T) *normalizerEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// One connection, or each pooled conn sees its own empty :memory: db.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&ingestdomain.RawEvent{}, &interactiondomain.Interaction{}))

	env := &normalizerEnv{
		rawEvents:    ingestrepo.NewRawEventRepository(db),
		interactions: repository.NewInteractionRepository(db),
	}
	env.normalizer = NewNormalizer(env.rawEvents, env.interactions, nil)
	return env
}

func normalizeJob(t *testing.T, userID, batchID string, kind jobdomain.JobKind) *jobdomain.Job {
	t.Helper()
	payload, err := jobdomain.EncodePayload(jobdomain.JobPayload{BatchID: batchID})
	require.NoError(t, err)
	return &jobdomain.Job{ID: "job-1", UserID: userID, Kind: kind, Payload: payload}
}

// rawMailMessage builds a minimal RFC 2822 message the way Gmail hands it
// back with format=raw, base64url encoded.
func rawMailMessage(subject, from, to, body string) string {
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"Date: Mon, 02 Jan 2006 15:04:05 -0700",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	return base64.RawURLEncoding.EncodeToString([]byte(msg))
}

func seedMailEvents(t *testing.T, env *normalizerEnv, userID, batchID string, n int) {
	t.Helper()
	events := make([]*ingestdomain.RawEvent, 0, n)
	for i := 0; i < n; i++ {
		sourceID := fmt.Sprintf("msg-%s-%d", batchID, i)
		item := provider.MailItem{
			ID:           sourceID,
			InternalDate: time.Date(2026, 3, 1, 9, 0, i, 0, time.UTC).UnixMilli(),
			Raw: rawMailMessage(
				fmt.Sprintf("Subject %d", i),
				"Alice <alice@example.com>",
				"bob@example.com",
				fmt.Sprintf("Body of message %d", i),
			),
		}
		payload, err := json.Marshal(item)
		require.NoError(t, err)
		events = append(events, &ingestdomain.RawEvent{
			UserID:     userID,
			Provider:   provider.Gmail,
			SourceID:   sourceID,
			Payload:    payload,
			OccurredAt: time.UnixMilli(item.InternalDate),
			BatchID:    batchID,
		})
	}
	require.NoError(t, env.rawEvents.CreateBatch(events))
}

func countInteractions(t *testing.T, env *normalizerEnv, userID string) int64 {
	t.Helper()
	_, total, err := env.interactions.FindByUser(userID, 1, 0)
	require.NoError(t, err)
	return total
}

func TestNormalizeMailIsIdempotent(t *testing.T) {
	env := newNormalizerEnv(t)
	seedMailEvents(t, env, "user-1", "batch-a", 75)

	job := normalizeJob(t, "user-1", "batch-a", jobdomain.KindNormalizeMail)
	require.NoError(t, env.normalizer.HandleMail(context.Background(), job))
	require.EqualValues(t, 75, countInteractions(t, env, "user-1"))

	// Replaying the same batch must create nothing new.
	require.NoError(t, env.normalizer.HandleMail(context.Background(), job))
	require.EqualValues(t, 75, countInteractions(t, env, "user-1"))
}

func TestNormalizeInsertsOnlyUnseenItems(t *testing.T) {
	env := newNormalizerEnv(t)

	seedMailEvents(t, env, "user-1", "batch-a", 10)
	require.NoError(t, env.normalizer.HandleMail(context.Background(),
		normalizeJob(t, "user-1", "batch-a", jobdomain.KindNormalizeMail)))
	require.EqualValues(t, 10, countInteractions(t, env, "user-1"))

	// A second batch that re-fetches 4 of the same messages plus 6 new ones.
	var events []*ingestdomain.RawEvent
	for i := 0; i < 10; i++ {
		sourceID := fmt.Sprintf("msg-batch-b-%d", i)
		if i < 4 {
			sourceID = fmt.Sprintf("msg-batch-a-%d", i)
		}
		item := provider.MailItem{
			ID:  sourceID,
			Raw: rawMailMessage("Overlap", "alice@example.com", "bob@example.com", "hi"),
		}
		payload, err := json.Marshal(item)
		require.NoError(t, err)
		events = append(events, &ingestdomain.RawEvent{
			UserID:   "user-1",
			Provider: provider.Gmail,
			SourceID: sourceID,
			Payload:  payload,
			BatchID:  "batch-b",
		})
	}
	require.NoError(t, env.rawEvents.CreateBatch(events))

	require.NoError(t, env.normalizer.HandleMail(context.Background(),
		normalizeJob(t, "user-1", "batch-b", jobdomain.KindNormalizeMail)))
	require.EqualValues(t, 16, countInteractions(t, env, "user-1"))
}

func TestNormalizeToleratesMalformedItems(t *testing.T) {
	env := newNormalizerEnv(t)
	seedMailEvents(t, env, "user-1", "batch-a", 2)

	// One event with an undecodable payload and one with no source id.
	require.NoError(t, env.rawEvents.CreateBatch([]*ingestdomain.RawEvent{
		{
			UserID:   "user-1",
			Provider: provider.Gmail,
			SourceID: "msg-broken",
			Payload:  []byte("{this is not json"),
			BatchID:  "batch-a",
		},
		{
			UserID:   "user-1",
			Provider: provider.Gmail,
			SourceID: "",
			Payload:  []byte("{}"),
			BatchID:  "batch-a",
		},
	}))

	job := normalizeJob(t, "user-1", "batch-a", jobdomain.KindNormalizeMail)
	require.NoError(t, env.normalizer.HandleMail(context.Background(), job))
	require.EqualValues(t, 2, countInteractions(t, env, "user-1"))
}

func TestNormalizeDedupesWithinBatch(t *testing.T) {
	env := newNormalizerEnv(t)

	item := provider.MailItem{
		ID:  "msg-dup",
		Raw: rawMailMessage("Dup", "alice@example.com", "bob@example.com", "same message twice"),
	}
	payload, err := json.Marshal(item)
	require.NoError(t, err)

	require.NoError(t, env.rawEvents.CreateBatch([]*ingestdomain.RawEvent{
		{UserID: "user-1", Provider: provider.Gmail, SourceID: "msg-dup", Payload: payload, BatchID: "batch-a"},
		{UserID: "user-1", Provider: provider.Gmail, SourceID: "msg-dup", Payload: payload, BatchID: "batch-a"},
	}))

	require.NoError(t, env.normalizer.HandleMail(context.Background(),
		normalizeJob(t, "user-1", "batch-a", jobdomain.KindNormalizeMail)))
	require.EqualValues(t, 1, countInteractions(t, env, "user-1"))
}

func TestNormalizeExtractsMailFields(t *testing.T) {
	env := newNormalizerEnv(t)
	seedMailEvents(t, env, "user-1", "batch-a", 1)

	require.NoError(t, env.normalizer.HandleMail(context.Background(),
		normalizeJob(t, "user-1", "batch-a", jobdomain.KindNormalizeMail)))

	items, _, err := env.interactions.FindByUser("user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	got := items[0]
	require.Equal(t, interactiondomain.TypeMail, got.Type)
	require.Equal(t, "Subject 0", got.Subject)
	require.Equal(t, "alice@example.com, bob@example.com", got.Participants)
	require.Contains(t, got.Body, "Body of message 0")
	require.Equal(t, "Body of message 0", got.BodyPreview)
	require.Equal(t, provider.Gmail, got.Source)
	require.Equal(t, "msg-batch-a-0", got.SourceID)
	require.Equal(t, "batch-a", got.BatchID)
	require.False(t, got.OccurredAt.IsZero())
}

func TestNormalizeCalendarEvents(t *testing.T) {
	env := newNormalizerEnv(t)

	events := make([]*ingestdomain.RawEvent, 0, 3)
	for i := 0; i < 3; i++ {
		payload := fmt.Sprintf(`{
			"id": "evt-%d",
			"summary": "Standup %d",
			"description": "Daily sync",
			"start": {"dateTime": "2026-03-0%dT10:00:00Z"},
			"organizer": {"email": "alice@example.com"},
			"attendees": [{"email": "alice@example.com"}, {"email": "bob@example.com"}]
		}`, i, i, i+1)
		events = append(events, &ingestdomain.RawEvent{
			UserID:   "user-1",
			Provider: provider.Calendar,
			SourceID: fmt.Sprintf("evt-%d", i),
			Payload:  []byte(payload),
			BatchID:  "batch-c",
		})
	}
	require.NoError(t, env.rawEvents.CreateBatch(events))

	job := normalizeJob(t, "user-1", "batch-c", jobdomain.KindNormalizeCalendar)
	require.NoError(t, env.normalizer.HandleCalendar(context.Background(), job))

	items, total, err := env.interactions.FindByUser("user-1", 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 3, total)

	got := items[0] // newest first
	require.Equal(t, interactiondomain.TypeMeeting, got.Type)
	require.Equal(t, "Standup 2", got.Subject)
	require.Equal(t, "Daily sync", got.Body)
	require.Equal(t, "alice@example.com, bob@example.com", got.Participants)
	require.Equal(t, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC), got.OccurredAt.UTC())

	// Replay is a no-op.
	require.NoError(t, env.normalizer.HandleCalendar(context.Background(), job))
	require.EqualValues(t, 3, countInteractions(t, env, "user-1"))
}

// pipelineVault and pipelineMailAPI drive a real mail sync processor so the
// whole capture-then-normalize path runs against real repositories.
type pipelineVault struct{}

func (pipelineVault) GetValidToken(ctx context.Context, userID, providerName string) (string, error) {
	return "token", nil
}

type pipelineMailAPI struct {
	pages   int
	perPage int
}

func (f *pipelineMailAPI) ListMessageIDs(ctx context.Context, token, query, pageToken string, pageSize int64) (provider.MailPage, error) {
	pageNum := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &pageNum)
	}
	page := provider.MailPage{}
	for i := 0; i < f.perPage; i++ {
		page.IDs = append(page.IDs, fmt.Sprintf("msg-%d-%d", pageNum, i))
	}
	if pageNum+1 < f.pages {
		page.NextPageToken = fmt.Sprintf("%d", pageNum+1)
	}
	return page, nil
}

func (f *pipelineMailAPI) FetchMessages(ctx context.Context, token string, ids []string) ([]provider.MailItem, error) {
	items := make([]provider.MailItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, provider.MailItem{
			ID:           id,
			InternalDate: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC).UnixMilli(),
			Raw:          rawMailMessage("Message "+id, "alice@example.com", "bob@example.com", "body of "+id),
		})
	}
	return items, nil
}

type recordingEnqueuer struct {
	jobs []*jobdomain.Job
}

func (f *recordingEnqueuer) Enqueue(userID string, kind jobdomain.JobKind, payload jobdomain.JobPayload) (*jobdomain.Job, error) {
	data, err := jobdomain.EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	job := &jobdomain.Job{ID: fmt.Sprintf("job-%d", len(f.jobs)+2), UserID: userID, Kind: kind, Payload: data, BatchID: payload.BatchID}
	f.jobs = append(f.jobs, job)
	return job, nil
}

func TestMailPipelineEndToEnd(t *testing.T) {
	env := newNormalizerEnv(t)

	runSync := func() *jobdomain.Job {
		enqueued := &recordingEnqueuer{}
		sync := ingestusecase.NewMailSyncProcessor(
			pipelineVault{},
			&pipelineMailAPI{pages: 3, perPage: 25},
			env.rawEvents,
			enqueued,
			ingestusecase.SyncOptions{MaxItems: 500, RunDeadline: time.Minute, PageSize: 25, FetchBatchSize: 25},
			nil,
		)
		require.NoError(t, sync.Handle(context.Background(), &jobdomain.Job{ID: "job-1", UserID: "user-1", Kind: jobdomain.KindMailSync}))

		require.Len(t, enqueued.jobs, 1)
		normalizeJob := enqueued.jobs[0]
		require.Equal(t, jobdomain.KindNormalizeMail, normalizeJob.Kind)
		return normalizeJob
	}

	// First full pass: 75 raw events, one normalize job, 75 interactions.
	normalizeJob := runSync()
	payload, err := normalizeJob.DecodePayload()
	require.NoError(t, err)
	count, err := env.rawEvents.CountByBatch(payload.BatchID)
	require.NoError(t, err)
	require.EqualValues(t, 75, count)

	require.NoError(t, env.normalizer.HandleMail(context.Background(), normalizeJob))
	require.EqualValues(t, 75, countInteractions(t, env, "user-1"))

	// Identical second pass: new batch, new raw events, zero new interactions.
	normalizeJob = runSync()
	require.NoError(t, env.normalizer.HandleMail(context.Background(), normalizeJob))
	require.EqualValues(t, 75, countInteractions(t, env, "user-1"))
}

func TestNormalizeRequiresBatchID(t *testing.T) {
	env := newNormalizerEnv(t)

	job := &jobdomain.Job{ID: "job-1", UserID: "user-1", Kind: jobdomain.KindNormalizeMail}
	err := env.normalizer.HandleMail(context.Background(), job)
	require.ErrorIs(t, err, jobdomain.ErrInvalidPayload)
}

func TestNormalizeEmptyBatchIsNoop(t *testing.T) {
	env := newNormalizerEnv(t)

	job := normalizeJob(t, "user-1", "batch-missing", jobdomain.KindNormalizeMail)
	require.NoError(t, env.normalizer.HandleMail(context.Background(), job))
	require.EqualValues(t, 0, countInteractions(t, env, "user-1"))
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	// Multi-byte runes straddling the cut point must not be split into
	// invalid UTF-8.
	for pad := 197; pad <= 200; pad++ {
		body := strings.Repeat("a", pad) + strings.Repeat("désolé 世界 ", 10)
		got := preview(body, false)
		require.True(t, utf8.ValidString(got), "pad %d produced invalid UTF-8: %q", pad, got)
		require.True(t, strings.HasSuffix(got, "..."))
		require.LessOrEqual(t, utf8.RuneCountInString(strings.TrimSuffix(got, "...")), 200)
	}

	require.Equal(t, "short", preview("short", false))
}
