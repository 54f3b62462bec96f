package usecase

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	credentialUsecase "github.com/PBLIZZ/app-omnicrm-sub012/internal/credential/usecase"
	ingestdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/internal/ingest/repository"
	jobdomain "github.com/PBLIZZ/app-omnicrm-sub012/internal/job/domain"
	"github.com/PBLIZZ/app-omnicrm-sub012/pkg/provider"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeVault returns a fixed token, or an auth error when revoked.
type fakeVault struct {
	revoked bool
}

func (f *fakeVault) GetValidToken(ctx context.Context, userID, providerName string) (string, error) {
	if f.revoked {
		return "", &credentialUsecase.AuthError{Provider: providerName, Reason: "revoked"}
	}
	return "test-token", nil
}

// fakeMailAPI serves a fixed number of pages; pages < 0 means unlimited.
type fakeMailAPI struct {
	pages      int
	perPage    int
	listCalls  int
	fetchCalls int
}

func (f *fakeMailAPI) ListMessageIDs(ctx context.Context, token, query, pageToken string, pageSize int64) (provider.MailPage, error) {
	f.listCalls++
	pageNum := 0
	if pageToken != "" {
		pageNum, _ = strconv.Atoi(pageToken)
	}

	page := provider.MailPage{}
	for i := 0; i < f.perPage; i++ {
		page.IDs = append(page.IDs, fmt.Sprintf("msg-%d-%d", pageNum, i))
	}
	if f.pages < 0 || pageNum+1 < f.pages {
		page.NextPageToken = strconv.Itoa(pageNum + 1)
	}
	return page, nil
}

func (f *fakeMailAPI) FetchMessages(ctx context.Context, token string, ids []string) ([]provider.MailItem, error) {
	f.fetchCalls++
	items := make([]provider.MailItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, provider.MailItem{
			ID:           id,
			InternalDate: time.Now().UnixMilli(),
			Raw:          "dGVzdA", // opaque at this stage
		})
	}
	return items, nil
}

// fakeCalendarAPI mirrors fakeMailAPI for events.
type fakeCalendarAPI struct {
	pages   int
	perPage int
}

func (f *fakeCalendarAPI) ListEvents(ctx context.Context, token, pageToken string, pageSize int64) (provider.EventPage, error) {
	pageNum := 0
	if pageToken != "" {
		pageNum, _ = strconv.Atoi(pageToken)
	}

	page := provider.EventPage{}
	for i := 0; i < f.perPage; i++ {
		page.Items = append(page.Items, provider.EventItem{
			ID:       fmt.Sprintf("evt-%d-%d", pageNum, i),
			StartsAt: time.Now(),
			Payload:  []byte(`{"summary":"standup"}`),
		})
	}
	if f.pages < 0 || pageNum+1 < f.pages {
		page.NextPageToken = strconv.Itoa(pageNum + 1)
	}
	return page, nil
}

// fakeEnqueuer records chained jobs.
type fakeEnqueuer struct {
	jobs []*jobdomain.Job
}

func (f *fakeEnqueuer) Enqueue(userID string, kind jobdomain.JobKind, payload jobdomain.JobPayload) (*jobdomain.Job, error) {
	data, err := jobdomain.EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	job := &jobdomain.Job{UserID: userID, Kind: kind, Payload: data, BatchID: payload.BatchID}
	f.jobs = append(f.jobs, job)
	return job, nil
}

func (f *fakeEnqueuer) byKind(kind jobdomain.JobKind) []*jobdomain.Job {
	var out []*jobdomain.Job
	for _, j := range f.jobs {
		if j.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}

func newRawEventRepo(t *testing.T) repository.RawEventRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&ingestdomain.RawEvent{}))
	return repository.NewRawEventRepository(db)
}

func mailJob(t *testing.T, payload jobdomain.JobPayload) *jobdomain.Job {
	t.Helper()
	data, err := jobdomain.EncodePayload(payload)
	require.NoError(t, err)
	return &jobdomain.Job{ID: "job-1", UserID: "user-1", Kind: jobdomain.KindMailSync, Payload: data}
}

func TestMailSyncWritesAllPagesAndChainsNormalization(t *testing.T) {
	rawRepo := newRawEventRepo(t)
	enq := &fakeEnqueuer{}
	api := &fakeMailAPI{pages: 3, perPage: 25}

	p := NewMailSyncProcessor(&fakeVault{}, api, rawRepo, enq, SyncOptions{
		MaxItems:       500,
		RunDeadline:    time.Minute,
		PageSize:       25,
		FetchBatchSize: 10,
	}, nil)

	err := p.Handle(context.Background(), mailJob(t, jobdomain.JobPayload{BatchID: "batch-1"}))
	require.NoError(t, err)

	count, err := rawRepo.CountByBatch("batch-1")
	require.NoError(t, err)
	require.EqualValues(t, 75, count)

	norm := enq.byKind(jobdomain.KindNormalizeMail)
	require.Len(t, norm, 1)
	require.Equal(t, "batch-1", norm[0].BatchID)
	require.Empty(t, enq.byKind(jobdomain.KindMailSync), "no resume expected when pagination completes")
}

func TestMailSyncStopsAtItemCapAndQueuesResume(t *testing.T) {
	rawRepo := newRawEventRepo(t)
	enq := &fakeEnqueuer{}
	api := &fakeMailAPI{pages: -1, perPage: 25} // unlimited pages

	p := NewMailSyncProcessor(&fakeVault{}, api, rawRepo, enq, SyncOptions{
		MaxItems:       60,
		RunDeadline:    time.Minute,
		PageSize:       25,
		FetchBatchSize: 25,
	}, nil)

	err := p.Handle(context.Background(), mailJob(t, jobdomain.JobPayload{BatchID: "batch-cap"}))
	require.NoError(t, err)

	count, err := rawRepo.CountByBatch("batch-cap")
	require.NoError(t, err)
	require.EqualValues(t, 60, count)

	// Partial run still normalizes what was written and queues a resume.
	// The cap landed mid-page, so the resume must carry the token that
	// listed the truncated page, not the one after it.
	require.Len(t, enq.byKind(jobdomain.KindNormalizeMail), 1)
	resumes := enq.byKind(jobdomain.KindMailSync)
	require.Len(t, resumes, 1)
	payload, err := resumes[0].DecodePayload()
	require.NoError(t, err)
	require.Equal(t, "2", payload.PageToken)
}

func TestMailSyncResumeReplaysTruncatedPage(t *testing.T) {
	rawRepo := newRawEventRepo(t)
	enq := &fakeEnqueuer{}
	api := &fakeMailAPI{pages: 3, perPage: 25}

	p := NewMailSyncProcessor(&fakeVault{}, api, rawRepo, enq, SyncOptions{
		MaxItems:       30,
		RunDeadline:    time.Minute,
		PageSize:       25,
		FetchBatchSize: 25,
	}, nil)

	require.NoError(t, p.Handle(context.Background(), mailJob(t, jobdomain.JobPayload{})))

	// Drain the resume chain the way the runner would, each run under the
	// same item cap.
	for i := 0; i < len(enq.byKind(jobdomain.KindMailSync)); i++ {
		require.Less(t, i, 10, "resume chain must terminate")
		require.NoError(t, p.Handle(context.Background(), enq.byKind(jobdomain.KindMailSync)[i]))
	}

	// Every message the provider holds must land in some batch; re-listed
	// overlap is fine, gaps are not.
	synced := map[string]bool{}
	for _, norm := range enq.byKind(jobdomain.KindNormalizeMail) {
		payload, err := norm.DecodePayload()
		require.NoError(t, err)
		events, err := rawRepo.FindByUserAndBatch("user-1", payload.BatchID)
		require.NoError(t, err)
		for _, ev := range events {
			synced[ev.SourceID] = true
		}
	}
	require.Len(t, synced, 75)
	for page := 0; page < 3; page++ {
		for i := 0; i < 25; i++ {
			require.Contains(t, synced, fmt.Sprintf("msg-%d-%d", page, i))
		}
	}
}

func TestMailSyncStopsAtDeadline(t *testing.T) {
	rawRepo := newRawEventRepo(t)
	enq := &fakeEnqueuer{}
	api := &fakeMailAPI{pages: -1, perPage: 25}

	p := NewMailSyncProcessor(&fakeVault{}, api, rawRepo, enq, SyncOptions{
		MaxItems:        1_000_000,
		RunDeadline:     time.Nanosecond,
		PageSize:        25,
		FetchBatchSize:  25,
		InterBatchDelay: 0,
	}, nil)

	err := p.Handle(context.Background(), mailJob(t, jobdomain.JobPayload{BatchID: "batch-deadline"}))
	require.NoError(t, err)

	count, err := rawRepo.CountByBatch("batch-deadline")
	require.NoError(t, err)
	require.Less(t, count, int64(100), "deadline must terminate the run")
}

func TestMailSyncPropagatesAuthError(t *testing.T) {
	rawRepo := newRawEventRepo(t)
	enq := &fakeEnqueuer{}

	p := NewMailSyncProcessor(&fakeVault{revoked: true}, &fakeMailAPI{pages: 1, perPage: 5}, rawRepo, enq, SyncOptions{}, nil)

	err := p.Handle(context.Background(), mailJob(t, jobdomain.JobPayload{}))
	var authErr *credentialUsecase.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Empty(t, enq.jobs)
}

func TestMailSyncEmptyMailboxEnqueuesNothing(t *testing.T) {
	rawRepo := newRawEventRepo(t)
	enq := &fakeEnqueuer{}
	api := &fakeMailAPI{pages: 1, perPage: 0}

	p := NewMailSyncProcessor(&fakeVault{}, api, rawRepo, enq, SyncOptions{}, nil)

	err := p.Handle(context.Background(), mailJob(t, jobdomain.JobPayload{BatchID: "batch-empty"}))
	require.NoError(t, err)
	require.Empty(t, enq.jobs)
}

func TestCalendarSyncWritesEventsAndChainsNormalization(t *testing.T) {
	rawRepo := newRawEventRepo(t)
	enq := &fakeEnqueuer{}
	api := &fakeCalendarAPI{pages: 2, perPage: 10}

	p := NewCalendarSyncProcessor(&fakeVault{}, api, rawRepo, enq, SyncOptions{
		MaxItems:    500,
		RunDeadline: time.Minute,
		PageSize:    10,
	}, nil)

	data, err := jobdomain.EncodePayload(jobdomain.JobPayload{BatchID: "cal-batch"})
	require.NoError(t, err)
	job := &jobdomain.Job{ID: "job-2", UserID: "user-1", Kind: jobdomain.KindCalendarSync, Payload: data}

	require.NoError(t, p.Handle(context.Background(), job))

	count, err := rawRepo.CountByBatch("cal-batch")
	require.NoError(t, err)
	require.EqualValues(t, 20, count)

	norm := enq.byKind(jobdomain.KindNormalizeCalendar)
	require.Len(t, norm, 1)
	require.Equal(t, "cal-batch", norm[0].BatchID)
}

func TestCalendarSyncResumeReplaysTruncatedPage(t *testing.T) {
	rawRepo := newRawEventRepo(t)
	enq := &fakeEnqueuer{}
	api := &fakeCalendarAPI{pages: 3, perPage: 25}

	p := NewCalendarSyncProcessor(&fakeVault{}, api, rawRepo, enq, SyncOptions{
		MaxItems:    30,
		RunDeadline: time.Minute,
		PageSize:    25,
	}, nil)

	data, err := jobdomain.EncodePayload(jobdomain.JobPayload{})
	require.NoError(t, err)
	job := &jobdomain.Job{ID: "job-resume", UserID: "user-1", Kind: jobdomain.KindCalendarSync, Payload: data}
	require.NoError(t, p.Handle(context.Background(), job))

	for i := 0; i < len(enq.byKind(jobdomain.KindCalendarSync)); i++ {
		require.Less(t, i, 10, "resume chain must terminate")
		require.NoError(t, p.Handle(context.Background(), enq.byKind(jobdomain.KindCalendarSync)[i]))
	}

	synced := map[string]bool{}
	for _, norm := range enq.byKind(jobdomain.KindNormalizeCalendar) {
		payload, err := norm.DecodePayload()
		require.NoError(t, err)
		events, err := rawRepo.FindByUserAndBatch("user-1", payload.BatchID)
		require.NoError(t, err)
		for _, ev := range events {
			synced[ev.SourceID] = true
		}
	}
	require.Len(t, synced, 75)
}

func TestMailSyncRejectsGarbagePayload(t *testing.T) {
	rawRepo := newRawEventRepo(t)
	p := NewMailSyncProcessor(&fakeVault{}, &fakeMailAPI{}, rawRepo, &fakeEnqueuer{}, SyncOptions{}, nil)

	job := &jobdomain.Job{ID: "job-3", UserID: "user-1", Kind: jobdomain.KindMailSync, Payload: []byte("{not json")}
	err := p.Handle(context.Background(), job)
	require.ErrorIs(t, err, jobdomain.ErrInvalidPayload)
}
