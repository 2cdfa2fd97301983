package story

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/newsdigest/core/internal/database"
	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/content"
	"github.com/newsdigest/core/internal/modules/gateway/notify"
	"github.com/newsdigest/core/internal/modules/storage/attachment"
	"github.com/newsdigest/core/internal/modules/storage/blob"
	"github.com/newsdigest/core/internal/modules/syndication/subscribe"
	"github.com/newsdigest/core/internal/pkg/mail"
	"github.com/newsdigest/core/internal/pkg/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type countingPublisher struct {
	mu    sync.Mutex
	calls []uint
}

func (p *countingPublisher) NotifySubscribers(_ context.Context, id uint) (*notify.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, id)
	return &notify.Report{StoryID: id, Recipients: 3, SyncSent: 2}, nil
}

type fixture struct {
	db          *gorm.DB
	svc         *Service
	attachments *attachment.Store
	publisher   *countingPublisher
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	blobs, err := blob.NewLocal(t.TempDir(), "http://test/static")
	require.NoError(t, err)

	registry := content.NewRegistry()
	store := attachment.NewStore(db, blobs, registry, nil)
	svc := NewService(db, store, nil)
	registry.Register(models.OwnerStory, svc.Resolve)

	pub := &countingPublisher{}
	svc.SetPublisher(pub)
	return &fixture{db: db, svc: svc, attachments: store, publisher: pub}
}

func upload(name, body string) attachment.Upload {
	return attachment.Upload{
		Name: name,
		Size: int64(len(body)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	}
}

func TestCreateDraftDoesNotNotify(t *testing.T) {
	f := newFixture(t)
	story, report, err := f.svc.Create(context.Background(), nil, &CreateStoryDTO{
		Headline: "  Borehole drilled  ",
		Content:  "The village now has clean water.",
	})
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, "Borehole drilled", story.Headline)
	assert.Equal(t, models.StoryDraft, story.Status)
	assert.Nil(t, story.PublishedAt)
	assert.Equal(t, "1 min read", story.ReadTime)
	assert.Empty(t, f.publisher.calls)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Create(context.Background(), nil, &CreateStoryDTO{Headline: " "})
	assert.ErrorIs(t, err, ErrHeadlineRequired)

	missing := uint(99)
	_, _, err = f.svc.Create(context.Background(), nil, &CreateStoryDTO{Headline: "x", CategoryID: &missing})
	assert.ErrorIs(t, err, ErrCategoryNotFound)
}

func TestCreatePublishedNotifies(t *testing.T) {
	f := newFixture(t)
	author := uint(3)
	story, report, err := f.svc.Create(context.Background(), &author, &CreateStoryDTO{Headline: "Clinic opens", Publish: true})
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.True(t, story.IsPublished())
	assert.NotNil(t, story.PublishedAt)
	assert.Equal(t, &author, story.AuthorID)
	assert.Equal(t, []uint{story.ID}, f.publisher.calls)
}

func TestPublishOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, _, err := f.svc.Create(ctx, nil, &CreateStoryDTO{Headline: "Market day"})
	require.NoError(t, err)

	story, report, err := f.svc.Publish(ctx, draft.ID)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.True(t, story.IsPublished())

	_, report, err = f.svc.Publish(ctx, draft.ID)
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, []uint{draft.ID}, f.publisher.calls)

	_, _, err = f.svc.Publish(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnpublishHidesFromReaders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story, _, err := f.svc.Create(ctx, nil, &CreateStoryDTO{Headline: "Road closed", Publish: true})
	require.NoError(t, err)

	latest, err := f.svc.Latest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, latest, 1)

	back, err := f.svc.Unpublish(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StoryDraft, back.Status)

	_, err = f.svc.Get(ctx, story.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)
	latest, err = f.svc.Latest(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, latest)

	_, err = f.svc.Unpublish(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetHidesDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, _, err := f.svc.Create(ctx, nil, &CreateStoryDTO{Headline: "Draft"})
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, draft.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := f.svc.Get(ctx, draft.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "Draft", got.Headline)

	_, err = f.svc.Story(ctx, 404)
	assert.ErrorIs(t, err, notify.ErrStoryNotFound)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, publish := range []bool{true, false, true} {
		_, _, err := f.svc.Create(ctx, nil, &CreateStoryDTO{
			Headline: fmt.Sprintf("Story %d", i),
			Content:  fmt.Sprintf("body %d", i),
			Publish:  publish,
		})
		require.NoError(t, err)
	}
	q := pagination.Normalize(1, 10, 10)

	public, p, err := f.svc.List(ctx, q, ListQuery{Status: "draft"}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.Total)
	for _, s := range public {
		assert.True(t, s.IsPublished())
	}

	drafts, _, err := f.svc.List(ctx, q, ListQuery{Status: "draft"}, true)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "Story 1", drafts[0].Headline)

	all, _, err := f.svc.List(ctx, q, ListQuery{}, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	found, _, err := f.svc.List(ctx, q, ListQuery{Search: "body 2"}, false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Story 2", found[0].Headline)

	_, _, err = f.svc.List(ctx, q, ListQuery{Status: "archived"}, true)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestDeleteRemovesAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story, _, err := f.svc.Create(ctx, nil, &CreateStoryDTO{Headline: "Photos"})
	require.NoError(t, err)
	owner := models.OwnerRef{Kind: models.OwnerStory, ID: story.ID}

	_, err = f.attachments.Attach(ctx, owner, upload("a.jpg", "jpeg"))
	require.NoError(t, err)
	_, err = f.attachments.Attach(ctx, models.OwnerRef{Kind: models.OwnerStory, ID: 404}, upload("b.jpg", "jpeg"))
	assert.ErrorIs(t, err, attachment.ErrOwnerNotFound)

	require.NoError(t, f.svc.Delete(ctx, story.ID))
	rows, err := f.attachments.ListFor(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.ErrorIs(t, f.svc.Delete(ctx, story.ID), ErrNotFound)
}

type recordingMailer struct {
	mu sync.Mutex
	to []string
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = append(m.to, msg.To)
	return nil
}

func TestPublishReachesOnlyEligibleSubscribers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, f.db.Create(&models.SubscriberModel{
			Email: fmt.Sprintf("verified%02d@example.com", i), Name: "V", IsVerified: true, IsActive: true,
		}).Error)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, f.db.Create(&models.SubscriberModel{
			Email: fmt.Sprintf("pending%02d@example.com", i), Name: "P", IsActive: true,
		}).Error)
	}

	mailer := &recordingMailer{}
	subs := subscribe.NewService(f.db, mailer, subscribe.Site{URL: "http://test", Name: "Test"}, nil)
	d := notify.New(notify.Config{
		FastLane:       notify.DefaultFastLane,
		SiteURL:        "http://test",
		SiteName:       "Test",
		UnsubscribeURL: subs.UnsubscribeURL(),
	}, f.svc, subs, mailer, nil, nil)
	f.svc.SetPublisher(d)

	draft, _, err := f.svc.Create(ctx, nil, &CreateStoryDTO{Headline: "Harvest report", Content: "Yields are up."})
	require.NoError(t, err)
	_, report, err := f.svc.Publish(ctx, draft.ID)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 12, report.Recipients)
	assert.Equal(t, 2, report.SyncSent)
	require.Len(t, report.Batches, 1)
	assert.Equal(t, 10, report.Batches[0].Size)
	assert.Len(t, mailer.to, 12)
	for _, to := range mailer.to {
		assert.True(t, strings.HasPrefix(to, "verified"), to)
	}
}

func TestPublishMessage(t *testing.T) {
	draft := &models.StoryModel{Status: models.StoryDraft}
	live := &models.StoryModel{Status: models.StoryPublished}

	assert.Equal(t, "Story saved as draft.", publishMessage(draft, nil))
	assert.Equal(t, "Story published.", publishMessage(live, nil))
	assert.Equal(t, "Story published. There are no subscribers to notify.",
		publishMessage(live, &notify.Report{}))
	assert.Equal(t, "Story published, notifications are being sent.",
		publishMessage(live, &notify.Report{Recipients: 12, SyncSent: 2, Batches: []notify.BatchTicket{
			{Index: 0, Size: 10, Deferred: true},
		}}))
	assert.Equal(t, "Story published, but some notifications could not be queued.",
		publishMessage(live, &notify.Report{Recipients: 22, SyncSent: 2, Batches: []notify.BatchTicket{
			{Index: 0, Size: 10, JobID: "a"},
			{Index: 1, Size: 10, Error: "taskqueue: pool closed"},
		}}))
}
