package attachment

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/storage/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeLocator map[models.OwnerRef]bool

func (f fakeLocator) Locate(_ context.Context, kind models.OwnerKind, id uint) (Entity, error) {
	ref := models.OwnerRef{Kind: kind, ID: id}
	if !f[ref] {
		return Entity{}, ErrOwnerNotFound
	}
	return Entity{Owner: ref, Title: ref.String()}, nil
}

type fixture struct {
	store *Store
	db    *gorm.DB
	dir   string
	clock time.Time
}

func newFixture(t *testing.T, owners ...models.OwnerRef) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.AttachmentModel{}))

	dir := t.TempDir()
	blobs, err := blob.NewLocal(dir, "http://test/static")
	require.NoError(t, err)

	loc := fakeLocator{}
	for _, o := range owners {
		loc[o] = true
	}
	f := &fixture{db: db, dir: dir, clock: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	f.store = NewStore(db, blobs, loc, nil)
	f.store.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func upload(name, body string) Upload {
	return Upload{
		Name: name,
		Size: int64(len(body)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	}
}

func (f *fixture) read(t *testing.T, row *models.AttachmentModel) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(f.dir, filepath.FromSlash(row.FilePath)))
	require.NoError(t, err)
	return string(b)
}

func TestAttachCreatesRow(t *testing.T) {
	vacancy := models.OwnerRef{Kind: models.OwnerVacancy, ID: 5}
	f := newFixture(t, vacancy)

	row, err := f.store.Attach(context.Background(), vacancy, upload("dir/Report.PDF", "%PDF-1"))
	require.NoError(t, err)

	assert.Equal(t, "Report.PDF", row.FileName)
	assert.Equal(t, "pdf", row.FileType)
	assert.Equal(t, "application/pdf", row.ContentType)
	assert.Equal(t, int64(6), row.FileSize)
	assert.Equal(t, 0, row.Order)
	assert.True(t, row.IsPDF())
	assert.True(t, strings.HasPrefix(row.FilePath, "attachments/2024/01/01/"))
	assert.Equal(t, "%PDF-1", f.read(t, row))
}

func TestAttachSameNameReplacesInPlace(t *testing.T) {
	vacancy := models.OwnerRef{Kind: models.OwnerVacancy, ID: 5}
	f := newFixture(t, vacancy)
	ctx := context.Background()

	first, err := f.store.Attach(ctx, vacancy, upload("report.pdf", "first"))
	require.NoError(t, err)
	second, err := f.store.Attach(ctx, vacancy, upload("report.pdf", "second version"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(len("second version")), second.FileSize)
	assert.Equal(t, "second version", f.read(t, second))
	_, err = os.Stat(filepath.Join(f.dir, filepath.FromSlash(first.FilePath)))
	assert.True(t, os.IsNotExist(err), "old blob should be removed")

	rows, err := f.store.ListFor(ctx, vacancy)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second.FilePath, rows[0].FilePath)
}

func TestAttachSameNameDifferentOwners(t *testing.T) {
	a := models.OwnerRef{Kind: models.OwnerStory, ID: 1}
	b := models.OwnerRef{Kind: models.OwnerNotice, ID: 1}
	f := newFixture(t, a, b)
	ctx := context.Background()

	ra, err := f.store.Attach(ctx, a, upload("photo.jpg", "a"))
	require.NoError(t, err)
	rb, err := f.store.Attach(ctx, b, upload("photo.jpg", "b"))
	require.NoError(t, err)
	assert.NotEqual(t, ra.ID, rb.ID)
}

func TestAttachUnknownOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Attach(context.Background(), models.OwnerRef{Kind: models.OwnerStory, ID: 9}, upload("a.txt", "x"))
	assert.True(t, errors.Is(err, ErrOwnerNotFound))

	_, err = f.store.Attach(context.Background(), models.OwnerRef{Kind: "user", ID: 9}, upload("a.txt", "x"))
	assert.True(t, errors.Is(err, models.ErrInvalidOwnerKind))

	var count int64
	require.NoError(t, f.db.Model(&models.AttachmentModel{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAttachEmptyName(t *testing.T) {
	story := models.OwnerRef{Kind: models.OwnerStory, ID: 1}
	f := newFixture(t, story)
	_, err := f.store.Attach(context.Background(), story, upload("  ", "x"))
	assert.True(t, errors.Is(err, ErrEmptyName))
}

func TestAttachManyLastWins(t *testing.T) {
	story := models.OwnerRef{Kind: models.OwnerStory, ID: 3}
	f := newFixture(t, story)

	rows, err := f.store.AttachMany(context.Background(), story, []Upload{
		upload("a.png", "1"),
		upload("b.docx", "2"),
		upload("a.png", "333"),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a.png", rows[0].FileName)
	assert.Equal(t, int64(3), rows[0].FileSize)
	assert.Equal(t, "333", f.read(t, &rows[0]))
	assert.True(t, rows[1].IsDocument())
}

func TestListForOrdering(t *testing.T) {
	story := models.OwnerRef{Kind: models.OwnerStory, ID: 3}
	f := newFixture(t, story)
	ctx := context.Background()
	// Upload times run against insertion order so the id tiebreak cannot
	// produce the expected result by accident.
	f.store.now = func() time.Time {
		f.clock = f.clock.Add(-time.Minute)
		return f.clock
	}

	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		_, err := f.store.Attach(ctx, story, upload(name, name))
		require.NoError(t, err)
	}
	require.NoError(t, f.db.Model(&models.AttachmentModel{}).
		Where("file_name = ?", "one.txt").Update("order", 2).Error)

	names := func() []string {
		rows, err := f.store.ListFor(ctx, story)
		require.NoError(t, err)
		out := make([]string, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.FileName)
		}
		return out
	}
	first := names()
	assert.Equal(t, []string{"three.txt", "two.txt", "one.txt"}, first)
	assert.Equal(t, first, names())
}

func TestDeleteIsIdempotent(t *testing.T) {
	story := models.OwnerRef{Kind: models.OwnerStory, ID: 1}
	f := newFixture(t, story)
	ctx := context.Background()

	row, err := f.store.Attach(ctx, story, upload("a.txt", "x"))
	require.NoError(t, err)

	require.NoError(t, f.store.Delete(ctx, 999))
	rows, err := f.store.ListFor(ctx, story)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, f.store.Delete(ctx, row.ID))
	require.NoError(t, f.store.Delete(ctx, row.ID))
	_, err = f.store.Get(ctx, row.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = os.Stat(filepath.Join(f.dir, filepath.FromSlash(row.FilePath)))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteForCascades(t *testing.T) {
	story := models.OwnerRef{Kind: models.OwnerStory, ID: 1}
	other := models.OwnerRef{Kind: models.OwnerStory, ID: 2}
	f := newFixture(t, story, other)
	ctx := context.Background()

	_, err := f.store.AttachMany(ctx, story, []Upload{upload("a.txt", "a"), upload("b.txt", "b")})
	require.NoError(t, err)
	_, err = f.store.Attach(ctx, other, upload("c.txt", "c"))
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteFor(ctx, story))
	rows, err := f.store.ListFor(ctx, story)
	require.NoError(t, err)
	assert.Empty(t, rows)
	rows, err = f.store.ListFor(ctx, other)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, f.store.DeleteFor(ctx, story))
}

func TestDeleteForRunsStepsInOneTransaction(t *testing.T) {
	story := models.OwnerRef{Kind: models.OwnerStory, ID: 1}
	f := newFixture(t, story)
	ctx := context.Background()

	row, err := f.store.Attach(ctx, story, upload("a.txt", "a"))
	require.NoError(t, err)
	blobPath := filepath.Join(f.dir, filepath.FromSlash(row.FilePath))

	boom := errors.New("owner row locked")
	err = f.store.DeleteFor(ctx, story, func(tx *gorm.DB) error { return boom })
	assert.ErrorIs(t, err, boom)
	rows, err := f.store.ListFor(ctx, story)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	_, err = os.Stat(blobPath)
	assert.NoError(t, err, "blob must survive a rolled back delete")

	var stepRan bool
	require.NoError(t, f.store.DeleteFor(ctx, story, func(tx *gorm.DB) error {
		stepRan = true
		return tx.Model(&models.AttachmentModel{}).Where("id = ?", row.ID).Update("order", 7).Error
	}))
	assert.True(t, stepRan)
	rows, err = f.store.ListFor(ctx, story)
	require.NoError(t, err)
	assert.Empty(t, rows)
	_, err = os.Stat(blobPath)
	assert.True(t, os.IsNotExist(err))
}

func TestOpen(t *testing.T) {
	story := models.OwnerRef{Kind: models.OwnerStory, ID: 1}
	f := newFixture(t, story)
	ctx := context.Background()

	row, err := f.store.Attach(ctx, story, upload("a.txt", "hello"))
	require.NoError(t, err)

	got, rc, err := f.store.Open(ctx, row.ID)
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(b))
	assert.Equal(t, row.ID, got.ID)

	_, _, err = f.store.Open(ctx, 404)
	assert.True(t, errors.Is(err, ErrNotFound))
}
