package notice

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/newsdigest/core/internal/database"
	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/content"
	"github.com/newsdigest/core/internal/modules/storage/attachment"
	"github.com/newsdigest/core/internal/modules/storage/blob"
	"github.com/newsdigest/core/internal/pkg/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var today = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db          *gorm.DB
	svc         *Service
	attachments *attachment.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	blobs, err := blob.NewLocal(t.TempDir(), "http://test/static")
	require.NoError(t, err)
	registry := content.NewRegistry()
	store := attachment.NewStore(db, blobs, registry, nil)
	svc := NewService(db, store, nil)
	svc.now = func() time.Time { return today }
	registry.Register(models.OwnerNotice, svc.Resolve)
	return &fixture{db: db, svc: svc, attachments: store}
}

func strPtr(s string) *string { return &s }

func TestCreateDefaults(t *testing.T) {
	f := newFixture(t)
	n, err := f.svc.Create(context.Background(), nil, &CreateNoticeDTO{Headline: "Water outage"})
	require.NoError(t, err)
	assert.Equal(t, models.NoticeAnnouncement, n.Category)
	assert.True(t, n.PublishDate.Equal(today))
	assert.True(t, n.IsActive)
	assert.Equal(t, "info", n.CategoryColor())

	_, err = f.svc.Create(context.Background(), nil, &CreateNoticeDTO{Headline: "x", Category: "rumour"})
	assert.ErrorIs(t, err, ErrInvalidCategory)
	_, err = f.svc.Create(context.Background(), nil, &CreateNoticeDTO{})
	assert.ErrorIs(t, err, ErrHeadlineRequired)
}

func TestListByCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mk := func(dto CreateNoticeDTO) *models.NoticeModel {
		n, err := f.svc.Create(ctx, nil, &dto)
		require.NoError(t, err)
		return n
	}
	mk(CreateNoticeDTO{Headline: "Road tender", Category: "tender", PublishDate: strPtr("2024-05-01")})
	important := mk(CreateNoticeDTO{Headline: "Borehole tender", Category: "TENDER", PublishDate: strPtr("2024-04-01"), IsImportant: true})
	mk(CreateNoticeDTO{Headline: "Old tender", Category: "tender", ExpirationDate: strPtr("2024-05-09")})
	mk(CreateNoticeDTO{Headline: "Open day", Category: "event"})

	q := pagination.Normalize(1, 10, 10)
	rows, _, err := f.svc.List(ctx, q, ListQuery{Category: "tender"}, false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, important.ID, rows[0].ID)

	rows, _, err = f.svc.List(ctx, q, ListQuery{Category: "tender"}, true)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, _, err = f.svc.List(ctx, q, ListQuery{Category: "gossip"}, false)
	assert.ErrorIs(t, err, ErrInvalidCategory)

	n, err := f.svc.DeactivateExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	r := gin.New()
	pass := func(c *gin.Context) { c.Next() }
	NewHandler(f.svc, f.attachments).RegisterRoutes(r.Group("/api/v1"), pass)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("headline", "Community meeting"))
	require.NoError(t, mw.WriteField("category", "EVENT"))
	fw, err := mw.CreateFormFile("files", "agenda.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4 agenda"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notices", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		ID            uint              `json:"id"`
		Category      string            `json:"category"`
		CategoryColor string            `json:"category_color"`
		Attachments   []attachment.View `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "EVENT", created.Category)
	assert.Equal(t, "success", created.CategoryColor)
	require.Len(t, created.Attachments, 1)
	assert.Equal(t, "agenda.pdf", created.Attachments[0].FileName)
	assert.True(t, created.Attachments[0].IsPDF)

	path := "/api/v1/notices/" + strconv.FormatUint(uint64(created.ID), 10)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agenda.pdf")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, path, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notices?category=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFlagsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	r := gin.New()
	pass := func(c *gin.Context) { c.Next() }
	NewHandler(f.svc, f.attachments).RegisterRoutes(r.Group("/api/v1"), pass)

	n, err := f.svc.Create(context.Background(), nil, &CreateNoticeDTO{Headline: "Clinic hours change"})
	require.NoError(t, err)
	path := "/api/v1/notices/" + strconv.FormatUint(uint64(n.ID), 10)

	req := httptest.NewRequest(http.MethodPatch, path+"/flags", bytes.NewBufferString(`{"is_important":true,"is_active":false}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got struct {
		IsActive    bool `json:"is_active"`
		IsImportant bool `json:"is_important"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.False(t, got.IsActive)
	assert.True(t, got.IsImportant)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
