package crontask

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	pkgcron "github.com/newsdigest/core/internal/pkg/cron"
	pkgredis "github.com/newsdigest/core/internal/pkg/redis"
	"github.com/newsdigest/core/internal/pkg/taskqueue"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(sched *pkgcron.Scheduler, ledger *taskqueue.Ledger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(sched, ledger).RegisterRoutes(r.Group("/api/v1"), func(c *gin.Context) { c.Next() })
	return r
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestCronRoutes(t *testing.T) {
	sched := pkgcron.New(zap.NewNop())
	runs := 0
	sched.Register(pkgcron.Job{
		Name:     "deactivate_expired",
		Interval: time.Hour,
		Fn:       func(context.Context) error { runs++; return nil },
	})
	r := newRouter(sched, nil)

	w := serve(r, http.MethodGet, "/api/v1/cron-task")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deactivate_expired")

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/api/v1/cron-task/deactivate_expired/run").Code)
	assert.Equal(t, 1, runs)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/api/v1/cron-task/nope/run").Code)

	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, "/api/v1/tasks").Code)
}

func TestTaskRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := pkgredis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })
	ledger := taskqueue.NewLedger(rc)
	ctx := context.Background()

	_, err := ledger.Enqueue(ctx, "done-1", "notify.batch", "story:7", nil)
	require.NoError(t, err)
	require.NoError(t, ledger.UpdateStatus(ctx, "done-1", taskqueue.TaskCompleted, map[string]int{"sent": 10}, ""))
	_, err = ledger.Enqueue(ctx, "waiting-2", "notify.batch", "story:8", nil)
	require.NoError(t, err)

	r := newRouter(pkgcron.New(nil), ledger)

	w := serve(r, http.MethodGet, "/api/v1/tasks?group=story:7")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data []taskqueue.Task `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "done-1", page.Data[0].ID)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/tasks/waiting-2").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/tasks/missing").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodDelete, "/api/v1/tasks?before=yesterday").Code)

	before := strconv.FormatInt(time.Now().Add(time.Minute).UnixMilli(), 10)
	w = serve(r, http.MethodDelete, "/api/v1/tasks?before="+before)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())

	_, err = ledger.Get(ctx, "done-1")
	assert.ErrorIs(t, err, taskqueue.ErrTaskNotFound)
	_, err = ledger.Get(ctx, "waiting-2")
	assert.NoError(t, err)
}
