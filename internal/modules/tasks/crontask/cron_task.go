package crontask

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	pkgcron "github.com/newsdigest/core/internal/pkg/cron"
	"github.com/newsdigest/core/internal/pkg/pagination"
	"github.com/newsdigest/core/internal/pkg/response"
	"github.com/newsdigest/core/internal/pkg/taskqueue"
)

// Handler exposes the scheduler and the background task ledger. The ledger
// may be nil when Redis is not configured.
type Handler struct {
	sched  *pkgcron.Scheduler
	ledger *taskqueue.Ledger
}

func NewHandler(sched *pkgcron.Scheduler, ledger *taskqueue.Ledger) *Handler {
	return &Handler{sched: sched, ledger: ledger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/cron-task", authMW)
	g.GET("", h.list)
	g.POST("/:name/run", h.run)

	tasks := rg.Group("/tasks", authMW)
	tasks.GET("", h.listTasks)
	tasks.GET("/:taskId", h.getTask)
	tasks.DELETE("", h.purgeTasks)
}

// GET /cron-task
func (h *Handler) list(c *gin.Context) {
	response.OK(c, h.sched.List())
}

// POST /cron-task/:name/run
func (h *Handler) run(c *gin.Context) {
	if err := h.sched.Run(c.Request.Context(), c.Param("name")); err != nil {
		response.NotFoundMsg(c, err.Error())
		return
	}
	response.Message(c, "job finished")
}

func (h *Handler) requireLedger(c *gin.Context) bool {
	if h.ledger == nil {
		response.Unavailable(c, "task ledger requires redis")
		return false
	}
	return true
}

// GET /tasks?type=&group=&status=
func (h *Handler) listTasks(c *gin.Context) {
	if !h.requireLedger(c) {
		return
	}
	q := pagination.FromContext(c)
	f := taskqueue.Filter{
		Type:   c.Query("type"),
		Group:  c.Query("group"),
		Status: taskqueue.TaskStatus(c.Query("status")),
	}
	tasks, total, err := h.ledger.List(c.Request.Context(), q.Page, q.Size, f)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	totalPages := int((total + int64(q.Size) - 1) / int64(q.Size))
	response.Paged(c, tasks, response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPages,
		Size:        q.Size,
		HasNextPage: q.Page < totalPages,
	})
}

// GET /tasks/:taskId
func (h *Handler) getTask(c *gin.Context) {
	if !h.requireLedger(c) {
		return
	}
	task, err := h.ledger.Get(c.Request.Context(), c.Param("taskId"))
	if errors.Is(err, taskqueue.ErrTaskNotFound) {
		response.NotFoundMsg(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, task)
}

// DELETE /tasks?before=<unix_ms>
// Removes finished tasks created before the cutoff, now when omitted.
func (h *Handler) purgeTasks(c *gin.Context) {
	if !h.requireLedger(c) {
		return
	}
	cutoff := time.Now()
	if v := c.Query("before"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.BadRequest(c, "before must be a unix timestamp in milliseconds")
			return
		}
		cutoff = time.UnixMilli(ms)
	}
	n, err := h.ledger.Purge(c.Request.Context(), cutoff)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"deleted": n})
}
