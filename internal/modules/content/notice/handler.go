package notice

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/middleware"
	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/content"
	"github.com/newsdigest/core/internal/modules/processing/markdown"
	"github.com/newsdigest/core/internal/modules/storage/attachment"
	"github.com/newsdigest/core/internal/pkg/pagination"
	"github.com/newsdigest/core/internal/pkg/response"
)

type noticeResponse struct {
	models.NoticeModel
	DescriptionHTML string            `json:"description_html,omitempty"`
	IsExpired       bool              `json:"is_expired"`
	CategoryColor   string            `json:"category_color"`
	Attachments     []attachment.View `json:"attachments,omitempty"`
}

type Handler struct {
	svc         *Service
	attachments *attachment.Store
}

func NewHandler(svc *Service, attachments *attachment.Store) *Handler {
	return &Handler{svc: svc, attachments: attachments}
}

func (h *Handler) toResponse(n *models.NoticeModel, full bool) noticeResponse {
	resp := noticeResponse{
		NoticeModel:   *n,
		IsExpired:     n.IsExpired(h.svc.now()),
		CategoryColor: n.CategoryColor(),
	}
	if full {
		resp.DescriptionHTML = markdown.Render(n.Description)
	}
	return resp
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/notices")
	g.GET("", h.list)
	g.GET("/:id", h.get)

	authed := g.Group("", authMW)
	authed.POST("", h.create)
	authed.PATCH("/:id/flags", h.setFlags)
	authed.DELETE("/:id", h.delete)
}

func (h *Handler) setFlags(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var f Flags
	if err := c.ShouldBindJSON(&f); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	item, err := h.svc.SetFlags(c.Request.Context(), id, f)
	if errors.Is(err, ErrNotFound) {
		response.NotFoundMsg(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, h.toResponse(item, false))
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) list(c *gin.Context) {
	var lq ListQuery
	if err := c.ShouldBindQuery(&lq); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	rows, p, err := h.svc.List(c.Request.Context(), pagination.FromContext(c), lq, middleware.IsAuthenticated(c))
	if errors.Is(err, ErrInvalidCategory) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	items := make([]noticeResponse, len(rows))
	for i := range rows {
		items[i] = h.toResponse(&rows[i], false)
	}
	response.Paged(c, items, p)
}

func (h *Handler) get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	n, err := h.svc.Get(c.Request.Context(), id, middleware.IsAuthenticated(c))
	if errors.Is(err, ErrNotFound) {
		response.NotFoundMsg(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	resp := h.toResponse(n, true)
	if h.attachments != nil {
		rows, err := h.attachments.ListFor(c.Request.Context(), models.OwnerRef{Kind: models.OwnerNotice, ID: n.ID})
		if err != nil {
			response.InternalError(c, err)
			return
		}
		resp.Attachments = h.attachments.Views(rows)
	}
	response.OK(c, resp)
}

func (h *Handler) create(c *gin.Context) {
	var dto CreateNoticeDTO
	if err := c.ShouldBind(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	var authorID *uint
	if id, ok := middleware.CurrentUserID(c); ok {
		authorID = &id
	}

	ctx := c.Request.Context()
	n, err := h.svc.Create(ctx, authorID, &dto)
	switch {
	case errors.Is(err, ErrHeadlineRequired), errors.Is(err, ErrInvalidCategory),
		errors.Is(err, content.ErrInvalidDate):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		response.InternalError(c, err)
		return
	}

	resp := h.toResponse(n, true)
	if uploads := attachment.FormUploads(c); len(uploads) > 0 && h.attachments != nil {
		rows, err := h.attachments.AttachMany(ctx, models.OwnerRef{Kind: models.OwnerNotice, ID: n.ID}, uploads)
		if err != nil {
			response.InternalError(c, err)
			return
		}
		resp.Attachments = h.attachments.Views(rows)
	}
	response.Created(c, resp)
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	err := h.svc.Delete(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFoundMsg(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
