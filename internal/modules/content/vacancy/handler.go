package vacancy

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

type vacancyResponse struct {
	models.VacancyModel
	DescriptionHTML   string            `json:"description_html,omitempty"`
	IsExpired         bool              `json:"is_expired"`
	DaysUntilDeadline int               `json:"days_until_deadline"`
	Attachments       []attachment.View `json:"attachments,omitempty"`
}

type Handler struct {
	svc         *Service
	attachments *attachment.Store
}

func NewHandler(svc *Service, attachments *attachment.Store) *Handler {
	return &Handler{svc: svc, attachments: attachments}
}

func (h *Handler) toResponse(v *models.VacancyModel, full bool) vacancyResponse {
	now := h.svc.now()
	resp := vacancyResponse{
		VacancyModel:      *v,
		IsExpired:         v.IsExpired(now),
		DaysUntilDeadline: v.DaysUntilDeadline(now),
	}
	if full {
		resp.DescriptionHTML = markdown.Render(v.Description)
	}
	return resp
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/vacancies")
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
	if errors.Is(err, ErrInvalidJobType) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	items := make([]vacancyResponse, len(rows))
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
	v, err := h.svc.Get(c.Request.Context(), id, middleware.IsAuthenticated(c))
	if errors.Is(err, ErrNotFound) {
		response.NotFoundMsg(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	resp := h.toResponse(v, true)
	if h.attachments != nil {
		rows, err := h.attachments.ListFor(c.Request.Context(), models.OwnerRef{Kind: models.OwnerVacancy, ID: v.ID})
		if err != nil {
			response.InternalError(c, err)
			return
		}
		resp.Attachments = h.attachments.Views(rows)
	}
	response.OK(c, resp)
}

func (h *Handler) create(c *gin.Context) {
	var dto CreateVacancyDTO
	if err := c.ShouldBind(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	var authorID *uint
	if id, ok := middleware.CurrentUserID(c); ok {
		authorID = &id
	}

	ctx := c.Request.Context()
	v, err := h.svc.Create(ctx, authorID, &dto)
	switch {
	case errors.Is(err, ErrTitleRequired), errors.Is(err, ErrDeadlineRequired),
		errors.Is(err, ErrInvalidJobType), errors.Is(err, content.ErrInvalidDate):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		response.InternalError(c, err)
		return
	}

	resp := h.toResponse(v, true)
	if uploads := attachment.FormUploads(c); len(uploads) > 0 && h.attachments != nil {
		rows, err := h.attachments.AttachMany(ctx, models.OwnerRef{Kind: models.OwnerVacancy, ID: v.ID}, uploads)
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
