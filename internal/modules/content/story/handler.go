package story

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/middleware"
	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/gateway/notify"
	"github.com/newsdigest/core/internal/modules/processing/markdown"
	"github.com/newsdigest/core/internal/modules/storage/attachment"
	"github.com/newsdigest/core/internal/pkg/pagination"
	"github.com/newsdigest/core/internal/pkg/response"
)

const excerptLength = 200

type storyResponse struct {
	ID          uint                  `json:"id"`
	SystemID    string                `json:"system_id"`
	Headline    string                `json:"headline"`
	Snippet     string                `json:"snippet"`
	Content     string                `json:"content,omitempty"`
	HTML        string                `json:"html,omitempty"`
	Excerpt     string                `json:"excerpt"`
	ReadTime    string                `json:"read_time"`
	Status      models.StoryStatus    `json:"status"`
	PublishedAt *time.Time            `json:"published_at"`
	Thumbnail   string                `json:"thumbnail"`
	Category    *models.CategoryModel `json:"category"`
	Attachments []attachment.View     `json:"attachments,omitempty"`
	Created     time.Time             `json:"created"`
	Modified    time.Time             `json:"modified"`
}

func toResponse(s *models.StoryModel, full bool) storyResponse {
	html := markdown.Render(s.Content)
	resp := storyResponse{
		ID:          s.ID,
		SystemID:    s.SystemID(),
		Headline:    s.Headline,
		Snippet:     s.Snippet,
		Excerpt:     markdown.Truncate(markdown.StripHTML(html), excerptLength),
		ReadTime:    s.ReadTime,
		Status:      s.Status,
		PublishedAt: s.PublishedAt,
		Thumbnail:   s.ThumbnailURL(html),
		Category:    s.Category,
		Created:     s.CreatedAt,
		Modified:    s.UpdatedAt,
	}
	if full {
		resp.Content = s.Content
		resp.HTML = html
	}
	return resp
}

// Handler handles story HTTP requests.
type Handler struct {
	svc         *Service
	attachments *attachment.Store
}

func NewHandler(svc *Service, attachments *attachment.Store) *Handler {
	return &Handler{svc: svc, attachments: attachments}
}

// RegisterRoutes mounts story routes onto the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	stories := rg.Group("/stories")
	stories.GET("", h.list)
	stories.GET("/:id", h.get)

	authed := stories.Group("", authMW)
	authed.POST("", h.create)
	authed.POST("/:id/publish", h.publish)
	authed.POST("/:id/unpublish", h.unpublish)
	authed.DELETE("/:id", h.delete)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

// list GET /stories
func (h *Handler) list(c *gin.Context) {
	var lq ListQuery
	if err := c.ShouldBindQuery(&lq); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	stories, p, err := h.svc.List(c.Request.Context(), pagination.FromContext(c), lq, middleware.IsAuthenticated(c))
	if errors.Is(err, ErrInvalidStatus) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}

	items := make([]storyResponse, len(stories))
	for i := range stories {
		items[i] = toResponse(&stories[i], false)
	}
	response.Paged(c, items, p)
}

// get GET /stories/:id
func (h *Handler) get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	story, err := h.svc.Get(c.Request.Context(), id, middleware.IsAuthenticated(c))
	if errors.Is(err, ErrNotFound) {
		response.NotFoundMsg(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}

	resp := toResponse(story, true)
	if h.attachments != nil {
		rows, err := h.attachments.ListFor(c.Request.Context(), models.OwnerRef{Kind: models.OwnerStory, ID: story.ID})
		if err != nil {
			response.InternalError(c, err)
			return
		}
		resp.Attachments = h.attachments.Views(rows)
	}
	response.OK(c, resp)
}

// create POST /stories  [auth]
// Accepts JSON, or a multipart form whose "files" are attached to the new story.
func (h *Handler) create(c *gin.Context) {
	var dto CreateStoryDTO
	if err := c.ShouldBind(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	var authorID *uint
	if id, ok := middleware.CurrentUserID(c); ok {
		authorID = &id
	}

	ctx := c.Request.Context()
	story, report, err := h.svc.Create(ctx, authorID, &dto)
	switch {
	case errors.Is(err, ErrHeadlineRequired), errors.Is(err, ErrCategoryNotFound):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		response.InternalError(c, err)
		return
	}

	resp := toResponse(story, true)
	if uploads := attachment.FormUploads(c); len(uploads) > 0 && h.attachments != nil {
		rows, err := h.attachments.AttachMany(ctx, models.OwnerRef{Kind: models.OwnerStory, ID: story.ID}, uploads)
		if err != nil {
			response.InternalError(c, err)
			return
		}
		resp.Attachments = h.attachments.Views(rows)
	}
	response.Created(c, gin.H{
		"data":    resp,
		"message": publishMessage(story, report),
		"notify":  report,
	})
}

// publish POST /stories/:id/publish  [auth]
func (h *Handler) publish(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	story, report, err := h.svc.Publish(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFoundMsg(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{
		"data":    toResponse(story, false),
		"message": publishMessage(story, report),
		"notify":  report,
	})
}

// unpublish POST /stories/:id/unpublish  [auth]
func (h *Handler) unpublish(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	story, err := h.svc.Unpublish(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFoundMsg(c, err.Error())
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, toResponse(story, false))
}

// delete DELETE /stories/:id  [auth]
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

func publishMessage(s *models.StoryModel, report *notify.Report) string {
	switch {
	case !s.IsPublished():
		return "Story saved as draft."
	case report == nil:
		return "Story published."
	case report.Recipients == 0:
		return "Story published. There are no subscribers to notify."
	case report.SyncSent+report.SyncFailed+report.Queued() < report.Recipients:
		return "Story published, but some notifications could not be queued."
	default:
		return "Story published, notifications are being sent."
	}
}
