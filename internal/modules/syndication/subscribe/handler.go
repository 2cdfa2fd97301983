package subscribe

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/pkg/pagination"
	"github.com/newsdigest/core/internal/pkg/response"
)

type subscribeDTO struct {
	Name  string `json:"name"  form:"name"`
	Email string `json:"email" form:"email"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the public subscription endpoints and the staff
// subscriber admin. limitMW guards the public subscribe endpoint and may be nil.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW, limitMW gin.HandlerFunc) {
	g := rg.Group("/subscribe")
	if limitMW != nil {
		g.POST("", limitMW, h.subscribe)
	} else {
		g.POST("", h.subscribe)
	}
	g.GET("/verify/:token", h.verify)
	g.GET("/unsubscribe", h.unsubscribe)
	g.POST("/unsubscribe", h.unsubscribe)

	a := rg.Group("/subscribers", authMW)
	a.GET("", h.list)
	a.GET("/stats", h.stats)
	a.GET("/:id", h.get)
	a.PUT("/:id", h.update)
	a.DELETE("/:id", h.delete)
}

func (h *Handler) subscribe(c *gin.Context) {
	var dto subscribeDTO
	if err := c.ShouldBind(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.svc.Subscribe(c.Request.Context(), dto.Name, dto.Email)
	switch {
	case errors.Is(err, ErrNameRequired), errors.Is(err, ErrInvalidEmail):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		response.InternalError(c, err)
		return
	}

	msg := "Thank you for subscribing! Please check your email to verify your subscription."
	if !res.MailSent {
		msg = "Your subscription was saved but the verification email could not be sent. Please try again later."
	}
	response.Created(c, gin.H{
		"ok":        1,
		"email":     res.Subscriber.Email,
		"mail_sent": res.MailSent,
		"message":   msg,
	})
}

func (h *Handler) verify(c *gin.Context) {
	outcome, sub, err := h.svc.Verify(c.Request.Context(), c.Param("token"))
	if errors.Is(err, ErrInvalidToken) {
		response.BadRequest(c, "Invalid or expired verification link.")
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if outcome == AlreadyVerified {
		response.OK(c, gin.H{"ok": 1, "status": "already_verified", "email": sub.Email, "message": "Already Verified"})
		return
	}
	response.OK(c, gin.H{"ok": 1, "status": "verified", "email": sub.Email, "message": "Your email has been verified. You will now receive our updates."})
}

func (h *Handler) unsubscribe(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		var dto subscribeDTO
		_ = c.ShouldBind(&dto)
		email = dto.Email
	}
	if email == "" {
		response.BadRequest(c, "email is required")
		return
	}

	found, err := h.svc.Unsubscribe(c.Request.Context(), email)
	switch {
	case errors.Is(err, ErrInvalidEmail):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		response.InternalError(c, err)
		return
	}
	if !found {
		response.Message(c, "Email address not found in our subscriber list.")
		return
	}
	response.Message(c, "You have been unsubscribed.")
}

func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContextWithSize(c, DefaultAdminPageSize)
	subs, p, err := h.svc.List(c.Request.Context(), c.Query("q"), q)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, subs, p)
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, st)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sub, err := h.svc.Get(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, sub)
}

func (h *Handler) update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sub, err := h.svc.Update(c.Request.Context(), id, in)
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c)
	case errors.Is(err, ErrEmailTaken):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrNameRequired), errors.Is(err, ErrInvalidEmail):
		response.BadRequest(c, err.Error())
	case err != nil:
		response.InternalError(c, err)
	default:
		response.OK(c, sub)
	}
}

func (h *Handler) delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
