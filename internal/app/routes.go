package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/config"
	"github.com/newsdigest/core/internal/middleware"
	"github.com/newsdigest/core/internal/modules/content/category"
	"github.com/newsdigest/core/internal/modules/content/notice"
	"github.com/newsdigest/core/internal/modules/content/story"
	"github.com/newsdigest/core/internal/modules/content/vacancy"
	"github.com/newsdigest/core/internal/modules/storage/attachment"
	"github.com/newsdigest/core/internal/modules/syndication/feed"
	"github.com/newsdigest/core/internal/modules/syndication/sitemap"
	"github.com/newsdigest/core/internal/modules/syndication/subscribe"
	"github.com/newsdigest/core/internal/modules/system/core/health"
	"github.com/newsdigest/core/internal/modules/tasks/crontask"
	"github.com/newsdigest/core/internal/pkg/response"
)

const (
	APIPrefix = "/api/v1"

	subscribeLimit  = 5
	subscribeWindow = time.Minute
)

func (a *App) registerRoutes() {
	r := a.router
	authMW := middleware.Auth(a.signer)

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})

	if a.cfg.Storage.Driver == config.StorageLocal {
		r.Static("/static", a.cfg.StaticDir())
	}

	// Syndication is served from the site root.
	root := r.Group("")
	feed.NewHandler(a.svc.stories, feed.Site{
		URL:         a.cfg.Site.URL,
		Name:        a.cfg.Site.Name,
		Description: "Latest stories from " + a.cfg.Site.Name,
	}).RegisterRoutes(root)
	sitemap.NewHandler(a.cfg.Site.URL, a.svc.stories, a.svc.vacancies, a.svc.notices).RegisterRoutes(root)

	api := r.Group(APIPrefix, middleware.OptionalAuth(a.signer))

	api.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": a.cfg.Site.Name, "url": a.cfg.Site.URL})
	})
	api.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"data": "pong"}) })
	health.RegisterRoutes(api, health.Deps{
		DB:       a.deps.DB,
		Redis:    a.deps.Redis,
		Pool:     a.pool,
		Mailer:   a.deps.Mailer,
		SiteName: a.cfg.Site.Name,
		Started:  processStart,
		Uptime:   humanizeDuration,
	}, authMW)

	// Content
	category.NewHandler(a.svc.categories).RegisterRoutes(api, authMW)
	story.NewHandler(a.svc.stories, a.svc.attachments).RegisterRoutes(api, authMW)
	vacancy.NewHandler(a.svc.vacancies, a.svc.attachments).RegisterRoutes(api, authMW)
	notice.NewHandler(a.svc.notices, a.svc.attachments).RegisterRoutes(api, authMW)
	attachment.NewHandler(a.svc.attachments).RegisterRoutes(api, authMW)

	// Newsletter
	var limitMW gin.HandlerFunc
	if a.deps.Redis != nil {
		limitMW = middleware.RateLimit(a.deps.Redis, "subscribe", subscribeLimit, subscribeWindow, a.logger.Named("ratelimit"))
	}
	subscribe.NewHandler(a.svc.subscribers).RegisterRoutes(api, authMW, limitMW)

	// Background work (admin)
	crontask.NewHandler(a.sched, a.ledger).RegisterRoutes(api, authMW)
}
