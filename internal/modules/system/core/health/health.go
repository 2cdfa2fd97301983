package health

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/pkg/mail"
	pkgredis "github.com/newsdigest/core/internal/pkg/redis"
	"github.com/newsdigest/core/internal/pkg/response"
	"github.com/newsdigest/core/internal/pkg/taskqueue"
	"gorm.io/gorm"
)

const pingTimeout = 2 * time.Second

// Deps is what the health endpoints inspect. Redis and Pool may be nil.
type Deps struct {
	DB       *gorm.DB
	Redis    *pkgredis.Client
	Pool     *taskqueue.Pool
	Mailer   mail.Mailer
	SiteName string
	Started  time.Time
	Uptime   func(time.Duration) string
}

func RegisterRoutes(rg *gin.RouterGroup, d Deps, authMW gin.HandlerFunc) {
	rg.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()

		sqlDB, err := d.DB.DB()
		dbOK := err == nil && sqlDB.PingContext(ctx) == nil

		redisStatus := "disabled"
		if d.Redis != nil {
			redisStatus = "ok"
			if err := d.Redis.Ping(ctx); err != nil {
				redisStatus = "error"
			}
		}

		status := "ok"
		code := http.StatusOK
		if !dbOK {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		body := gin.H{
			"status":   status,
			"database": dbOK,
			"redis":    redisStatus,
		}
		if d.Pool != nil {
			body["queue_pending"] = d.Pool.Pending()
		}
		if !d.Started.IsZero() && d.Uptime != nil {
			body["uptime"] = d.Uptime(time.Since(d.Started))
		}
		c.JSON(code, body)
	})

	adminHealth := rg.Group("/health", authMW)
	adminHealth.POST("/email/test", func(c *gin.Context) {
		to := strings.TrimSpace(c.Query("to"))
		if to == "" {
			response.BadRequest(c, "query parameter to is required")
			return
		}
		err := d.Mailer.Send(c.Request.Context(), mail.Message{
			To:      to,
			Subject: d.SiteName + " mail test",
			Text:    "If you can read this, outgoing mail is configured correctly.",
			HTML:    "<p>If you can read this, outgoing mail is configured correctly.</p>",
		})
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"ok": 0, "message": err.Error()})
			return
		}
		response.Message(c, "test mail sent")
	})
}
