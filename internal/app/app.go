package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/newsdigest/core/internal/config"
	"github.com/newsdigest/core/internal/database"
	"github.com/newsdigest/core/internal/middleware"
	"github.com/newsdigest/core/internal/models"
	"github.com/newsdigest/core/internal/modules/content"
	"github.com/newsdigest/core/internal/modules/content/category"
	"github.com/newsdigest/core/internal/modules/content/notice"
	"github.com/newsdigest/core/internal/modules/content/story"
	"github.com/newsdigest/core/internal/modules/content/vacancy"
	"github.com/newsdigest/core/internal/modules/gateway/notify"
	"github.com/newsdigest/core/internal/modules/storage/attachment"
	"github.com/newsdigest/core/internal/modules/storage/blob"
	"github.com/newsdigest/core/internal/modules/syndication/subscribe"
	pkgcron "github.com/newsdigest/core/internal/pkg/cron"
	jwtpkg "github.com/newsdigest/core/internal/pkg/jwt"
	"github.com/newsdigest/core/internal/pkg/mail"
	pkgredis "github.com/newsdigest/core/internal/pkg/redis"
	"github.com/newsdigest/core/internal/pkg/taskqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jwtIssuer = "newsdigest"

// Deps are the external resources the application runs on. Redis is optional.
type Deps struct {
	DB     *gorm.DB
	Redis  *pkgredis.Client
	Blobs  blob.Storage
	Mailer mail.Mailer
}

type services struct {
	registry    *content.Registry
	attachments *attachment.Store
	categories  *category.Service
	stories     *story.Service
	vacancies   *vacancy.Service
	notices     *notice.Service
	subscribers *subscribe.Service
	dispatcher  *notify.Dispatcher
}

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	deps   Deps
	signer *jwtpkg.Signer
	ledger *taskqueue.Ledger
	pool   *taskqueue.Pool
	sched  *pkgcron.Scheduler
	svc    services
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// New initializes the application: config → DB → Redis → storage → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	var rc *pkgredis.Client
	if url := cfg.Redis.RedisURL(); url != "" {
		if rc, err = pkgredis.Connect(url); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
	} else {
		logger.Warn("redis is not configured, task ledger and rate limiting are disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	return NewWithDeps(logger, cfg, Deps{
		DB:     db,
		Redis:  rc,
		Blobs:  blobs,
		Mailer: mail.New(mail.BuildMailConfig(cfg), logger.Named("mail")),
	}), nil
}

// NewWithDeps assembles the application on already opened resources and
// starts its background workers.
func NewWithDeps(logger *zap.Logger, cfg *config.AppConfig, deps Deps) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger.Named("http")))
	router.Use(cors.New(corsConfig(cfg)))

	a := &App{
		cfg:    cfg,
		router: router,
		deps:   deps,
		signer: jwtpkg.NewSigner(resolveJWTSecret(cfg, logger), jwtIssuer),
		logger: logger,
		done:   make(chan struct{}),
	}
	if deps.Redis != nil {
		a.ledger = taskqueue.NewLedger(deps.Redis)
	}
	a.pool = taskqueue.NewPool(taskqueue.PoolConfig{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
	}, a.ledger, logger.Named("taskqueue"))
	go a.watchResults()

	a.svc = a.buildServices()
	a.sched = pkgcron.New(logger.Named("cron"))
	registerCronJobs(a.sched, a.svc.vacancies, a.svc.notices, a.ledger, logger)
	a.registerRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.sched.Start(ctx)
	return a
}

func (a *App) buildServices() services {
	db := a.deps.DB
	registry := content.NewRegistry()
	store := attachment.NewStore(db, a.deps.Blobs, registry, a.logger.Named("attachment"))

	s := services{
		registry:    registry,
		attachments: store,
		categories:  category.NewService(db),
		stories:     story.NewService(db, store, a.logger),
		vacancies:   vacancy.NewService(db, store, a.logger),
		notices:     notice.NewService(db, store, a.logger),
		subscribers: subscribe.NewService(db, a.deps.Mailer, subscribe.Site{
			URL:  a.cfg.Site.URL,
			Name: a.cfg.Site.Name,
		}, a.logger.Named("subscribe")),
	}
	registry.Register(models.OwnerStory, s.stories.Resolve)
	registry.Register(models.OwnerVacancy, s.vacancies.Resolve)
	registry.Register(models.OwnerNotice, s.notices.Resolve)

	s.dispatcher = notify.New(notify.Config{
		FastLane:       a.cfg.Notify.FastLane,
		BatchSize:      a.cfg.Notify.BatchSize,
		SiteURL:        a.cfg.Site.URL,
		SiteName:       a.cfg.Site.Name,
		UnsubscribeURL: s.subscribers.UnsubscribeURL(),
	}, s.stories, s.subscribers, a.deps.Mailer, a.pool, a.logger)
	s.stories.SetPublisher(s.dispatcher)
	return s
}

// watchResults logs background job outcomes until the pool shuts down.
func (a *App) watchResults() {
	defer close(a.done)
	log := a.logger.Named("notify")
	for res := range a.pool.Results() {
		batch, ok := res.Value.(*notify.BatchResult)
		if !ok {
			continue
		}
		fields := []zap.Field{
			zap.String("job", res.JobID),
			zap.Uint("story", batch.StoryID),
			zap.Int("batch", batch.Index),
			zap.Int("sent", batch.Sent),
			zap.Int("failed", len(batch.Failures)),
			zap.Duration("took", res.Duration),
		}
		if res.Err != nil {
			log.Warn("notification batch failed", append(fields, zap.Error(res.Err))...)
			continue
		}
		log.Info("notification batch finished", fields...)
	}
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops the scheduler, drains queued notification batches and
// closes connections. Batches still queued when ctx expires are cancelled.
func (a *App) Shutdown(ctx context.Context) error {
	a.cancel()
	a.sched.Wait()

	var errs []error
	if err := a.svc.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("notification backlog: %w", err))
	}
	if err := a.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("task pool: %w", err))
	}
	<-a.done
	if a.deps.Redis != nil {
		if err := a.deps.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if sqlDB, err := a.deps.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}

var processStart = time.Now()
