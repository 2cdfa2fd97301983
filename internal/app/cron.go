package app

import (
	"context"
	"errors"
	"time"

	"github.com/newsdigest/core/internal/modules/content/notice"
	"github.com/newsdigest/core/internal/modules/content/vacancy"
	pkgcron "github.com/newsdigest/core/internal/pkg/cron"
	"github.com/newsdigest/core/internal/pkg/taskqueue"
	"go.uber.org/zap"
)

const taskRetention = 7 * 24 * time.Hour

// registerCronJobs registers all scheduled background jobs.
func registerCronJobs(sched *pkgcron.Scheduler, vacancies *vacancy.Service, notices *notice.Service, ledger *taskqueue.Ledger, logger *zap.Logger) {
	cronLogger := logger.Named("CronService")

	sched.Register(pkgcron.Job{
		Name:        "deactivate_expired",
		Description: "Deactivate vacancies and notices past their expiration date",
		Interval:    time.Hour,
		Fn: func(ctx context.Context) error {
			nv, errV := vacancies.DeactivateExpired(ctx)
			nn, errN := notices.DeactivateExpired(ctx)
			if err := errors.Join(errV, errN); err != nil {
				cronLogger.Warn("deactivating expired content failed", zap.Error(err))
				return err
			}
			if nv+nn > 0 {
				cronLogger.Info("expired content deactivated", zap.Int64("vacancies", nv), zap.Int64("notices", nn))
			}
			return nil
		},
	})

	if ledger == nil {
		return
	}
	sched.Register(pkgcron.Job{
		Name:        "purge_tasks",
		Description: "Remove finished task records older than seven days",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			n, err := ledger.Purge(ctx, time.Now().Add(-taskRetention))
			if err != nil {
				cronLogger.Warn("purging task records failed", zap.Error(err))
				return err
			}
			cronLogger.Info("task records purged", zap.Int("count", n))
			return nil
		},
	})
}
