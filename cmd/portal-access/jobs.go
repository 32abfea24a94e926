package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/alshuail/portal-access/pkg/async"
	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/config"
	"github.com/alshuail/portal-access/pkg/observability"
	"github.com/alshuail/portal-access/pkg/rbac"
)

type jobDeps struct {
	cfg     config.AuditConfig
	logger  *observability.Logger
	store   audit.Store
	archive bool
	manager *rbac.Manager

	// interval between refreshes of the active assignments gauge
	interval time.Duration
}

// startJobs schedules audit retention and the assignment gauge refresh. The
// returned scheduler is already running.
func startJobs(ctx context.Context, d jobDeps) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{d.logger})))

	if d.cfg.Retention > 0 {
		policy := audit.RetentionPolicy{MaxAge: d.cfg.Retention, Archive: d.archive}
		period := d.cfg.CleanupPeriod
		if period <= 0 {
			period = 24 * time.Hour
		}
		_, err := c.AddFunc(fmt.Sprintf("@every %s", period), func() {
			jobCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
			defer cancel()
			deleted, err := d.store.Cleanup(jobCtx, policy)
			if err != nil {
				d.logger.WithError(err).Error("audit retention run failed")
				return
			}
			d.logger.WithFields(map[string]interface{}{
				"deleted":  deleted,
				"archived": policy.Archive,
			}).Info("Audit retention run completed")
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule audit retention: %w", err)
		}
	}

	refresh := func() {
		jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := d.manager.PublishActiveAssignments(jobCtx); err != nil {
			d.logger.WithError(err).Warn("failed to refresh active assignment gauge")
		}
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", d.interval), refresh); err != nil {
		return nil, fmt.Errorf("failed to schedule assignment gauge refresh: %w", err)
	}
	async.SafeGo(ctx, d.logger, 30*time.Second, "assignment gauge warmup", d.manager.PublishActiveAssignments)

	c.Start()
	return c, nil
}

// cronLogger adapts the service logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(pairs(keysAndValues)).Error(msg)
}

func pairs(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

// watchCatalog re-validates the role catalog overlay whenever it changes. The
// running catalog is never replaced; a valid edit takes effect on restart.
func watchCatalog(ctx context.Context, path string, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// editors replace files, so watch the directory and filter by name
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	log := logger.WithField("catalog_file", path)
	go func() {
		defer observability.RecoverPanic(logger, "catalog_watch")
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if _, err := rbac.LoadCatalog(path); err != nil {
					log.WithError(err).Error("catalog overlay changed and is now invalid; the next start will fail")
					continue
				}
				log.Warn("catalog overlay changed; restart to apply")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("catalog watcher error")
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
