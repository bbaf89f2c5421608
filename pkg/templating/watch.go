package templating

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the templates whenever a template file in TemplateDir changes.
// It blocks until ctx is done and follows SetConfig: a new TemplateDir is
// watched from then on, and while Watch is off or the embedded templates are
// in use it waits for the next configuration change.
func (tm *TemplateManager) Watch(ctx context.Context) error {
	for {
		cfg := tm.GetConfig()
		if !cfg.Watch || cfg.TemplateDir == "" {
			select {
			case <-ctx.Done():
				return nil
			case <-tm.changed:
				continue
			}
		}

		reconfigured, err := tm.watchDir(ctx, cfg)
		if err != nil {
			return err
		}
		if !reconfigured {
			return nil
		}
	}
}

// watchDir watches cfg.TemplateDir until ctx is done or the configuration
// changes, reporting true in the latter case. A directory that cannot be
// watched is logged and waited out.
func (tm *TemplateManager) watchDir(ctx context.Context, cfg TemplateConfig) (bool, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("failed to create template watcher: %w", err)
	}
	defer func(watcher *fsnotify.Watcher) {
		_ = watcher.Close()
	}(watcher)

	if err = watcher.Add(cfg.TemplateDir); err != nil {
		tm.logger.Error("Failed to watch template directory", "dir", cfg.TemplateDir, "error", err)
		select {
		case <-ctx.Done():
			return false, nil
		case <-tm.changed:
			return true, nil
		}
	}
	tm.logger.Info("Watching template directory", "dir", cfg.TemplateDir)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false, nil

		case <-tm.changed:
			tm.logger.Info("Template configuration changed, restarting watcher", "dir", cfg.TemplateDir)
			return true, nil

		case event, ok := <-watcher.Events:
			if !ok {
				return false, nil
			}
			if !isTemplateFile(event.Name) || event.Op.Has(fsnotify.Chmod) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			tm.logger.Debug("Template file changed", "file", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(cfg.debounce())
			} else {
				timer.Reset(cfg.debounce())
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if err := tm.Refresh(); err != nil {
				tm.logger.Error("Template reload failed, keeping previous templates", "error", err)
				continue
			}
			tm.logger.Info("Templates reloaded after change")

		case err, ok := <-watcher.Errors:
			if !ok {
				return false, nil
			}
			tm.logger.Warn("Template watcher error", "error", err)
		}
	}
}

func isTemplateFile(name string) bool {
	base := filepath.Base(name)
	for _, pattern := range []string{pagePattern, partialPattern, documentPattern} {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
