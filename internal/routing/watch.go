package routing

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"github.com/driftgate/driftgate/internal/rule"
)

// Watch monitors the routing file at path and swaps the router's table each
// time the file is rewritten and passes validation. It runs until ctx is
// cancelled.
//
// If a reload fails — unreadable file, invalid YAML, validation errors —
// the failure is logged and the previous table remains active.
func Watch(ctx context.Context, path string, r *Router, reg *rule.Registry, v *rule.Validator) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("routing: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Only reload on write or create events. Editors often write via
			// rename (atomic save), so also catch fsnotify.Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			Reload(path, r, reg, v)

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("routing: watcher error", "err", err)
		}
	}
}

// Reload loads, validates, builds, and swaps the routing file at path.
// On any failure the previous table stays active and false is returned.
func Reload(path string, r *Router, reg *rule.Registry, v *rule.Validator) bool {
	f, err := LoadFile(path)
	if err != nil {
		slog.Error("routing: reload failed — keeping previous routes", "path", path, "err", err)
		return false
	}
	res := Validate(f, v)
	if !res.Valid {
		slog.Error("routing: reloaded config invalid — keeping previous routes",
			"path", path, "errors", len(res.Errors), "first", res.Errors[0].Error())
		return false
	}
	routes, def, err := Build(f, reg)
	if err != nil {
		slog.Error("routing: build failed — keeping previous routes", "path", path, "err", err)
		return false
	}

	r.Swap(routes, def)
	slog.Info("routing: routes reloaded", "path", path, "routes", len(routes), "rules", res.RuleCount)
	return true
}
