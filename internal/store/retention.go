package store

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = 1 * time.Hour

// Sweep loads every partner log once so retention pruning rewrites or
// deletes logs whose records expired while nobody was reading them. It
// returns the number of logs visited; per-log failures are logged and
// skipped.
func (s *FileStore) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.migrateOnce.Do(s.migrateLegacy)

	keys, err := s.logKeys()
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		release := s.locks.acquire(key)
		_, loadErr := s.loadLocked(key)
		release()
		if loadErr != nil {
			slog.Warn("Retention sweep failed to load log", "partner", key, "error", loadErr)
		}
	}
	return len(keys), nil
}

// StartRetentionWorker runs a background goroutine that periodically sweeps
// conversation logs. Without it, a partner who goes quiet would keep expired
// records on disk until their log is next read. An interval <= 0 uses the
// default.
func StartRetentionWorker(ctx context.Context, s *FileStore, interval time.Duration) {
	if interval <= 0 {
		interval = sweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "window", RetentionWindow)

		for {
			select {
			case <-ticker.C:
				if n, err := s.Sweep(ctx); err != nil {
					slog.Error("Retention sweep failed", "error", err)
				} else {
					slog.Debug("Retention sweep completed", "logs", n)
				}
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
