package store

import (
	"context"
	"log/slog"
	"time"
)

// StartCleanupWorker periodically removes sessions that have been idle
// longer than ttl. It stops when ctx is cancelled.
func StartCleanupWorker(ctx context.Context, s SessionStore, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.CleanupExpiredSessions(ctx, ttl)
				if err != nil {
					slog.Warn("Session cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("Expired sessions removed", "count", removed, "ttl", ttl)
				}
			}
		}
	}()
}
