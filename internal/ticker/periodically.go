package ticker

import (
	"context"
	"log/slog"
	"time"
)

// Periodically runs task every interval until ctx is done. A failing round is
// logged and the next one still runs.
func Periodically(ctx context.Context, interval time.Duration, logger *slog.Logger, name string, task func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := task(ctx); err != nil {
				logger.Error("periodic task failed", "task", name, "err", err)
			}
		}
	}
}
