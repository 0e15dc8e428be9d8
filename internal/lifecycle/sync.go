package lifecycle

import (
	"context"
	"time"
)

// RunBackgroundSync retries the deferred work every interval until ctx is
// done. Failures are logged and retried on the next tick.
func (c *Controller) RunBackgroundSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		c.logger.Info().Msg("Periodic background sync disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sync(c.logger.WithContext(ctx), SyncTag); err != nil {
				c.logger.Warn().Err(err).Dur("retryIn", interval).Msg("Background sync failed")
			}
		}
	}
}
