package lifecycle

import (
	"context"
	"errors"
	"time"
)

// Start installs the version. If it activates itself and the activation
// fails, the activation is retried every retry until it succeeds or ctx is
// done. Requests go straight to the network meanwhile.
func (c *Controller) Start(ctx context.Context, retry time.Duration) error {
	err := c.Install(ctx)
	if !errors.Is(err, ErrActivationFailed) || retry <= 0 {
		return err
	}

	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	for {
		c.logger.Warn().Err(err).Dur("retryIn", retry).Msg("Unable to activate, retrying")

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-ticker.C:
		}

		err = c.Activate(ctx)
		if !errors.Is(err, ErrActivationFailed) {
			return err
		}
	}
}
