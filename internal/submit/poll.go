package submit

import (
	"context"
	"time"
)

// poll calls fn every interval until it reports done, returns an error, or
// ctx ends. The interval doubles after each miss, capped at maxDelay.
func poll(ctx context.Context, interval, maxDelay time.Duration, fn func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = time.Second
	}
	if maxDelay < interval {
		maxDelay = interval
	}

	delay := interval
	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
	}
}
