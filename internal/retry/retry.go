// Package retry runs an operation with bounded attempts and exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Defaults used by persistence writers.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 200 * time.Millisecond
)

// Do calls fn up to attempts times, doubling backoff after each failure.
// The last error is returned, wrapped with the attempt count.
func Do(ctx context.Context, op string, attempts int, backoff time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		log.Warnf("%s: attempt %d/%d failed: %v", op, attempt, attempts, err)
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), err)
		}
		backoff *= 2
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, err)
}
