// Package resource bounds the concurrency and IO throughput of an engine.
package resource

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxSearchConcurrency is the maximum number of queries evaluated in
	// parallel inside a batched search. If 0, defaults to 1.
	MaxSearchConcurrency int64

	// IOLimitBytesPerSec is the maximum throughput for snapshot uploads and
	// downloads. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller enforces the configured limits. A nil Controller enforces
// nothing, so callers do not need to guard every site.
type Controller struct {
	cfg Config

	searchSem *semaphore.Weighted
	ioLimiter *rate.Limiter
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	if cfg.MaxSearchConcurrency <= 0 {
		cfg.MaxSearchConcurrency = 1
	}

	c := &Controller{
		cfg:       cfg,
		searchSem: semaphore.NewWeighted(cfg.MaxSearchConcurrency),
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// SearchConcurrency returns the configured parallelism for batched searches.
func (c *Controller) SearchConcurrency() int {
	if c == nil {
		return 1
	}

	return int(c.cfg.MaxSearchConcurrency)
}

// AcquireSearch reserves a query worker slot, blocking until one is free or
// ctx is canceled.
func (c *Controller) AcquireSearch(ctx context.Context) error {
	if c == nil {
		return nil
	}

	return c.searchSem.Acquire(ctx, 1)
}

// ReleaseSearch releases a query worker slot.
func (c *Controller) ReleaseSearch() {
	if c == nil {
		return
	}

	c.searchSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than one second of budget are split across multiple waits,
// so a single oversized snapshot throttles instead of failing.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}

	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}

	return nil
}
