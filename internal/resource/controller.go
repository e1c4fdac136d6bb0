package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrLockLimitExceeded is returned when the lock budget would be exceeded.
var ErrLockLimitExceeded = errors.New("lock limit exceeded")

// Config holds resource limits.
type Config struct {
	// LockLimitBytes is the hard limit for locked memory.
	// If 0, no hard limit is enforced (only tracking).
	LockLimitBytes int64

	// MaxWorkers is the maximum number of concurrent dump workers.
	// If 0, defaults to 1.
	MaxWorkers int64

	// IOLimitBytesPerSec is the maximum dump output throughput.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages process-wide budgets (locked memory, workers, IO).
type Controller struct {
	cfg Config

	// Locked memory
	lockSem  *semaphore.Weighted // nil if unlimited
	lockUsed atomic.Int64

	// Concurrency
	workerSem *semaphore.Weighted

	// IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}

	c := &Controller{
		cfg:       cfg,
		workerSem: semaphore.NewWeighted(cfg.MaxWorkers),
	}

	if cfg.LockLimitBytes > 0 {
		c.lockSem = semaphore.NewWeighted(cfg.LockLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// AcquireLock reserves bytes of the lock budget.
// Returns ErrLockLimitExceeded if the limit would be exceeded.
// Non-blocking - lock calls fail instead of waiting.
func (c *Controller) AcquireLock(bytes int64) error {
	if c == nil {
		return nil
	}
	if bytes <= 0 {
		return nil
	}

	if c.lockSem != nil {
		if !c.lockSem.TryAcquire(bytes) {
			return ErrLockLimitExceeded
		}
	}

	c.lockUsed.Add(bytes)
	return nil
}

// ReleaseLock returns bytes to the lock budget.
func (c *Controller) ReleaseLock(bytes int64) {
	if c == nil {
		return
	}
	if bytes <= 0 {
		return
	}

	if c.lockSem != nil {
		c.lockSem.Release(bytes)
	}
	c.lockUsed.Add(-bytes)
}

// LockUsage returns the number of budgeted bytes currently locked.
func (c *Controller) LockUsage() int64 {
	if c == nil {
		return 0
	}
	return c.lockUsed.Load()
}

// LockLimit returns the configured lock limit in bytes (0 if unlimited).
func (c *Controller) LockLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.LockLimitBytes
}

// AcquireWorker reserves a worker slot.
// Blocks if all slots are busy.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workerSem.Acquire(ctx, 1)
}

// ReleaseWorker releases a worker slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.workerSem.Release(1)
}

// TryAcquireWorker attempts to reserve a worker slot without blocking.
func (c *Controller) TryAcquireWorker() bool {
	if c == nil {
		return true
	}
	return c.workerSem.TryAcquire(1)
}

// MaxWorkers returns the number of worker slots.
func (c *Controller) MaxWorkers() int {
	if c == nil {
		return 1
	}
	return int(c.cfg.MaxWorkers)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than the burst are split.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// TryAcquireIO attempts to acquire IO tokens without blocking.
// Returns true if tokens were acquired, false otherwise.
func (c *Controller) TryAcquireIO(bytes int) bool {
	if c == nil || c.ioLimiter == nil {
		return true
	}
	return c.ioLimiter.AllowN(time.Now(), bytes)
}
