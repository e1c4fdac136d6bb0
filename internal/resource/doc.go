// Package resource implements process-wide budgets for the mapping engine
// and the dump writer.
//
// The Controller manages three resource types:
//
//   - Locked memory: a hard cap on bytes pinned through the engine
//     (non-blocking, fail-fast)
//   - Workers: a bound on concurrent dump compression workers
//   - IO: a token bucket throttling dump output
//
// # Lock Budget
//
// The lock budget uses a weighted semaphore for the hard limit and an atomic
// counter for usage. AcquireLock never blocks; a lock call that would exceed
// the budget fails with ErrLockLimitExceeded:
//
//	rc := resource.NewController(resource.Config{
//	    LockLimitBytes: 64 << 20,
//	})
//	if err := rc.AcquireLock(4096); err != nil {
//	    // caller reports EAGAIN
//	}
//	defer rc.ReleaseLock(4096)
//
// # IO Rate Limiting
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 16 << 20,
//	})
//	w := resource.NewRateLimitedWriter(ctx, file, rc)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
