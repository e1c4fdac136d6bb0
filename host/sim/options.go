package sim

// Config controls the geometry and capabilities of a simulated host.
type Config struct {
	PageSize              uintptr
	AllocationGranularity uintptr
	MinAddress            uintptr
	MaxAddress            uintptr

	// LargePageMinimum is reported by SystemInfo. Allocations with
	// MEM_LARGE_PAGES also require LargePagePrivilege.
	LargePageMinimum    uintptr
	LargePagePrivilege  bool
	WorkingSetLimit     uintptr // 0 means unlimited
	DumpFilter          bool
	Offer               bool
	Prefetch            bool
	DiscardOfferedPages bool
}

// Option configures a Host.
type Option func(*Config)

// DefaultConfig returns the geometry of a typical x64 host.
func DefaultConfig() Config {
	return Config{
		PageSize:              4096,
		AllocationGranularity: 64 * 1024,
		MinAddress:            0x10000,
		MaxAddress:            0x7ffeffff,
		DumpFilter:            true,
		Offer:                 true,
		Prefetch:              true,
	}
}

// WithPageSize sets the page size.
func WithPageSize(n uintptr) Option {
	return func(c *Config) { c.PageSize = n }
}

// WithAllocationGranularity sets the reservation granularity.
func WithAllocationGranularity(n uintptr) Option {
	return func(c *Config) { c.AllocationGranularity = n }
}

// WithAddressRange sets the application address bounds (inclusive).
func WithAddressRange(lo, hi uintptr) Option {
	return func(c *Config) {
		c.MinAddress = lo
		c.MaxAddress = hi
	}
}

// WithLargePages reports a large-page minimum and grants the privilege to use
// it.
func WithLargePages(minimum uintptr) Option {
	return func(c *Config) {
		c.LargePageMinimum = minimum
		c.LargePagePrivilege = true
	}
}

// WithLargePagesUnprivileged reports a large-page minimum without granting
// the lock-memory privilege.
func WithLargePagesUnprivileged(minimum uintptr) Option {
	return func(c *Config) {
		c.LargePageMinimum = minimum
		c.LargePagePrivilege = false
	}
}

// WithWorkingSetLimit caps the bytes that may be locked at once.
func WithWorkingSetLimit(n uintptr) Option {
	return func(c *Config) { c.WorkingSetLimit = n }
}

// WithoutDumpFilter disables the diagnostic-dump exclusion facility.
func WithoutDumpFilter() Option {
	return func(c *Config) { c.DumpFilter = false }
}

// WithoutOffer disables OfferVirtualMemory and ReclaimVirtualMemory.
func WithoutOffer() Option {
	return func(c *Config) { c.Offer = false }
}

// WithoutPrefetch disables PrefetchVirtualMemory.
func WithoutPrefetch() Option {
	return func(c *Config) { c.Prefetch = false }
}

// WithDiscardOfferedPages makes the host discard offered pages immediately,
// so a later reclaim reports lost contents.
func WithDiscardOfferedPages() Option {
	return func(c *Config) { c.DiscardOfferedPages = true }
}
