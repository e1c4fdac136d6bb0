// Package sim is an in-process model of a Windows-style virtual-memory host.
//
// The simulator tracks allocations page by page: reserve/commit state,
// protection, working-set locks and offered pages. It implements sections and
// views over real files (shared views alias the section data, copy-on-write
// views hold a private copy, flushes write back to the file), SEC_IMAGE
// layout through debug/pe, and a diagnostic-dump exclusion list.
//
// It follows the native rounding and error rules closely enough that the
// mapping engine behaves the same on it as on the real host:
//
//	h := sim.New(sim.WithWorkingSetLimit(1 << 20))
//	e, err := memmap.New(memmap.WithHost(h))
//
// Memory handed out by the simulator is ordinary Go memory reached through
// Bytes; the addresses are synthetic and must not be dereferenced.
package sim
