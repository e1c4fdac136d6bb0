// Package host describes the virtual-memory primitives of a Windows-style host.
//
// The mapping engine never talks to the operating system directly. It drives a
// Host, which exposes reserve/commit allocations, section (file-mapping) objects
// with views, working-set locks, offer/reclaim and the region query that the
// range walker is built on.
//
// Two implementations exist:
//
//   - host/win: the real host on top of golang.org/x/sys/windows.
//   - host/sim: an in-process model of the same semantics, used by tests and on
//     platforms without the native primitives.
//
// Errors returned by a Host are Errno values carrying the native error code, so
// callers can classify failures with errors.Is:
//
//	if errors.Is(err, host.ErrInvalidAddress) {
//	    // fixed address is not usable
//	}
package host
