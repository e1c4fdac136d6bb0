// Package mman exposes the engine with the calling convention of
// <sys/mman.h>: calls return MapFailed or -1 on failure and record the error
// number, which Errno reads back.
//
//	addr := mman.Mmap(0, 1<<16, mman.ProtRead|mman.ProtWrite, mman.MapPrivate|mman.MapAnonymous, -1, 0)
//	if addr == mman.MapFailed {
//		log.Fatal(mman.Errno())
//	}
//	defer mman.Munmap(addr, 1<<16)
//
// All calls share one process-wide engine. Programs written against the Go
// API should use memmap.Engine directly.
package mman
