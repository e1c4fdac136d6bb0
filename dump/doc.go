// Package dump writes diagnostic memory dumps of an address space.
//
// A dump captures every committed, readable region reported by the walker,
// minus the ranges registered for exclusion with MAP_CONCEAL or
// MADV_DONTDUMP. Regions are split into chunks, compressed in parallel with
// zstd or lz4, checksummed with CRC32C and written in address order.
//
//	stats, err := dump.WriteBlob(ctx, engine, store, "core.mmd",
//	    dump.WithCodec(dump.CodecLZ4),
//	    dump.WithWorkers(4),
//	    dump.WithIOLimit(32<<20),
//	)
//
// Dumps are read back with NewReader, Read or ReadBlob.
package dump
