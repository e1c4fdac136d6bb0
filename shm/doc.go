// Package shm keeps the directory that hosts files backing shared memory.
//
// The directory defaults to %TEMP% (or %TMP%). SetDir validates a new
// value: it must exist, be a directory and accept new files. It is best
// set once at program startup; the mapping engine does not read it.
package shm
