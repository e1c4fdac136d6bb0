// Package win is the native host: the Windows virtual-memory API reached
// through golang.org/x/sys/windows.
//
// Calls that x/sys/windows does not wrap (MapViewOfFileEx, the offer and
// prefetch family, the WER dump exclusion list) are resolved lazily from
// kernel32.dll, so the host loads on systems that lack them and reports
// ErrNotSupported instead.
//
// The package only builds on windows.
package win
