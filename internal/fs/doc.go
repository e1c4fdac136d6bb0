// Package fs provides the file system abstraction used by the local blob
// store and the shared-memory directory, plus fault injection for tests.
//
//   - [LocalFS]: the os package
//   - [FaultyFS]: injects open, write, sync, close and rename failures
//
// Production code uses fs.Default:
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
//
// Tests wrap it:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".tmp", fs.Fault{FailAfterBytes: 1024})
package fs
