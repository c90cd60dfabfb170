// Package fs abstracts the file operations of the local image store so that
// tests can inject faults.
//
//   - [LocalFS]: the os package
//   - [FaultyFS]: fails reads, writes, syncs, closes or renames of files
//     whose base name matches a glob rule
//
// Tests simulate a disk that dies halfway through an image:
//
//	ffs := fs.NewFaultyFS(nil)
//	_ = ffs.AddRule("*.img", fs.Fault{FailAfterReadBytes: 100, FailAfterWriteBytes: -1})
//
// There is no context.Context here. Remote stores go through blobstore,
// which has one.
package fs
