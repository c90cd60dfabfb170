// Package blobstore stores binary images.
//
// A BlobStore holds immutable blobs addressed by name. Images are streamed in
// through Create (committed on Close) and read back sequentially with
// OpenReader, which the loader consumes front to back.
//
// # Built-in Implementations
//
//   - LocalStore: a directory; reads are memory mapped, writes are atomic
//   - MemoryStore: in-process, for tests and conversions
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3 with multipart uploads
//   - bolt.Store: a bbolt database file holding many images
//   - badger.Store: a badger directory holding many images
//
// Cloud backends implement ReadRange so that a load is one ranged GET.
package blobstore
