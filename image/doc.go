// Package image defines the binary image format of a compiled knowledge base.
//
// # Layout
//
// All integers are little-endian.
//
//	Prefix     (len(PrefixID) bytes) - "\x01\x02\x03\x04CLIPS"
//	Version    (8 bytes)             - NUL-padded version string
//	SizeTable:
//	  Count    (4 bytes)
//	  Entries  (Count x {Tag u16, Size u32})
//	Directory:
//	  Count    (4 bytes)
//	  Entries  (Count x {Tag u16, Elements u32}) in LoadOrder
//	Blocks     (one per directory entry):
//	  Count    (4 bytes)
//	  Stride   (4 bytes)
//	  Raw      (Count*Stride bytes)
//	Trailer    (32 bytes)            - BLAKE3-256 of everything above
//
// # References
//
// Wherever the in-memory graph holds a reference, the image holds an
// [Ordinal]: the index of the target element within its segment.
// [NullOrdinal] encodes an absent reference. Ordinals are validated against
// the directory counts with [Ordinal.Check]; an out-of-range ordinal is a
// [DanglingReferenceError].
//
// # Compatibility
//
// Images are only loadable by a build with the same prefix, the same version
// and an identical [SizeTable]. There is no forward or backward
// compatibility.
package image
