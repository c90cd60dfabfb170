// Package hash provides the CRC32-Castagnoli checksum that blob stores
// attach to uploaded images.
//
// The image trailer itself is a BLAKE3 digest (see package image); CRC32C
// is only the per-request integrity check that object stores verify on
// their side.
//
//	checksum := hash.CRC32C(data)
//
// For streaming checksums:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	checksum := h.Sum32()
package hash
