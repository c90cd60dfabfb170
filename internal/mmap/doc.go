// Package mmap maps local image files read-only.
//
//	m, err := mmap.Open("kb.img")
//	if err != nil { ... }
//	defer m.Close()
//
//	_ = m.Advise(mmap.AccessSequential)
//	r := io.NewSectionReader(m, 0, int64(m.Size()))
//
// Unix uses mmap(2) and madvise(2); Windows uses MapViewOfFile and ignores
// access hints.
package mmap
