package fs

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/gobwas/glob"
)

// ErrInjected is the error returned by faults without their own Err.
var ErrInjected = errors.New("injected fault")

// Fault describes how files matching a rule misbehave. Negative byte limits
// disable the corresponding fault.
type Fault struct {
	FailAfterWriteBytes int64
	FailAfterReadBytes  int64
	FailOnSync          bool
	FailOnClose         bool
	FailOnRename        bool
	Err                 error
}

// NoFault is a Fault that never fires.
var NoFault = Fault{FailAfterWriteBytes: -1, FailAfterReadBytes: -1}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

type rule struct {
	pattern glob.Glob
	fault   Fault
}

// FaultyFS wraps a FileSystem and injects faults into files whose base name
// matches a glob rule. The last matching rule wins.
type FaultyFS struct {
	FS FileSystem

	mu    sync.Mutex
	rules []rule
}

// NewFaultyFS wraps fs (or Default if nil).
func NewFaultyFS(fs FileSystem) *FaultyFS {
	if fs == nil {
		fs = Default
	}
	return &FaultyFS{FS: fs}
}

// AddRule registers fault for base names matching pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{pattern: g, fault: fault})
	return nil
}

func (f *FaultyFS) faultFor(name string) Fault {
	f.mu.Lock()
	defer f.mu.Unlock()
	fault := NoFault
	base := filepath.Base(name)
	for _, r := range f.rules {
		if r.pattern.Match(base) {
			fault = r.fault
		}
	}
	return fault
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fault: f.faultFor(name)}, nil
}

func (f *FaultyFS) CreateTemp(dir, pattern string) (File, error) {
	file, err := f.FS.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fault: f.faultFor(file.Name())}, nil
}

func (f *FaultyFS) Remove(name string) error { return f.FS.Remove(name) }

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if fault := f.faultFor(newpath); fault.FailOnRename {
		return fault.err()
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error)        { return f.FS.Stat(name) }
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error { return f.FS.MkdirAll(path, perm) }
func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error)   { return f.FS.ReadDir(name) }

type faultyFile struct {
	File
	fault   Fault
	written int64
	read    int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if limit := ff.fault.FailAfterWriteBytes; limit >= 0 && ff.written+int64(len(p)) > limit {
		n := int(limit - ff.written)
		if n > 0 {
			n, _ = ff.File.Write(p[:n])
			ff.written += int64(n)
		}
		return n, ff.fault.err()
	}
	n, err := ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Read(p []byte) (int, error) {
	if limit := ff.fault.FailAfterReadBytes; limit >= 0 && ff.read+int64(len(p)) > limit {
		n := int(limit - ff.read)
		if n > 0 {
			n, _ = ff.File.Read(p[:n])
			ff.read += int64(n)
		}
		return n, ff.fault.err()
	}
	n, err := ff.File.Read(p)
	ff.read += int64(n)
	return n, err
}

func (ff *faultyFile) ReadAt(p []byte, off int64) (int, error) {
	if limit := ff.fault.FailAfterReadBytes; limit >= 0 && off+int64(len(p)) > limit {
		n := int(limit - off)
		if n > 0 {
			n, _ = ff.File.ReadAt(p[:n], off)
		} else {
			n = 0
		}
		return n, ff.fault.err()
	}
	return ff.File.ReadAt(p, off)
}

func (ff *faultyFile) Sync() error {
	if ff.fault.FailOnSync {
		return ff.fault.err()
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	if ff.fault.FailOnClose {
		_ = ff.File.Close()
		return ff.fault.err()
	}
	return ff.File.Close()
}
