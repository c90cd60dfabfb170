package bload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/hook"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/relocate"
	"github.com/tildemin3/clips-core/symbol"
)

var (
	// ErrNotLoaded is returned by Unload when no image is active.
	ErrNotLoaded = errors.New("no binary image loaded")

	// ErrBusy is returned by Unload while a load is in flight.
	ErrBusy = errors.New("binary image load in progress")
)

// Options configures a Loader.
type Options struct {
	// Build is the set of constants images must match. Zero means
	// image.CurrentBuild().
	Build image.Build

	// Symbols receives the atoms of loaded images. Nil means a private
	// table.
	Symbols *symbol.Table

	// Functions are the registrations function references resolve against.
	Functions *function.Registry

	// Policy decides which unresolved function references are deferred.
	Policy function.ResolvePolicy

	// Hooks are the lifecycle callbacks. Nil means hook.NewSet().
	Hooks *hook.Set

	// Relocate configures segment reads.
	Relocate relocate.Options

	Logger *slog.Logger

	// OnCommit installs a loaded image. It runs after the image has become
	// active and before the after-load hooks.
	OnCommit func(*Image)

	// OnUnload runs after an approved unload, before the atoms of the image
	// are released.
	OnUnload func(*Image)
}

// Loader runs the load protocol for one environment. Only one load or
// unload may be in flight; a second one fails instead of waiting.
type Loader struct {
	opts   Options
	logger *slog.Logger

	state atomic.Int32
	img   atomic.Pointer[Image]
}

// New creates an idle Loader.
func New(opts Options) *Loader {
	if opts.Build.Prefix == "" {
		opts.Build = image.CurrentBuild()
	}
	if opts.Symbols == nil {
		opts.Symbols = symbol.NewTable()
	}
	if opts.Hooks == nil {
		opts.Hooks = hook.NewSet()
	}
	if opts.Relocate == (relocate.Options{}) {
		opts.Relocate = relocate.DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{opts: opts, logger: logger}
}

// State returns the current protocol state.
func (l *Loader) State() State {
	return State(l.state.Load())
}

func (l *Loader) setState(s State) {
	l.state.Store(int32(s))
}

// Active reports whether a committed image is installed.
func (l *Loader) Active() bool {
	s := l.State()
	return s == StateAfterHooksRunning || s == StateActive
}

// Image returns the active image, or nil.
func (l *Loader) Image() *Image {
	return l.img.Load()
}

// Hooks returns the hook set the loader runs.
func (l *Loader) Hooks() *hook.Set {
	return l.opts.Hooks
}

// Symbols returns the table loaded atoms are interned in.
func (l *Loader) Symbols() *symbol.Table {
	return l.opts.Symbols
}

// Load reads an image from r and makes it the active image. It fails with
// *image.AlreadyLoadedError, without reading r, unless the loader is idle.
func (l *Loader) Load(r io.Reader) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateHeaderValidating)) {
		return &image.AlreadyLoadedError{State: l.State().String()}
	}

	start := time.Now()
	s := &session{
		l:   l,
		r:   image.NewReader(r),
		img: &Image{LoadID: uuid.New()},
	}
	logger := l.logger.With("load_id", s.img.LoadID.String())
	logger.Debug("load started")

	h, err := s.r.ReadHeader(l.opts.Build)
	if err != nil {
		return l.abort(s, logger, err)
	}
	s.img.Header = h

	l.setState(StateBeforeHooksRunning)
	if err := l.opts.Hooks.RunBeforeLoad(); err != nil {
		return l.abort(s, logger, fmt.Errorf("before-load: %w", err))
	}

	l.setState(StateSegmentsLoading)
	err = s.load()
	s.releaseMemory()
	if err != nil {
		return l.abort(s, logger, err)
	}

	l.img.Store(s.img)
	l.setState(StateAfterHooksRunning)
	if l.opts.OnCommit != nil {
		l.opts.OnCommit(s.img)
	}
	if err := l.opts.Hooks.RunAfterLoad(); err != nil {
		// Undo the commit so the failed load leaves nothing installed.
		l.img.Store(nil)
		if l.opts.OnUnload != nil {
			l.opts.OnUnload(s.img)
		}
		return l.abort(s, logger, fmt.Errorf("after-load: %w", err))
	}
	l.setState(StateActive)

	logger.Debug("load committed",
		"digest", s.img.Digest.String(),
		"bytes", s.r.Offset()+image.DigestSize,
		"atoms", len(s.img.Atoms),
		"expressions", len(s.img.Expressions),
		"deferred_functions", s.img.Functions.Unresolved().GetCardinality(),
		"duration", time.Since(start))
	return nil
}

func (s *session) load() error {
	dir, err := s.r.ReadDirectory()
	if err != nil {
		return err
	}
	s.img.Directory = dir

	if err := s.checkDirectory(); err != nil {
		return err
	}
	if err := s.loadSegments(); err != nil {
		return err
	}

	s.img.Digest, err = s.r.VerifyTrailer()
	return err
}

// abort runs the abort hooks, drops everything the failed load built and
// returns cause, joined with the failures of abort hooks if any.
func (l *Loader) abort(s *session, logger *slog.Logger, cause error) error {
	l.setState(StateAborting)
	if err := l.opts.Hooks.RunAbort(); err != nil {
		cause = errors.Join(cause, fmt.Errorf("abort: %w", err))
	}
	s.img.release(l.opts.Symbols)
	l.setState(StateIdle)

	logger.Warn("load aborted", "offset", s.r.Offset(), "error", cause)
	return cause
}

// Unload discards the active image after every clear-ready hook agreed.
// A vetoed unload leaves the image active and returns
// *image.ImageInUseError naming every hook that refused.
func (l *Loader) Unload() error {
	switch st := l.State(); st {
	case StateActive:
	case StateIdle:
		return ErrNotLoaded
	default:
		return fmt.Errorf("%w (state %s)", ErrBusy, st)
	}

	if vetoes := l.opts.Hooks.PollClearReady(); len(vetoes) > 0 {
		return &image.ImageInUseError{Vetoes: vetoes}
	}
	if !l.state.CompareAndSwap(int32(StateActive), int32(StateIdle)) {
		return fmt.Errorf("%w (state %s)", ErrBusy, l.State())
	}

	img := l.img.Swap(nil)
	if img == nil {
		return nil
	}
	if l.opts.OnUnload != nil {
		l.opts.OnUnload(img)
	}
	img.release(l.opts.Symbols)

	l.logger.Debug("unload committed", "load_id", img.LoadID.String(), "digest", img.Digest.String())
	return nil
}
