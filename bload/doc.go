// Package bload restores a binary image into a live knowledge base.
//
// A Loader owns the load state of one environment. Load validates the
// header against the running build, runs the before-load hooks, relocates
// every segment in image.LoadOrder into arrays sized from the directory,
// verifies the trailer digest and commits. The directory as a whole is
// bounded by relocate.Options.MaxSegmentBytes, and live arrays are charged
// to the resource controller for the duration of the load. Any failure,
// including a header mismatch or a panicking hook, runs the abort hooks,
// releases every atom the partial load interned and returns the loader to
// StateIdle; nothing of a failed load is ever visible.
//
//	l := bload.New(bload.Options{Symbols: syms, Functions: reg, Hooks: hooks})
//	if err := l.Load(r); err != nil {
//	    return err
//	}
//	img := l.Image()
//
// Unload polls every clear-ready hook and refuses with
// *image.ImageInUseError if any of them vetoes.
package bload
