package image

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyLoaded is returned when a load is requested while an image is
	// active or another load is in flight on the same environment.
	ErrAlreadyLoaded = errors.New("binary image already loaded")

	// ErrIncompatibleImage is returned when the prefix, version or size table
	// of an image does not match the running build.
	ErrIncompatibleImage = errors.New("incompatible binary image")

	// ErrCorruptImage is returned for truncated or malformed images.
	ErrCorruptImage = errors.New("corrupt binary image")

	// ErrDanglingReference is returned when an ordinal lies outside the
	// segment it refers to.
	ErrDanglingReference = errors.New("dangling reference in binary image")

	// ErrImageInUse is returned when a clear-ready hook refuses an unload.
	ErrImageInUse = errors.New("binary image in use")

	// ErrOpen is returned when an image cannot be opened or read.
	ErrOpen = errors.New("unable to open binary image")
)

// AlreadyLoadedError reports a load attempted outside the Idle state.
type AlreadyLoadedError struct {
	State string
}

func (e *AlreadyLoadedError) Error() string {
	return fmt.Sprintf("binary image already loaded (state %s)", e.State)
}

func (e *AlreadyLoadedError) Is(target error) bool { return target == ErrAlreadyLoaded }

// Reason distinguishes the header field that made an image incompatible.
type Reason int

const (
	// ReasonPrefix means the file is not a binary image at all.
	ReasonPrefix Reason = iota + 1
	// ReasonVersion means the image was written by another release.
	ReasonVersion
	// ReasonSizeTable means the image was written by a build with a
	// different record layout.
	ReasonSizeTable
)

func (r Reason) String() string {
	switch r {
	case ReasonPrefix:
		return "prefix"
	case ReasonVersion:
		return "version"
	case ReasonSizeTable:
		return "size table"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// IncompatibleImageError reports a header that does not match the build.
type IncompatibleImageError struct {
	Reason   Reason
	Expected string
	Actual   string
}

func (e *IncompatibleImageError) Error() string {
	return fmt.Sprintf("incompatible binary image: %s mismatch: expected %q, got %q", e.Reason, e.Expected, e.Actual)
}

func (e *IncompatibleImageError) Is(target error) bool { return target == ErrIncompatibleImage }

// CorruptImageError reports a truncated or malformed image.
//
// The underlying cause (if any) can be accessed via errors.Unwrap.
type CorruptImageError struct {
	Segment Tag
	Detail  string
	cause   error
}

// NewCorruptImageError creates a CorruptImageError for seg.
func NewCorruptImageError(seg Tag, detail string, cause error) *CorruptImageError {
	return &CorruptImageError{Segment: seg, Detail: detail, cause: cause}
}

func (e *CorruptImageError) Error() string {
	var b strings.Builder
	b.WriteString("corrupt binary image")
	if e.Segment != 0 {
		fmt.Fprintf(&b, " (%s segment)", e.Segment)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *CorruptImageError) Unwrap() error { return e.cause }

func (e *CorruptImageError) Is(target error) bool { return target == ErrCorruptImage }

// DanglingReferenceError reports an ordinal outside of its target segment.
type DanglingReferenceError struct {
	Segment Tag    // segment holding the reference
	Field   string // field of the record holding the reference
	Index   int    // element index within Segment, or -1
	Ordinal Ordinal
	Limit   int // element count of the target segment
}

func (e *DanglingReferenceError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("dangling reference: %s ordinal %d, limit %d", e.Segment, e.Ordinal, e.Limit)
	}
	return fmt.Sprintf("dangling reference: %s[%d].%s = %d, limit %d", e.Segment, e.Index, e.Field, e.Ordinal, e.Limit)
}

func (e *DanglingReferenceError) Is(target error) bool { return target == ErrDanglingReference }

// ImageInUseError reports the clear-ready hooks that refused an unload.
type ImageInUseError struct {
	Vetoes []string
}

func (e *ImageInUseError) Error() string {
	return fmt.Sprintf("binary image in use by %s", strings.Join(e.Vetoes, ", "))
}

func (e *ImageInUseError) Is(target error) bool { return target == ErrImageInUse }

// OpenError reports an image that could not be opened.
//
// The original underlying error can be accessed via errors.Unwrap.
type OpenError struct {
	Name  string
	cause error
}

// NewOpenError wraps cause for the image called name.
func NewOpenError(name string, cause error) *OpenError {
	return &OpenError{Name: name, cause: cause}
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("unable to open binary image %q: %v", e.Name, e.cause)
}

func (e *OpenError) Unwrap() error { return e.cause }

func (e *OpenError) Is(target error) bool { return target == ErrOpen }
