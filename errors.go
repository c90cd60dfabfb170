package clips

import (
	"errors"
	"fmt"

	"github.com/tildemin3/clips-core/blobstore"
	"github.com/tildemin3/clips-core/image"
)

var (
	// ErrImageActive is matched by operations refused while a binary image
	// is loaded.
	ErrImageActive = errors.New("binary image is active")

	ErrAlreadyLoaded     = image.ErrAlreadyLoaded
	ErrIncompatibleImage = image.ErrIncompatibleImage
	ErrCorruptImage      = image.ErrCorruptImage
	ErrDanglingReference = image.ErrDanglingReference
	ErrImageInUse        = image.ErrImageInUse
	ErrOpen              = image.ErrOpen
)

type (
	AlreadyLoadedError     = image.AlreadyLoadedError
	IncompatibleImageError = image.IncompatibleImageError
	CorruptImageError      = image.CorruptImageError
	DanglingReferenceError = image.DanglingReferenceError
	ImageInUseError        = image.ImageInUseError
	OpenError              = image.OpenError
)

// CannotPerformWhileLoadedError reports an operation that would change the
// constructs of an environment while a binary image is loaded.
type CannotPerformWhileLoadedError struct {
	Operation string
	Construct string // kind of the construct, if the operation defines one
}

func (e *CannotPerformWhileLoadedError) Error() string {
	if e.Construct != "" {
		return fmt.Sprintf("cannot %s %s while a binary image is loaded", e.Operation, e.Construct)
	}
	return fmt.Sprintf("cannot %s while a binary image is loaded", e.Operation)
}

func (e *CannotPerformWhileLoadedError) Is(target error) bool { return target == ErrImageActive }

// translateOpenError turns a failure to reach name in the blob store into an
// *OpenError. Errors that already carry a cause from the image are kept.
func translateOpenError(name string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpenError
	if errors.As(err, &oe) {
		return err
	}
	if errors.Is(err, blobstore.ErrNotFound) {
		return image.NewOpenError(name, err)
	}
	return image.NewOpenError(name, fmt.Errorf("open blob: %w", err))
}
