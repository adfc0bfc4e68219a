package stream

import "github.com/pkg/errors"

var (
	// ErrResourceExhausted is returned when working buffers for a frame cannot be allocated. The
	// stream cannot make progress until it is reconfigured.
	ErrResourceExhausted = errors.New("not enough resources to process frame")

	// ErrMalformedFrame marks a raw frame whose size or metadata does not match its description.
	// Malformed frames are skipped, never fatal.
	ErrMalformedFrame = errors.New("malformed raw frame")

	// ErrClosed is returned when using a processor after Close.
	ErrClosed = errors.New("stream processor is closed")
)

func newResourceExhaustedError(width, height int, what string) error {
	return errors.Wrapf(ErrResourceExhausted, "%dx%d %s", width, height, what)
}
