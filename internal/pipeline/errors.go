package pipeline

import "errors"

var (
	// ErrMalformedFrame is returned by converters when the pixel buffer does
	// not match the frame geometry. Such frames are skipped.
	ErrMalformedFrame = errors.New("pipeline: malformed frame")
)
