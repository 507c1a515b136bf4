package subprocess

import (
	"io"

	"github.com/pkg/errors"
)

// BytesPerPixel for the packed raw formats the decoder is asked to emit.
func BytesPerPixel(pixfmt string) (int, bool) {
	switch pixfmt {
	case "rgb24", "bgr24":
		return 3, true
	case "rgba", "bgra", "argb", "abgr", "rgb0", "bgr0":
		return 4, true
	case "gray":
		return 1, true
	}
	return 0, false
}

// FrameReader cuts a raw video stream into fixed-size frames.
type FrameReader struct {
	r      io.Reader
	Width  int
	Height int
	size   int
}

// NewFrameReader reads frames described by a StreamEvent.
func NewFrameReader(r io.Reader, stream StreamEvent) (*FrameReader, error) {
	bpp, ok := BytesPerPixel(stream.PixelFormat)
	if !ok {
		return nil, errors.Errorf("unsupported raw pixel format %q", stream.PixelFormat)
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, errors.Errorf("invalid frame geometry %dx%d", stream.Width, stream.Height)
	}
	return &FrameReader{
		r:      r,
		Width:  stream.Width,
		Height: stream.Height,
		size:   bpp * stream.Width * stream.Height,
	}, nil
}

// FrameSize in bytes.
func (fr *FrameReader) FrameSize() int {
	return fr.size
}

// Next returns a freshly allocated frame buffer, which the caller owns. At the
// end of the stream it returns io.EOF; a truncated final frame yields
// io.ErrUnexpectedEOF.
func (fr *FrameReader) Next() ([]byte, error) {
	buf := make([]byte, fr.size)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
