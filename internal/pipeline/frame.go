package pipeline

import (
	"image"

	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/color"
)

// RawFrame is one decoded video frame in packed rgb24, as read from the decode
// subprocess. Ownership moves with the value: after a RawFrame is sent on a
// channel, the sender must not touch Pix again.
type RawFrame struct {
	Width  uint32
	Height uint32
	Pix    []byte
}

// DisplayImage is a converted frame, ready for the display consumer. Pix is
// RGBA with a stride of 4*Width.
type DisplayImage struct {
	Width  uint32
	Height uint32
	Pix    []byte
}

// Image returns an image.RGBA view of the pixels. No copy is made.
func (d DisplayImage) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    d.Pix,
		Stride: 4 * int(d.Width),
		Rect:   image.Rect(0, 0, int(d.Width), int(d.Height)),
	}
}

// ConvertFunc turns a raw frame into a displayable image. It runs concurrently
// on up to N workers and must not retain f.Pix.
type ConvertFunc func(f RawFrame) (DisplayImage, error)

// ConvertRGB24 expands an rgb24 frame into RGBA with opaque alpha.
func ConvertRGB24(f RawFrame) (DisplayImage, error) {
	src, err := color.NewRGB24(f.Pix, int(f.Width), int(f.Height))
	if err != nil {
		return DisplayImage{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}

	dst := image.NewRGBA(src.Rect)
	color.RGB24ToRGBA(dst, src)
	return DisplayImage{Width: f.Width, Height: f.Height, Pix: dst.Pix}, nil
}
