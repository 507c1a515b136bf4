// Copyright 2019 Lanikai Labs. All rights reserved.

package color

import (
	"image"

	"github.com/pkg/errors"
)

// RGB24 is packed 8-bit R, G, B, as produced by ffmpeg's "rgb24" pixel format.
type RGB24 struct {
	Packed []uint8
	Rect   image.Rectangle
	Stride int
}

// NewRGB24 wraps an existing packed buffer. The buffer is not copied.
func NewRGB24(packed []byte, width, height int) (*RGB24, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("color: invalid geometry %dx%d", width, height)
	}
	if want := 3 * width * height; len(packed) != want {
		return nil, errors.Errorf("color: rgb24 %dx%d needs %d bytes, have %d", width, height, want, len(packed))
	}
	return &RGB24{
		Packed: packed,
		Rect:   image.Rect(0, 0, width, height),
		Stride: 3 * width,
	}, nil
}

// RGB24ToRGBA expands 3-channel pixels into dst, setting alpha fully opaque.
// dst must have the same bounds as src.
func RGB24ToRGBA(dst *image.RGBA, src *RGB24) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		s := src.Packed[y*src.Stride : y*src.Stride+3*w]
		d := dst.Pix[y*dst.Stride : y*dst.Stride+4*w]
		for i, j := 0, 0; i < len(s); i, j = i+3, j+4 {
			d[j+0] = s[i+0]
			d[j+1] = s[i+1]
			d[j+2] = s[i+2]
			d[j+3] = 0xff
		}
	}
}
