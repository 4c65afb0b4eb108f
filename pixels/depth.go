// Package pixels converts depth images into the layouts sent on the
// depth channel.
//
// 8-bit depth is sent as GRAY8. 16-bit depth is colorized into RGB with a
// hue ramp so that the receiver can recover an approximate depth value
// from the color of each pixel.
package pixels

import (
	"errors"
	"fmt"
)

// DefaultDepthRange is the depth range mapped onto the color ramp
// (14 significant bits).
const DefaultDepthRange = 1 << 14

// hueSteps is the number of distinct colors on the ramp: six segments of
// 255 steps each.
const hueSteps = 6 * 255

// ErrSizeMismatch indicates the source and destination buffers disagree.
var ErrSizeMismatch = errors.New("pixel buffer size mismatch")

// ColorizeDepth16 writes one RGB triplet per depth sample into dst.
//
// Samples equal to zero (no reading) become black. Samples at or above
// maxDepth are clamped to the end of the ramp.
func ColorizeDepth16(src []uint16, dst []byte, maxDepth int) error {
	if len(dst) != len(src)*3 {
		return fmt.Errorf("%w: %d samples need %d bytes, got %d", ErrSizeMismatch, len(src), len(src)*3, len(dst))
	}
	if maxDepth <= 0 {
		maxDepth = DefaultDepthRange
	}

	for i, d := range src {
		r, g, b := depthColor(int(d), maxDepth)
		dst[i*3] = r
		dst[i*3+1] = g
		dst[i*3+2] = b
	}
	return nil
}

func depthColor(d, maxDepth int) (r, g, b byte) {
	if d == 0 {
		return 0, 0, 0
	}
	if d >= maxDepth {
		d = maxDepth - 1
	}
	h := d * (hueSteps - 1) / (maxDepth - 1)
	if maxDepth == 1 {
		h = 0
	}
	seg, off := h/255, byte(h%255)

	switch seg {
	case 0:
		return 255, off, 0
	case 1:
		return 255 - off, 255, 0
	case 2:
		return 0, 255, off
	case 3:
		return 0, 255 - off, 255
	case 4:
		return off, 0, 255
	default:
		return 255, 0, 255 - off
	}
}

// DecodeDepthColor inverts depthColor for a pixel produced by
// ColorizeDepth16. It returns 0 for black pixels.
func DecodeDepthColor(r, g, b byte, maxDepth int) int {
	if maxDepth <= 0 {
		maxDepth = DefaultDepthRange
	}
	var h int
	switch {
	case r == 0 && g == 0 && b == 0:
		return 0
	case r == 255 && b == 0:
		h = int(g)
	case g == 255 && b == 0:
		h = 255 + int(255-r)
	case g == 255 && r == 0:
		h = 2*255 + int(b)
	case b == 255 && r == 0:
		h = 3*255 + int(255-g)
	case b == 255 && g == 0:
		h = 4*255 + int(r)
	default:
		h = 5*255 + int(255-b)
	}
	return h * (maxDepth - 1) / (hueSteps - 1)
}

// CopyGray8 copies an 8-bit depth image, checking its size.
func CopyGray8(src, dst []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}
