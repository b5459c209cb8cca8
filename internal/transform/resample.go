package transform

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Resampler resizes an image to exactly width x height with a high-quality
// filter.
type Resampler interface {
	Resample(src *image.NRGBA, width, height int) (*image.NRGBA, error)
}

// LanczosResampler is the pure-Go Lanczos backend.
type LanczosResampler struct{}

func (LanczosResampler) Resample(src *image.NRGBA, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("resample target must be positive, got %dx%d", width, height)
	}
	if src.Bounds().Empty() {
		return image.NewNRGBA(image.Rect(0, 0, width, height)), nil
	}
	return imaging.Resize(src, width, height, imaging.Lanczos), nil
}
