// Package transform implements the three pure variant transforms. Every
// function leaves its input untouched and returns a newly allocated image.
package transform

import (
	"fmt"

	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/raster"
)

// Library applies transform requests with a fixed resampling backend and a
// limit on the pixels a circular crop may allocate.
type Library struct {
	resampler Resampler
	maxPixels int64
}

// NewLibrary uses DefaultResampler when resampler is nil and
// raster.DefaultMaxPixels when maxPixels is not positive.
func NewLibrary(resampler Resampler, maxPixels int64) *Library {
	if resampler == nil {
		resampler = DefaultResampler()
	}
	if maxPixels <= 0 {
		maxPixels = raster.DefaultMaxPixels
	}
	return &Library{resampler: resampler, maxPixels: maxPixels}
}

func (l *Library) Apply(src *raster.Image, req domain.TransformRequest) (*raster.Image, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	switch req.Variant {
	case domain.VariantOpacity:
		return Opacity(src, req.Opacity)
	case domain.VariantGrayscale:
		return Grayscale(src), nil
	case domain.VariantCircular:
		if err := req.Circular.ValidateWithin(l.maxPixels); err != nil {
			return nil, err
		}
		return circularCrop(src, req.Circular, l.resampler)
	default:
		return nil, &domain.ParameterError{Message: fmt.Sprintf("unsupported variant %q", req.Variant)}
	}
}
