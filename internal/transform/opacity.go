package transform

import (
	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/raster"
)

// Opacity scales every alpha value by factor, truncating toward zero. Color
// channels are never touched, so a pixel made fully transparent keeps its RGB.
func Opacity(src *raster.Image, factor float64) (*raster.Image, error) {
	if err := domain.ValidateOpacity(factor); err != nil {
		return nil, err
	}

	out := src.ToRGBA()
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = uint8(float64(out.Pix[i]) * factor)
	}
	return out, nil
}
