package pipeline

import (
	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/raster"
)

// Transformer maps one decoded source and one request to a new image. It must
// not modify src.
type Transformer interface {
	Apply(src *raster.Image, req domain.TransformRequest) (*raster.Image, error)
}
