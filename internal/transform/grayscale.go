package transform

import "github.com/dunamismax/pixelvariant/internal/raster"

// Grayscale converts to broadcast luma and re-expands to RGBA. Alpha is forced
// to 255: source transparency is discarded by contract.
func Grayscale(src *raster.Image) *raster.Image {
	n := src.Width * src.Height
	out := &raster.Image{Width: src.Width, Height: src.Height, Model: raster.RGBA, Pix: make([]byte, n*4)}

	for i := 0; i < n; i++ {
		var y uint8
		switch src.Model {
		case raster.Luminance:
			y = src.Pix[i]
		case raster.RGB:
			y = luma(src.Pix[i*3], src.Pix[i*3+1], src.Pix[i*3+2])
		default:
			y = luma(src.Pix[i*4], src.Pix[i*4+1], src.Pix[i*4+2])
		}
		out.Pix[i*4+0] = y
		out.Pix[i*4+1] = y
		out.Pix[i*4+2] = y
		out.Pix[i*4+3] = 0xff
	}
	return out
}

func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
}
