package transform

import (
	"fmt"
	"image"

	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/raster"
)

// CropWindow returns the source window framed by p. The window is centered on
// the horizontal midpoint and on the vertical midpoint shifted by YShift. Top
// and bottom are clamped to the source; left and right are not, and the part
// outside the source is filled transparent by cropPadded.
//
// The result may be empty when YShift pushes the window entirely off the
// source vertically.
func CropWindow(width, height int, p domain.CircularParams) image.Rectangle {
	xCenter := width / 2
	yCenter := height/2 + p.YShift

	return image.Rectangle{
		Min: image.Point{X: xCenter - p.CropWidth/2, Y: max(0, yCenter-p.CropHeight/2)},
		Max: image.Point{X: xCenter + p.CropWidth/2, Y: min(height, yCenter+p.CropHeight/2)},
	}
}

// ZoomedSize is the intermediate size the crop is shrunk to before masking.
func ZoomedSize(p domain.CircularParams) (int, int) {
	w := int(float64(p.CropWidth) * p.ZoomFactor)
	h := int(float64(p.CropHeight) * p.ZoomFactor)
	return max(1, w), max(1, h)
}

// CircularCrop crops, zooms, masks with an inscribed ellipse and resizes the
// result back to exactly CropWidth x CropHeight.
func CircularCrop(src *raster.Image, p domain.CircularParams, resampler Resampler) (*raster.Image, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return circularCrop(src, p, resampler)
}

// circularCrop expects p to be validated already.
func circularCrop(src *raster.Image, p domain.CircularParams, resampler Resampler) (*raster.Image, error) {
	if resampler == nil {
		resampler = DefaultResampler()
	}

	rgba := src
	if src.Model != raster.RGBA {
		rgba = src.ToRGBA()
	}

	window := CropWindow(src.Width, src.Height, p)
	zw, zh := ZoomedSize(p)

	zoomed := image.NewNRGBA(image.Rect(0, 0, zw, zh))
	if !window.Empty() {
		var err error
		zoomed, err = resampler.Resample(cropPadded(rgba, window), zw, zh)
		if err != nil {
			return nil, fmt.Errorf("zoom crop: %w", err)
		}
	}

	masked := composite(zoomed, ellipseMask(zw, zh))

	out, err := resampler.Resample(masked, p.CropWidth, p.CropHeight)
	if err != nil {
		return nil, fmt.Errorf("resize masked crop: %w", err)
	}
	return raster.FromNRGBA(out)
}

// cropPadded copies window out of an RGBA source. Window pixels that fall
// outside the source stay fully transparent.
func cropPadded(src *raster.Image, window image.Rectangle) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, window.Dx(), window.Dy()))

	x0 := max(window.Min.X, 0)
	x1 := min(window.Max.X, src.Width)
	if x0 >= x1 {
		return dst
	}

	for y := max(window.Min.Y, 0); y < min(window.Max.Y, src.Height); y++ {
		from := (y*src.Width + x0) * 4
		to := (y*src.Width + x1) * 4
		copy(dst.Pix[dst.PixOffset(x0-window.Min.X, y-window.Min.Y):], src.Pix[from:to])
	}
	return dst
}

// ellipseMask is fully opaque inside the ellipse inscribed in w x h and zero
// elsewhere.
func ellipseMask(w, h int) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	rx := float64(w) / 2
	ry := float64(h) / 2

	for y := 0; y < h; y++ {
		dy := (float64(y) + 0.5 - ry) / ry
		for x := 0; x < w; x++ {
			dx := (float64(x) + 0.5 - rx) / rx
			if dx*dx+dy*dy <= 1 {
				mask.Pix[y*mask.Stride+x] = 0xff
			}
		}
	}
	return mask
}

// composite pastes src through mask onto a transparent canvas of the same
// size. Blending works on straight alpha so color under the mask edge is kept.
func composite(src *image.NRGBA, mask *image.Alpha) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			m := uint32(mask.AlphaAt(x, y).A)
			if m == 0 {
				continue
			}
			s := src.PixOffset(b.Min.X+x, b.Min.Y+y)
			d := dst.PixOffset(x, y)
			for c := 0; c < 4; c++ {
				dst.Pix[d+c] = uint8(uint32(src.Pix[s+c]) * m / 0xff)
			}
		}
	}
	return dst
}
