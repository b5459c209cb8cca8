package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const MIMEType = "image/png"

// DefaultMaxPixels bounds width*height of any image the engine decodes or
// produces. Each such image costs up to four bytes per pixel.
const DefaultMaxPixels int64 = 40_000_000

var (
	ErrDecode   = errors.New("decode image")
	ErrEncode   = errors.New("encode image")
	ErrTooLarge = errors.New("image exceeds pixel limit")
)

// CheckPixels reports ErrTooLarge when width*height exceeds maxPixels. A
// non-positive maxPixels means DefaultMaxPixels.
func CheckPixels(width, height int, maxPixels int64) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if width <= 0 || height <= 0 {
		return nil
	}
	if int64(width) > maxPixels/int64(height) {
		return fmt.Errorf("%w: %dx%d is over %d pixels", ErrTooLarge, width, height, maxPixels)
	}
	return nil
}

// Decode parses any registered raster format into an owned buffer, refusing
// images larger than DefaultMaxPixels.
func Decode(data []byte) (*Image, error) {
	return DecodeWithin(data, DefaultMaxPixels)
}

// DecodeWithin is Decode with an explicit pixel limit. The limit is checked
// against the header before any pixel memory is allocated.
func DecodeWithin(data []byte, maxPixels int64) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := CheckPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	b := src.Bounds()
	out, err := New(b.Dx(), b.Dy(), modelOf(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	switch out.Model {
	case Luminance:
		readGray(out, src)
	case RGB:
		readRGB(out, src)
	default:
		readRGBA(out, src)
	}
	return out, nil
}

// Encode writes img as PNG, the single output format of the engine.
func Encode(img *Image) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	rect := image.Rect(0, 0, img.Width, img.Height)
	var out image.Image
	switch img.Model {
	case Luminance:
		out = &image.Gray{Pix: img.Pix, Stride: img.Width, Rect: rect}
	case RGB:
		expanded := img.ToRGBA()
		out = &image.RGBA{Pix: expanded.Pix, Stride: img.Width * 4, Rect: rect}
	default:
		out = &image.NRGBA{Pix: img.Pix, Stride: img.Width * 4, Rect: rect}
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// modelOf maps a decoder's concrete type onto the three supported models.
// The model follows the container, not the pixels: an opaque truecolor PNG
// decodes as *image.RGBA and stays RGBA, while the same pixels from a JPEG are
// RGB. Encode writes opaque RGBA as truecolor PNG, so keeping *image.RGBA as
// RGBA is what lets transform outputs round-trip with their model. Every
// transform normalises its input (opacity and circular to RGBA, grayscale to
// luma), so the two sources produce identical outputs.
func modelOf(img image.Image) ColorModel {
	switch m := img.(type) {
	case *image.Gray, *image.Gray16:
		return Luminance
	case *image.YCbCr, *image.CMYK:
		return RGB
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return RGBA
			}
		}
		return RGB
	default:
		return RGBA
	}
}

func readGray(dst *Image, src image.Image) {
	b := src.Bounds()
	if g, ok := src.(*image.Gray); ok {
		for y := 0; y < dst.Height; y++ {
			offset := g.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Width:(y+1)*dst.Width], g.Pix[offset:offset+dst.Width])
		}
		return
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Pix[i] = color.GrayModel.Convert(src.At(x, y)).(color.Gray).Y
			i++
		}
	}
}

func readRGB(dst *Image, src image.Image) {
	b := src.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			i += 3
		}
	}
}

func readRGBA(dst *Image, src image.Image) {
	b := src.Bounds()
	if n, ok := src.(*image.NRGBA); ok {
		rowBytes := dst.Width * 4
		for y := 0; y < dst.Height; y++ {
			offset := n.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*rowBytes:(y+1)*rowBytes], n.Pix[offset:offset+rowBytes])
		}
		return
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			dst.Pix[i+3] = c.A
			i += 4
		}
	}
}
