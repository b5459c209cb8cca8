// Package raster holds the decoded pixel buffer every transform operates on and
// the codec that moves it to and from encoded bytes.
package raster

import (
	"errors"
	"fmt"
	"image"
)

type ColorModel int

const (
	RGB ColorModel = iota + 1
	RGBA
	Luminance
)

func (m ColorModel) Channels() int {
	switch m {
	case RGB:
		return 3
	case RGBA:
		return 4
	case Luminance:
		return 1
	default:
		return 0
	}
}

func (m ColorModel) String() string {
	switch m {
	case RGB:
		return "RGB"
	case RGBA:
		return "RGBA"
	case Luminance:
		return "L"
	default:
		return fmt.Sprintf("ColorModel(%d)", int(m))
	}
}

var ErrInvalidImage = errors.New("invalid raster image")

// Image is an owned, row-major pixel buffer. RGBA pixels carry straight
// (non-premultiplied) alpha so a fully transparent pixel keeps its color.
type Image struct {
	Width  int
	Height int
	Model  ColorModel
	Pix    []byte
}

func New(width, height int, model ColorModel) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidImage, width, height)
	}
	if model.Channels() == 0 {
		return nil, fmt.Errorf("%w: unknown color model %d", ErrInvalidImage, int(model))
	}
	return &Image{
		Width:  width,
		Height: height,
		Model:  model,
		Pix:    make([]byte, width*height*model.Channels()),
	}, nil
}

func (img *Image) Validate() error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidImage, img.Width, img.Height)
	}
	channels := img.Model.Channels()
	if channels == 0 {
		return fmt.Errorf("%w: unknown color model %d", ErrInvalidImage, int(img.Model))
	}
	if want := img.Width * img.Height * channels; len(img.Pix) != want {
		return fmt.Errorf("%w: buffer length %d, want %d", ErrInvalidImage, len(img.Pix), want)
	}
	return nil
}

func (img *Image) Stride() int {
	return img.Width * img.Model.Channels()
}

func (img *Image) Clone() *Image {
	pix := make([]byte, len(img.Pix))
	copy(pix, img.Pix)
	return &Image{Width: img.Width, Height: img.Height, Model: img.Model, Pix: pix}
}

// ToRGBA returns a new RGBA copy. Sources without alpha get a fully opaque
// channel; luminance is replicated into R, G and B.
func (img *Image) ToRGBA() *Image {
	if img.Model == RGBA {
		return img.Clone()
	}

	n := img.Width * img.Height
	out := &Image{Width: img.Width, Height: img.Height, Model: RGBA, Pix: make([]byte, n*4)}
	switch img.Model {
	case RGB:
		for i := 0; i < n; i++ {
			out.Pix[i*4+0] = img.Pix[i*3+0]
			out.Pix[i*4+1] = img.Pix[i*3+1]
			out.Pix[i*4+2] = img.Pix[i*3+2]
			out.Pix[i*4+3] = 0xff
		}
	case Luminance:
		for i := 0; i < n; i++ {
			y := img.Pix[i]
			out.Pix[i*4+0] = y
			out.Pix[i*4+1] = y
			out.Pix[i*4+2] = y
			out.Pix[i*4+3] = 0xff
		}
	}
	return out
}

// NRGBA copies the image into an *image.NRGBA anchored at the origin.
func (img *Image) NRGBA() *image.NRGBA {
	rgba := img
	if img.Model != RGBA {
		rgba = img.ToRGBA()
	}
	dst := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	copy(dst.Pix, rgba.Pix)
	return dst
}

// FromNRGBA copies src into a new RGBA image.
func FromNRGBA(src *image.NRGBA) (*Image, error) {
	b := src.Bounds()
	out, err := New(b.Dx(), b.Dy(), RGBA)
	if err != nil {
		return nil, err
	}
	rowBytes := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		offset := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out.Pix[y*rowBytes:(y+1)*rowBytes], src.Pix[offset:offset+rowBytes])
	}
	return out, nil
}
