//go:build govips && cgo

package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

// vipsResampler hands the resize to libvips. Startup must have been called.
type vipsResampler struct{}

func (vipsResampler) Resample(src *image.NRGBA, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("resample target must be positive, got %dx%d", width, height)
	}
	if src.Bounds().Empty() {
		return image.NewNRGBA(image.Rect(0, 0, width, height)), nil
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.NoCompression}
	if err := encoder.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("stage image for libvips: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load image into libvips: %w", err)
	}
	defer ref.Close()

	if err := ref.ThumbnailWithSize(width, height, vips.InterestingNone, vips.SizeForce); err != nil {
		return nil, fmt.Errorf("resize image: %w", err)
	}

	params := vips.NewPngExportParams()
	params.Compression = 0
	data, _, err := ref.ExportPng(params)
	if err != nil {
		return nil, fmt.Errorf("export resized image: %w", err)
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read resized image: %w", err)
	}
	if n, ok := decoded.(*image.NRGBA); ok {
		return n, nil
	}
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), decoded, decoded.Bounds().Min, draw.Src)
	return out, nil
}
