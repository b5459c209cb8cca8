package transform

import (
	"bytes"
	"errors"
	"image"
	"testing"

	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/raster"
)

func TestOpacityFactorOneIsIdentityOnAlpha(t *testing.T) {
	src := gradientRGB(t, 12, 9)
	want := src.ToRGBA()

	out, err := Opacity(src, 1.0)
	if err != nil {
		t.Fatalf("opacity: %v", err)
	}
	if out.Model != raster.RGBA {
		t.Fatalf("expected RGBA output, got %s", out.Model)
	}
	if !bytes.Equal(out.Pix, want.Pix) {
		t.Fatal("expected factor 1.0 to equal the alpha-normalized input")
	}
}

func TestOpacityFactorZeroKeepsColor(t *testing.T) {
	src := gradientRGB(t, 8, 8)
	normalized := src.ToRGBA()

	out, err := Opacity(src, 0.0)
	if err != nil {
		t.Fatalf("opacity: %v", err)
	}
	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i+3] != 0 {
			t.Fatalf("expected alpha 0 at byte %d, got %d", i+3, out.Pix[i+3])
		}
		if !bytes.Equal(out.Pix[i:i+3], normalized.Pix[i:i+3]) {
			t.Fatalf("expected RGB unchanged at byte %d", i)
		}
	}
}

func TestOpacityHalfOnOpaqueRed(t *testing.T) {
	src := solid(t, 100, 100, 255, 0, 0, 255)

	out, err := Opacity(src, 0.5)
	if err != nil {
		t.Fatalf("opacity: %v", err)
	}
	for i := 0; i < len(out.Pix); i += 4 {
		if got := out.Pix[i : i+4]; !bytes.Equal(got, []byte{255, 0, 0, 127}) {
			t.Fatalf("expected (255,0,0,127), got %v", got)
		}
	}
}

func TestOpacityTruncatesTowardZero(t *testing.T) {
	src := solid(t, 1, 1, 10, 20, 30, 201)
	out, err := Opacity(src, 0.3)
	if err != nil {
		t.Fatalf("opacity: %v", err)
	}
	if out.Pix[3] != 60 {
		t.Fatalf("expected floor(201*0.3)=60, got %d", out.Pix[3])
	}
}

func TestOpacityRejectsOutOfRangeFactor(t *testing.T) {
	src := solid(t, 2, 2, 1, 2, 3, 4)
	for _, factor := range []float64{1.5, -0.1} {
		if _, err := Opacity(src, factor); !errors.Is(err, domain.ErrInvalidParameter) {
			t.Fatalf("expected ErrInvalidParameter for %v, got %v", factor, err)
		}
	}
}

func TestTransformsLeaveInputUntouched(t *testing.T) {
	src := solid(t, 20, 20, 90, 80, 70, 128)
	before := src.Clone()
	lib := NewLibrary(LanczosResampler{}, 0)

	for _, req := range domain.AllRequests(0.25) {
		req.Circular = domain.CircularParams{CropWidth: 10, CropHeight: 10, ZoomFactor: 0.5, YShift: 0}
		if _, err := lib.Apply(src, req); err != nil {
			t.Fatalf("apply %s: %v", req.Variant, err)
		}
	}
	if !bytes.Equal(src.Pix, before.Pix) {
		t.Fatal("expected source pixels to be unchanged")
	}
}

func TestGrayscaleRed(t *testing.T) {
	out := Grayscale(solid(t, 100, 100, 255, 0, 0, 255))
	for i := 0; i < len(out.Pix); i += 4 {
		if got := out.Pix[i : i+4]; !bytes.Equal(got, []byte{76, 76, 76, 255}) {
			t.Fatalf("expected (76,76,76,255), got %v", got)
		}
	}
}

func TestGrayscaleDiscardsAlpha(t *testing.T) {
	src := solid(t, 4, 4, 10, 200, 90, 0)
	out := Grayscale(src)
	for i := 0; i < len(out.Pix); i += 4 {
		r, g, b, a := out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3]
		if r != g || g != b {
			t.Fatalf("expected R=G=B, got %d,%d,%d", r, g, b)
		}
		if a != 255 {
			t.Fatalf("expected alpha 255, got %d", a)
		}
	}
}

func TestGrayscaleLuminanceSourceIsIdentity(t *testing.T) {
	src, _ := raster.New(3, 1, raster.Luminance)
	copy(src.Pix, []byte{0, 128, 255})
	out := Grayscale(src)
	want := []byte{0, 0, 0, 255, 128, 128, 128, 255, 255, 255, 255, 255}
	if !bytes.Equal(out.Pix, want) {
		t.Fatalf("expected %v, got %v", want, out.Pix)
	}
}

func TestCircularCropOutputDimensions(t *testing.T) {
	sources := []*raster.Image{
		solid(t, 1, 1, 255, 255, 255, 255),
		gradientRGB(t, 3, 50),
		gradientRGB(t, 200, 20),
	}
	params := []domain.CircularParams{
		{CropWidth: 16, CropHeight: 12, ZoomFactor: 0.01, YShift: 0},
		{CropWidth: 16, CropHeight: 12, ZoomFactor: 0.5, YShift: -4},
		{CropWidth: 9, CropHeight: 21, ZoomFactor: 1, YShift: 3},
		{CropWidth: 16, CropHeight: 12, ZoomFactor: 2.5, YShift: -300},
	}

	for _, src := range sources {
		for _, p := range params {
			out, err := CircularCrop(src, p, LanczosResampler{})
			if err != nil {
				t.Fatalf("circular crop %dx%d %+v: %v", src.Width, src.Height, p, err)
			}
			if out.Width != p.CropWidth || out.Height != p.CropHeight {
				t.Fatalf("source %dx%d %+v: expected %dx%d, got %dx%d",
					src.Width, src.Height, p, p.CropWidth, p.CropHeight, out.Width, out.Height)
			}
			if out.Model != raster.RGBA {
				t.Fatalf("expected RGBA output, got %s", out.Model)
			}
		}
	}
}

func TestCropWindowClampsVerticallyOnly(t *testing.T) {
	tall := CropWindow(10, 10, domain.CircularParams{CropWidth: 4, CropHeight: 30, ZoomFactor: 1})
	if want := (image.Rectangle{Min: image.Pt(3, 0), Max: image.Pt(7, 10)}); tall != want {
		t.Fatalf("expected %v, got %v", want, tall)
	}

	wide := CropWindow(10, 10, domain.CircularParams{CropWidth: 30, CropHeight: 4, ZoomFactor: 1})
	if want := (image.Rectangle{Min: image.Pt(-10, 3), Max: image.Pt(20, 7)}); wide != want {
		t.Fatalf("expected %v, got %v", want, wide)
	}

	shifted := CropWindow(10, 100, domain.CircularParams{CropWidth: 10, CropHeight: 20, ZoomFactor: 1, YShift: -30})
	if want := (image.Rectangle{Min: image.Pt(0, 10), Max: image.Pt(10, 30)}); shifted != want {
		t.Fatalf("expected %v, got %v", want, shifted)
	}
}

func TestCircularCropPadsHorizontallyWithTransparency(t *testing.T) {
	src := solid(t, 10, 10, 0, 0, 255, 255)
	p := domain.CircularParams{CropWidth: 20, CropHeight: 10, ZoomFactor: 1, YShift: 0}

	out, err := CircularCrop(src, p, LanczosResampler{})
	if err != nil {
		t.Fatalf("circular crop: %v", err)
	}

	alphaAt := func(x, y int) uint8 { return out.Pix[(y*out.Width+x)*4+3] }
	if a := alphaAt(0, 5); a != 0 {
		t.Fatalf("expected padded left edge to be transparent, got alpha %d", a)
	}
	if a := alphaAt(10, 5); a != 255 {
		t.Fatalf("expected center to be opaque, got alpha %d", a)
	}
	if a := alphaAt(10, 0); a == 0 {
		t.Fatal("expected top center inside the ellipse to carry source pixels")
	}
}

func TestEllipseMask(t *testing.T) {
	mask := ellipseMask(20, 10)
	if mask.AlphaAt(0, 0).A != 0 || mask.AlphaAt(19, 9).A != 0 {
		t.Fatal("expected corners outside the ellipse")
	}
	if mask.AlphaAt(10, 5).A != 255 {
		t.Fatal("expected center inside the ellipse")
	}
	if mask.AlphaAt(0, 5).A != 255 || mask.AlphaAt(10, 0).A != 255 {
		t.Fatal("expected the ellipse to span the full bounds")
	}
}

func TestCircularCropRejectsInvalidParams(t *testing.T) {
	src := solid(t, 4, 4, 0, 0, 0, 255)
	_, err := CircularCrop(src, domain.CircularParams{CropWidth: 4, CropHeight: 4, ZoomFactor: 0}, nil)
	if !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestCircularCropRejectsOversizedOutput(t *testing.T) {
	src := solid(t, 4, 4, 0, 0, 0, 255)

	_, err := CircularCrop(src, domain.CircularParams{CropWidth: 1 << 40, CropHeight: 2, ZoomFactor: 0.5}, nil)
	if !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for oversized crop, got %v", err)
	}
	_, err = CircularCrop(src, domain.CircularParams{CropWidth: 1000, CropHeight: 1000, ZoomFactor: 1e6}, nil)
	if !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for oversized zoom, got %v", err)
	}
}

func TestLibraryAppliesItsPixelLimit(t *testing.T) {
	src := solid(t, 4, 4, 0, 0, 0, 255)
	req := domain.CircularRequest(domain.CircularParams{CropWidth: 20, CropHeight: 20, ZoomFactor: 0.5})

	if _, err := NewLibrary(LanczosResampler{}, 399).Apply(src, req); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter under a 399 pixel limit, got %v", err)
	}
	out, err := NewLibrary(LanczosResampler{}, 400).Apply(src, req)
	if err != nil {
		t.Fatalf("expected 20x20 to fit a 400 pixel limit: %v", err)
	}
	if out.Width != 20 || out.Height != 20 {
		t.Fatalf("expected 20x20, got %dx%d", out.Width, out.Height)
	}
}

func TestOpaqueRGBAAndRGBSourcesTransformAlike(t *testing.T) {
	rgb := gradientRGB(t, 12, 9)
	rgba := rgb.ToRGBA()
	lib := NewLibrary(LanczosResampler{}, 0)

	for _, req := range domain.AllRequests(0.4) {
		a, err := lib.Apply(rgb, req)
		if err != nil {
			t.Fatalf("%s on rgb: %v", req.Variant, err)
		}
		b, err := lib.Apply(rgba, req)
		if err != nil {
			t.Fatalf("%s on rgba: %v", req.Variant, err)
		}
		if a.Model != b.Model || !bytes.Equal(a.Pix, b.Pix) {
			t.Fatalf("%s: expected identical output for RGB and opaque RGBA sources", req.Variant)
		}
	}
}

func solid(t *testing.T, w, h int, r, g, b, a uint8) *raster.Image {
	t.Helper()
	img, err := raster.New(w, h, raster.RGBA)
	if err != nil {
		t.Fatalf("new raster: %v", err)
	}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, a
	}
	return img
}

func gradientRGB(t *testing.T, w, h int) *raster.Image {
	t.Helper()
	img, err := raster.New(w, h, raster.RGB)
	if err != nil {
		t.Fatalf("new raster: %v", err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			img.Pix[i] = uint8((x * 255) / w)
			img.Pix[i+1] = uint8((y * 255) / h)
			img.Pix[i+2] = 140
		}
	}
	return img
}
