package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelvariant/internal/raster"
)

var ErrInvalidParameter = errors.New("invalid parameter")

// ParameterError reports a caller-supplied value outside its domain. Its
// message is meant to be returned to the caller as is.
type ParameterError struct {
	Message string
}

func (e *ParameterError) Error() string {
	return e.Message
}

func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

func invalidParameter(format string, args ...any) error {
	return &ParameterError{Message: fmt.Sprintf(format, args...)}
}

type Variant string

const (
	VariantOpacity   Variant = "opacity"
	VariantGrayscale Variant = "grayscale"
	VariantCircular  Variant = "circular"

	VariantSetAll = "all"
)

// AllVariants is the fixed order variants are produced in.
var AllVariants = []Variant{VariantOpacity, VariantGrayscale, VariantCircular}

func (v Variant) Valid() bool {
	switch v {
	case VariantOpacity, VariantGrayscale, VariantCircular:
		return true
	default:
		return false
	}
}

// Prefix is the filename prefix used when a variant is produced on its own.
func (v Variant) Prefix() string {
	switch v {
	case VariantGrayscale:
		return "bw_"
	default:
		return string(v) + "_"
	}
}

// VariantSet is either one variant or all three.
type VariantSet struct {
	All      bool
	Variants []Variant
}

func ParseVariantSet(raw string) (VariantSet, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == VariantSetAll {
		return VariantSet{All: true, Variants: AllVariants}, nil
	}
	v := Variant(raw)
	if !v.Valid() {
		return VariantSet{}, invalidParameter("unsupported variant %q", raw)
	}
	return VariantSet{Variants: []Variant{v}}, nil
}

func (s VariantSet) String() string {
	if s.All {
		return VariantSetAll
	}
	if len(s.Variants) == 1 {
		return string(s.Variants[0])
	}
	return "none"
}

// EntryName is the archive entry for one variant of one input. Single-variant
// batches use the short prefix (bw_), the all-variants batch uses the variant
// name (grayscale_).
func (s VariantSet) EntryName(v Variant, name string) string {
	if s.All {
		return string(v) + "_" + name
	}
	return v.Prefix() + name
}

type CircularParams struct {
	CropWidth  int     `json:"crop_width"`
	CropHeight int     `json:"crop_height"`
	ZoomFactor float64 `json:"zoom_factor"`
	YShift     int     `json:"y_shift"`
}

var (
	// DefaultCircularParams frames the standalone circular endpoints.
	DefaultCircularParams = CircularParams{CropWidth: 1000, CropHeight: 2000, ZoomFactor: 0.5, YShift: -200}
	// ProfileCircularParams is the square profile-picture framing used when
	// all variants are produced together.
	ProfileCircularParams = CircularParams{CropWidth: 1000, CropHeight: 1000, ZoomFactor: 0.5, YShift: -300}
)

const DefaultOpacity = 0.5

func (p CircularParams) Validate() error {
	return p.ValidateWithin(raster.DefaultMaxPixels)
}

// ValidateWithin also bounds the crop and the zoomed intermediate to
// maxPixels, so neither can force an allocation the process cannot survive.
func (p CircularParams) ValidateWithin(maxPixels int64) error {
	if maxPixels <= 0 {
		maxPixels = raster.DefaultMaxPixels
	}
	if p.CropWidth <= 0 || p.CropHeight <= 0 {
		return invalidParameter("crop dimensions must be positive, got %dx%d", p.CropWidth, p.CropHeight)
	}
	if !(p.ZoomFactor > 0) {
		return invalidParameter("zoom_factor must be greater than 0")
	}
	if raster.CheckPixels(p.CropWidth, p.CropHeight, maxPixels) != nil {
		return invalidParameter("crop size %dx%d exceeds the %d pixel limit", p.CropWidth, p.CropHeight, maxPixels)
	}
	zoomed := float64(p.CropWidth) * p.ZoomFactor * float64(p.CropHeight) * p.ZoomFactor
	if !(zoomed <= float64(maxPixels)) {
		return invalidParameter("zoom_factor %g makes the crop exceed the %d pixel limit", p.ZoomFactor, maxPixels)
	}
	return nil
}

func ValidateOpacity(factor float64) error {
	if !(factor >= 0 && factor <= 1) {
		return invalidParameter("Opacity must be between 0 and 1")
	}
	return nil
}

// TransformRequest selects one variant and carries only the parameters that
// variant reads.
type TransformRequest struct {
	Variant  Variant
	Opacity  float64
	Circular CircularParams
}

func OpacityRequest(factor float64) TransformRequest {
	return TransformRequest{Variant: VariantOpacity, Opacity: factor}
}

func GrayscaleRequest() TransformRequest {
	return TransformRequest{Variant: VariantGrayscale}
}

func CircularRequest(params CircularParams) TransformRequest {
	return TransformRequest{Variant: VariantCircular, Circular: params}
}

// AllRequests is the all-variants union: the given opacity, grayscale, and the
// profile circular framing.
func AllRequests(opacity float64) []TransformRequest {
	return []TransformRequest{
		OpacityRequest(opacity),
		GrayscaleRequest(),
		CircularRequest(ProfileCircularParams),
	}
}

// RequestsFor builds the request list a batch applies to every item.
func RequestsFor(set VariantSet, opacity float64, circular CircularParams) []TransformRequest {
	if set.All {
		return AllRequests(opacity)
	}
	reqs := make([]TransformRequest, 0, len(set.Variants))
	for _, v := range set.Variants {
		switch v {
		case VariantOpacity:
			reqs = append(reqs, OpacityRequest(opacity))
		case VariantGrayscale:
			reqs = append(reqs, GrayscaleRequest())
		case VariantCircular:
			reqs = append(reqs, CircularRequest(circular))
		}
	}
	return reqs
}

func (r TransformRequest) Validate() error {
	return r.ValidateWithin(raster.DefaultMaxPixels)
}

func (r TransformRequest) ValidateWithin(maxPixels int64) error {
	switch r.Variant {
	case VariantOpacity:
		return ValidateOpacity(r.Opacity)
	case VariantGrayscale:
		return nil
	case VariantCircular:
		return r.Circular.ValidateWithin(maxPixels)
	default:
		return invalidParameter("unsupported variant %q", r.Variant)
	}
}
