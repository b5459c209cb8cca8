package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/raster"
	"github.com/dunamismax/pixelvariant/internal/transform"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrNoRequests = errors.New("at least one transform request is required")

// Outcome is the result of one request: either encoded bytes or a failure,
// never both.
type Outcome struct {
	Variant domain.Variant
	Data    []byte
	MIME    string
	Width   int
	Height  int
	Err     error
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Processor runs transform requests against decoded sources. It keeps no
// per-call state and is safe for concurrent use.
type Processor struct {
	transformer Transformer
	maxPixels   int64
	tracer      trace.Tracer
}

type ProcessorOption func(*Processor)

// WithMaxPixels bounds decoded inputs and circular-crop outputs. Values that
// are not positive keep raster.DefaultMaxPixels.
func WithMaxPixels(n int64) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxPixels = n
		}
	}
}

// NewProcessor uses the transform library when transformer is nil.
func NewProcessor(transformer Transformer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		transformer: transformer,
		maxPixels:   raster.DefaultMaxPixels,
		tracer:      otel.Tracer("pixelvariant/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.transformer == nil {
		p.transformer = transform.NewLibrary(nil, p.maxPixels)
	}
	return p
}

// MaxPixels is the pixel limit applied to inputs and circular crops.
func (p *Processor) MaxPixels() int64 {
	return p.maxPixels
}

// Process validates every request, decodes data once and applies each request
// to the same decoded source. Validation and decode failures are returned as
// the error; transform and encode failures are reported per outcome.
func (p *Processor) Process(ctx context.Context, data []byte, reqs ...domain.TransformRequest) ([]Outcome, error) {
	if len(reqs) == 0 {
		return nil, ErrNoRequests
	}
	for _, req := range reqs {
		if err := req.ValidateWithin(p.maxPixels); err != nil {
			return nil, err
		}
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	span.SetAttributes(
		attribute.Int("image.input_bytes", len(data)),
		attribute.Int("image.requests", len(reqs)),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := raster.DecodeWithin(data, p.maxPixels)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("image.width", src.Width),
		attribute.Int("image.height", src.Height),
		attribute.String("image.color_model", src.Model.String()),
	)

	return p.apply(src, reqs), nil
}

func (p *Processor) apply(src *raster.Image, reqs []domain.TransformRequest) []Outcome {
	outcomes := make([]Outcome, 0, len(reqs))
	for _, req := range reqs {
		outcomes = append(outcomes, p.applyOne(src, req))
	}
	return outcomes
}

func (p *Processor) applyOne(src *raster.Image, req domain.TransformRequest) Outcome {
	out, err := p.transformer.Apply(src, req)
	if err != nil {
		return Outcome{Variant: req.Variant, Err: fmt.Errorf("transform %s: %w", req.Variant, err)}
	}

	data, err := raster.Encode(out)
	if err != nil {
		return Outcome{Variant: req.Variant, Err: fmt.Errorf("encode %s: %w", req.Variant, err)}
	}

	return Outcome{
		Variant: req.Variant,
		Data:    data,
		MIME:    raster.MIMEType,
		Width:   out.Width,
		Height:  out.Height,
	}
}

// FirstFailure returns the first failed outcome's error, if any.
func FirstFailure(outcomes []Outcome) error {
	for _, o := range outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}

type VariantSummary struct {
	Size   int    `json:"size"`
	Format string `json:"format"`
}

// Manifest summarises encoded outcomes by variant without the image bytes.
func Manifest(outcomes []Outcome) (map[domain.Variant]VariantSummary, error) {
	if err := FirstFailure(outcomes); err != nil {
		return nil, err
	}
	manifest := make(map[domain.Variant]VariantSummary, len(outcomes))
	for _, o := range outcomes {
		manifest[o.Variant] = VariantSummary{Size: len(o.Data), Format: "PNG"}
	}
	return manifest, nil
}
