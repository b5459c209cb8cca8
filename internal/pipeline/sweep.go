package pipeline

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/raster"
)

// sweepDirs maps each variant to its output directory under the sweep prefix.
var sweepDirs = map[domain.Variant]string{
	domain.VariantGrayscale: "bw",
	domain.VariantOpacity:   "opacity",
	domain.VariantCircular:  "profile_pic",
}

var sweepExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
}

type SweepConfig struct {
	SourcePrefix string
	OutputPrefix string
	Opacity      float64
}

type SweepResult struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Sweeper finds sources that have no variants yet and writes all three
// variants for each. Unlike a batch, one bad source does not stop the sweep.
type Sweeper struct {
	processor *Processor
	source    Source
	sink      Sink
	cfg       SweepConfig
	logger    *log.Logger
}

func NewSweeper(processor *Processor, source Source, sink Sink, cfg SweepConfig, logger *log.Logger) (*Sweeper, error) {
	if processor == nil || source == nil || sink == nil {
		return nil, fmt.Errorf("sweeper requires a processor, source and sink")
	}
	if err := domain.ValidateOpacity(cfg.Opacity); err != nil {
		return nil, err
	}
	if strings.Trim(cfg.OutputPrefix, "/ ") == "" {
		cfg.OutputPrefix = "variants"
	}
	return &Sweeper{processor: processor, source: source, sink: sink, cfg: cfg, logger: logger}, nil
}

// VariantKey is where the sweep writes variant v of the source at rel, a key
// relative to the source prefix.
func (s *Sweeper) VariantKey(v domain.Variant, rel string) string {
	return path.Join(strings.Trim(s.cfg.OutputPrefix, "/"), sweepDirs[v], rel)
}

func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	keys, err := s.source.List(ctx, s.cfg.SourcePrefix)
	if err != nil {
		return result, fmt.Errorf("list sources: %w", err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rel, ok := relativeKey(s.cfg.SourcePrefix, key)
		if !ok || !sweepExtensions[strings.ToLower(path.Ext(key))] {
			continue
		}
		if _, output := relativeKey(s.cfg.OutputPrefix, key); output {
			continue
		}
		result.Found++

		done, err := s.sink.Exists(ctx, s.VariantKey(domain.VariantCircular, rel))
		if err != nil {
			return result, fmt.Errorf("check variants for %s: %w", key, err)
		}
		if done {
			result.Skipped++
			continue
		}

		if err := s.processOne(ctx, key, rel); err != nil {
			result.Failed++
			s.logf("sweep item failed key=%s err=%v", key, err)
			continue
		}
		result.Processed++
		s.logf("sweep processed key=%s", key)
	}

	return result, nil
}

// relativeKey strips the directory prefix from key. Keys that only share a
// name with the prefix, like images_old/a.png under images, are not under it.
func relativeKey(prefix, key string) (string, bool) {
	prefix = strings.Trim(prefix, "/ ")
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key, key != ""
	}
	rel, ok := strings.CutPrefix(key, prefix+"/")
	return rel, ok && rel != ""
}

func (s *Sweeper) processOne(ctx context.Context, key, rel string) error {
	data, err := s.source.Fetch(ctx, key)
	if err != nil {
		return err
	}

	outcomes, err := s.processor.Process(ctx, data, domain.AllRequests(s.cfg.Opacity)...)
	if err != nil {
		return err
	}
	if err := FirstFailure(outcomes); err != nil {
		return err
	}

	// profile_pic is written last: its presence marks the source as done.
	for _, v := range []domain.Variant{domain.VariantGrayscale, domain.VariantOpacity, domain.VariantCircular} {
		for _, o := range outcomes {
			if o.Variant != v {
				continue
			}
			if err := s.sink.Write(ctx, s.VariantKey(v, rel), o.Data, raster.MIMEType); err != nil {
				return fmt.Errorf("write %s variant: %w", v, err)
			}
		}
	}
	return nil
}

func (s *Sweeper) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
