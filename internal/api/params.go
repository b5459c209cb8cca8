package api

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelvariant/internal/domain"
)

// Query parameters are parsed and validated before the upload is read, so a
// bad parameter is reported as 400 even when the file is also bad.

func (s *Server) opacityParam(q url.Values) (float64, error) {
	raw := strings.TrimSpace(q.Get("opacity"))
	if raw == "" {
		return s.defaultOpacity, nil
	}
	factor, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &domain.ParameterError{Message: "opacity must be a number"}
	}
	if err := domain.ValidateOpacity(factor); err != nil {
		return 0, err
	}
	return factor, nil
}

func (s *Server) circularParams(q url.Values) (domain.CircularParams, error) {
	p := domain.DefaultCircularParams

	ints := []struct {
		name string
		into *int
	}{
		{"crop_width", &p.CropWidth},
		{"crop_height", &p.CropHeight},
		{"y_shift", &p.YShift},
	}
	for _, field := range ints {
		raw := strings.TrimSpace(q.Get(field.name))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return p, &domain.ParameterError{Message: field.name + " must be an integer"}
		}
		*field.into = v
	}

	if raw := strings.TrimSpace(q.Get("zoom_factor")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return p, &domain.ParameterError{Message: "zoom_factor must be a number"}
		}
		p.ZoomFactor = v
	}

	if err := p.ValidateWithin(s.maxPixels); err != nil {
		return p, err
	}
	return p, nil
}
