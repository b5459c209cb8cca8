package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/pipeline"
)

const multipartMemory = 32 << 20

var errUploadTooLarge = errors.New("upload too large")

func (s *Server) handleOpacity(w http.ResponseWriter, r *http.Request) {
	factor, err := s.opacityParam(r.URL.Query())
	s.serveVariant(w, r, domain.OpacityRequest(factor), err)
}

func (s *Server) handleGrayscale(w http.ResponseWriter, r *http.Request) {
	s.serveVariant(w, r, domain.GrayscaleRequest(), nil)
}

func (s *Server) handleCircular(w http.ResponseWriter, r *http.Request) {
	params, err := s.circularParams(r.URL.Query())
	s.serveVariant(w, r, domain.CircularRequest(params), err)
}

func (s *Server) serveVariant(w http.ResponseWriter, r *http.Request, req domain.TransformRequest, paramErr error) {
	if paramErr != nil {
		writeError(w, http.StatusBadRequest, paramErr.Error())
		return
	}

	items, err := s.readUploads(w, r, "file")
	if err != nil {
		s.writeUploadError(w, err)
		return
	}
	item := items[0]

	outcomes, err := s.process(r.Context(), item.Data, req)
	if err == nil {
		err = pipeline.FirstFailure(outcomes)
	}
	if err != nil {
		s.writeProcessingError(w, "Image processing failed", err)
		return
	}

	out := outcomes[0]
	w.Header().Set("Content-Type", out.MIME)
	w.Header().Set("Content-Disposition", attachment(req.Variant.Prefix()+item.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	factor, err := s.opacityParam(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := s.readUploads(w, r, "file")
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	outcomes, err := s.process(r.Context(), items[0].Data, domain.AllRequests(factor)...)
	if err != nil {
		s.writeProcessingError(w, "Image processing failed", err)
		return
	}
	manifest, err := pipeline.Manifest(outcomes)
	if err != nil {
		s.writeProcessingError(w, "Image processing failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "All variants processed successfully",
		"variants": manifest,
		"note":     "Use individual endpoints to download specific variants",
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	set, err := domain.ParseVariantSet(r.PathValue("variant"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	q := r.URL.Query()
	factor := s.defaultOpacity
	circular := domain.DefaultCircularParams
	if set.All || set.Variants[0] == domain.VariantOpacity {
		if factor, err = s.opacityParam(q); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if !set.All && set.Variants[0] == domain.VariantCircular {
		if circular, err = s.circularParams(q); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	items, err := s.readUploads(w, r, "files")
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	release, err := s.acquire(r.Context())
	if err != nil {
		s.writeProcessingError(w, "Batch processing failed", err)
		return
	}
	startedAt := time.Now()
	result, err := s.processor.ProcessBatch(r.Context(), items, set, domain.RequestsFor(set, factor, circular))
	release()
	s.metrics.transformDuration.WithLabelValues("batch_"+set.String()).Observe(time.Since(startedAt).Seconds())
	s.metrics.batchesTotal.WithLabelValues(set.String(), string(result.State)).Inc()
	if err != nil {
		s.logger.Printf("batch failed variant=%s items=%d err=%v", set, len(items), err)
		s.writeProcessingError(w, "Batch processing failed", err)
		return
	}

	w.Header().Set("Content-Type", pipeline.ArchiveMIMEType)
	w.Header().Set("Content-Disposition", attachment(result.ArchiveName))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Archive)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Archive)
}

// process runs the requests on one upload while holding a transform slot.
func (s *Server) process(ctx context.Context, data []byte, reqs ...domain.TransformRequest) ([]pipeline.Outcome, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	startedAt := time.Now()
	outcomes, err := s.processor.Process(ctx, data, reqs...)
	label := string(reqs[0].Variant)
	if len(reqs) > 1 {
		label = domain.VariantSetAll
	}
	s.metrics.transformDuration.WithLabelValues(label).Observe(time.Since(startedAt).Seconds())
	return outcomes, err
}

// acquire blocks until a transform slot is free or ctx ends.
func (s *Server) acquire(ctx context.Context) (func(), error) {
	waitStart := time.Now()
	select {
	case s.pool <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.metrics.slotWait.Observe(time.Since(waitStart).Seconds())
	s.metrics.activeTransforms.Inc()
	return func() {
		<-s.pool
		s.metrics.activeTransforms.Dec()
	}, nil
}

// readUploads reads every file under field in the order the client sent them.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request, field string) ([]pipeline.BatchItem, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit is %d bytes", errUploadTooLarge, tooLarge.Limit)
		}
		return nil, &domain.ParameterError{Message: "invalid multipart body: " + err.Error()}
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		if field == "files" {
			return nil, pipeline.ErrEmptyBatch
		}
		return nil, &domain.ParameterError{Message: field + " is required"}
	}

	items := make([]pipeline.BatchItem, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %q: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %q: %w", fh.Filename, err)
		}
		items = append(items, pipeline.BatchItem{Name: uploadName(fh.Filename), Data: data})
	}
	return items, nil
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUploadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, domain.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Printf("upload read failed err=%v", err)
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// writeProcessingError maps a processing failure to a status. Decode,
// transform and encode failures are all reported as 500 with the cause.
func (s *Server) writeProcessingError(w http.ResponseWriter, prefix string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidParameter) && !errors.Is(err, pipeline.ErrBatchAborted):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled before processing finished")
	default:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", prefix, err))
	}
}

func uploadName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "image"
	}
	return name
}

func attachment(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}
