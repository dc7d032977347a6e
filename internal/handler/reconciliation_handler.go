package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// multipartMemory is how much of a form is kept in memory; the rest spills
// to temporary files.
const multipartMemory = 32 << 20

// ============================================================
// POST /v1/reconciliations
// ============================================================

// reconcileHandler accepts a "proofs" file and one or more "charges" files
// and streams the run's progress as NDJSON, one event per line.
func reconcileHandler(rc *service.Reconciler, maxUpload int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/reconciliations")
		defer span.End()

		if rc == nil {
			writeError(w, http.StatusServiceUnavailable, "reconciler not configured")
			return
		}

		if r.ContentLength > maxUpload {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		defer r.MultipartForm.RemoveAll()

		proofs := r.MultipartForm.File["proofs"]
		if len(proofs) != 1 {
			writeError(w, http.StatusBadRequest, "exactly one proofs file is required")
			return
		}
		bundle, err := readPart(proofs[0])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		headers := r.MultipartForm.File["charges"]
		if len(headers) == 0 {
			writeError(w, http.StatusBadRequest, "at least one charges file is required")
			return
		}
		charges := make([]domain.NamedDocument, 0, len(headers))
		for _, fh := range headers {
			data, err := readPart(fh)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			charges = append(charges, domain.NamedDocument{Name: fh.Filename, Bytes: data})
		}

		tenant := TenantFromContext(ctx)
		span.SetAttributes(
			attribute.Int("charges.count", len(charges)),
			attribute.String("tenant", tenant),
		)

		stream := newEventStream(w, logger)
		summary, err := rc.Run(ctx, service.RunInput{
			Charges:     charges,
			ProofBundle: bundle,
			Tenant:      tenant,
		}, stream.emit)
		if err != nil {
			// Once the stream is open the failure travels as events.
			if !stream.started() {
				handleServiceError(w, err, logger)
			}
			return
		}
		span.SetAttributes(attribute.String("run.id", summary.RunID))
	}
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("cannot read %q: %w", fh.Filename, err)
	}
	return data, nil
}

// eventStream writes events as NDJSON and flushes after each one. The
// status line is sent with the first event, so input errors detected before
// it still get a proper HTTP status.
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	enc     *json.Encoder
	flusher http.Flusher
	open    bool
	logger  *zap.Logger
}

func newEventStream(w http.ResponseWriter, logger *zap.Logger) *eventStream {
	flusher, _ := w.(http.Flusher)
	return &eventStream{w: w, enc: json.NewEncoder(w), flusher: flusher, logger: logger}
}

func (s *eventStream) emit(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		h := s.w.Header()
		h.Set("Content-Type", "application/x-ndjson")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Content-Type-Options", "nosniff")
		s.w.WriteHeader(http.StatusOK)
		s.open = true
	}
	if err := s.enc.Encode(e); err != nil {
		s.logger.Debug("event stream write failed", zap.Error(err))
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *eventStream) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}
