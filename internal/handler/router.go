package handler

import (
	"net/http"
	"os"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/infra/observability"
	"github.com/boddenberg/boleto-reconciler/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// ArchiveStore serves stored archives back. Only local storage implements it.
type ArchiveStore interface {
	Open(name string) (*os.File, error)
}

// Options tunes the HTTP surface.
type Options struct {
	// MaxUploadBytes caps a reconciliation request body.
	MaxUploadBytes int64
	// JWTSecret enables bearer auth on /v1 when not empty.
	JWTSecret string
}

// NewRouter creates the HTTP router with all routes and middleware.
// archives may be nil when archives live in a bucket.
func NewRouter(rc *service.Reconciler, archives ArchiveStore, opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(rc))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if opts.JWTSecret != "" {
			r.Use(JWTAuthMiddleware([]byte(opts.JWTSecret), logger))
		}

		r.Post("/reconciliations", reconcileHandler(rc, opts.MaxUploadBytes, logger))
		r.Get("/reconciliations/stats", statsHandler(metrics))
		r.Get("/archives/{name}", archiveHandler(archives, logger))
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(rc *service.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		if rc == nil {
			writeJSON(w, http.StatusOK, domain.HealthStatus{
				Status:   "unhealthy",
				Services: []domain.ServiceHealth{{Name: "reconciler", Status: "unhealthy", Detail: "not configured", LastChecked: now}},
			})
			return
		}

		enabled := map[domain.ExtractionMethod]bool{}
		for _, m := range rc.Capabilities() {
			enabled[m] = true
		}

		services := []domain.ServiceHealth{{Name: "reconciler", Status: "healthy", LastChecked: now}}
		for _, m := range []domain.ExtractionMethod{
			domain.ExtractionEmbeddedText, domain.ExtractionOCR, domain.ExtractionVisionAI, domain.ExtractionFilename,
		} {
			s := domain.ServiceHealth{Name: string(m), Status: "healthy", LastChecked: now}
			if !enabled[m] {
				s.Status = "degraded"
				s.Detail = "disabled"
			}
			services = append(services, s)
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overallStatus, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func statsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
