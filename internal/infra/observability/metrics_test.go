package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/infra/observability"

	"go.uber.org/zap"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrRun("success")
	m.IncrRun("success")
	m.IncrRun("failed")
	m.IncrMatch(domain.MatchCode)
	m.IncrMatch(domain.MatchCode)
	m.IncrMatch(domain.MatchNone)
	m.IncrExternalError("vision")
	m.IncrCacheHit("extraction")
	m.IncrCacheMiss("extraction")
	m.IncrCacheMiss("extraction")
	m.IncrCacheMiss("extraction")

	s := m.Snapshot()
	if s.RunsSucceeded != 2 || s.RunsFailed != 1 {
		t.Errorf("unexpected run counts: %+v", s)
	}
	if s.MatchesByMethod["CODE"] != 2 || s.MatchesByMethod["NONE"] != 1 {
		t.Errorf("unexpected matches: %v", s.MatchesByMethod)
	}
	if s.ExternalErrors["vision"] != 1 {
		t.Errorf("expected 1 vision error, got %d", s.ExternalErrors["vision"])
	}
	if s.CacheHitRate != 0.25 {
		t.Errorf("expected hit rate 0.25, got %f", s.CacheHitRate)
	}
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := observability.InitTracer("", "test")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

func TestZapLoggerMiddleware_PassesThrough(t *testing.T) {
	h := observability.ZapLoggerMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}
}
