package service_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/infra/cache"
	"github.com/boddenberg/boleto-reconciler/internal/infra/observability"
	"github.com/boddenberg/boleto-reconciler/internal/port"
	"github.com/boddenberg/boleto-reconciler/internal/service"

	"go.uber.org/zap"
)

// --- Mocks ---

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

type mockText struct {
	mu    sync.Mutex
	texts map[string]string
	err   error
	calls int
}

func (m *mockText) ExtractText(_ context.Context, doc []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.texts[string(doc)], nil
}

// mockRaster "renders" a document as the PNG magic followed by its bytes.
type mockRaster struct {
	err error
}

func (m *mockRaster) Rasterize(_ context.Context, doc []byte) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	if bytes.HasPrefix(doc, pngMagic) {
		return doc, nil
	}
	return append(append([]byte{}, pngMagic...), doc...), nil
}

type mockOCR struct {
	texts map[string]string
	err   error
	calls int
}

func (m *mockOCR) Recognize(_ context.Context, image []byte) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.texts[string(bytes.TrimPrefix(image, pngMagic))], nil
}

type mockVision struct {
	mu        sync.Mutex
	fields    map[string]*port.VisionFields
	err       error
	choice    int
	chooseErr error
	calls     int
	chooses   int
}

func (m *mockVision) ExtractFields(_ context.Context, image []byte, _ string) (*port.VisionFields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if f, ok := m.fields[string(bytes.TrimPrefix(image, pngMagic))]; ok {
		return f, nil
	}
	return &port.VisionFields{}, nil
}

func (m *mockVision) ChooseProof(_ context.Context, _ []byte, _ [][]byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chooses++
	return m.choice, m.chooseErr
}

type mockSplitter struct {
	pages [][]byte
	err   error
}

func (m *mockSplitter) Split(_ context.Context, _ []byte) ([][]byte, error) {
	return m.pages, m.err
}

// mockMerger joins documents with "|" and can fail for one charge.
type mockMerger struct {
	failFor string
}

func (m *mockMerger) Merge(_ context.Context, docs ...[]byte) ([]byte, error) {
	if m.failFor != "" && string(docs[0]) == m.failFor {
		return nil, errors.New("pdfunite: damaged xref")
	}
	return bytes.Join(docs, []byte("|")), nil
}

type mockSink struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (m *mockSink) Put(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.puts == nil {
		m.puts = make(map[string][]byte)
	}
	m.puts[name] = data
	return "mem://" + name, nil
}

type mockReport struct{}

func (mockReport) Render(records []domain.MatchRecord) ([]byte, error) {
	return []byte("report"), nil
}

func (mockReport) Extension() string { return ".xlsx" }

// --- Harness ---

type harness struct {
	text     *mockText
	raster   *mockRaster
	ocr      *mockOCR
	vision   *mockVision
	splitter *mockSplitter
	merger   *mockMerger
	sink     *mockSink
	report   port.ReportWriter
	workers  int
	noVision bool
}

func newHarness() *harness {
	return &harness{
		text:     &mockText{texts: map[string]string{}},
		raster:   &mockRaster{},
		ocr:      &mockOCR{texts: map[string]string{}},
		vision:   &mockVision{fields: map[string]*port.VisionFields{}},
		splitter: &mockSplitter{},
		merger:   &mockMerger{},
		sink:     &mockSink{},
		workers:  1,
	}
}

func (h *harness) extractor() *service.FieldExtractor {
	set := service.StrategySet{
		Text:          h.text,
		Raster:        h.raster,
		OCR:           h.ocr,
		Filename:      true,
		CodeMinLength: 20,
	}
	if !h.noVision {
		set.Vision = h.vision
	}
	return service.NewFieldExtractor(set.Build(), nil, observability.NewMetrics(), zap.NewNop())
}

func (h *harness) engine() *service.MatchingEngine {
	var vision port.VisionDisambiguator
	if !h.noVision {
		vision = h.vision
	}
	d := service.NewDisambiguator(h.raster, vision, zap.NewNop())
	return service.NewMatchingEngine(service.DefaultMatchingConfig(), d, observability.NewMetrics(), zap.NewNop())
}

func (h *harness) reconciler() *service.Reconciler {
	return service.NewReconciler(
		h.splitter,
		h.merger,
		h.extractor(),
		h.engine(),
		h.sink,
		h.report,
		service.ReconcilerConfig{IndexWorkers: h.workers},
		observability.NewMetrics(),
		zap.NewNop(),
	)
}

// page registers a proof page whose embedded text is text.
func (h *harness) page(id, text string) []byte {
	doc := []byte("%PDF-1.4 " + id)
	h.text.texts[string(doc)] = text
	h.splitter.pages = append(h.splitter.pages, doc)
	return doc
}

// charge builds a charge document whose embedded text is text.
func (h *harness) charge(name, text string) domain.NamedDocument {
	doc := []byte("%PDF-1.4 " + name)
	h.text.texts[string(doc)] = text
	return domain.NamedDocument{Name: name, Bytes: doc}
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) emit(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) logs() []string {
	var out []string
	for _, e := range r.ofType(domain.EventLog) {
		out = append(out, e.(domain.LogEvent).Message)
	}
	return out
}

func run(t *testing.T, h *harness, charges ...domain.NamedDocument) (*domain.RunSummary, *recorder) {
	t.Helper()
	rec := &recorder{}
	summary, err := h.reconciler().Run(context.Background(), service.RunInput{
		Charges:     charges,
		ProofBundle: []byte("%PDF-1.4 bundle"),
	}, rec.emit)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return summary, rec
}

func newExtractionCache() *cache.InMemory[domain.ExtractedFields] {
	return cache.New[domain.ExtractedFields](time.Minute)
}
