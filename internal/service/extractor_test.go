package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/infra/observability"
	"github.com/boddenberg/boleto-reconciler/internal/port"
	"github.com/boddenberg/boleto-reconciler/internal/service"

	"go.uber.org/zap"
)

type panickyStrategy struct{}

func (panickyStrategy) Name() domain.ExtractionMethod { return domain.ExtractionOCR }

func (panickyStrategy) Extract(context.Context, service.ExtractionInput) (domain.ExtractedFields, error) {
	panic("tesseract: nil image")
}

func TestStrategySet_Order(t *testing.T) {
	set := service.StrategySet{
		Text:     &mockText{},
		Raster:   &mockRaster{},
		OCR:      &mockOCR{},
		Vision:   &mockVision{},
		Filename: true,
	}
	got := service.NewFieldExtractor(set.Build(), nil, observability.NewMetrics(), zap.NewNop()).Strategies()
	want := []domain.ExtractionMethod{
		domain.ExtractionEmbeddedText, domain.ExtractionOCR, domain.ExtractionVisionAI, domain.ExtractionFilename,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	set.Raster = nil
	if n := len(set.Build()); n != 2 {
		t.Errorf("without a rasterizer OCR and vision are off, got %d strategies", n)
	}
}

func TestExtract_EmbeddedTextWins(t *testing.T) {
	h := newHarness()
	doc := []byte("%PDF-1.4 charge")
	h.text.texts[string(doc)] = "Valor do documento R$ 402,00"

	f := h.extractor().Extract(context.Background(), doc, "", "agua_10,00.pdf")

	if f.Method != domain.ExtractionEmbeddedText || f.Amount.StringFixed(2) != "402.00" {
		t.Errorf("expected embedded text 402.00, got %s %s", f.Method, f.Amount)
	}
	if h.ocr.calls != 0 || h.vision.calls != 0 {
		t.Error("later strategies must not run once one has signal")
	}
}

func TestExtract_FallsThroughToOCR(t *testing.T) {
	h := newHarness()
	doc := []byte("%PDF-1.4 scanned")
	h.ocr.texts[string(doc)] = "VALOR COBRADO 1.050,00"

	f := h.extractor().Extract(context.Background(), doc, domain.KindPDF, "scan.pdf")

	if f.Method != domain.ExtractionOCR || f.Amount.StringFixed(2) != "1050.00" {
		t.Errorf("expected OCR 1050.00, got %s %s", f.Method, f.Amount)
	}
}

func TestExtract_ErrorsAreAbstention(t *testing.T) {
	h := newHarness()
	h.text.err = errors.New("pdftotext: broken stream")
	h.ocr.err = errors.New("tesseract: missing language data")
	h.vision.err = &domain.ErrExternalService{Service: "vision", Err: errors.New("503")}

	f := h.extractor().Extract(context.Background(), []byte("%PDF-1.4 x"), domain.KindPDF, "luz_89,90.pdf")

	if f.Method != domain.ExtractionFilename || f.Amount.StringFixed(2) != "89.90" {
		t.Errorf("expected filename fallback 89.90, got %s %s", f.Method, f.Amount)
	}
}

func TestExtract_PanicIsAbstention(t *testing.T) {
	e := service.NewFieldExtractor(
		[]service.ExtractionStrategy{panickyStrategy{}, service.FilenameStrategy{}},
		nil, observability.NewMetrics(), zap.NewNop(),
	)

	f := e.Extract(context.Background(), []byte("%PDF-1.4"), domain.KindPDF, "x_5,00.pdf")

	if f.Method != domain.ExtractionFilename {
		t.Errorf("expected filename after a panicking strategy, got %s", f.Method)
	}
}

func TestExtract_NothingFound(t *testing.T) {
	h := newHarness()
	f := h.extractor().Extract(context.Background(), []byte("%PDF-1.4 blank"), domain.KindPDF, "blank.pdf")

	if f.Method != domain.ExtractionNone || f.HasSignal() {
		t.Errorf("expected NONE without signal, got %+v", f)
	}
}

func TestExtract_VisionMapsAnswer(t *testing.T) {
	h := newHarness()
	doc := []byte("%PDF-1.4 photo")
	h.vision.fields[string(doc)] = &port.VisionFields{
		Code:        "23790.12345 60000.000003",
		Amount:      "R$ 77,10",
		Date:        "10/03/2025",
		Beneficiary: "Prefeitura Municipal Ltda",
	}

	f := h.extractor().Extract(context.Background(), doc, domain.KindPDF, "foto.pdf")

	if f.Method != domain.ExtractionVisionAI {
		t.Fatalf("expected vision, got %s", f.Method)
	}
	if f.ReferenceCode != "237901234560000000003" {
		t.Errorf("unexpected code %q", f.ReferenceCode)
	}
	if f.Amount.StringFixed(2) != "77.10" || f.Date == nil || f.Date.Day() != 10 {
		t.Errorf("unexpected amount/date %s %v", f.Amount, f.Date)
	}
	if f.CounterpartyName != "PREFEITURA MUNICIPAL" {
		t.Errorf("unexpected name %q", f.CounterpartyName)
	}
}

func TestExtract_CachesByContent(t *testing.T) {
	h := newHarness()
	doc := []byte("%PDF-1.4 cached")
	h.text.texts[string(doc)] = "Total R$ 12,00"

	c := newExtractionCache()
	defer c.Close()
	set := service.StrategySet{Text: h.text, Filename: true, CodeMinLength: 20}
	e := service.NewFieldExtractor(set.Build(), c, observability.NewMetrics(), zap.NewNop())

	first := e.Extract(context.Background(), doc, domain.KindPDF, "a.pdf")
	second := e.Extract(context.Background(), doc, domain.KindPDF, "a.pdf")

	if h.text.calls != 1 {
		t.Errorf("expected one text extraction, got %d", h.text.calls)
	}
	if !first.Amount.Equal(second.Amount) || first.Method != second.Method {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}

	e.Extract(context.Background(), doc, domain.KindPDF, "b.pdf")
	if h.text.calls != 2 {
		t.Errorf("a different file name is a different key, got %d calls", h.text.calls)
	}
}

func TestExtract_DegradedResultNotCached(t *testing.T) {
	h := newHarness()
	h.text.err = errors.New("pdftotext: timeout")

	c := newExtractionCache()
	defer c.Close()
	set := service.StrategySet{Text: h.text, Filename: true, CodeMinLength: 20}
	e := service.NewFieldExtractor(set.Build(), c, observability.NewMetrics(), zap.NewNop())

	e.Extract(context.Background(), []byte("%PDF-1.4 d"), domain.KindPDF, "d_3,00.pdf")

	if c.Len() != 0 {
		t.Errorf("expected nothing cached after a strategy error, got %d", c.Len())
	}
}
