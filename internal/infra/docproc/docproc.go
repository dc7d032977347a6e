// Package docproc adapts poppler-utils and tesseract to the document
// capability ports: text extraction, rasterization, OCR, splitting a bundle
// into pages and concatenating documents.
package docproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/infra/resilience"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("docproc")

// Config names the binaries and tuning knobs.
type Config struct {
	Pdftotext     string
	Pdftoppm      string
	Pdfseparate   string
	Pdfunite      string
	Tesseract     string
	TesseractLang string
	DPI           int
	// Img2pdf wraps a PNG/JPEG charge into a one-page PDF before merging.
	Img2pdf string
	// MaxConcurrency bounds simultaneous child processes.
	MaxConcurrency int
}

func (c Config) withDefaults() Config {
	if c.Pdftotext == "" {
		c.Pdftotext = "pdftotext"
	}
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Pdfseparate == "" {
		c.Pdfseparate = "pdfseparate"
	}
	if c.Pdfunite == "" {
		c.Pdfunite = "pdfunite"
	}
	if c.Img2pdf == "" {
		c.Img2pdf = "img2pdf"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.TesseractLang == "" {
		c.TesseractLang = "por"
	}
	if c.DPI <= 0 {
		c.DPI = 200
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	return c
}

// Toolkit implements port.TextExtractor, port.Rasterizer, port.OCR,
// port.DocumentSplitter and port.DocumentMerger.
type Toolkit struct {
	cfg        Config
	runner     Runner
	bulkhead   *resilience.Bulkhead
	ocrLimiter *resilience.Limiter
	logger     *zap.Logger
}

// New creates a Toolkit. A nil runner executes real binaries.
func New(cfg Config, runner Runner, ocrLimiter *resilience.Limiter, logger *zap.Logger) *Toolkit {
	cfg = cfg.withDefaults()
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Toolkit{
		cfg:        cfg,
		runner:     runner,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		ocrLimiter: ocrLimiter,
		logger:     logger,
	}
}

// ExtractText returns the embedded text layer of a PDF.
// Images have no text layer and yield "".
func (t *Toolkit) ExtractText(ctx context.Context, doc []byte) (string, error) {
	if domain.DetectKind("", doc).IsImage() {
		return "", nil
	}
	ctx, span := tracer.Start(ctx, "Toolkit.ExtractText")
	defer span.End()

	var text string
	err := t.withWorkdir(ctx, func(dir string) error {
		in, err := writeInput(dir, "in.pdf", doc)
		if err != nil {
			return err
		}
		// pdftotext -layout -enc UTF-8 -eol unix <in> -
		out, errb, err := t.runner.Run(ctx, t.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", in, "-")
		if err != nil {
			return commandError(t.cfg.Pdftotext, errb, err)
		}
		text = string(out)
		return nil
	})
	if err != nil {
		return "", &domain.ErrExternalService{Service: "pdf", Err: err}
	}
	span.SetAttributes(attribute.Int("text.length", len(text)))
	return text, nil
}

// Rasterize renders the first page of a PDF as PNG. Images pass through.
func (t *Toolkit) Rasterize(ctx context.Context, doc []byte) ([]byte, error) {
	if domain.DetectKind("", doc).IsImage() {
		return doc, nil
	}
	ctx, span := tracer.Start(ctx, "Toolkit.Rasterize")
	defer span.End()

	var png []byte
	err := t.withWorkdir(ctx, func(dir string) error {
		in, err := writeInput(dir, "in.pdf", doc)
		if err != nil {
			return err
		}
		prefix := filepath.Join(dir, "page")
		// pdftoppm -r <dpi> -png -f 1 -l 1 -singlefile <in> <prefix>
		_, errb, err := t.runner.Run(ctx, t.cfg.Pdftoppm,
			"-r", strconv.Itoa(t.cfg.DPI), "-png", "-f", "1", "-l", "1", "-singlefile", in, prefix)
		if err != nil {
			return commandError(t.cfg.Pdftoppm, errb, err)
		}
		png, err = os.ReadFile(prefix + ".png")
		if err != nil {
			return fmt.Errorf("pdftoppm produced no image: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "pdf", Err: err}
	}
	return png, nil
}

// Recognize runs tesseract over an image.
func (t *Toolkit) Recognize(ctx context.Context, image []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "Toolkit.Recognize")
	defer span.End()

	if err := t.ocrLimiter.Wait(ctx); err != nil {
		return "", err
	}

	ext := ".png"
	if domain.DetectKind("", image) == domain.KindJPEG {
		ext = ".jpg"
	}

	var text string
	err := t.withWorkdir(ctx, func(dir string) error {
		in, err := writeInput(dir, "in"+ext, image)
		if err != nil {
			return err
		}
		// tesseract <file> stdout -l <lang>
		out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, in, "stdout", "-l", t.cfg.TesseractLang)
		if err != nil {
			return commandError(t.cfg.Tesseract, errb, err)
		}
		text = string(out)
		return nil
	})
	if err != nil {
		return "", &domain.ErrExternalService{Service: "ocr", Err: err}
	}
	return text, nil
}

var pageFileRegex = regexp.MustCompile(`^page-(\d+)\.pdf$`)

// Split breaks a PDF bundle into one document per page, in page order.
// An image bundle is a single page.
func (t *Toolkit) Split(ctx context.Context, bundle []byte) ([][]byte, error) {
	kind := domain.DetectKind("", bundle)
	if kind.IsImage() {
		return [][]byte{bundle}, nil
	}
	if kind != domain.KindPDF {
		return nil, fmt.Errorf("proof bundle is not a PDF")
	}

	ctx, span := tracer.Start(ctx, "Toolkit.Split")
	defer span.End()

	var pages [][]byte
	err := t.withWorkdir(ctx, func(dir string) error {
		in, err := writeInput(dir, "bundle.pdf", bundle)
		if err != nil {
			return err
		}
		// pdfseparate <in> <dir>/page-%d.pdf
		_, errb, err := t.runner.Run(ctx, t.cfg.Pdfseparate, in, filepath.Join(dir, "page-%d.pdf"))
		if err != nil {
			return commandError(t.cfg.Pdfseparate, errb, err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		type page struct {
			n    int
			path string
		}
		var found []page
		for _, e := range entries {
			m := pageFileRegex.FindStringSubmatch(e.Name())
			if m == nil {
				continue
			}
			n, _ := strconv.Atoi(m[1])
			found = append(found, page{n: n, path: filepath.Join(dir, e.Name())})
		}
		sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

		if len(found) == 0 {
			return fmt.Errorf("pdfseparate produced no pages")
		}
		for _, p := range found {
			b, err := os.ReadFile(p.path)
			if err != nil {
				return err
			}
			pages = append(pages, b)
		}
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "pdf", Err: err}
	}
	span.SetAttributes(attribute.Int("pages", len(pages)))
	return pages, nil
}

// Merge concatenates PDFs in argument order.
func (t *Toolkit) Merge(ctx context.Context, docs ...[]byte) ([]byte, error) {
	switch len(docs) {
	case 0:
		return nil, fmt.Errorf("nothing to merge")
	case 1:
		out := make([]byte, len(docs[0]))
		copy(out, docs[0])
		return out, nil
	}
	for i, d := range docs {
		if k := domain.DetectKind("", d); k != domain.KindPDF && !k.IsImage() {
			return nil, fmt.Errorf("document %d is neither a PDF nor an image", i)
		}
	}

	ctx, span := tracer.Start(ctx, "Toolkit.Merge")
	defer span.End()

	var merged []byte
	err := t.withWorkdir(ctx, func(dir string) error {
		args := make([]string, 0, len(docs)+1)
		for i, d := range docs {
			in, err := t.pdfPart(ctx, dir, i, d)
			if err != nil {
				return err
			}
			args = append(args, in)
		}
		out := filepath.Join(dir, "merged.pdf")
		args = append(args, out)

		// pdfunite <a.pdf> <b.pdf> ... <out.pdf>
		_, errb, err := t.runner.Run(ctx, t.cfg.Pdfunite, args...)
		if err != nil {
			return commandError(t.cfg.Pdfunite, errb, err)
		}
		merged, err = os.ReadFile(out)
		return err
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "pdf", Err: err}
	}
	return merged, nil
}

// pdfPart writes one merge input into dir, converting images to a one-page
// PDF first.
func (t *Toolkit) pdfPart(ctx context.Context, dir string, i int, doc []byte) (string, error) {
	kind := domain.DetectKind("", doc)
	if !kind.IsImage() {
		return writeInput(dir, fmt.Sprintf("part-%d.pdf", i), doc)
	}

	img, err := writeInput(dir, fmt.Sprintf("part-%d%s", i, kind.Extension()), doc)
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, fmt.Sprintf("part-%d.pdf", i))

	// img2pdf <in.png> -o <out.pdf>
	_, errb, err := t.runner.Run(ctx, t.cfg.Img2pdf, img, "-o", out)
	if err != nil {
		return "", commandError(t.cfg.Img2pdf, errb, err)
	}
	return out, nil
}

// withWorkdir runs fn inside a private temp dir while holding a bulkhead slot.
func (t *Toolkit) withWorkdir(ctx context.Context, fn func(dir string) error) error {
	if err := t.bulkhead.Acquire(ctx); err != nil {
		return err
	}
	defer t.bulkhead.Release()

	dir, err := os.MkdirTemp("", "reconciler-*")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			t.logger.Warn("failed to remove temp dir", zap.String("dir", dir), zap.Error(err))
		}
	}()
	return fn(dir)
}

func writeInput(dir, name string, data []byte) (string, error) {
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", err
	}
	return p, nil
}

func commandError(name string, stderr []byte, err error) error {
	msg := strings.TrimSpace(truncate(string(stderr), 512))
	if msg == "" {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %w: %s", name, err, msg)
}
