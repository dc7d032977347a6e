package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/port"
)

// StrategySet selects the capabilities of the extraction chain. A nil
// capability disables the strategies that need it.
type StrategySet struct {
	Text          port.TextExtractor
	Raster        port.Rasterizer
	OCR           port.OCR
	Vision        port.VisionExtractor
	Filename      bool
	CodeMinLength int
}

// Build returns the enabled strategies in their fixed order:
// embedded text, OCR, vision, file name.
func (s StrategySet) Build() []ExtractionStrategy {
	var out []ExtractionStrategy
	if s.Text != nil {
		out = append(out, &EmbeddedTextStrategy{Text: s.Text, CodeMinLength: s.CodeMinLength})
	}
	if s.Raster != nil && s.OCR != nil {
		out = append(out, &OCRStrategy{Raster: s.Raster, OCR: s.OCR, CodeMinLength: s.CodeMinLength})
	}
	if s.Raster != nil && s.Vision != nil {
		out = append(out, &VisionStrategy{Raster: s.Raster, Vision: s.Vision})
	}
	if s.Filename {
		out = append(out, FilenameStrategy{})
	}
	return out
}

// --- embedded text ---

// EmbeddedTextStrategy parses the text layer of a PDF.
type EmbeddedTextStrategy struct {
	Text          port.TextExtractor
	CodeMinLength int
}

func (s *EmbeddedTextStrategy) Name() domain.ExtractionMethod { return domain.ExtractionEmbeddedText }

func (s *EmbeddedTextStrategy) Extract(ctx context.Context, in ExtractionInput) (domain.ExtractedFields, error) {
	if in.Kind.IsImage() {
		return domain.EmptyFields(), nil
	}
	text, err := s.Text.ExtractText(ctx, in.Doc)
	if err != nil {
		return domain.EmptyFields(), err
	}
	return ParseText(text, s.CodeMinLength), nil
}

// --- OCR ---

// OCRStrategy rasterises the first page and parses the recognised text.
type OCRStrategy struct {
	Raster        port.Rasterizer
	OCR           port.OCR
	CodeMinLength int
}

func (s *OCRStrategy) Name() domain.ExtractionMethod { return domain.ExtractionOCR }

func (s *OCRStrategy) Extract(ctx context.Context, in ExtractionInput) (domain.ExtractedFields, error) {
	image, err := s.Raster.Rasterize(ctx, in.Doc)
	if err != nil {
		return domain.EmptyFields(), err
	}
	text, err := s.OCR.Recognize(ctx, image)
	if err != nil {
		return domain.EmptyFields(), err
	}
	return ParseText(text, s.CodeMinLength), nil
}

// --- vision ---

// VisionStrategy asks the vision capability for the fixed field set.
type VisionStrategy struct {
	Raster port.Rasterizer
	Vision port.VisionExtractor
}

func (s *VisionStrategy) Name() domain.ExtractionMethod { return domain.ExtractionVisionAI }

func (s *VisionStrategy) Extract(ctx context.Context, in ExtractionInput) (domain.ExtractedFields, error) {
	image, err := s.Raster.Rasterize(ctx, in.Doc)
	if err != nil {
		return domain.EmptyFields(), err
	}
	mime := domain.DetectKind("", image)
	if !mime.IsImage() {
		return domain.EmptyFields(), fmt.Errorf("rasterizer returned %s", mime)
	}

	vf, err := s.Vision.ExtractFields(ctx, image, string(mime))
	if err != nil {
		return domain.EmptyFields(), err
	}
	return visionToFields(vf), nil
}

// visionToFields converts the model answer; unparseable values are dropped
// rather than failing the document.
func visionToFields(vf *port.VisionFields) domain.ExtractedFields {
	fields := domain.EmptyFields()
	if vf == nil {
		return fields
	}

	fields.ReferenceCode = domain.DigitsOnly(vf.Code)
	if amount, ok := ParseLooseAmount(vf.Amount); ok && amount.IsPositive() {
		fields.Amount = amount
	}
	if d, err := time.Parse("02/01/2006", strings.TrimSpace(vf.Date)); err == nil {
		fields.Date = &d
	}
	fields.CounterpartyName = NormalizeName(vf.Beneficiary)
	return fields
}

// --- file name ---

// FilenameStrategy reads an amount typed into the file name. Last resort.
type FilenameStrategy struct{}

func (FilenameStrategy) Name() domain.ExtractionMethod { return domain.ExtractionFilename }

func (FilenameStrategy) Extract(_ context.Context, in ExtractionInput) (domain.ExtractedFields, error) {
	fields := domain.EmptyFields()
	if amount, ok := ParseFilenameAmount(in.FilenameHint); ok {
		fields.Amount = amount
	}
	return fields, nil
}
