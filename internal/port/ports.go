// Package port defines the interfaces (ports) for external capabilities.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations (poppler, tesseract, Gemini, GCS...).
package port

import (
	"context"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
)

// TextExtractor pulls machine-readable text out of a document.
type TextExtractor interface {
	ExtractText(ctx context.Context, doc []byte) (string, error)
}

// Rasterizer renders the first page of a document as a PNG image.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc []byte) ([]byte, error)
}

// OCR recognizes text in an image.
type OCR interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// VisionFields is the fixed-shape answer of the vision capability.
type VisionFields struct {
	Code        string `json:"codigo"`
	Amount      string `json:"valor"`
	Date        string `json:"data"`
	Beneficiary string `json:"empresa"`
	Payer       string `json:"pagador"`
}

// VisionExtractor reads structured fields from a document image.
type VisionExtractor interface {
	ExtractFields(ctx context.Context, image []byte, mimeType string) (*VisionFields, error)
}

// VisionDisambiguator compares a charge image with several proof images and
// returns the position of the proof that settles it, or -1 for none.
type VisionDisambiguator interface {
	ChooseProof(ctx context.Context, charge []byte, candidates [][]byte) (int, error)
}

// DocumentSplitter splits a multi-page bundle into single-page documents,
// in page order.
type DocumentSplitter interface {
	Split(ctx context.Context, bundle []byte) ([][]byte, error)
}

// DocumentMerger concatenates documents into one, in argument order.
type DocumentMerger interface {
	Merge(ctx context.Context, docs ...[]byte) ([]byte, error)
}

// ArchiveSink stores a named object and returns a retrievable location.
type ArchiveSink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// ReportWriter renders the match records of a run as a document.
type ReportWriter interface {
	Render(records []domain.MatchRecord) ([]byte, error)
	Extension() string
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
