package service

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/infra/observability"
	"github.com/boddenberg/boleto-reconciler/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

var tracer = otel.Tracer("service/reconciler")

// ExtractionInput is what every strategy sees.
type ExtractionInput struct {
	Doc          []byte
	Kind         domain.DocumentKind
	FilenameHint string
}

// ExtractionStrategy reads fields one way. Returning fields without signal
// means the strategy abstains.
type ExtractionStrategy interface {
	Name() domain.ExtractionMethod
	Extract(ctx context.Context, in ExtractionInput) (domain.ExtractedFields, error)
}

// FieldExtractor runs the strategy chain and keeps the first result with
// signal. It never fails: errors and panics inside a strategy count as
// abstention.
type FieldExtractor struct {
	strategies []ExtractionStrategy
	cache      port.Cache[domain.ExtractedFields]
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewFieldExtractor creates the extractor. cache may be nil.
func NewFieldExtractor(
	strategies []ExtractionStrategy,
	cache port.Cache[domain.ExtractedFields],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *FieldExtractor {
	return &FieldExtractor{
		strategies: strategies,
		cache:      cache,
		metrics:    metrics,
		logger:     logger,
	}
}

// Strategies lists the enabled strategies in the order they are tried.
func (e *FieldExtractor) Strategies() []domain.ExtractionMethod {
	names := make([]domain.ExtractionMethod, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Extract returns the fields of one document, or domain.EmptyFields when no
// strategy finds a signal.
func (e *FieldExtractor) Extract(ctx context.Context, doc []byte, kind domain.DocumentKind, filenameHint string) domain.ExtractedFields {
	ctx, span := tracer.Start(ctx, "FieldExtractor.Extract")
	defer span.End()

	if kind == "" {
		kind = domain.DetectKind(filenameHint, doc)
	}

	key := cacheKey(doc, kind, filenameHint)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			e.metrics.IncrCacheHit("extraction")
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached.WithMethod(cached.Method)
		}
		e.metrics.IncrCacheMiss("extraction")
	}

	in := ExtractionInput{Doc: doc, Kind: kind, FilenameHint: filenameHint}
	result := domain.EmptyFields()
	degraded := false

	for _, s := range e.strategies {
		if ctx.Err() != nil {
			degraded = true
			break
		}
		fields, err := e.run(ctx, s, in)
		if err != nil {
			degraded = true
			e.logger.Warn("extraction strategy failed",
				zap.String("strategy", string(s.Name())),
				zap.String("document", filenameHint),
				zap.Error(err),
			)
			continue
		}
		if fields.HasSignal() {
			result = fields.WithMethod(s.Name())
			break
		}
	}

	e.metrics.IncrExtraction(result.Method)
	span.SetAttributes(attribute.String("extraction.method", string(result.Method)))

	// A result shaped by a failing capability may improve on the next run.
	if e.cache != nil && !degraded {
		e.cache.Set(key, result.WithMethod(result.Method))
	}
	return result
}

func (e *FieldExtractor) run(ctx context.Context, s ExtractionStrategy, in ExtractionInput) (fields domain.ExtractedFields, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Extract(ctx, in)
}

// cacheKey hashes the content, so a page re-uploaded under another run
// reuses its fields.
func cacheKey(doc []byte, kind domain.DocumentKind, hint string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(hint))
	h.Write([]byte{0})
	h.Write(doc)
	return "fields:" + hex.EncodeToString(h.Sum(nil))
}
