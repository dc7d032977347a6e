package service

import (
	"context"
	"fmt"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DisambiguationOutcome says how a tie was settled.
type DisambiguationOutcome string

const (
	// OutcomeChosen: the vision capability picked a candidate.
	OutcomeChosen DisambiguationOutcome = "chosen"
	// OutcomeDeclined: the capability answered that none of them fits.
	OutcomeDeclined DisambiguationOutcome = "declined"
	// OutcomeFallback: the comparison could not run; the first candidate is taken.
	OutcomeFallback DisambiguationOutcome = "fallback"
)

// Resolution is the answer for one tie.
type Resolution struct {
	Proof   *domain.ProofCandidate
	Outcome DisambiguationOutcome
	Reason  string
}

// Disambiguator compares a charge against several same-amount proofs at once.
type Disambiguator struct {
	raster port.Rasterizer
	vision port.VisionDisambiguator
	logger *zap.Logger
}

// NewDisambiguator creates a Disambiguator. With a nil vision capability
// every tie falls back to the first candidate.
func NewDisambiguator(raster port.Rasterizer, vision port.VisionDisambiguator, logger *zap.Logger) *Disambiguator {
	return &Disambiguator{raster: raster, vision: vision, logger: logger}
}

// Resolve picks one of candidates for charge. Failures never propagate: they
// fall back to the first candidate and say so in the reason.
func (d *Disambiguator) Resolve(ctx context.Context, charge *domain.ChargeDocument, candidates []*domain.ProofCandidate) Resolution {
	ctx, span := tracer.Start(ctx, "Disambiguator.Resolve")
	defer span.End()
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	if len(candidates) == 0 {
		return Resolution{Outcome: OutcomeDeclined, Reason: "no candidates"}
	}
	if d == nil || d.vision == nil || d.raster == nil {
		return d.fallback(charge, candidates, fmt.Errorf("vision comparison disabled"))
	}

	chargeImage, err := d.raster.Rasterize(ctx, charge.Bytes)
	if err != nil {
		return d.fallback(charge, candidates, fmt.Errorf("rasterize charge: %w", err))
	}
	images := make([][]byte, len(candidates))
	for i, c := range candidates {
		img, err := d.raster.Rasterize(ctx, c.Bytes)
		if err != nil {
			return d.fallback(charge, candidates, fmt.Errorf("rasterize proof page %d: %w", c.Index, err))
		}
		images[i] = img
	}

	pick, err := d.vision.ChooseProof(ctx, chargeImage, images)
	if err != nil {
		return d.fallback(charge, candidates, err)
	}
	if pick < 0 {
		return Resolution{
			Outcome: OutcomeDeclined,
			Reason:  fmt.Sprintf("vision comparison found none of %d proofs fits", len(candidates)),
		}
	}
	if pick >= len(candidates) {
		return d.fallback(charge, candidates, fmt.Errorf("choice %d out of range", pick))
	}

	chosen := candidates[pick]
	return Resolution{
		Proof:   chosen,
		Outcome: OutcomeChosen,
		Reason:  fmt.Sprintf("vision comparison chose proof page %d among %d", chosen.Index, len(candidates)),
	}
}

func (d *Disambiguator) fallback(charge *domain.ChargeDocument, candidates []*domain.ProofCandidate, cause error) Resolution {
	first := candidates[0]
	if d != nil && d.logger != nil {
		d.logger.Warn("disambiguation fell back to first candidate",
			zap.String("charge", charge.Name),
			zap.Int("proof_index", first.Index),
			zap.Int("candidates", len(candidates)),
			zap.Error(cause),
		)
	}
	return Resolution{
		Proof:   first,
		Outcome: OutcomeFallback,
		Reason:  fmt.Sprintf("disambiguation failed (%v); fell back to first candidate, proof page %d", cause, first.Index),
	}
}
