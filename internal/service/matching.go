package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/infra/observability"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// MatchingConfig tunes the tiers.
type MatchingConfig struct {
	// CodeMinLength is the shortest reference code trusted for the CODE tier.
	CodeMinLength int
	// CodeTrailingDigits is how many trailing digits must agree when neither
	// code contains the other.
	CodeTrailingDigits int
	// Tolerance is the exclusive amount difference still considered equal.
	Tolerance decimal.Decimal
}

// DefaultMatchingConfig returns the production tier parameters.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		CodeMinLength:      20,
		CodeTrailingDigits: 10,
		Tolerance:          decimal.New(1, -2),
	}
}

// MatchingEngine pairs one charge with at most one proof, trying the tiers
// CODE, VALUE_DATE, VALUE_NAME, disambiguation, VALUE_ONLY in that order.
type MatchingEngine struct {
	cfg           MatchingConfig
	disambiguator *Disambiguator
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// NewMatchingEngine creates a MatchingEngine. disambiguator may be nil.
func NewMatchingEngine(cfg MatchingConfig, disambiguator *Disambiguator, metrics *observability.Metrics, logger *zap.Logger) *MatchingEngine {
	def := DefaultMatchingConfig()
	if cfg.CodeMinLength <= 0 {
		cfg.CodeMinLength = def.CodeMinLength
	}
	if cfg.CodeTrailingDigits <= 0 {
		cfg.CodeTrailingDigits = def.CodeTrailingDigits
	}
	if !cfg.Tolerance.IsPositive() {
		cfg.Tolerance = def.Tolerance
	}
	return &MatchingEngine{
		cfg:           cfg,
		disambiguator: disambiguator,
		metrics:       metrics,
		logger:        logger,
	}
}

// Match runs the tiers for charge against index and claims the winner.
func (m *MatchingEngine) Match(ctx context.Context, charge *domain.ChargeDocument, index *ProofIndex) domain.MatchRecord {
	ctx, span := tracer.Start(ctx, "MatchingEngine.Match")
	defer span.End()

	rec := m.match(ctx, charge, index)

	span.SetAttributes(
		attribute.String("match.method", string(rec.Method)),
		attribute.Int("match.proof_index", rec.ProofIndex()),
	)
	m.metrics.IncrMatch(rec.Method)
	return rec
}

func (m *MatchingEngine) match(ctx context.Context, charge *domain.ChargeDocument, index *ProofIndex) domain.MatchRecord {
	f := charge.Fields
	code := f.ReferenceCode

	// CODE: an exact containment anywhere in the pool beats a trailing-digit
	// agreement on an earlier page.
	if len(code) >= m.cfg.CodeMinLength {
		if p := index.Claim(func(c *domain.ProofCandidate) bool {
			return m.codesContain(code, c.Fields.ReferenceCode)
		}); p != nil {
			return record(charge, p, domain.MatchCode,
				fmt.Sprintf("reference code matches proof page %d (…%s)", p.Index, tail(code, m.cfg.CodeTrailingDigits)))
		}
		if p := index.Claim(func(c *domain.ProofCandidate) bool {
			return m.codesShareTail(code, c.Fields.ReferenceCode)
		}); p != nil {
			return record(charge, p, domain.MatchCode,
				fmt.Sprintf("reference code ends like proof page %d (…%s)", p.Index, tail(codeIdentity(code), m.cfg.CodeTrailingDigits)))
		}
	}

	if !f.HasAmount() {
		reason := "no reference code and no amount extracted"
		if code != "" {
			reason = fmt.Sprintf("reference code …%s matches no proof and no amount extracted", tail(code, m.cfg.CodeTrailingDigits))
		}
		return record(charge, nil, domain.MatchNone, reason)
	}

	amount := domain.FormatBRL(f.Amount)
	sameAmount := index.Unclaimed(func(c *domain.ProofCandidate) bool {
		return c.Fields.HasAmount() && domain.AmountsEqual(f.Amount, c.Fields.Amount, m.cfg.Tolerance)
	})
	if len(sameAmount) == 0 {
		return record(charge, nil, domain.MatchNone, fmt.Sprintf("no unclaimed proof with amount R$ %s", amount))
	}

	// VALUE_DATE
	if f.Date != nil {
		if p := m.claimUnique(index, filter(sameAmount, func(c *domain.ProofCandidate) bool {
			return f.SameDay(c.Fields)
		})); p != nil {
			return record(charge, p, domain.MatchValueDate,
				fmt.Sprintf("amount R$ %s and date %s match proof page %d", amount, f.Date.Format("02/01/2006"), p.Index))
		}
	}

	// VALUE_NAME
	if f.CounterpartyName != "" {
		if p := m.claimUnique(index, filter(sameAmount, func(c *domain.ProofCandidate) bool {
			return NamesMatch(f.CounterpartyName, c.Fields.CounterpartyName)
		})); p != nil {
			return record(charge, p, domain.MatchValueName,
				fmt.Sprintf("amount R$ %s and name %q match proof page %d (%q)", amount, f.CounterpartyName, p.Index, p.Fields.CounterpartyName))
		}
	}

	// Disambiguation
	if len(sameAmount) > 1 {
		res := m.disambiguator.Resolve(ctx, charge, sameAmount)
		switch {
		case res.Proof == nil:
			return record(charge, nil, domain.MatchNone,
				fmt.Sprintf("%d proofs tied at R$ %s and disambiguation declined: %s", len(sameAmount), amount, res.Reason))
		case !index.ClaimCandidate(res.Proof):
			return record(charge, nil, domain.MatchNone,
				fmt.Sprintf("proof page %d was claimed by another charge during disambiguation", res.Proof.Index))
		case res.Outcome == OutcomeFallback:
			return record(charge, res.Proof, domain.MatchValueOnly, res.Reason)
		default:
			return record(charge, res.Proof, domain.MatchAIDisambiguated, res.Reason)
		}
	}

	// VALUE_ONLY
	if p := m.claimUnique(index, sameAmount); p != nil {
		return record(charge, p, domain.MatchValueOnly,
			fmt.Sprintf("only unclaimed proof with amount R$ %s is page %d", amount, p.Index))
	}

	return record(charge, nil, domain.MatchNone, fmt.Sprintf("no unclaimed proof with amount R$ %s", amount))
}

// codesContain accepts containment either way when the shorter code is still
// long enough to be trusted.
func (m *MatchingEngine) codesContain(charge, proof string) bool {
	if proof == "" {
		return false
	}
	short, long := charge, proof
	if len(short) > len(long) {
		short, long = long, short
	}
	return len(short) >= m.cfg.CodeMinLength && strings.Contains(long, short)
}

// codesShareTail compares the trailing digits of the part of each code that
// identifies the bill.
func (m *MatchingEngine) codesShareTail(charge, proof string) bool {
	charge, proof = codeIdentity(charge), codeIdentity(proof)
	n := m.cfg.CodeTrailingDigits
	return len(charge) >= n && len(proof) >= n && charge[len(charge)-n:] == proof[len(proof)-n:]
}

// codeIdentity drops the general check digit, due factor and amount that end
// a 47-digit bank slip line; those are shared by any bill of the same value
// and due date.
func codeIdentity(code string) string {
	if len(code) == 47 {
		return code[:32]
	}
	return code
}

// claimUnique claims the single element of cs; nil when there is not
// exactly one or it was taken meanwhile.
func (m *MatchingEngine) claimUnique(index *ProofIndex, cs []*domain.ProofCandidate) *domain.ProofCandidate {
	if len(cs) != 1 {
		return nil
	}
	if !index.ClaimCandidate(cs[0]) {
		return nil
	}
	return cs[0]
}

func record(charge *domain.ChargeDocument, p *domain.ProofCandidate, method domain.MatchMethod, why string) domain.MatchRecord {
	return domain.MatchRecord{Charge: charge, Proof: p, Method: method, Justification: why}
}

func filter(cs []*domain.ProofCandidate, keep func(*domain.ProofCandidate) bool) []*domain.ProofCandidate {
	var out []*domain.ProofCandidate
	for _, c := range cs {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
