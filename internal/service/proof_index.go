package service

import (
	"sort"
	"sync"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
)

// ProofIndex owns the proof candidates of one run and their claim state.
// Claims are check-and-set under a single lock, so a candidate is handed out
// at most once even when charges are matched concurrently.
//
// Predicates run while the lock is held and must not call back into the index.
type ProofIndex struct {
	mu         sync.Mutex
	candidates []*domain.ProofCandidate
	claimed    []bool
}

// NewProofIndex indexes candidates in ascending Index order.
func NewProofIndex(candidates []*domain.ProofCandidate) *ProofIndex {
	cs := make([]*domain.ProofCandidate, len(candidates))
	copy(cs, candidates)
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Index < cs[j].Index })
	return &ProofIndex{
		candidates: cs,
		claimed:    make([]bool, len(cs)),
	}
}

// Claim marks and returns the first unclaimed candidate satisfying pred,
// or nil.
func (p *ProofIndex) Claim(pred func(*domain.ProofCandidate) bool) *domain.ProofCandidate {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, c := range p.candidates {
		if p.claimed[i] || !pred(c) {
			continue
		}
		p.claimed[i] = true
		return c
	}
	return nil
}

// ClaimCandidate claims exactly c. It reports false when c is not in the
// index or was claimed already.
func (p *ProofIndex) ClaimCandidate(c *domain.ProofCandidate) bool {
	return p.Claim(func(x *domain.ProofCandidate) bool { return x == c }) != nil
}

// Unclaimed returns a snapshot of the unclaimed candidates satisfying pred,
// in index order. A nil pred selects all of them.
func (p *ProofIndex) Unclaimed(pred func(*domain.ProofCandidate) bool) []*domain.ProofCandidate {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*domain.ProofCandidate
	for i, c := range p.candidates {
		if p.claimed[i] {
			continue
		}
		if pred == nil || pred(c) {
			out = append(out, c)
		}
	}
	return out
}

func (p *ProofIndex) Len() int {
	return len(p.candidates)
}

// Remaining counts unclaimed candidates.
func (p *ProofIndex) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, taken := range p.claimed {
		if !taken {
			n++
		}
	}
	return n
}
