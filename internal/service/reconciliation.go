package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/infra/archive"
	"github.com/boddenberg/boleto-reconciler/internal/infra/observability"
	"github.com/boddenberg/boleto-reconciler/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunInput is everything a reconciliation run consumes.
type RunInput struct {
	Charges     []domain.NamedDocument
	ProofBundle []byte
	Tenant      string
}

// ReconcilerConfig tunes a run.
type ReconcilerConfig struct {
	// IndexWorkers bounds concurrent proof page extraction. 1 keeps the
	// external capabilities strictly sequential.
	IndexWorkers int
}

// Reconciler drives one run: index proofs, match charges, assemble output.
// It is safe for concurrent runs; each run owns its ProofIndex.
type Reconciler struct {
	splitter  port.DocumentSplitter
	merger    port.DocumentMerger
	extractor *FieldExtractor
	engine    *MatchingEngine
	sink      port.ArchiveSink
	report    port.ReportWriter
	cfg       ReconcilerConfig
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewReconciler wires a Reconciler. report may be nil.
func NewReconciler(
	splitter port.DocumentSplitter,
	merger port.DocumentMerger,
	extractor *FieldExtractor,
	engine *MatchingEngine,
	sink port.ArchiveSink,
	report port.ReportWriter,
	cfg ReconcilerConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Reconciler {
	if cfg.IndexWorkers <= 0 {
		cfg.IndexWorkers = 1
	}
	return &Reconciler{
		splitter:  splitter,
		merger:    merger,
		extractor: extractor,
		engine:    engine,
		sink:      sink,
		report:    report,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

// Capabilities lists the extraction strategies this reconciler runs, in order.
func (rc *Reconciler) Capabilities() []domain.ExtractionMethod {
	return rc.extractor.Strategies()
}

// run carries the state of one execution.
type run struct {
	id     string
	state  domain.RunState
	emit   domain.EmitFunc
	logger *zap.Logger
}

func (r *run) transition(next domain.RunState) {
	r.state = next
	r.logger.Info("run state", zap.String("state", string(next)))
	r.emit(domain.StateEvent{Type: domain.EventState, State: next})
}

func (r *run) log(format string, args ...any) {
	r.emit(domain.NewLog(fmt.Sprintf(format, args...)))
}

// Run reconciles the charges of in against its proof bundle. Progress is
// delivered to emit as it happens. Only a validation error, an unreadable
// proof bundle, a failure to store the archive or cancellation end the run
// with an error; everything per document is reported and skipped.
func (rc *Reconciler) Run(ctx context.Context, in RunInput, emit domain.EmitFunc) (*domain.RunSummary, error) {
	if emit == nil {
		emit = func(domain.Event) {}
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx, span := tracer.Start(ctx, "Reconciler.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", id),
		attribute.Int("run.charges", len(in.Charges)),
	)

	r := &run{
		id:     id,
		state:  domain.StateInit,
		emit:   emit,
		logger: observability.RunLogger(rc.logger, id, in.Tenant),
	}

	names := make([]string, len(in.Charges))
	for i, c := range in.Charges {
		names[i] = c.Name
	}
	emit(domain.InitEvent{Type: domain.EventInit, RunID: id, Charges: names})
	r.logger.Info("run started", zap.Int("charges", len(in.Charges)), zap.Int("bundle_bytes", len(in.ProofBundle)))

	summary, err := rc.execute(ctx, r, in)
	if err != nil {
		status := "failed"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = "cancelled"
			r.log("run cancelled during %s; progress reported so far remains valid", r.state)
		} else {
			r.log("run failed: %v", err)
		}
		r.logger.Warn("run ended with error", zap.String("state", string(r.state)), zap.Error(err))
		rc.metrics.IncrRun(status)
		emit(domain.StateEvent{Type: domain.EventState, State: domain.StateFailed})
		span.RecordError(err)
		return nil, err
	}

	rc.metrics.IncrRun("success")
	r.transition(domain.StateDone)
	emit(domain.NewDone(summary))
	r.logger.Info("run finished",
		zap.Int("matched", summary.Matched),
		zap.Int("unmatched", summary.Unmatched),
		zap.Int("unclaimed_proofs", len(summary.UnclaimedProofs)),
		zap.String("archive", summary.ArchiveLocation),
	)
	return summary, nil
}

func (rc *Reconciler) execute(ctx context.Context, r *run, in RunInput) (*domain.RunSummary, error) {
	r.transition(domain.StateIndexingProofs)
	start := time.Now()
	index, err := rc.indexProofs(ctx, r, in.ProofBundle)
	rc.metrics.RecordStageDuration("indexing", time.Since(start))
	if err != nil {
		return nil, err
	}

	r.transition(domain.StateMatchingCharges)
	start = time.Now()
	records, err := rc.matchCharges(ctx, r, index, in.Charges)
	rc.metrics.RecordStageDuration("matching", time.Since(start))
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	leftover := unclaimedPages(r, index)

	r.transition(domain.StateAssemblingOutput)
	start = time.Now()
	summary, err := rc.assemble(ctx, r, records)
	rc.metrics.RecordStageDuration("assembly", time.Since(start))
	if err != nil {
		return nil, err
	}
	summary.UnclaimedProofs = leftover
	return summary, nil
}

// unclaimedPages reports the proof pages left over after matching.
func unclaimedPages(r *run, index *ProofIndex) []int {
	pages := make([]int, 0, index.Remaining())
	for _, c := range index.Unclaimed(nil) {
		pages = append(pages, c.Index)
	}
	if len(pages) > 0 {
		r.log("%d of %d proof page(s) not paired with any charge: %s", len(pages), index.Len(), joinInts(pages))
	}
	return pages
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ", ")
}

// indexProofs splits the bundle and extracts every page. Pages may be read
// concurrently but their status events are released in page order.
func (rc *Reconciler) indexProofs(ctx context.Context, r *run, bundle []byte) (*ProofIndex, error) {
	ctx, span := tracer.Start(ctx, "Reconciler.indexProofs")
	defer span.End()

	pages, err := rc.splitter.Split(ctx, bundle)
	if err != nil {
		return nil, &domain.ErrFatalRun{Stage: domain.StateIndexingProofs, Err: fmt.Errorf("open proof bundle: %w", err)}
	}
	if len(pages) == 0 {
		return nil, &domain.ErrFatalRun{Stage: domain.StateIndexingProofs, Err: errors.New("proof bundle has no pages")}
	}
	r.log("proof bundle has %d page(s)", len(pages))
	span.SetAttributes(attribute.Int("proof.pages", len(pages)))

	candidates := make([]*domain.ProofCandidate, len(pages))
	ready := make([]bool, len(pages))
	var (
		mu   sync.Mutex
		next int
	)
	release := func() {
		for next < len(pages) && ready[next] {
			c := candidates[next]
			r.emit(domain.ProofStatusEvent{Type: domain.EventProofStatus, Index: c.Index, Summary: c.Fields.Summary()})
			if !c.Fields.HasSignal() {
				r.log("%v", &domain.ErrExtraction{
					Document: fmt.Sprintf("proof page %d", c.Index),
					Reason:   "no strategy found an amount or a reference code",
				})
			}
			next++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.cfg.IndexWorkers)
	for i, page := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			kind := domain.DetectKind("", page)
			fields := rc.extractor.Extract(gctx, page, kind, "")

			mu.Lock()
			defer mu.Unlock()
			candidates[i] = &domain.ProofCandidate{Index: i, Kind: kind, Bytes: page, Fields: fields}
			ready[i] = true
			release()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewProofIndex(candidates), nil
}

// matchCharges handles charges in caller order, checking for cancellation
// before each one.
func (rc *Reconciler) matchCharges(ctx context.Context, r *run, index *ProofIndex, charges []domain.NamedDocument) ([]domain.MatchRecord, error) {
	records := make([]domain.MatchRecord, 0, len(charges))
	for _, doc := range charges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.emit(domain.ChargeStartedEvent{Type: domain.EventChargeStarted, Name: doc.Name})
		rec, err := rc.matchOne(ctx, index, doc)
		if ctx.Err() != nil {
			// Fields read under a cancelled context are not trustworthy.
			return nil, ctx.Err()
		}
		if err != nil {
			r.logger.Error("charge failed", zap.String("charge", doc.Name), zap.Error(err))
			rec = domain.MatchRecord{
				Charge:        &domain.ChargeDocument{Name: doc.Name, Kind: domain.DetectKind(doc.Name, doc.Bytes), Bytes: doc.Bytes, Fields: domain.EmptyFields()},
				Method:        domain.MatchNone,
				Justification: err.Error(),
			}
			r.emit(chargeResult(rec, domain.ChargeError))
			r.log("%s: %v", doc.Name, err)
			records = append(records, rec)
			continue
		}

		r.log("%s: %s", doc.Name, rec.Charge.Fields.Summary())
		if rec.Matched() {
			r.emit(chargeResult(rec, domain.ChargeSuccess))
			r.log("%s -> proof page %d via %s: %s", doc.Name, rec.Proof.Index, rec.Method, rec.Justification)
		} else {
			r.emit(chargeResult(rec, domain.ChargeUnmatched))
			r.log("%v", &domain.ErrNoMatch{Charge: doc.Name, Reason: rec.Justification})
		}
		records = append(records, rec)
	}
	return records, nil
}

// matchOne extracts and matches one charge; a panic becomes an error for
// that charge only.
func (rc *Reconciler) matchOne(ctx context.Context, index *ProofIndex, doc domain.NamedDocument) (rec domain.MatchRecord, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("processing %s panicked: %v", doc.Name, p)
		}
	}()

	kind := domain.DetectKind(doc.Name, doc.Bytes)
	charge := &domain.ChargeDocument{
		Name:   doc.Name,
		Kind:   kind,
		Bytes:  doc.Bytes,
		Fields: rc.extractor.Extract(ctx, doc.Bytes, kind, doc.Name),
	}
	return rc.engine.Match(ctx, charge, index), nil
}

// assemble builds one entry per charge (charge bytes, then the claimed proof),
// stores the archive and the optional report.
func (rc *Reconciler) assemble(ctx context.Context, r *run, records []domain.MatchRecord) (*domain.RunSummary, error) {
	ctx, span := tracer.Start(ctx, "Reconciler.assemble")
	defer span.End()

	entries := make([]archive.Entry, 0, len(records))
	for _, rec := range records {
		data := rec.Charge.Bytes
		if rec.Matched() {
			merged, err := rc.merger.Merge(ctx, rec.Charge.Bytes, rec.Proof.Bytes)
			if err != nil {
				aerr := &domain.ErrAssembly{Entry: rec.Charge.Name, Err: err}
				r.logger.Warn("archive entry skipped", zap.Error(aerr))
				r.log("%v; entry skipped", aerr)
				continue
			}
			data = merged
		}
		entries = append(entries, archive.Entry{Name: rec.Charge.Name, Data: data})
	}

	zipped, err := archive.Build(entries)
	if err != nil {
		return nil, &domain.ErrAssembly{Entry: "archive", Err: err}
	}

	short := strings.ReplaceAll(r.id, "-", "")[:8]
	archiveName := fmt.Sprintf("Reconciliacao_%s.zip", short)
	location, err := rc.sink.Put(ctx, archiveName, zipped)
	if err != nil {
		rc.metrics.IncrExternalError("sink")
		return nil, &domain.ErrAssembly{Entry: archiveName, Err: err}
	}
	r.log("archive %s stored with %d entr(ies)", archiveName, len(entries))

	summary := &domain.RunSummary{
		RunID:           r.id,
		Total:           len(records),
		ArchiveLocation: location,
		Records:         records,
	}
	for _, rec := range records {
		if rec.Matched() {
			summary.Matched++
		} else {
			summary.Unmatched++
		}
	}

	if rc.report != nil {
		summary.ReportLocation = rc.storeReport(ctx, r, short, records)
	}
	return summary, nil
}

// storeReport is best effort: the archive is the deliverable.
func (rc *Reconciler) storeReport(ctx context.Context, r *run, short string, records []domain.MatchRecord) string {
	data, err := rc.report.Render(records)
	if err != nil {
		r.logger.Warn("report render failed", zap.Error(err))
		r.log("report not generated: %v", err)
		return ""
	}
	name := fmt.Sprintf("Reconciliacao_%s%s", short, rc.report.Extension())
	loc, err := rc.sink.Put(ctx, name, data)
	if err != nil {
		rc.metrics.IncrExternalError("sink")
		r.logger.Warn("report store failed", zap.Error(err))
		r.log("report not stored: %v", err)
		return ""
	}
	return loc
}

func chargeResult(rec domain.MatchRecord, status domain.ChargeStatus) domain.ChargeResultEvent {
	return domain.ChargeResultEvent{
		Type:          domain.EventChargeResult,
		Name:          rec.Charge.Name,
		Status:        status,
		Method:        rec.Method,
		ProofIndex:    rec.ProofIndex(),
		Justification: rec.Justification,
	}
}

func validateInput(in RunInput) error {
	if len(in.Charges) == 0 {
		return &domain.ErrValidation{Field: "charges", Message: "at least one charge document is required"}
	}
	if len(in.ProofBundle) == 0 {
		return &domain.ErrValidation{Field: "proofs", Message: "proof bundle is empty"}
	}
	seen := make(map[string]struct{}, len(in.Charges))
	for _, c := range in.Charges {
		switch {
		case strings.TrimSpace(c.Name) == "":
			return &domain.ErrValidation{Field: "charges", Message: "charge without a name"}
		case strings.ContainsAny(c.Name, `/\`) || c.Name == "." || c.Name == "..":
			return &domain.ErrValidation{Field: "charges", Message: fmt.Sprintf("invalid charge name %q", c.Name)}
		case len(c.Bytes) == 0:
			return &domain.ErrValidation{Field: "charges", Message: fmt.Sprintf("charge %q is empty", c.Name)}
		}
		if _, dup := seen[c.Name]; dup {
			return &domain.ErrValidation{Field: "charges", Message: fmt.Sprintf("duplicate charge name %q", c.Name)}
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}
