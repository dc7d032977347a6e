package archive_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/infra/archive"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func TestBuild_KeepsOrder(t *testing.T) {
	data, err := archive.Build([]archive.Entry{
		{Name: "boleto_B.pdf", Data: []byte("b")},
		{Name: "boleto_A.pdf", Data: []byte("a")},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	names, err := archive.Names(data)
	if err != nil {
		t.Fatalf("expected readable archive, got %v", err)
	}
	if len(names) != 2 || names[0] != "boleto_B.pdf" || names[1] != "boleto_A.pdf" {
		t.Errorf("unexpected entries %v", names)
	}
}

func TestBuild_RejectsDuplicates(t *testing.T) {
	_, err := archive.Build([]archive.Entry{
		{Name: "x.pdf", Data: []byte("1")},
		{Name: "x.pdf", Data: []byte("2")},
	})
	if err == nil {
		t.Fatal("expected error for duplicate entry")
	}
}

func TestLocalSink_PutAndOpen(t *testing.T) {
	dir := t.TempDir()
	sink, err := archive.NewLocalSink(dir, "/v1/archives/", zap.NewNop())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	loc, err := sink.Put(context.Background(), "Reconciliacao_abcd1234.zip", []byte("zip-bytes"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if loc != "/v1/archives/Reconciliacao_abcd1234.zip" {
		t.Errorf("unexpected location %q", loc)
	}

	f, err := sink.Open("Reconciliacao_abcd1234.zip")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer f.Close()
	got, _ := io.ReadAll(f)
	if !bytes.Equal(got, []byte("zip-bytes")) {
		t.Errorf("unexpected content %q", got)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".upload-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestLocalSink_RejectsTraversal(t *testing.T) {
	sink, _ := archive.NewLocalSink(t.TempDir(), "/v1/archives", zap.NewNop())

	for _, name := range []string{"../etc/passwd", "a/b.zip", `..\x.zip`, ".hidden", ""} {
		if _, err := sink.Put(context.Background(), name, []byte("x")); err == nil {
			t.Errorf("Put(%q): expected error", name)
		}
		var verr *domain.ErrValidation
		if _, err := sink.Open(name); !errors.As(err, &verr) {
			t.Errorf("Open(%q): expected ErrValidation, got %v", name, err)
		}
	}
}

func TestLocalSink_OpenMissing(t *testing.T) {
	sink, _ := archive.NewLocalSink(t.TempDir(), "/v1/archives", zap.NewNop())

	_, err := sink.Open("missing.zip")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReport_Render(t *testing.T) {
	charge := &domain.ChargeDocument{
		Name:   "boleto_A.pdf",
		Fields: domain.ExtractedFields{Amount: decimal.RequireFromString("402.00")},
	}
	proof := &domain.ProofCandidate{
		Index:  0,
		Fields: domain.ExtractedFields{Amount: decimal.RequireFromString("402.00")},
	}
	records := []domain.MatchRecord{
		{Charge: charge, Proof: proof, Method: domain.MatchCode, Justification: "code"},
		{Charge: &domain.ChargeDocument{Name: "boleto_C.pdf"}, Method: domain.MatchNone, Justification: "none"},
	}

	data, err := archive.Report{}.Render(records)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("expected readable workbook, got %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Conciliacao")
	if err != nil {
		t.Fatalf("expected sheet, got %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "boleto_A.pdf" || rows[1][1] != "CODE" || rows[1][2] != "1" || rows[1][3] != "R$ 402,00" {
		t.Errorf("unexpected first row %v", rows[1])
	}
	if rows[2][1] != "NONE" {
		t.Errorf("unexpected second row %v", rows[2])
	}
}
