package history

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/me/qcpipe/pkg/model"
)

func testHistory(t *testing.T) *SQLiteHistory {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	h, err := NewSQLiteHistory(":memory:", logger)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	if err := h.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func sampleAttempt(key string, n int, outcome model.Status, at time.Time) *Attempt {
	return &Attempt{
		JobKey:     key,
		Molecule:   model.SpecFromInputPath(key).Molecule,
		CalcType:   model.CalcOpt,
		Attempt:    n,
		Outcome:    outcome,
		Duration:   1500 * time.Millisecond,
		RecordedAt: at,
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	h := testHistory(t)
	if err := h.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRecordAttempt_FillsDefaults(t *testing.T) {
	h := testHistory(t)
	ctx := context.Background()

	a := &Attempt{JobKey: "/w/benzene_opt.inp", Molecule: "benzene", CalcType: model.CalcOpt, Outcome: model.StatusCompleted}
	if err := h.RecordAttempt(ctx, a); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if !strings.HasPrefix(a.ID, "att_") {
		t.Errorf("ID = %q, want att_ prefix", a.ID)
	}
	if a.RecordedAt.IsZero() {
		t.Error("RecordedAt not set")
	}

	got, err := h.ListByJob(ctx, "/w/benzene_opt.inp")
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("ListByJob = %+v", got)
	}
	if got[0].Hostname != a.Hostname {
		t.Errorf("hostname = %q, want %q", got[0].Hostname, a.Hostname)
	}
}

func TestListByJob_OrderAndFields(t *testing.T) {
	h := testHistory(t)
	ctx := context.Background()
	key := "/w/water_opt.inp"
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	failed := sampleAttempt(key, 1, model.StatusFailed, base)
	failed.ErrorType = model.ErrorRecoverable
	failed.Message = "SCF not converged"
	done := sampleAttempt(key, 2, model.StatusCompleted, base.Add(time.Minute))
	other := sampleAttempt("/w/benzene_opt.inp", 1, model.StatusCompleted, base)

	for _, a := range []*Attempt{done, failed, other} {
		if err := h.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}

	got, err := h.ListByJob(ctx, key)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d attempts, want 2", len(got))
	}
	if got[0].Attempt != 1 || got[1].Attempt != 2 {
		t.Errorf("attempts not oldest first: %d, %d", got[0].Attempt, got[1].Attempt)
	}
	first := got[0]
	if first.Outcome != model.StatusFailed || first.ErrorType != model.ErrorRecoverable {
		t.Errorf("outcome/error = %s/%s", first.Outcome, first.ErrorType)
	}
	if first.Message != "SCF not converged" {
		t.Errorf("message = %q", first.Message)
	}
	if first.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v, want 1.5s", first.Duration)
	}
	if !first.RecordedAt.Equal(base) {
		t.Errorf("recorded_at = %v, want %v", first.RecordedAt, base)
	}
}

func TestListByMolecule(t *testing.T) {
	h := testHistory(t)
	ctx := context.Background()
	base := time.Now().UTC()

	opt := sampleAttempt("/w/benzene_opt.inp", 1, model.StatusCompleted, base)
	freq := sampleAttempt("/w/benzene_freq.inp", 1, model.StatusCompleted, base.Add(time.Second))
	freq.CalcType = model.CalcFreq
	for _, a := range []*Attempt{opt, freq, sampleAttempt("/w/water_opt.inp", 1, model.StatusFailed, base)} {
		if err := h.RecordAttempt(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	got, err := h.ListByMolecule(ctx, "benzene")
	if err != nil {
		t.Fatalf("ListByMolecule: %v", err)
	}
	if len(got) != 2 || got[0].CalcType != model.CalcOpt || got[1].CalcType != model.CalcFreq {
		t.Errorf("ListByMolecule = %+v", got)
	}
}

func TestListRecent_NewestFirst(t *testing.T) {
	h := testHistory(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := range 5 {
		a := sampleAttempt("/w/m_opt.inp", i+1, model.StatusFailed, base.Add(time.Duration(i)*time.Second))
		if err := h.RecordAttempt(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	got, err := h.ListRecent(ctx, 3)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d, want 3", len(got))
	}
	if got[0].Attempt != 5 || got[2].Attempt != 3 {
		t.Errorf("order = %d..%d, want 5..3", got[0].Attempt, got[2].Attempt)
	}
}

func TestCountByOutcome(t *testing.T) {
	h := testHistory(t)
	ctx := context.Background()
	base := time.Now().UTC()

	outcomes := []model.Status{model.StatusFailed, model.StatusFailed, model.StatusCompleted, model.StatusPermanentFailed}
	for i, o := range outcomes {
		if err := h.RecordAttempt(ctx, sampleAttempt("/w/m_opt.inp", i+1, o, base)); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := h.CountByOutcome(ctx)
	if err != nil {
		t.Fatalf("CountByOutcome: %v", err)
	}
	if counts[model.StatusFailed] != 2 || counts[model.StatusCompleted] != 1 || counts[model.StatusPermanentFailed] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	if err := r.RecordAttempt(context.Background(), &Attempt{}); err != nil {
		t.Errorf("Nop.RecordAttempt: %v", err)
	}
}
