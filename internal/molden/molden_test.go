package molden

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/me/qcpipe/internal/config"
	"github.com/me/qcpipe/internal/store"
	"github.com/me/qcpipe/pkg/model"
)

const optOutputText = `
---------------------------------
CARTESIAN COORDINATES (ANGSTROEM)
---------------------------------
  O      0.000000    0.000000    0.110000
  H      0.000000    0.770000   -0.480000
  H      0.000000   -0.770000   -0.480000

----------------------------
CARTESIAN COORDINATES (A.U.)
----------------------------
FINAL SINGLE POINT ENERGY       -76.330000000000
                             ****ORCA TERMINATED NORMALLY****
`

// writesMolden is a fake orca that produces "<mol>.molden.input" from its
// "<mol>_molden.inp" argument.
const writesMolden = `mol=$(basename "$1" _molden.inp)
cp "$1" "$mol.molden.input"`

func fakeOrca(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-orca")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

type testEnv struct {
	svc     *Service
	st      *store.StateStore
	product string
}

func newEnv(t *testing.T, script string, timeout time.Duration) *testEnv {
	t.Helper()
	base := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orcaCfg := config.DefaultConfig().Orca
	orcaCfg.Executable = fakeOrca(t, script)
	cfg := Config{
		Orca:       orcaCfg,
		StateFile:  filepath.Join(base, "state_store.json"),
		ProductDir: filepath.Join(base, "product"),
		Interval:   time.Hour,
		Timeout:    timeout,
	}
	return &testEnv{
		svc:     New(cfg, logger),
		st:      store.Open(cfg.StateFile, logger),
		product: cfg.ProductDir,
	}
}

// complete records a finished job and publishes its output when out is set.
func (e *testEnv) complete(t *testing.T, mol string, calc model.CalcType, out string) {
	t.Helper()
	key := filepath.Join("/waiting", model.InputName(mol, calc))
	e.st.AddOrUpdate(mol, calc, key, model.StatusPending)
	e.st.SetStatus(key, model.StatusCompleted)
	if out == "" {
		return
	}
	dir := filepath.Join(e.product, mol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	name := model.StemOf(model.InputName(mol, calc)) + ".out"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(out), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) exists(mol, name string) bool {
	_, err := os.Stat(filepath.Join(e.product, mol, name))
	return err == nil
}

func TestCheck_GeneratesMolden(t *testing.T) {
	e := newEnv(t, writesMolden, 10*time.Second)
	e.complete(t, "water", model.CalcOpt, optOutputText)

	if n := e.svc.Check(context.Background()); n != 1 {
		t.Fatalf("attempted = %d, want 1", n)
	}
	data, err := os.ReadFile(filepath.Join(e.product, "water", OutputName("water")))
	if err != nil {
		t.Fatalf("molden file missing: %v", err)
	}
	// The fake copies its input, so the file shows what orca was given.
	for _, want := range []string{"SP", "%pal nprocs 1 end", "%maxcore 1000", `%moinp "water.molden.input"`, "0.77000000"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("input missing %q:\n%s", want, data)
		}
	}
	if e.exists("water", runDirName) {
		t.Error("run dir not removed")
	}
	if e.exists("water", MarkerName("water")) {
		t.Error("marker written on success")
	}

	// Already generated.
	if n := e.svc.Check(context.Background()); n != 0 {
		t.Errorf("second check attempted %d", n)
	}
}

func TestCheck_FailureWritesMarker(t *testing.T) {
	e := newEnv(t, "exit 1", 10*time.Second)
	e.complete(t, "water", model.CalcOpt, optOutputText)

	e.svc.Check(context.Background())

	if !e.exists("water", MarkerName("water")) {
		t.Fatal("failure marker not written")
	}
	if e.exists("water", runDirName) {
		t.Error("run dir not removed")
	}
	if n := e.svc.Check(context.Background()); n != 0 {
		t.Errorf("failed molecule retried: attempted %d", n)
	}
}

func TestCheck_Timeout(t *testing.T) {
	e := newEnv(t, "sleep 5", 100*time.Millisecond)
	e.complete(t, "water", model.CalcOpt, optOutputText)

	start := time.Now()
	e.svc.Check(context.Background())

	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("timeout not enforced, took %s", elapsed)
	}
	if !e.exists("water", MarkerName("water")) {
		t.Error("failure marker not written after timeout")
	}
}

func TestCheck_UnparseableOutputWritesMarker(t *testing.T) {
	e := newEnv(t, writesMolden, 10*time.Second)
	e.complete(t, "water", model.CalcOpt, "no coordinates here\n")

	e.svc.Check(context.Background())

	if !e.exists("water", MarkerName("water")) {
		t.Error("failure marker not written")
	}
}

func TestCheck_Selection(t *testing.T) {
	e := newEnv(t, writesMolden, 10*time.Second)
	e.complete(t, "freqonly", model.CalcFreq, optOutputText)
	e.complete(t, "unpublished", model.CalcOpt, "")

	key := filepath.Join("/waiting", "running_opt.inp")
	e.st.AddOrUpdate("running", model.CalcOpt, key, model.StatusRunning)

	if n := e.svc.Check(context.Background()); n != 0 {
		t.Errorf("attempted = %d, want 0", n)
	}
}

func TestCheck_SnapshotUnavailable(t *testing.T) {
	e := newEnv(t, writesMolden, 10*time.Second)
	if n := e.svc.Check(context.Background()); n != 0 {
		t.Errorf("attempted = %d, want 0", n)
	}

	if err := os.WriteFile(e.svc.config.StateFile, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if n := e.svc.Check(context.Background()); n != 0 {
		t.Errorf("attempted = %d on malformed snapshot, want 0", n)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	e := newEnv(t, writesMolden, 10*time.Second)
	e.complete(t, "water", model.CalcOpt, optOutputText)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.svc.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !e.exists("water", OutputName("water")) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if !e.exists("water", OutputName("water")) {
		t.Error("first check did not run immediately")
	}
}

func TestBuildInput(t *testing.T) {
	cfg := config.DefaultConfig().Orca
	cfg.Charge = -1
	cfg.Multiplicity = 2
	geom := model.Geometry{{Symbol: "O"}, {Symbol: "H", X: 1}}

	got, err := BuildInput(cfg, "hydroxide", geom)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "# Molden generation for hydroxide\n! ") {
		t.Errorf("unexpected header:\n%s", got)
	}
	if !strings.Contains(got, "* xyz -1 2\n") || !strings.HasSuffix(got, "\n*\n") {
		t.Errorf("unexpected coordinate block:\n%s", got)
	}

	if _, err := BuildInput(cfg, "empty", nil); err == nil {
		t.Error("expected error for empty geometry")
	}
}
