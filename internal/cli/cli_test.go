package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/me/qcpipe/internal/config"
	"github.com/me/qcpipe/internal/history"
	"github.com/me/qcpipe/internal/logging"
	"github.com/me/qcpipe/internal/server"
	"github.com/me/qcpipe/internal/store"
	"github.com/me/qcpipe/pkg/model"
)

const waterXYZ = `3
water
O   0.000000   0.000000   0.117300
H   0.000000   0.757200  -0.469200
H   0.000000  -0.757200  -0.469200
`

// fakeOrcaOutput is printed by the fake binary for every input.
const fakeOrcaOutput = `---------------------------------
CARTESIAN COORDINATES (ANGSTROEM)
---------------------------------
  O      0.000000    0.000000    0.110000
  H      0.000000    0.770000   -0.480000
  H      0.000000   -0.770000   -0.480000

----------------------------
CARTESIAN COORDINATES (A.U.)
----------------------------
FINAL SINGLE POINT ENERGY       -76.330000000000
                             ****ORCA TERMINATED NORMALLY****`

func testLogger() *slog.Logger {
	return logging.Discard()
}

// writeConfig writes a config rooted in a temp dir and returns its path
// and the base dir. extra is appended verbatim.
func writeConfig(t *testing.T, executable, extra string) (string, string) {
	t.Helper()
	base := t.TempDir()
	content := fmt.Sprintf(`orca:
  executable: %q
paths:
  input_dir: %[2]s/input
  waiting_dir: %[2]s/waiting
  working_dir: %[2]s/working
  product_dir: %[2]s/product
  state_file: %[2]s/state_store.json
  history_db: %[2]s/history.db
  log_dir: %[2]s/logs
scheduler:
  workers: 1
  max_retries: 3
  dequeue_timeout: 50ms
molden:
  enabled: false
%s`, executable, base, extra)
	path := filepath.Join(base, "qcpipe.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, base
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigCheck(t *testing.T) {
	path, _ := writeConfig(t, "orca", "")
	out, err := execute(t, "config", "check", "--config", path)
	if err != nil {
		t.Fatalf("config check: %v", err)
	}
	if !strings.Contains(out, "configuration OK") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigCheck_Invalid(t *testing.T) {
	path, _ := writeConfig(t, "orca", "notify:\n  smtp_host: mail.example.org\n")
	if _, err := execute(t, "config", "check", "--config", path); err == nil {
		t.Fatal("expected validation error for notify without user")
	}
}

func TestConfigShow_MasksPassword(t *testing.T) {
	path, _ := writeConfig(t, "orca", `notify:
  smtp_host: mail.example.org
  user: bot@example.org
  password: hunter2
  recipient: chem@example.org
`)
	out, err := execute(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "hunter2") {
		t.Error("password printed in clear")
	}
	if !strings.Contains(out, "smtp_host: mail.example.org") {
		t.Errorf("output = %s", out)
	}
}

func TestStatus(t *testing.T) {
	path, base := writeConfig(t, "orca", "")
	st := store.Open(filepath.Join(base, "state_store.json"), testLogger())
	st.AddOrUpdate("benzene", model.CalcOpt, "/w/benzene_opt.inp", model.StatusPending)
	st.SetStatus("/w/benzene_opt.inp", model.StatusCompleted)
	st.AddOrUpdate("water", model.CalcOpt, "/w/water_opt.inp", model.StatusPending)

	out, err := execute(t, "status", "--config", path)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"benzene", "water", "COMPLETED", "2 jobs: 1 pending, 1 completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "status", "--config", path, "--status", "pending")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "benzene") {
		t.Errorf("status filter ignored:\n%s", out)
	}

	if _, err := execute(t, "status", "--config", path, "--status", "done"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestStatus_NoStateFile(t *testing.T) {
	path, _ := writeConfig(t, "orca", "")
	if _, err := execute(t, "status", "--config", path); err == nil {
		t.Fatal("expected error without state file")
	}
}

func TestSubmit(t *testing.T) {
	path, base := writeConfig(t, "orca", "")
	src := filepath.Join(t.TempDir(), "water.xyz")
	os.WriteFile(src, []byte(waterXYZ), 0o644)

	out, err := execute(t, "submit", "--config", path, src)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "submitted water.xyz (3 atoms)") {
		t.Errorf("output = %q", out)
	}
	data, err := os.ReadFile(filepath.Join(base, "input", "water.xyz"))
	if err != nil || string(data) != waterXYZ {
		t.Errorf("input not placed: %v", err)
	}

	if _, err := execute(t, "submit", "--config", path, src); err == nil {
		t.Error("expected error for geometry already waiting")
	}
}

func TestSubmit_Rejects(t *testing.T) {
	path, base := writeConfig(t, "orca", "")
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.xyz")
	os.WriteFile(bad, []byte("x\n"), 0o644)
	txt := filepath.Join(dir, "water.txt")
	os.WriteFile(txt, []byte(waterXYZ), 0o644)

	for _, src := range []string{bad, txt} {
		if _, err := execute(t, "submit", "--config", path, src); err == nil {
			t.Errorf("%s: expected error", filepath.Base(src))
		}
	}
	entries, _ := os.ReadDir(filepath.Join(base, "input"))
	if len(entries) != 0 {
		t.Errorf("input dir has %d entries, want 0", len(entries))
	}
}

func TestHistory(t *testing.T) {
	path, base := writeConfig(t, "orca", "")
	h, err := history.NewSQLiteHistory(filepath.Join(base, "history.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := h.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	attempts := []*history.Attempt{
		{JobKey: "/w/water_opt.inp", Molecule: "water", CalcType: model.CalcOpt, Attempt: 1,
			Outcome: model.StatusFailed, ErrorType: model.ErrorRecoverable},
		{JobKey: "/w/water_opt.inp", Molecule: "water", CalcType: model.CalcOpt, Attempt: 2,
			Outcome: model.StatusCompleted},
	}
	for _, a := range attempts {
		if err := h.RecordAttempt(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	h.Close()

	out, err := execute(t, "history", "--config", path, "water")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "RECOVERABLE") || !strings.Contains(out, "COMPLETED") {
		t.Errorf("output:\n%s", out)
	}

	out, err = execute(t, "history", "--config", path, "--summary")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "COMPLETED") || !strings.Contains(out, "FAILED") {
		t.Errorf("summary:\n%s", out)
	}
}

type fakePool struct{}

func (fakePool) Info() model.PoolInfo {
	return model.PoolInfo{State: "RUNNING", Workers: 1, Initial: 2, Queued: 4, Reduced: 1}
}

func TestPool(t *testing.T) {
	path, base := writeConfig(t, "orca", "")
	st := store.Open(filepath.Join(base, "state_store.json"), testLogger())
	ts := httptest.NewServer(server.New(st, testLogger(), server.WithPool(fakePool{})).Handler())
	t.Cleanup(ts.Close)

	out, err := execute(t, "pool", "--config", path, "--server", ts.URL)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, want := range []string{"RUNNING", "1 of 2", "Queued:   4", "Reduced:  1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func fakeOrca(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-orca")
	script := "#!/bin/sh\ncat <<'EOF'\n" + fakeOrcaOutput + "\nEOF\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunPipeline_OptThenFreq(t *testing.T) {
	path, base := writeConfig(t, fakeOrca(t), "")
	c, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(c.Paths.InputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(c.Paths.InputDir, "water.xyz"), []byte(waterXYZ), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runPipeline(ctx, c, testLogger()) }()

	completed := func() bool {
		jobs, err := store.ReadSnapshot(c.Paths.StateFile)
		if err != nil {
			return false
		}
		n := 0
		for _, rec := range jobs {
			if rec.Molecule == "water" && rec.Status == model.StatusCompleted {
				n++
			}
		}
		return n == 2
	}
	deadline := time.Now().Add(20 * time.Second)
	for !completed() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("runPipeline: %v", err)
	}
	if !completed() {
		t.Fatal("opt and freq did not both complete")
	}

	product := filepath.Join(base, "product", "water")
	for _, name := range []string{"water_opt.out", "water_freq.out"} {
		if _, err := os.Stat(filepath.Join(product, name)); err != nil {
			t.Errorf("missing product %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(base, "waiting", "water.xyz")); err != nil {
		t.Errorf("geometry not moved to waiting: %v", err)
	}

	h, err := history.NewSQLiteHistory(c.Paths.HistoryDB, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	attempts, err := h.ListByMolecule(context.Background(), "water")
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(attempts))
	}
}
