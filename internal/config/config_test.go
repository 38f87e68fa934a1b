package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qcpipe.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Scheduler.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Scheduler.MaxRetries)
	}
	if cfg.Paths.RetryDir != filepath.Join("waiting", "retry") {
		t.Errorf("RetryDir = %q", cfg.Paths.RetryDir)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
orca:
  executable: /opt/orca/orca
  keywords:
    opt: "PBE def2-SVP OPT"
paths:
  waiting_dir: /data/waiting
scheduler:
  workers: 6
  dequeue_timeout: 250ms
notify:
  throttle: 30m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Orca.Executable != "/opt/orca/orca" {
		t.Errorf("Executable = %q", cfg.Orca.Executable)
	}
	if cfg.Orca.Keywords["opt"] != "PBE def2-SVP OPT" {
		t.Errorf("opt keywords = %q", cfg.Orca.Keywords["opt"])
	}
	// Keys not in the file keep their defaults.
	if cfg.Orca.Keywords["freq"] == "" {
		t.Error("freq keywords lost on merge")
	}
	if cfg.Scheduler.Workers != 6 {
		t.Errorf("Workers = %d, want 6", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.DequeueTimeout != 250*time.Millisecond {
		t.Errorf("DequeueTimeout = %v", cfg.Scheduler.DequeueTimeout)
	}
	if cfg.Notify.Throttle != 30*time.Minute {
		t.Errorf("Throttle = %v", cfg.Notify.Throttle)
	}
	if cfg.Paths.RetryDir != filepath.Join("/data/waiting", "retry") {
		t.Errorf("RetryDir = %q, want derived from waiting_dir", cfg.Paths.RetryDir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  workers: 0
notify:
  smtp_host: smtp.example.com
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"scheduler.workers", "notify.user"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Paths.InputDir = filepath.Join(root, "in")
	cfg.Paths.WaitingDir = filepath.Join(root, "wait")
	cfg.Paths.WorkingDir = filepath.Join(root, "work")
	cfg.Paths.ProductDir = filepath.Join(root, "prod")
	cfg.Paths.RetryDir = filepath.Join(root, "wait", "retry")
	cfg.Paths.StateFile = filepath.Join(root, "state", "state.json")

	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, dir := range []string{"in", "wait", "work", "prod", "wait/retry", "state"} {
		if info, err := os.Stat(filepath.Join(root, dir)); err != nil || !info.IsDir() {
			t.Errorf("%s not created", dir)
		}
	}
}
