package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full, validated configuration of a qcpipe process.
// It is resolved once at startup and passed to each component.
type Config struct {
	Orca      OrcaConfig      `yaml:"orca"`
	Paths     PathsConfig     `yaml:"paths"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
	Molden    MoldenConfig    `yaml:"molden"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Server    ServerConfig    `yaml:"server"`
	LogLevel  string          `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string          `yaml:"log_format"` // text, json
}

// OrcaConfig describes the external executable and the input template.
type OrcaConfig struct {
	Executable   string            `yaml:"executable"`
	Keywords     map[string]string `yaml:"keywords"` // calc type -> "! ..." keyword line
	NProcs       int               `yaml:"nprocs"`
	MaxCoreMB    int               `yaml:"maxcore"`
	Charge       int               `yaml:"charge"`
	Multiplicity int               `yaml:"multiplicity"`
}

// PathsConfig holds every directory and file the pipeline touches.
type PathsConfig struct {
	InputDir   string `yaml:"input_dir"`   // watched for new .xyz files
	WaitingDir string `yaml:"waiting_dir"` // generated .inp files awaiting dispatch
	WorkingDir string `yaml:"working_dir"` // per-job scratch directories
	ProductDir string `yaml:"product_dir"` // per-molecule results
	RetryDir   string `yaml:"retry_dir"`   // inputs parked for a cold retry
	StateFile  string `yaml:"state_file"`
	HistoryDB  string `yaml:"history_db"`
	LogDir     string `yaml:"log_dir"`
}

// SchedulerConfig sizes the worker pool and the retry policy.
type SchedulerConfig struct {
	Workers        int           `yaml:"workers"`
	MaxRetries     int           `yaml:"max_retries"`
	DequeueTimeout time.Duration `yaml:"dequeue_timeout"`
}

// NotifyConfig holds mail credentials. Mail is disabled when Host is empty.
type NotifyConfig struct {
	Host      string        `yaml:"smtp_host"`
	Port      int           `yaml:"smtp_port"`
	User      string        `yaml:"user"`
	Password  string        `yaml:"password"`
	Recipient string        `yaml:"recipient"`
	Throttle  time.Duration `yaml:"throttle"`
}

// Enabled reports whether mail delivery is configured.
func (n NotifyConfig) Enabled() bool {
	return n.Host != ""
}

// MoldenConfig controls the post-processing service.
type MoldenConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ArchiveConfig points at an S3-compatible bucket. Archival is disabled
// when Bucket is empty.
type ArchiveConfig struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // optional, for MinIO and friends
}

// Enabled reports whether archival is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// ServerConfig configures the read-only status API. Empty Addr disables it.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	cfg := defaults()
	cfg.applyDerived()
	return cfg
}

func defaults() Config {
	return Config{
		Orca: OrcaConfig{
			Executable: "orca",
			Keywords: map[string]string{
				"opt":  "B3LYP D4 def2-SVP OPT TightSCF",
				"freq": "B3LYP D4 def2-SVP FREQ TightSCF",
				"sp":   "B3LYP D4 def2-SVP SP TightSCF",
			},
			NProcs:       4,
			MaxCoreMB:    2000,
			Charge:       0,
			Multiplicity: 1,
		},
		Paths: PathsConfig{
			InputDir:   "input",
			WaitingDir: "waiting",
			WorkingDir: "working",
			ProductDir: "product",
			StateFile:  "state_store.json",
			HistoryDB:  "history.db",
			LogDir:     "logs",
		},
		Scheduler: SchedulerConfig{
			Workers:        2,
			MaxRetries:     3,
			DequeueTimeout: time.Second,
		},
		Notify: NotifyConfig{
			Port:     465,
			Throttle: time.Hour,
		},
		Molden: MoldenConfig{
			Enabled:  true,
			Interval: time.Minute,
			Timeout:  5 * time.Minute,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDerived fills fields whose defaults depend on other fields.
func (c *Config) applyDerived() {
	if c.Paths.RetryDir == "" && c.Paths.WaitingDir != "" {
		c.Paths.RetryDir = filepath.Join(c.Paths.WaitingDir, "retry")
	}
}

// Validate checks that every option consumed by a component is usable.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Orca.Executable) == "" {
		errs = append(errs, errors.New("orca.executable is required"))
	}
	for _, calc := range []string{"opt", "freq"} {
		if strings.TrimSpace(c.Orca.Keywords[calc]) == "" {
			errs = append(errs, fmt.Errorf("orca.keywords.%s is required", calc))
		}
	}
	if c.Orca.Multiplicity < 1 {
		errs = append(errs, errors.New("orca.multiplicity must be >= 1"))
	}

	required := []struct{ name, value string }{
		{"paths.input_dir", c.Paths.InputDir},
		{"paths.waiting_dir", c.Paths.WaitingDir},
		{"paths.working_dir", c.Paths.WorkingDir},
		{"paths.product_dir", c.Paths.ProductDir},
		{"paths.retry_dir", c.Paths.RetryDir},
		{"paths.state_file", c.Paths.StateFile},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}

	if c.Scheduler.Workers < 1 {
		errs = append(errs, errors.New("scheduler.workers must be >= 1"))
	}
	if c.Scheduler.MaxRetries < 0 {
		errs = append(errs, errors.New("scheduler.max_retries must be >= 0"))
	}
	if c.Scheduler.DequeueTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.dequeue_timeout must be positive"))
	}

	if c.Notify.Enabled() {
		if c.Notify.User == "" || c.Notify.Recipient == "" {
			errs = append(errs, errors.New("notify.user and notify.recipient are required when notify.smtp_host is set"))
		}
		if c.Notify.Port <= 0 {
			errs = append(errs, errors.New("notify.smtp_port must be positive"))
		}
	}

	if c.Molden.Enabled && (c.Molden.Interval <= 0 || c.Molden.Timeout <= 0) {
		errs = append(errs, errors.New("molden.interval and molden.timeout must be positive"))
	}

	return errors.Join(errs...)
}

// EnsureDirs creates every directory the pipeline writes into.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.Paths.InputDir,
		c.Paths.WaitingDir,
		c.Paths.WorkingDir,
		c.Paths.ProductDir,
		c.Paths.RetryDir,
		filepath.Dir(c.Paths.StateFile),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
