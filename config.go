package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// SweepRange selects the corruption percentages to simulate.
type SweepRange struct {
	FromPercent int `yaml:"from_percent"`
	ToPercent   int `yaml:"to_percent"`
	StepPercent int `yaml:"step_percent"`
}

type Config struct {
	Slots     int        `yaml:"slots"`
	BatchSize int        `yaml:"batch_size"`
	MaxRounds int        `yaml:"max_rounds"`
	Trials    int        `yaml:"trials"`
	Sweep     SweepRange `yaml:"sweep"`

	// Fraction, when set, replaces the sweep with a single configuration.
	Fraction *float64 `yaml:"fraction"`

	Workers    int    `yaml:"workers"` // 0 means one per CPU
	Seed       int64  `yaml:"seed"`    // 0 means derived from the clock
	Verbose    bool   `yaml:"verbose"`
	DBPath     string `yaml:"db"`
	LogLevel   string `yaml:"log_level"`

	// BatchChecks trades the per-round scan of every corrupted cup for a
	// scan of the batch's corrupted cups plus one full scan per trial.
	BatchChecks bool `yaml:"batch_checks"`
	FullChecks  bool `yaml:"full_checks"`
}

func DefaultConfig() *Config {
	return &Config{
		Slots:     1 << 14,
		BatchSize: 128,
		MaxRounds: 4000,
		Trials:    1000,
		Sweep: SweepRange{
			FromPercent: 1,
			ToPercent:   49,
			StepPercent: 1,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(body, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Slots < 2 {
		return invalid("slots must be at least 2, got %d", c.Slots)
	}
	if c.BatchSize < 1 || c.BatchSize > c.Slots {
		return invalid("batch_size must be in [1, %d], got %d", c.Slots, c.BatchSize)
	}
	if c.MaxRounds < 1 {
		return invalid("max_rounds must be positive, got %d", c.MaxRounds)
	}
	if c.Trials < 1 {
		return invalid("trials must be positive, got %d", c.Trials)
	}
	if c.Workers < 0 {
		return invalid("workers must not be negative, got %d", c.Workers)
	}

	var fractions []float64
	if c.Fraction != nil {
		fractions = []float64{*c.Fraction}
	} else {
		s := c.Sweep
		if s.StepPercent < 1 {
			return invalid("sweep step_percent must be positive, got %d", s.StepPercent)
		}
		if s.FromPercent > s.ToPercent {
			return invalid("sweep from_percent %d is above to_percent %d", s.FromPercent, s.ToPercent)
		}
		fractions = []float64{float64(s.FromPercent) / 100.0, float64(s.ToPercent) / 100.0}
	}
	for _, f := range fractions {
		if f < 0 || f >= 1 {
			return invalid("corruption fraction must be in [0, 1), got %v", f)
		}
		if k := corruptedCount(c.Slots, f); k > c.Slots-1 {
			return invalid("fraction %v corrupts %d of %d slots", f, k, c.Slots)
		}
	}
	return nil
}

// EffectiveWorkers resolves Workers = 0 to the CPU count.
func (c *Config) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// parseFlags builds the configuration from the defaults, an optional YAML
// file, and the command line. Flags override the file only when given.
func parseFlags(args []string, stderr io.Writer) (*Config, error) {
	def := DefaultConfig()
	fs := flag.NewFlagSet("shufflesim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath = fs.String("config", "", "Path to YAML config file")
		slots      = fs.Int("slots", def.Slots, "Number of slots (N)")
		batch      = fs.Int("batch", def.BatchSize, "Slots levelled per round")
		rounds     = fs.Int("rounds", def.MaxRounds, "Maximum rounds per trial")
		trials     = fs.Int("trials", def.Trials, "Trials per configuration")
		from       = fs.Int("from", def.Sweep.FromPercent, "First corruption percentage of the sweep")
		to         = fs.Int("to", def.Sweep.ToPercent, "Last corruption percentage of the sweep")
		step       = fs.Int("step", def.Sweep.StepPercent, "Corruption percentage step")
		fraction   = fs.Float64("fraction", 0, "Run a single configuration with this corruption fraction")
		workers    = fs.Int("workers", def.Workers, "Parallel workers (0 = one per CPU)")
		seed       = fs.Int64("seed", def.Seed, "Base seed (0 = derive from clock)")
		verbose    = fs.Bool("verbose", def.Verbose, "Print the per-round success curve")
		batchCheck = fs.Bool("batch-checks", def.BatchChecks, "Check only the batch's corrupted slots each round (full scan per trial)")
		fullChecks = fs.Bool("full-checks", def.FullChecks, "Also recompute the max water each round")
		dbPath     = fs.String("db", def.DBPath, "Path to SQLite database for results (empty = none)")
		logLevel   = fs.String("log-level", def.LogLevel, "Log level: debug, info, warn, error")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := def
	if *configPath != "" {
		loaded, err := LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "slots":
			cfg.Slots = *slots
		case "batch":
			cfg.BatchSize = *batch
		case "rounds":
			cfg.MaxRounds = *rounds
		case "trials":
			cfg.Trials = *trials
		case "from":
			cfg.Sweep.FromPercent = *from
		case "to":
			cfg.Sweep.ToPercent = *to
		case "step":
			cfg.Sweep.StepPercent = *step
		case "fraction":
			v := *fraction
			cfg.Fraction = &v
		case "workers":
			cfg.Workers = *workers
		case "seed":
			cfg.Seed = *seed
		case "verbose":
			cfg.Verbose = *verbose
		case "batch-checks":
			cfg.BatchChecks = *batchCheck
		case "full-checks":
			cfg.FullChecks = *fullChecks
		case "db":
			cfg.DBPath = *dbPath
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
