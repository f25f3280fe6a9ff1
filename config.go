package jerry

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jirevwe/jerry/pool"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddress = "127.0.0.1:7878"
	DefaultWorkers = 4
)

// Config is the server configuration, usually read from a YAML file and
// overridden by command line flags.
type Config struct {
	Address string `yaml:"address"`

	// Workers is the pool size
	Workers int `yaml:"workers"`

	// ExecutorsPerWorker defaults to Workers when 0
	ExecutorsPerWorker int    `yaml:"executors_per_worker"`
	Topology           string `yaml:"topology"`
	QueueCapacity      int    `yaml:"queue_capacity"`
	PanicPolicy        string `yaml:"panic_policy"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	TemplatesDir string        `yaml:"templates_dir"`

	// JournalPath enables the sqlite job journal when set
	JournalPath string `yaml:"journal_path"`

	// MetricsAddress enables the Prometheus endpoint when set
	MetricsAddress string `yaml:"metrics_address"`

	LogLevel string `yaml:"log_level"`
}

func DefaultConfig() *Config {
	return &Config{
		Address:     DefaultAddress,
		Workers:     DefaultWorkers,
		Topology:    pool.Hierarchical.String(),
		PanicPolicy: pool.ExitOnPanic.String(),
		ReadTimeout: 5 * time.Second,
		LogLevel:    "info",
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.Workers <= 0 {
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.ExecutorsPerWorker < 0 {
		return errors.Errorf("executors_per_worker must not be negative, got %d", c.ExecutorsPerWorker)
	}
	if c.QueueCapacity < 0 {
		return errors.Errorf("queue_capacity must not be negative, got %d", c.QueueCapacity)
	}
	if _, err := ParseTopology(c.Topology); err != nil {
		return err
	}
	if _, err := ParsePanicPolicy(c.PanicPolicy); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// PoolOptions translates the pool settings of c.
func (c *Config) PoolOptions() ([]pool.Option, error) {
	topology, err := ParseTopology(c.Topology)
	if err != nil {
		return nil, err
	}

	policy, err := ParsePanicPolicy(c.PanicPolicy)
	if err != nil {
		return nil, err
	}

	opts := []pool.Option{
		pool.WithTopology(topology),
		pool.WithPanicPolicy(policy),
		pool.WithQueueCapacity(c.QueueCapacity),
	}
	if c.ExecutorsPerWorker > 0 {
		opts = append(opts, pool.WithExecutorsPerWorker(c.ExecutorsPerWorker))
	}

	return opts, nil
}

func ParseTopology(s string) (pool.Topology, error) {
	switch strings.ToLower(s) {
	case "", pool.Hierarchical.String():
		return pool.Hierarchical, nil
	case pool.Flat.String():
		return pool.Flat, nil
	default:
		return 0, errors.Errorf("unknown topology %q", s)
	}
}

func ParsePanicPolicy(s string) (pool.PanicPolicy, error) {
	switch strings.ToLower(s) {
	case "", pool.ExitOnPanic.String():
		return pool.ExitOnPanic, nil
	case pool.RecoverOnPanic.String():
		return pool.RecoverOnPanic, nil
	default:
		return 0, errors.Errorf("unknown panic policy %q", s)
	}
}

func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.Wrapf(err, "log level %q", s)
	}
	return level, nil
}
