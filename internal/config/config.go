// Package config loads the warpmaster TOML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/internal/scheduler"
)

//go:embed config.example.toml
var exampleConf []byte

// FileName is the default configuration file name.
const FileName = "config.toml"

var (
	// ErrExists is returned by WriteExample when the target already exists.
	ErrExists = errors.New("config file already exists")
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("invalid configuration")
)

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full configuration.
type Config struct {
	Daemon   DaemonConfig   `toml:"daemon"`
	Master   MasterConfig   `toml:"master"`
	Cleanup  CleanupConfig  `toml:"cleanup"`
	Signals  SignalsConfig  `toml:"signals"`
	Schedule ScheduleConfig `toml:"schedule"`
	Log      LogConfig      `toml:"log"`
}

// DaemonConfig configures the daemon process and its control plane.
type DaemonConfig struct {
	Listen          string   `toml:"listen"`
	RPCSecret       string   `toml:"rpc_secret"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	DBPath          string   `toml:"db_path"`
	PruneAfter      Duration `toml:"prune_after"`
}

// MasterConfig tunes the coordinator.
type MasterConfig struct {
	StatusTimeout    Duration `toml:"status_timeout"`
	StatusRetryDelay Duration `toml:"status_retry_delay"`
	StatusAttempts   int      `toml:"status_attempts"`
	SpawnConcurrency int      `toml:"spawn_concurrency"`
}

// CleanupConfig holds the simulated cleanup step durations.
type CleanupConfig struct {
	RecordDelay   Duration `toml:"record_delay"`
	FinalizeDelay Duration `toml:"finalize_delay"`
}

// SignalsConfig configures signal queuing.
type SignalsConfig struct {
	TTL Duration `toml:"ttl"`
}

// ScheduleConfig configures periodic redeclaration.
type ScheduleConfig struct {
	Manifest string `toml:"manifest"`
	Cron     string `toml:"cron"`
}

// Enabled reports whether periodic redeclaration is configured.
func (s ScheduleConfig) Enabled() bool {
	return s.Manifest != "" && s.Cron != ""
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration of the embedded example file.
func Default() *Config {
	var c Config
	if err := toml.Unmarshal(exampleConf, &c); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &c
}

// Example returns the embedded example file.
func Example() []byte {
	out := make([]byte, len(exampleConf))
	copy(out, exampleConf)
	return out
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}
	return c, nil
}

// Resolve picks the configuration file: explicit, then $WARPMASTER_CONFIG,
// then DefaultPath. A missing file at the default location yields the
// defaults; a missing explicit file is an error. Environment overrides are
// applied and the result validated.
func Resolve(fs afero.Fs, explicit string, getenv func(string) string) (*Config, string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	path, required := explicit, explicit != ""
	if path == "" {
		if path = getenv(common.ConfigPathEnv); path != "" {
			required = true
		} else {
			path = DefaultPath()
		}
	}

	var c *Config
	if ok, _ := afero.Exists(fs, path); ok || required {
		loaded, err := Load(fs, path)
		if err != nil {
			return nil, path, err
		}
		c = loaded
	} else {
		c = Default()
	}
	c.ApplyEnv(getenv)
	if err := c.Validate(); err != nil {
		return nil, path, err
	}
	return c, path, nil
}

// DefaultPath returns <user config dir>/warpmaster/config.toml, or
// config.toml in the working directory when no config dir is known.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(dir, "warpmaster", FileName)
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(common.RPCSecretEnv); v != "" {
		c.Daemon.RPCSecret = v
	}
	if v := getenv(common.ListenEnv); v != "" {
		c.Daemon.Listen = v
	}
	if v := getenv(common.DebugEnv); v != "" && v != "0" && v != "false" {
		c.Log.Level = "debug"
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Daemon.Listen == "" {
		return fmt.Errorf("%w: daemon.listen is empty", ErrInvalid)
	}
	if c.Master.StatusAttempts < 1 {
		return fmt.Errorf("%w: master.status_attempts must be at least 1", ErrInvalid)
	}
	if c.Master.SpawnConcurrency < 1 {
		return fmt.Errorf("%w: master.spawn_concurrency must be at least 1", ErrInvalid)
	}
	for name, d := range map[string]Duration{
		"daemon.shutdown_timeout":   c.Daemon.ShutdownTimeout,
		"master.status_timeout":     c.Master.StatusTimeout,
		"master.status_retry_delay": c.Master.StatusRetryDelay,
		"signals.ttl":               c.Signals.TTL,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
		}
	}
	if (c.Schedule.Manifest == "") != (c.Schedule.Cron == "") {
		return fmt.Errorf("%w: schedule.manifest and schedule.cron must be set together", ErrInvalid)
	}
	if c.Schedule.Cron != "" {
		if err := scheduler.ValidateCron(c.Schedule.Cron); err != nil {
			return fmt.Errorf("%w: schedule.cron: %v", ErrInvalid, err)
		}
	}
	return nil
}

// WriteExample writes the example configuration to path, creating parent
// directories. It refuses to overwrite an existing file.
func WriteExample(fs afero.Fs, path string) error {
	if ok, _ := afero.Exists(fs, path); ok {
		return fmt.Errorf("%w at %s", ErrExists, path)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, exampleConf, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
