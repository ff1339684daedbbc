// Package config loads cwatcherd's startup configuration from flags, a
// config file, and the environment, the same layered precedence the
// teacher's load-tester config used, retargeted at CWatcher's own keys.
package config

import (
	"fmt"
	"strings"
	"time"
)

// SSHConfig holds C1's pool defaults (§6: ssh.*).
type SSHConfig struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout_s"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout_s"`
	MaxPoolPerTarget int           `mapstructure:"max_pool_per_target"`
}

// PushConfig holds C10/C11's cadence defaults (§6: push.*).
type PushConfig struct {
	IntervalDefault time.Duration `mapstructure:"interval_s_default"`
	Tick            time.Duration `mapstructure:"tick_s"`
}

// BatchConfig holds C6's flush thresholds (§6: batch.*).
type BatchConfig struct {
	Size          int           `mapstructure:"size"`
	FlushInterval time.Duration `mapstructure:"flush_interval_s"`
}

// ThresholdPair is one metric's warn/crit cutoff (§6: thresholds.*).
type ThresholdPair struct {
	Warn float64 `mapstructure:"warn"`
	Crit float64 `mapstructure:"crit"`
}

// ThresholdsConfig holds C4's per-metric alert cutoffs.
type ThresholdsConfig struct {
	CPU    ThresholdPair `mapstructure:"cpu"`
	Memory ThresholdPair `mapstructure:"memory"`
	Disk   ThresholdPair `mapstructure:"disk"`
	Load   ThresholdPair `mapstructure:"load"`
}

// RetentionConfig holds C8's default policy and archive root (§6:
// retention.*, archive.*).
type RetentionConfig struct {
	DefaultDays int    `mapstructure:"default_days"`
	ArchiveDir  string `mapstructure:"archive_dir"`
}

// SecurityConfig holds C2's rate limiting and allowlist (§4.2).
type SecurityConfig struct {
	RateLimitPerSourceIP float64  `mapstructure:"rate_limit_per_source_ip"`
	RateLimitBurst       int      `mapstructure:"rate_limit_burst"`
	ExtraAllowedCommands []string `mapstructure:"extra_allowed_commands"`
}

// ServerConfig holds C9's WebSocket listen address.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LogConfig controls internal/logging's sink verbosity.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// TracingConfig controls internal/tracing's exporter, or no-op when Endpoint
// is empty.
type TracingConfig struct {
	ServiceName string   `mapstructure:"service_name"`
	Endpoint    string   `mapstructure:"otlp_endpoint"`
	Protocol    string   `mapstructure:"protocol"` // "grpc" (default) or "http"
	Insecure    bool     `mapstructure:"insecure"`
	SampleRate  float64  `mapstructure:"sample_rate"` // 0..1; 0 selects NeverSample in Init, 1 samples every trace
	Propagate   *bool    `mapstructure:"propagate"`   // nil defaults to Enabled()
}

// Enabled reports whether an OTLP endpoint is configured.
func (c TracingConfig) Enabled() bool { return c.Endpoint != "" }

// ShouldPropagate reports whether W3C trace headers should be injected on
// outbound calls, defaulting to Enabled() unless explicitly overridden.
func (c TracingConfig) ShouldPropagate() bool {
	if c.Propagate != nil {
		return *c.Propagate
	}
	return c.Enabled()
}

// SeedTarget bootstraps one monitored host at startup, ahead of any
// register_target call made through the (out-of-scope) REST façade.
type SeedTarget struct {
	Name               string        `mapstructure:"name"`
	IP                 string        `mapstructure:"ip"`
	Port               int           `mapstructure:"port"`
	User               string        `mapstructure:"user"`
	PasswordEnv        string        `mapstructure:"password_env"`
	PrivateKeyPath     string        `mapstructure:"private_key_path"`
	PassphraseEnv      string        `mapstructure:"passphrase_env"`
	MonitoringInterval time.Duration `mapstructure:"monitoring_interval_s"`
	Tags               []string      `mapstructure:"tags"`
}

// Config is cwatcherd's complete startup configuration.
type Config struct {
	ConfigFile string `mapstructure:"-"`

	SSH        SSHConfig        `mapstructure:"ssh"`
	Push       PushConfig       `mapstructure:"push"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Security   SecurityConfig   `mapstructure:"security"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`

	Targets []SeedTarget `mapstructure:"targets"`
}

// Default returns §6's documented defaults.
func Default() *Config {
	return &Config{
		SSH: SSHConfig{
			ConnectTimeout:   10 * time.Second,
			CommandTimeout:   30 * time.Second,
			MaxPoolPerTarget: 3,
		},
		Push: PushConfig{
			IntervalDefault: 30 * time.Second,
			Tick:            5 * time.Second,
		},
		Batch: BatchConfig{
			Size:          100,
			FlushInterval: 30 * time.Second,
		},
		Thresholds: ThresholdsConfig{
			CPU:    ThresholdPair{Warn: 80, Crit: 90},
			Memory: ThresholdPair{Warn: 85, Crit: 95},
			Disk:   ThresholdPair{Warn: 85, Crit: 95},
			Load:   ThresholdPair{Warn: 5, Crit: 10},
		},
		Retention: RetentionConfig{
			DefaultDays: 30,
			ArchiveDir:  "./data/archive",
		},
		Security: SecurityConfig{
			RateLimitPerSourceIP: 5,
			RateLimitBurst:       10,
		},
		Server: ServerConfig{
			ListenAddr: ":8088",
		},
		Log: LogConfig{Level: "info"},
		Tracing: TracingConfig{
			ServiceName: "cwatcherd",
		},
	}
}

// ValidationError collects every rejected field, mirroring the teacher's
// ValidationError so a single Load() failure reports every problem at once
// instead of stopping at the first.
type ValidationError struct {
	issues []string
}

func (e *ValidationError) Error() string {
	if len(e.issues) == 1 {
		return fmt.Sprintf("invalid configuration: %s", e.issues[0])
	}
	return fmt.Sprintf("invalid configuration (%d issues): %s", len(e.issues), joinIssues(e.issues))
}

// Issues returns each rejected field as a standalone message.
func (e *ValidationError) Issues() []string { return e.issues }

func (e *ValidationError) add(format string, args ...interface{}) {
	e.issues = append(e.issues, fmt.Sprintf(format, args...))
}

func joinIssues(issues []string) string {
	out := issues[0]
	for _, s := range issues[1:] {
		out += "; " + s
	}
	return out
}

// Validate rejects malformed combinations at startup, per SPEC_FULL.md's
// ambient-stack section: non-positive timeouts, sizes and rate limits, a
// push or seed-target interval < 10s, misordered thresholds, an empty
// archive dir (always required), an unknown log level, a seed target
// without a credential source, and the like. Cron expressions are not
// part of Config and are not checked here.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if c.SSH.ConnectTimeout <= 0 {
		verr.add("ssh.connect_timeout_s must be positive")
	}
	if c.SSH.CommandTimeout <= 0 {
		verr.add("ssh.command_timeout_s must be positive")
	}
	if c.SSH.MaxPoolPerTarget <= 0 {
		verr.add("ssh.max_pool_per_target must be positive")
	}

	if c.Push.IntervalDefault < 10*time.Second {
		verr.add("push.interval_s_default must be >= 10s (§3 invariant on Target.MonitoringInterval)")
	}
	if c.Push.Tick <= 0 {
		verr.add("push.tick_s must be positive")
	}

	if c.Batch.Size <= 0 {
		verr.add("batch.size must be positive")
	}
	if c.Batch.FlushInterval <= 0 {
		verr.add("batch.flush_interval_s must be positive")
	}

	validatePair(verr, "cpu", c.Thresholds.CPU)
	validatePair(verr, "memory", c.Thresholds.Memory)
	validatePair(verr, "disk", c.Thresholds.Disk)
	validatePair(verr, "load", c.Thresholds.Load)

	if c.Retention.DefaultDays <= 0 {
		verr.add("retention.default_days must be positive")
	}
	if c.Retention.ArchiveDir == "" {
		verr.add("archive.dir must be set")
	}

	if c.Tracing.Enabled() {
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1.0 {
			verr.add("tracing.sample_rate must be between 0.0 and 1.0, got %g", c.Tracing.SampleRate)
		}
		switch strings.ToLower(c.Tracing.Protocol) {
		case "", "grpc", "http":
		default:
			verr.add("tracing.protocol must be \"grpc\" or \"http\", got %q", c.Tracing.Protocol)
		}
	}

	if c.Security.RateLimitPerSourceIP <= 0 {
		verr.add("security.rate_limit_per_source_ip must be positive")
	}
	if c.Security.RateLimitBurst <= 0 {
		verr.add("security.rate_limit_burst must be positive")
	}

	if c.Server.ListenAddr == "" {
		verr.add("server.listen_addr must be set")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		verr.add("log.level must be one of debug|info|warn|error, got %q", c.Log.Level)
	}

	for i, target := range c.Targets {
		if target.Name == "" {
			verr.add("targets[%d].name must be set", i)
		}
		if target.IP == "" {
			verr.add("targets[%d].ip must be set", i)
		}
		if target.User == "" {
			verr.add("targets[%d].user must be set", i)
		}
		if target.PasswordEnv == "" && target.PrivateKeyPath == "" {
			verr.add("targets[%d] (%s) needs password_env or private_key_path", i, target.Name)
		}
		if target.MonitoringInterval != 0 && target.MonitoringInterval < 10*time.Second {
			verr.add("targets[%d].monitoring_interval_s must be >= 10s", i)
		}
	}

	if len(verr.issues) > 0 {
		return verr
	}
	return nil
}

func validatePair(verr *ValidationError, name string, p ThresholdPair) {
	if p.Warn <= 0 || p.Crit <= 0 {
		verr.add("thresholds.%s.warn/crit must be positive", name)
	}
	if p.Warn >= p.Crit {
		verr.add("thresholds.%s.warn must be less than thresholds.%s.crit", name, name)
	}
}
