package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a
// Config, applying §6's layered precedence: built-in defaults, then the
// config file, then CLI flags.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	cfgViper.SetEnvPrefix("cwatcher")
	cfgViper.AutomaticEnv()

	settings := cfgViper.AllSettings()

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config
// struct, one nested section at a time.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "ssh"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("ssh: %w", err)
		}
		if err := applyDuration(section, "connect_timeout_s", &cfg.SSH.ConnectTimeout); err != nil {
			return fmt.Errorf("ssh.connect_timeout_s: %w", err)
		}
		if err := applyDuration(section, "command_timeout_s", &cfg.SSH.CommandTimeout); err != nil {
			return fmt.Errorf("ssh.command_timeout_s: %w", err)
		}
		if err := applyInt(section, "max_pool_per_target", &cfg.SSH.MaxPoolPerTarget); err != nil {
			return fmt.Errorf("ssh.max_pool_per_target: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "push"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
		if err := applyDuration(section, "interval_s_default", &cfg.Push.IntervalDefault); err != nil {
			return fmt.Errorf("push.interval_s_default: %w", err)
		}
		if err := applyDuration(section, "tick_s", &cfg.Push.Tick); err != nil {
			return fmt.Errorf("push.tick_s: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "batch"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		if err := applyInt(section, "size", &cfg.Batch.Size); err != nil {
			return fmt.Errorf("batch.size: %w", err)
		}
		if err := applyDuration(section, "flush_interval_s", &cfg.Batch.FlushInterval); err != nil {
			return fmt.Errorf("batch.flush_interval_s: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		pairs := []struct {
			key string
			dst *ThresholdPair
		}{
			{"cpu", &cfg.Thresholds.CPU},
			{"memory", &cfg.Thresholds.Memory},
			{"disk", &cfg.Thresholds.Disk},
			{"load", &cfg.Thresholds.Load},
		}
		for _, p := range pairs {
			if pr, ok := lookupSetting(section, p.key); ok {
				sub, err := toStringKeyMap(pr)
				if err != nil {
					return fmt.Errorf("thresholds.%s: %w", p.key, err)
				}
				if err := applyFloat(sub, "warn", &p.dst.Warn); err != nil {
					return fmt.Errorf("thresholds.%s.warn: %w", p.key, err)
				}
				if err := applyFloat(sub, "crit", &p.dst.Crit); err != nil {
					return fmt.Errorf("thresholds.%s.crit: %w", p.key, err)
				}
			}
		}
	}

	if raw, ok := lookupSetting(settings, "retention"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("retention: %w", err)
		}
		if err := applyInt(section, "default_days", &cfg.Retention.DefaultDays); err != nil {
			return fmt.Errorf("retention.default_days: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "archive"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		if err := applyString(section, "dir", &cfg.Retention.ArchiveDir); err != nil {
			return fmt.Errorf("archive.dir: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "security"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("security: %w", err)
		}
		if err := applyFloat(section, "rate_limit_per_source_ip", &cfg.Security.RateLimitPerSourceIP); err != nil {
			return fmt.Errorf("security.rate_limit_per_source_ip: %w", err)
		}
		if err := applyInt(section, "rate_limit_burst", &cfg.Security.RateLimitBurst); err != nil {
			return fmt.Errorf("security.rate_limit_burst: %w", err)
		}
		if raw, ok := lookupSetting(section, "extra_allowed_commands"); ok {
			vals, err := asStringSlice(raw)
			if err != nil {
				return fmt.Errorf("security.extra_allowed_commands: %w", err)
			}
			cfg.Security.ExtraAllowedCommands = vals
		}
	}

	if raw, ok := lookupSetting(settings, "server"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		if err := applyString(section, "listen_addr", &cfg.Server.ListenAddr); err != nil {
			return fmt.Errorf("server.listen_addr: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
		if err := applyString(section, "level", &cfg.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		section, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		if err := applyString(section, "service_name", &cfg.Tracing.ServiceName); err != nil {
			return fmt.Errorf("tracing.service_name: %w", err)
		}
		if err := applyString(section, "otlp_endpoint", &cfg.Tracing.Endpoint); err != nil {
			return fmt.Errorf("tracing.otlp_endpoint: %w", err)
		}
		if err := applyString(section, "protocol", &cfg.Tracing.Protocol); err != nil {
			return fmt.Errorf("tracing.protocol: %w", err)
		}
		if err := applyBool(section, "insecure", &cfg.Tracing.Insecure); err != nil {
			return fmt.Errorf("tracing.insecure: %w", err)
		}
		if err := applyFloat(section, "sample_rate", &cfg.Tracing.SampleRate); err != nil {
			return fmt.Errorf("tracing.sample_rate: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "targets"); ok {
		targets, err := parseSeedTargets(raw)
		if err != nil {
			return fmt.Errorf("targets: %w", err)
		}
		cfg.Targets = targets
	}

	return nil
}

func parseSeedTargets(value interface{}) ([]SeedTarget, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	targets := make([]SeedTarget, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		target, err := buildSeedTarget(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func buildSeedTarget(settings map[string]interface{}) (SeedTarget, error) {
	var t SeedTarget
	if err := applyString(settings, "name", &t.Name); err != nil {
		return t, fmt.Errorf("name: %w", err)
	}
	if err := applyString(settings, "ip", &t.IP); err != nil {
		return t, fmt.Errorf("ip: %w", err)
	}
	if err := applyInt(settings, "port", &t.Port); err != nil {
		return t, fmt.Errorf("port: %w", err)
	}
	if err := applyString(settings, "user", &t.User); err != nil {
		return t, fmt.Errorf("user: %w", err)
	}
	if err := applyString(settings, "password_env", &t.PasswordEnv); err != nil {
		return t, fmt.Errorf("password_env: %w", err)
	}
	if err := applyString(settings, "private_key_path", &t.PrivateKeyPath); err != nil {
		return t, fmt.Errorf("private_key_path: %w", err)
	}
	if err := applyString(settings, "passphrase_env", &t.PassphraseEnv); err != nil {
		return t, fmt.Errorf("passphrase_env: %w", err)
	}
	if err := applyDuration(settings, "monitoring_interval_s", &t.MonitoringInterval); err != nil {
		return t, fmt.Errorf("monitoring_interval_s: %w", err)
	}
	if raw, ok := lookupSetting(settings, "tags"); ok {
		tags, err := asStringSlice(raw)
		if err != nil {
			return t, fmt.Errorf("tags: %w", err)
		}
		t.Tags = tags
	}
	if t.Port == 0 {
		t.Port = 22
	}
	return t, nil
}

func applyString(settings map[string]interface{}, key string, dst *string) error {
	raw, ok := lookupSetting(settings, key)
	if !ok {
		return nil
	}
	val, err := asString(raw)
	if err != nil {
		return err
	}
	*dst = strings.TrimSpace(val)
	return nil
}

func applyInt(settings map[string]interface{}, key string, dst *int) error {
	raw, ok := lookupSetting(settings, key)
	if !ok {
		return nil
	}
	val, err := asInt(raw)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func applyFloat(settings map[string]interface{}, key string, dst *float64) error {
	raw, ok := lookupSetting(settings, key)
	if !ok {
		return nil
	}
	val, err := asFloat64(raw)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func applyBool(settings map[string]interface{}, key string, dst *bool) error {
	raw, ok := lookupSetting(settings, key)
	if !ok {
		return nil
	}
	val, err := asBool(raw)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func applyDuration(settings map[string]interface{}, key string, dst *time.Duration) error {
	raw, ok := lookupSetting(settings, key)
	if !ok {
		return nil
	}
	val, err := asDuration(raw)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}
