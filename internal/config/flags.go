package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cwatcherd",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (YAML or JSON)")

	flags.Duration("ssh-connect-timeout", 10*time.Second, "Default SSH dial timeout")
	flags.Duration("ssh-command-timeout", 30*time.Second, "Default SSH command timeout")
	flags.Int("ssh-max-pool-per-target", 3, "Upper bound for per-target connection pool")

	flags.Duration("push-interval", 30*time.Second, "Default per-target push interval")
	flags.Duration("push-tick", 5*time.Second, "Main push loop wakeup interval")

	flags.Int("batch-size", 100, "Batch writer flush threshold by row count")
	flags.Duration("batch-flush-interval", 30*time.Second, "Batch writer flush threshold by time")

	flags.Int("retention-days", 30, "Default retention window in days")
	flags.String("archive-dir", "./data/archive", "Root directory for JSON archives")

	flags.String("listen-addr", ":8088", "WebSocket hub listen address")
	flags.String("log-level", "info", "Log level: debug|info|warn|error")

	flags.String("tracing-endpoint", "", "OTLP exporter endpoint (empty disables tracing)")
	flags.String("tracing-service-name", "cwatcherd", "Service name reported in spans")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the config file (§6's layered precedence: flags
// beat file beat built-in defaults).
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	type durationFlag struct {
		name string
		dst  *time.Duration
	}
	durations := []durationFlag{
		{"ssh-connect-timeout", &cfg.SSH.ConnectTimeout},
		{"ssh-command-timeout", &cfg.SSH.CommandTimeout},
		{"push-interval", &cfg.Push.IntervalDefault},
		{"push-tick", &cfg.Push.Tick},
		{"batch-flush-interval", &cfg.Batch.FlushInterval},
	}
	for _, df := range durations {
		if !fs.Changed(df.name) {
			continue
		}
		val, err := fs.GetDuration(df.name)
		if err != nil {
			return err
		}
		*df.dst = val
	}

	type intFlag struct {
		name string
		dst  *int
	}
	ints := []intFlag{
		{"ssh-max-pool-per-target", &cfg.SSH.MaxPoolPerTarget},
		{"batch-size", &cfg.Batch.Size},
		{"retention-days", &cfg.Retention.DefaultDays},
	}
	for _, f := range ints {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetInt(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	type stringFlag struct {
		name string
		dst  *string
	}
	strs := []stringFlag{
		{"archive-dir", &cfg.Retention.ArchiveDir},
		{"listen-addr", &cfg.Server.ListenAddr},
		{"log-level", &cfg.Log.Level},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-service-name", &cfg.Tracing.ServiceName},
	}
	for _, f := range strs {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	return nil
}
