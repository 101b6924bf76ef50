package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/protocols/config"
	"github.com/petal-labs/protocols/events"
	protootel "github.com/petal-labs/protocols/otel"
)

// NewRootCmd creates the "protocols" command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "protocols",
		Short: "Protocol descriptor tools",
		Long:  "protocols validates protocol descriptor files and flattens them into a CSV for database ingestion.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		// Command errors are printed to stdout by printErrors.
		SilenceErrors:     true,
		PersistentPreRunE: configureLogging,
	}

	root.PersistentFlags().String("config", "", "Path to protocols.yaml (default: ./protocols.yaml, then ~/.protocols/config.yaml)")
	root.PersistentFlags().BoolP("verbose", "", false, "Enable verbose/debug logging")
	root.PersistentFlags().BoolP("quiet", "", false, "Suppress all output except errors")
	root.PersistentFlags().String("otlp-endpoint", "", "Export traces to this OTLP/HTTP collector")
	root.PersistentFlags().Bool("otlp-insecure", false, "Use plain HTTP for the OTLP exporter")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("protocols version %s\n", version))

	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewConvertCmd())
	root.AddCommand(NewLookupCmd())
	root.AddCommand(NewRunsCmd())
	return root
}

// configureLogging installs the default slog logger on stderr.
func configureLogging(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")

	level := slog.LevelWarn
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}

// loadConfig resolves and reads protocols.yaml. A missing implicit config
// yields an empty File.
func loadConfig(cmd *cobra.Command) (config.File, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := config.DiscoverPath(explicit)
	if err != nil {
		return config.File{}, exitError(exitFailure, "%v", err)
	}
	if !found {
		return config.File{}, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.File{}, exitError(exitFailure, "%v", err)
	}
	slog.Debug("loaded config", "path", path)
	return cfg, nil
}

// stringSetting returns the flag value when set on the command line, else
// the config value, else def.
func stringSetting(cmd *cobra.Command, flag, fromConfig, def string) string {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		return f.Value.String()
	}
	if fromConfig != "" {
		return fromConfig
	}
	return def
}

// expandPath expands a leading "~" in a user supplied path.
func expandPath(p string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return config.ExpandHome(p, home)
}

// startTelemetry configures trace export and returns the emitter feeding
// OpenTelemetry, plus a shutdown func to defer.
func startTelemetry(cmd *cobra.Command, cfg config.File) (events.Emitter, func(), error) {
	endpoint := stringSetting(cmd, "otlp-endpoint", cfg.Telemetry.OTLPEndpoint, "")
	insecure, _ := cmd.Flags().GetBool("otlp-insecure")

	shutdown, err := protootel.Setup(cmd.Context(), protootel.SetupConfig{
		Endpoint: endpoint,
		Insecure: insecure || cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, nil, exitError(exitFailure, "initializing telemetry: %v", err)
	}

	emit, err := protootel.GlobalEmitter()
	if err != nil {
		_ = shutdown(context.Background())
		return nil, nil, exitError(exitFailure, "initializing telemetry: %v", err)
	}

	return emit, func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}, nil
}
