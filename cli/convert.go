package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petal-labs/protocols/convert"
	"github.com/petal-labs/protocols/descriptor"
	"github.com/petal-labs/protocols/schedule"
	"github.com/petal-labs/protocols/store"
)

// NewConvertCmd creates the "convert" subcommand.
func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Flatten descriptors into a protocols CSV",
		Long: `Read every descriptor in the source directory and write one CSV row per
contract address, sorted by category type, category subtype and name.

With --sqlite the same rows also replace the contents of a SQLite table.
With --schedule the export re-runs on a UTC cron expression until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: printErrors(runConvert),
	}

	cmd.Flags().StringP("src", "s", convert.DefaultSource, "Source directory containing protocol descriptor files")
	cmd.Flags().StringP("out", "o", convert.DefaultOutput, "Output CSV file path")
	cmd.Flags().String("ext", "", "Descriptor file extension (default: .json)")
	cmd.Flags().String("sqlite", "", "Also store rows in this SQLite database")
	cmd.Flags().String("schedule", "", "Re-run on this five-field UTC cron expression")

	return cmd
}

func runConvert(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	src := expandPath(stringSetting(cmd, "src", cfg.Convert.Src, convert.DefaultSource))
	out := expandPath(stringSetting(cmd, "out", cfg.Convert.Out, convert.DefaultOutput))
	dsn := expandPath(stringSetting(cmd, "sqlite", cfg.Convert.SQLite, ""))
	cronExpr := stringSetting(cmd, "schedule", cfg.Convert.Schedule, "")

	if err := descriptor.CheckDir(src); err != nil {
		return exitError(exitFailure, "%v", err)
	}

	emit, shutdown, err := startTelemetry(cmd, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	convCfg := convert.Config{
		Extension: stringSetting(cmd, "ext", cfg.Convert.Extension, ""),
		Out:       cmd.OutOrStdout(),
		Logger:    slog.Default(),
		Emit:      emit,
	}
	if dsn != "" {
		st, err := store.NewSQLiteStore(store.SQLiteStoreConfig{DSN: dsn})
		if err != nil {
			return exitError(exitFailure, "%v", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				slog.Warn("closing sqlite store", "error", err)
			}
		}()
		convCfg.Sink = st
	}
	conv := convert.New(convCfg)

	job := func(ctx context.Context) error {
		_, err := conv.Convert(ctx, src, out)
		return err
	}

	if cronExpr == "" {
		if err := job(cmd.Context()); err != nil {
			return exitError(exitFailure, "%v", err)
		}
		return nil
	}

	sched, err := schedule.New(schedule.Config{
		Expr:           cronExpr,
		Job:            job,
		RunImmediately: true,
		Logger:         slog.Default(),
	})
	if err != nil {
		return exitError(exitFailure, "%v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("scheduled conversion started", "schedule", cronExpr, "src", src, "out", out)
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return exitError(exitFailure, "%v", err)
	}
	return nil
}
