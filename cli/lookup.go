package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/protocols/convert"
	"github.com/petal-labs/protocols/store"
)

// NewLookupCmd creates the "lookup" subcommand.
func NewLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup [address]",
		Short: "Find which protocol contract owns an address",
		Long: `Print the stored rows whose address matches, as CSV. Without an address
every row of the last conversion is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: printErrors(runLookup),
	}

	cmd.Flags().String("sqlite", "", "SQLite database written by convert --sqlite")

	return cmd
}

// NewRunsCmd creates the "runs" subcommand.
func NewRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List conversions recorded in the SQLite database",
		Args:  cobra.NoArgs,
		RunE:  printErrors(runRuns),
	}

	cmd.Flags().String("sqlite", "", "SQLite database written by convert --sqlite")

	return cmd
}

// openStore opens the database named by --sqlite or convert.sqlite.
func openStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	dsn := expandPath(stringSetting(cmd, "sqlite", cfg.Convert.SQLite, ""))
	if dsn == "" {
		return nil, exitError(exitFailure, "no database: pass --sqlite or set convert.sqlite in protocols.yaml")
	}

	st, err := store.NewSQLiteStore(store.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return nil, exitError(exitFailure, "%v", err)
	}
	return st, nil
}

func runLookup(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var rows []convert.Row
	if len(args) == 0 {
		rows, err = st.ListRows(cmd.Context())
	} else {
		rows, err = st.LookupAddress(cmd.Context(), args[0])
	}
	if err != nil {
		return exitError(exitFailure, "%v", err)
	}
	if len(rows) == 0 {
		if len(args) == 0 {
			return exitError(exitFailure, "no rows stored")
		}
		return exitError(exitFailure, "address %s not found", args[0])
	}

	if err := convert.WriteCSV(cmd.OutOrStdout(), rows); err != nil {
		return exitError(exitFailure, "writing rows: %v", err)
	}
	return nil
}

func runRuns(cmd *cobra.Command, _ []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	runs, err := st.Runs(cmd.Context())
	if err != nil {
		return exitError(exitFailure, "%v", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "RUN\tSTARTED\tSOURCE\tFILES\tFAILED\tROWS\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID,
			r.StartedAt.Format(time.RFC3339),
			r.Source,
			r.Files,
			r.Failed,
			r.Rows,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		)
	}
	return writer.Flush()
}
