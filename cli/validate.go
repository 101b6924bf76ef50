package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/protocols/descriptor"
	"github.com/petal-labs/protocols/diag"
	"github.com/petal-labs/protocols/validate"
)

// defaultValidateDir is the directory checked when none is given.
const defaultValidateDir = "testnet"

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Check that every descriptor defines the required keys",
		Args:  cobra.MaximumNArgs(1),
		RunE:  printErrors(runValidate),
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().StringSlice("required", nil, "Required top-level keys (default: name,description,links,categories)")
	cmd.Flags().String("ext", "", "Descriptor file extension (default: .json)")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitFailure, "unknown format %q (want text or json)", format)
	}
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dir := stringSetting(cmd, "", cfg.Validate.Dir, defaultValidateDir)
	if len(args) == 1 {
		dir = args[0]
	}
	dir = expandPath(dir)

	required := cfg.Validate.RequiredFields
	if f := cmd.Flags().Lookup("required"); f != nil && f.Changed {
		required, _ = cmd.Flags().GetStringSlice("required")
	}

	emit, shutdown, err := startTelemetry(cmd, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	// Progress lines would corrupt the JSON document.
	progress := out
	if format == "json" {
		progress = io.Discard
	}

	v := validate.New(validate.Config{
		RequiredFields: required,
		Extension:      stringSetting(cmd, "ext", cfg.Validate.Extension, ""),
		Out:            progress,
		Logger:         slog.Default(),
		Emit:           emit,
	})

	report, err := v.Validate(cmd.Context(), dir)
	if err != nil {
		if errors.Is(err, descriptor.ErrSourceNotFound) || errors.Is(err, descriptor.ErrNotDirectory) {
			return exitError(exitFailure, "%s directory not found", dir)
		}
		return exitError(exitFailure, "validating %s: %v", dir, err)
	}

	if format == "json" {
		printReportJSON(out, report)
	} else if len(report.Files) == 0 {
		fmt.Fprintf(out, "No JSON files found in %s\n", dir)
	} else {
		printReportText(out, report)
	}

	if !report.Valid() {
		return exitError(exitFailure, "validation failed: %d of %d %s invalid",
			report.Invalid(), len(report.Files), pluralize("file", len(report.Files)))
	}
	return nil
}

// printReportText writes the diagnostics of a finished run followed by a
// summary line.
func printReportText(w io.Writer, report *validate.Report) {
	diags := report.Diagnostics()
	if len(diags) > 0 {
		fmt.Fprintln(w)
	}
	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Path)
	}

	files := len(report.Files)
	warns := diag.Warnings(diags)
	switch {
	case !diag.HasErrors(diags) && len(warns) == 0:
		fmt.Fprintf(w, "\nAll %d %s valid.\n", files, pluralize("file", files))
	case !diag.HasErrors(diags):
		fmt.Fprintf(w, "\nAll %d %s valid (%d %s).\n",
			files, pluralize("file", files), len(warns), pluralize("warning", len(warns)))
	default:
		errs := diag.Errors(diags)
		fmt.Fprintf(w, "\n%d %s invalid, %d %s, %d %s\n",
			report.Invalid(), pluralize("file", report.Invalid()),
			len(errs), pluralize("error", len(errs)),
			len(warns), pluralize("warning", len(warns)))
	}
}

type reportJSON struct {
	RunID       string                `json:"run_id"`
	Dir         string                `json:"dir"`
	Valid       bool                  `json:"valid"`
	Files       []validate.FileResult `json:"files"`
	Diagnostics []diag.Diagnostic     `json:"diagnostics"`
}

func printReportJSON(w io.Writer, report *validate.Report) {
	doc := reportJSON{
		RunID:       report.RunID,
		Dir:         report.Dir,
		Valid:       report.Valid(),
		Files:       report.Files,
		Diagnostics: report.Diagnostics(),
	}
	// Output empty arrays rather than null.
	if doc.Files == nil {
		doc.Files = []validate.FileResult{}
	}
	if doc.Diagnostics == nil {
		doc.Diagnostics = []diag.Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(doc)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
