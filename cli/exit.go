package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// exitFailure is the exit code for every failure.
const exitFailure = 1

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// printErrors wraps a RunE so a failure is printed as "Error: <msg>" on the
// command's stdout, alongside the progress lines. JSON output keeps stdout
// to a single document, so there the message goes to stderr.
func printErrors(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err == nil {
			return nil
		}
		w := cmd.OutOrStdout()
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			w = cmd.ErrOrStderr()
		}
		fmt.Fprintf(w, "Error: %v\n", err)
		return err
	}
}
