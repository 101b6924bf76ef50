// Package validate checks that every descriptor in a directory carries the
// required top-level keys.
package validate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/petal-labs/protocols/descriptor"
	"github.com/petal-labs/protocols/diag"
	"github.com/petal-labs/protocols/events"
)

// ToolName identifies the validator in emitted events.
const ToolName = "validate"

// DefaultRequiredFields are the keys every descriptor must define.
var DefaultRequiredFields = []string{"name", "description", "links", "categories"}

// Config configures a Validator. Zero values select the defaults.
type Config struct {
	RequiredFields []string
	Extension      string

	// Out receives the per-file progress lines. Nil discards them.
	Out    io.Writer
	Logger *slog.Logger
	Emit   events.Emitter
}

// Validator checks descriptor files for required keys.
type Validator struct {
	required []string
	ext      string
	out      io.Writer
	logger   *slog.Logger
	emit     events.Emitter
}

// New creates a Validator.
func New(cfg Config) *Validator {
	if len(cfg.RequiredFields) == 0 {
		cfg.RequiredFields = DefaultRequiredFields
	}
	if cfg.Extension == "" {
		cfg.Extension = descriptor.DefaultExtension
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Validator{
		required: append([]string(nil), cfg.RequiredFields...),
		ext:      cfg.Extension,
		out:      cfg.Out,
		logger:   cfg.Logger,
		emit:     cfg.Emit,
	}
}

// FileResult is the verdict for one descriptor file.
type FileResult struct {
	Path    string   `json:"path"`
	Missing []string `json:"missing,omitempty"`
	Error   string   `json:"error,omitempty"`

	// Warning flags a categories value the converter cannot use. It does
	// not make the file invalid.
	Warning string `json:"warning,omitempty"`
}

// Valid reports whether the file parsed and had every required key.
func (r FileResult) Valid() bool {
	return r.Error == "" && len(r.Missing) == 0
}

// Diagnostics converts the verdict to diagnostics.
func (r FileResult) Diagnostics() []diag.Diagnostic {
	if r.Error != "" {
		return []diag.Diagnostic{{
			Code:     diag.CodeParse,
			Severity: diag.SeverityError,
			Message:  fmt.Sprintf("Error reading file: %s", r.Error),
			Path:     r.Path,
		}}
	}
	diags := make([]diag.Diagnostic, 0, len(r.Missing))
	for _, field := range r.Missing {
		diags = append(diags, diag.Diagnostic{
			Code:     diag.CodeMissingField,
			Severity: diag.SeverityError,
			Message:  fmt.Sprintf("missing required field %q", field),
			Path:     r.Path,
			Field:    field,
		})
	}
	if r.Warning != "" {
		diags = append(diags, diag.Diagnostic{
			Code:     diag.CodeCategory,
			Severity: diag.SeverityWarning,
			Message:  r.Warning,
			Path:     r.Path,
			Field:    "categories",
		})
	}
	return diags
}

// Report is the outcome of validating a directory.
type Report struct {
	RunID string       `json:"run_id"`
	Dir   string       `json:"dir"`
	Files []FileResult `json:"files"`
}

// Valid is true when every file is valid. A report with no files is valid.
func (r *Report) Valid() bool {
	for _, f := range r.Files {
		if !f.Valid() {
			return false
		}
	}
	return true
}

// Invalid returns the number of failing files.
func (r *Report) Invalid() int {
	n := 0
	for _, f := range r.Files {
		if !f.Valid() {
			n++
		}
	}
	return n
}

// Diagnostics collects the diagnostics of every file.
func (r *Report) Diagnostics() []diag.Diagnostic {
	var diags []diag.Diagnostic
	for _, f := range r.Files {
		diags = append(diags, f.Diagnostics()...)
	}
	return diags
}

// Validate checks every descriptor directly inside dir. A missing or
// non-directory dir is returned as an error before any file is read.
// Unreadable or malformed files are recorded as invalid and the batch
// continues.
func (v *Validator) Validate(ctx context.Context, dir string) (report *Report, err error) {
	paths, err := descriptor.Discover(dir, v.ext)
	if err != nil {
		return nil, err
	}

	report = &Report{RunID: events.NewRunID(), Dir: dir}
	start := time.Now()
	started := events.New(events.RunStarted, report.RunID, ToolName)
	started.Payload["dir"] = dir
	started.Payload["files"] = len(paths)
	v.emit.Emit(started)
	defer func() { v.finish(report, time.Since(start), err) }()

	if len(paths) == 0 {
		v.logger.Debug("no descriptor files found", "dir", dir)
	} else {
		fmt.Fprintf(v.out, "Validating %d files...\n\n", len(paths))
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Files = append(report.Files, v.validateFile(report.RunID, path))
	}
	return report, nil
}

// finish emits RunFinished, also for runs cut short by err.
func (v *Validator) finish(report *Report, elapsed time.Duration, err error) {
	finished := events.New(events.RunFinished, report.RunID, ToolName)
	finished.Elapsed = elapsed
	finished.Payload["files"] = len(report.Files)
	finished.Payload["failed"] = report.Invalid()
	finished.Payload["valid"] = err == nil && report.Valid()
	if err != nil {
		finished.Payload["error"] = err.Error()
	}
	v.emit.Emit(finished)

	v.logger.Debug("validation finished",
		"run_id", report.RunID, "files", len(report.Files), "invalid", report.Invalid(), "error", err)
}

func (v *Validator) validateFile(runID, path string) FileResult {
	start := time.Now()
	result := FileResult{Path: path}

	raw, err := descriptor.LoadRaw(path)
	if err != nil {
		result.Error = err.Error()
		fmt.Fprintf(v.out, "Error reading %s: %v\n", path, err)
	} else {
		result.Missing = descriptor.MissingKeys(raw, v.required)
		result.Warning = categoryWarning(raw)
		if len(result.Missing) > 0 {
			fmt.Fprintf(v.out, "%s missing: %s\n", path, strings.Join(result.Missing, ", "))
		} else {
			fmt.Fprintf(v.out, "%s is valid.\n", path)
		}
	}

	kind := events.FileProcessed
	if !result.Valid() {
		kind = events.FileFailed
	}
	e := events.New(kind, runID, ToolName)
	e.File = path
	e.Elapsed = time.Since(start)
	if result.Error != "" {
		e.Payload["error"] = result.Error
	}
	if len(result.Missing) > 0 {
		e.Payload["missing"] = strings.Join(result.Missing, ",")
		e.Payload["error"] = "missing: " + strings.Join(result.Missing, ", ")
	}
	v.emit.Emit(e)
	return result
}

// categoryWarning reports why a present categories value would make the
// converter skip the file. An absent key is left to the required-key check.
func categoryWarning(raw map[string]any) string {
	value, ok := raw["categories"]
	if !ok {
		return ""
	}
	list, ok := value.([]any)
	if !ok {
		return "categories is not a list; convert will skip this file"
	}
	if len(list) == 0 {
		return "no categories; convert will skip this file"
	}
	first, ok := list[0].(string)
	if !ok {
		return "first category is not a string; convert will skip this file"
	}
	if _, err := descriptor.ParseCategory(first); err != nil {
		return fmt.Sprintf("%v; convert will skip this file", err)
	}
	return ""
}
