// Package convert flattens a directory of protocol descriptors into a CSV
// with one row per contract address.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/petal-labs/protocols/descriptor"
	"github.com/petal-labs/protocols/events"
)

// ToolName identifies the converter in emitted events.
const ToolName = "convert"

const (
	DefaultSource = "testnet"
	DefaultOutput = "./protocols.csv"
)

// Sink receives the sorted rows of a run that produced data.
type Sink interface {
	Store(ctx context.Context, result *Result) error
}

// Config configures a Converter. Zero values select the defaults.
type Config struct {
	Extension string

	// Out receives progress lines. Nil discards them.
	Out    io.Writer
	Logger *slog.Logger
	Emit   events.Emitter

	// Sink, when set, is handed every non-empty result after the CSV is
	// written.
	Sink Sink
}

// Converter turns descriptor files into CSV rows.
type Converter struct {
	ext    string
	out    io.Writer
	logger *slog.Logger
	emit   events.Emitter
	sink   Sink
}

// New creates a Converter.
func New(cfg Config) *Converter {
	if cfg.Extension == "" {
		cfg.Extension = descriptor.DefaultExtension
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Converter{
		ext:    cfg.Extension,
		out:    cfg.Out,
		logger: cfg.Logger,
		emit:   cfg.Emit,
		sink:   cfg.Sink,
	}
}

// Result describes one conversion run.
type Result struct {
	RunID      string
	Source     string
	Output     string
	Files      int
	Failed     int
	Rows       []Row
	Written    bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Convert reads every descriptor directly inside src and writes the sorted
// rows to out. A missing or non-directory src fails before any file is
// read. Per-file failures are reported and skipped. When no rows result,
// out is left untouched.
func (c *Converter) Convert(ctx context.Context, src, out string) (res *Result, err error) {
	paths, err := descriptor.Discover(src, c.ext)
	if err != nil {
		return nil, err
	}

	res = &Result{
		RunID:     events.NewRunID(),
		Source:    src,
		Output:    out,
		Files:     len(paths),
		StartedAt: time.Now().UTC(),
	}

	started := events.New(events.RunStarted, res.RunID, ToolName)
	started.Payload["dir"] = src
	started.Payload["files"] = len(paths)
	c.emit.Emit(started)
	defer func() { c.finish(res, err) }()

	fmt.Fprintf(c.out, "Found %d protocol files\n", len(paths))

	var rows []Row
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fileRows, err := c.processFile(res.RunID, path)
		if err != nil {
			res.Failed++
			continue
		}
		rows = append(rows, fileRows...)
	}

	SortRows(rows)
	res.Rows = rows

	if len(rows) == 0 {
		fmt.Fprintln(c.out, "No data to write to CSV")
	} else {
		if err := WriteFile(out, rows); err != nil {
			return res, err
		}
		res.Written = true
		fmt.Fprintf(c.out, "Successfully wrote %d rows to %s\n", len(rows), out)
	}
	res.FinishedAt = time.Now().UTC()

	if res.Written && c.sink != nil {
		if err := c.sink.Store(ctx, res); err != nil {
			return res, fmt.Errorf("storing rows: %w", err)
		}
	}

	return res, nil
}

// finish emits RunFinished for every run that got past discovery,
// including runs that end in err.
func (c *Converter) finish(res *Result, err error) {
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now().UTC()
	}

	finished := events.New(events.RunFinished, res.RunID, ToolName)
	finished.Elapsed = res.FinishedAt.Sub(res.StartedAt)
	finished.Payload["files"] = res.Files
	finished.Payload["failed"] = res.Failed
	finished.Payload["rows"] = len(res.Rows)
	if err != nil {
		finished.Payload["error"] = err.Error()
	}
	c.emit.Emit(finished)

	if err != nil {
		c.logger.Debug("conversion aborted", "run_id", res.RunID, "error", err)
		return
	}
	c.logger.Debug("conversion finished",
		"run_id", res.RunID, "files", res.Files, "failed", res.Failed, "rows", len(res.Rows))
}

func (c *Converter) processFile(runID, path string) ([]Row, error) {
	start := time.Now()
	fmt.Fprintf(c.out, "Processing %s...\n", path)

	rows, err := ExtractRows(path)
	if err != nil {
		cause := err
		var fe *FileError
		if errors.As(err, &fe) {
			cause = fe.Err
		}
		fmt.Fprintf(c.out, "Error processing %s: %v\n", path, cause)
		c.logger.Warn("skipping descriptor", "file", path, "error", cause)

		e := events.New(events.FileFailed, runID, ToolName)
		e.File = path
		e.Elapsed = time.Since(start)
		e.Payload["error"] = cause.Error()
		c.emit.Emit(e)
		return nil, err
	}

	e := events.New(events.FileProcessed, runID, ToolName)
	e.File = path
	e.Elapsed = time.Since(start)
	e.Payload["rows"] = len(rows)
	c.emit.Emit(e)
	return rows, nil
}
