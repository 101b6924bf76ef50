package validate

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/petal-labs/protocols/descriptor"
	"github.com/petal-labs/protocols/diag"
	"github.com/petal-labs/protocols/events"
)

const validDescriptor = `{
  "name": "Foo",
  "description": "",
  "links": {"website": "https://foo.example"},
  "categories": ["Dexes::AMM"]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidate_AllValid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", validDescriptor)
	writeFile(t, dir, "b.json", validDescriptor)

	var out bytes.Buffer
	report, err := New(Config{Out: &out}).Validate(context.Background(), dir)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !report.Valid() {
		t.Fatalf("report invalid: %+v", report.Files)
	}
	if len(report.Files) != 2 {
		t.Errorf("files = %d, want 2", len(report.Files))
	}
	if !strings.Contains(out.String(), "Validating 2 files...") {
		t.Errorf("missing header in output: %q", out.String())
	}
	if strings.Count(out.String(), "is valid.") != 2 {
		t.Errorf("expected two valid lines, got: %q", out.String())
	}
}

func TestValidate_EachRequiredKeyRemoved(t *testing.T) {
	for _, field := range DefaultRequiredFields {
		t.Run(field, func(t *testing.T) {
			doc := map[string]string{
				"name":        `"Foo"`,
				"description": `""`,
				"links":       `{}`,
				"categories":  `[]`,
			}
			delete(doc, field)
			var parts []string
			for _, k := range DefaultRequiredFields {
				if v, ok := doc[k]; ok {
					parts = append(parts, `"`+k+`":`+v)
				}
			}

			dir := t.TempDir()
			writeFile(t, dir, "good.json", validDescriptor)
			writeFile(t, dir, "bad.json", "{"+strings.Join(parts, ",")+"}")

			report, err := New(Config{}).Validate(context.Background(), dir)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if report.Valid() {
				t.Fatal("expected report to be invalid")
			}
			if report.Invalid() != 1 {
				t.Errorf("Invalid() = %d, want 1", report.Invalid())
			}
			bad := report.Files[0]
			if filepath.Base(bad.Path) != "bad.json" {
				t.Fatalf("first file = %s, want bad.json", bad.Path)
			}
			if !reflect.DeepEqual(bad.Missing, []string{field}) {
				t.Errorf("Missing = %v, want [%s]", bad.Missing, field)
			}
		})
	}
}

func TestValidate_MissingLinksOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "foo.json", `{"name":"Foo","description":"x","categories":["A::B"]}`)

	var out bytes.Buffer
	report, err := New(Config{Out: &out}).Validate(context.Background(), dir)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if report.Valid() {
		t.Fatal("expected invalid report")
	}
	if !strings.Contains(out.String(), "foo.json missing: links") {
		t.Errorf("output = %q", out.String())
	}

	diags := report.Diagnostics()
	if len(diags) != 1 || diags[0].Code != diag.CodeMissingField || diags[0].Field != "links" {
		t.Errorf("diagnostics = %+v", diags)
	}
}

func TestValidate_MalformedFileDoesNotAbortBatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{broken`)
	writeFile(t, dir, "b.json", validDescriptor)

	var out bytes.Buffer
	report, err := New(Config{Out: &out}).Validate(context.Background(), dir)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(report.Files) != 2 {
		t.Fatalf("files = %d, want 2", len(report.Files))
	}
	if report.Files[0].Valid() || report.Files[0].Error == "" {
		t.Errorf("a.json should be invalid with an error: %+v", report.Files[0])
	}
	if report.Files[0].Missing != nil {
		t.Errorf("key check should be skipped for unparsable file, got %v", report.Files[0].Missing)
	}
	if !report.Files[1].Valid() {
		t.Errorf("b.json should be valid: %+v", report.Files[1])
	}
	if report.Valid() {
		t.Error("overall report should be invalid")
	}
	if !strings.Contains(out.String(), "Error reading") {
		t.Errorf("output = %q", out.String())
	}
	if d := report.Diagnostics(); len(d) != 1 || d[0].Code != diag.CodeParse {
		t.Errorf("diagnostics = %+v", d)
	}
}

func TestValidate_NoFilesIsValid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "# nothing")

	var out bytes.Buffer
	report, err := New(Config{Out: &out}).Validate(context.Background(), dir)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !report.Valid() || len(report.Files) != 0 {
		t.Errorf("report = %+v", report)
	}
	if out.Len() != 0 {
		t.Errorf("expected no progress output, got %q", out.String())
	}
}

func TestValidate_MissingDirectory(t *testing.T) {
	_, err := New(Config{}).Validate(context.Background(), filepath.Join(t.TempDir(), "testnet"))
	if !errors.Is(err, descriptor.ErrSourceNotFound) {
		t.Fatalf("error = %v, want ErrSourceNotFound", err)
	}
}

func TestValidate_CustomRequiredFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"name":"Foo"}`)

	report, err := New(Config{RequiredFields: []string{"name"}}).Validate(context.Background(), dir)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !report.Valid() {
		t.Errorf("expected valid report, got %+v", report.Files)
	}
}

func TestValidate_CategoryWarnings(t *testing.T) {
	tests := []struct {
		name       string
		categories string
		want       string
	}{
		{"empty", `[]`, "no categories"},
		{"not a list", `"Dexes::AMM"`, "not a list"},
		{"not a string", `[1]`, "not a string"},
		{"one part", `["Dexes"]`, "malformed category"},
		{"three parts", `["A::B::C"]`, "malformed category"},
		{"well formed", `["Dexes::AMM", "x"]`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "a.json",
				`{"name":"A","description":"","links":{},"categories":`+tt.categories+`}`)

			report, err := New(Config{}).Validate(context.Background(), dir)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if !report.Valid() {
				t.Fatalf("warnings must not invalidate the file: %+v", report.Files)
			}

			got := report.Files[0].Warning
			if tt.want == "" {
				if got != "" {
					t.Errorf("Warning = %q, want none", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("Warning = %q, want it to mention %q", got, tt.want)
			}
			diags := report.Diagnostics()
			if len(diags) != 1 || diags[0].Code != diag.CodeCategory || diags[0].Severity != diag.SeverityWarning {
				t.Errorf("diagnostics = %+v", diags)
			}
		})
	}
}

func TestValidate_EmitsEvents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", validDescriptor)
	writeFile(t, dir, "b.json", `{}`)

	var got []events.Event
	report, err := New(Config{Emit: func(e events.Event) { got = append(got, e) }}).
		Validate(context.Background(), dir)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	var kinds []events.Kind
	for _, e := range got {
		kinds = append(kinds, e.Kind)
		if e.RunID != report.RunID {
			t.Errorf("event RunID = %q, want %q", e.RunID, report.RunID)
		}
		if e.Tool != ToolName {
			t.Errorf("event Tool = %q", e.Tool)
		}
	}
	want := []events.Kind{events.RunStarted, events.FileProcessed, events.FileFailed, events.RunFinished}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
	if got[3].PayloadInt("failed") != 1 {
		t.Errorf("finished failed = %d, want 1", got[3].PayloadInt("failed"))
	}
}

func TestValidate_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", validDescriptor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got []events.Event
	v := New(Config{Emit: func(e events.Event) { got = append(got, e) }})
	if _, err := v.Validate(ctx, dir); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	if len(got) != 2 || got[1].Kind != events.RunFinished {
		t.Fatalf("events = %+v, want run.started then run.finished", got)
	}
	if got[1].PayloadString("error") == "" {
		t.Error("run.finished should carry the cancellation error")
	}
	if valid, _ := got[1].Payload["valid"].(bool); valid {
		t.Error("a cancelled run must not be reported valid")
	}
}
