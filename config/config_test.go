package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDiscoverPathFrom_FirstMatchWins(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	projectConfig := filepath.Join(cwd, "protocols.yaml")
	if err := os.WriteFile(projectConfig, []byte("convert: {}"), 0o600); err != nil {
		t.Fatalf("WriteFile(project config) error = %v", err)
	}

	homeConfigDir := filepath.Join(home, ".protocols")
	if err := os.MkdirAll(homeConfigDir, 0o755); err != nil {
		t.Fatalf("MkdirAll(home config dir) error = %v", err)
	}
	homeConfig := filepath.Join(homeConfigDir, "config.yaml")
	if err := os.WriteFile(homeConfig, []byte("convert: {}"), 0o600); err != nil {
		t.Fatalf("WriteFile(home config) error = %v", err)
	}

	got, found, err := DiscoverPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverPathFrom() error = %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if got != projectConfig {
		t.Fatalf("path = %q, want %q", got, projectConfig)
	}

	if err := os.Remove(projectConfig); err != nil {
		t.Fatal(err)
	}
	got, found, err = DiscoverPathFrom("", cwd, home)
	if err != nil || !found || got != homeConfig {
		t.Fatalf("fallback = %q, %v, %v; want %q", got, found, err, homeConfig)
	}
}

func TestDiscoverPathFrom_NoneFound(t *testing.T) {
	_, found, err := DiscoverPathFrom("", t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("DiscoverPathFrom() error = %v", err)
	}
	if found {
		t.Fatal("found = true, want false")
	}
}

func TestDiscoverPathFrom_ExplicitNotFound(t *testing.T) {
	_, found, err := DiscoverPathFrom(filepath.Join(t.TempDir(), "missing.yaml"), t.TempDir(), t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
	if found {
		t.Fatal("found = true, want false")
	}
}

func TestDiscoverPathFrom_ExplicitIsDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := DiscoverPathFrom(dir, t.TempDir(), t.TempDir()); err == nil {
		t.Fatal("expected error when explicit config path is a directory")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "protocols.yaml")
	content := `
validate:
  dir: testnet
  required_fields: [name, links]
convert:
  src: /data/mainnet
  out: out/protocols.csv
  sqlite: protocols.db
  schedule: "0 * * * *"
telemetry:
  otlp_endpoint: localhost:4318
  insecure: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Validate.Dir != filepath.Join(dir, "testnet") {
		t.Errorf("Validate.Dir = %q", cfg.Validate.Dir)
	}
	if !reflect.DeepEqual(cfg.Validate.RequiredFields, []string{"name", "links"}) {
		t.Errorf("RequiredFields = %v", cfg.Validate.RequiredFields)
	}
	if cfg.Convert.Src != "/data/mainnet" {
		t.Errorf("Convert.Src = %q", cfg.Convert.Src)
	}
	if cfg.Convert.Out != filepath.Join(dir, "out", "protocols.csv") {
		t.Errorf("Convert.Out = %q", cfg.Convert.Out)
	}
	if cfg.Convert.SQLite != filepath.Join(dir, "protocols.db") {
		t.Errorf("Convert.SQLite = %q", cfg.Convert.SQLite)
	}
	if cfg.Convert.Schedule != "0 * * * *" {
		t.Errorf("Convert.Schedule = %q", cfg.Convert.Schedule)
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4318" || !cfg.Telemetry.Insecure {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocols.yaml")
	if err := os.WriteFile(path, []byte("validate: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExpandHome(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"~", "/home/me"},
		{"~/testnet", "/home/me/testnet"},
		{"testnet", "testnet"},
		{"/abs/~", "/abs/~"},
		{"~other/x", "~other/x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ExpandHome(tt.in, "/home/me"); got != tt.want {
				t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
	if got := ExpandHome("~/x", ""); got != "~/x" {
		t.Errorf("ExpandHome with empty home = %q", got)
	}
}
