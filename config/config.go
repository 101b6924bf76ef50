// Package config loads the optional protocols.yaml file that supplies
// defaults for the validate and convert commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "protocols.yaml"
	homeConfigName    = "config.yaml"
)

// File is the shape of protocols.yaml.
type File struct {
	Validate  ValidateSection  `yaml:"validate"`
	Convert   ConvertSection   `yaml:"convert"`
	Telemetry TelemetrySection `yaml:"telemetry"`
}

// ValidateSection configures the validate command.
type ValidateSection struct {
	Dir            string   `yaml:"dir,omitempty"`
	RequiredFields []string `yaml:"required_fields,omitempty"`
	Extension      string   `yaml:"extension,omitempty"`
}

// ConvertSection configures the convert command.
type ConvertSection struct {
	Src       string `yaml:"src,omitempty"`
	Out       string `yaml:"out,omitempty"`
	Extension string `yaml:"extension,omitempty"`
	SQLite    string `yaml:"sqlite,omitempty"`
	Schedule  string `yaml:"schedule,omitempty"`
}

// TelemetrySection configures trace export.
type TelemetrySection struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

// DiscoverPath resolves the config location with first-match semantics.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(ExpandHome(clean, homeDir)))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".protocols", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if err == nil || errors.Is(err, os.ErrNotExist) {
			// If explicit path is set, not found is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
	}
	return "", false, nil
}

// Load reads and parses the config file at path. Relative paths inside the
// file are resolved against the file's directory.
func Load(path string) (File, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg File
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return File{}, fmt.Errorf("parsing config %q: %w", path, err)
	}

	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Dir(path)
	resolve := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		return resolveConfigRelative(baseDir, ExpandHome(os.ExpandEnv(p), homeDir))
	}
	cfg.Validate.Dir = resolve(cfg.Validate.Dir)
	cfg.Convert.Src = resolve(cfg.Convert.Src)
	cfg.Convert.Out = resolve(cfg.Convert.Out)
	cfg.Convert.SQLite = resolve(cfg.Convert.SQLite)
	cfg.Telemetry.OTLPEndpoint = strings.TrimSpace(os.ExpandEnv(cfg.Telemetry.OTLPEndpoint))
	return cfg, nil
}

// ExpandHome replaces a leading "~" with homeDir.
func ExpandHome(p, homeDir string) string {
	if homeDir == "" {
		return p
	}
	if p == "~" {
		return homeDir
	}
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		return filepath.Join(homeDir, p[2:])
	}
	return p
}

func resolveConfigRelative(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
