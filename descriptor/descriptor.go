// Package descriptor reads protocol descriptor files: one JSON object per
// protocol carrying its name, description, categories, links and contract
// addresses.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtension is the file extension of descriptor files.
const DefaultExtension = ".json"

// CategorySeparator splits a category into its type and subtype.
const CategorySeparator = "::"

var (
	// ErrSourceNotFound is returned when the descriptor directory does not exist.
	ErrSourceNotFound = errors.New("directory does not exist")

	// ErrNotDirectory is returned when the descriptor path is not a directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrMissingCategory is returned for a descriptor without any category.
	ErrMissingCategory = errors.New("missing category")

	// ErrMalformedCategory is returned when a category is not "Type::Subtype".
	ErrMalformedCategory = errors.New("malformed category")
)

// Descriptor is a decoded protocol descriptor. Links is kept raw because
// its shape is not fixed.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Categories  []string        `json:"categories"`
	Links       json.RawMessage `json:"links,omitempty"`
	Addresses   Addresses       `json:"addresses"`
}

// Category is a parsed "Type::Subtype" classification.
type Category struct {
	Type    string
	Subtype string
}

func (c Category) String() string {
	return c.Type + CategorySeparator + c.Subtype
}

// ParseCategory splits s on the separator. Exactly two parts are required.
func ParseCategory(s string) (Category, error) {
	parts := strings.Split(s, CategorySeparator)
	if len(parts) != 2 {
		return Category{}, fmt.Errorf("%w: %q has %d part(s), want 2", ErrMalformedCategory, s, len(parts))
	}
	return Category{Type: parts[0], Subtype: parts[1]}, nil
}

// PrimaryCategory parses the first category of the descriptor.
func (d *Descriptor) PrimaryCategory() (Category, error) {
	if len(d.Categories) == 0 {
		return Category{}, fmt.Errorf("%w for %s", ErrMissingCategory, d.Name)
	}
	return ParseCategory(d.Categories[0])
}

// SanitizedDescription returns the description without quotes or newlines.
func (d *Descriptor) SanitizedDescription() string {
	return SanitizeDescription(d.Description)
}

// SanitizeDescription strips embedded double quotes and newlines.
func SanitizeDescription(s string) string {
	return strings.NewReplacer(`"`, "", "\n", "").Replace(s)
}

// Parse decodes a descriptor from JSON.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	return &d, nil
}

// Load reads and decodes the descriptor at path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from directory listing
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return Parse(data)
}

// LoadRaw reads path and decodes it as a generic JSON object, for key
// presence checks.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from directory listing
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if raw == nil {
		return nil, errors.New("parsing JSON: top-level value is not an object")
	}
	return raw, nil
}

// MissingKeys returns the required keys absent from raw, in required order.
// Values are not inspected.
func MissingKeys(raw map[string]any, required []string) []string {
	var missing []string
	for _, key := range required {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// CheckDir verifies that dir exists and is a directory.
func CheckDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, dir)
		}
		return fmt.Errorf("checking directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}
	return nil
}

// Discover lists the files in dir whose names end in ext. Hidden files
// (leading ".") and subdirectories are skipped. Paths are returned sorted.
func Discover(dir, ext string) ([]string, error) {
	if err := CheckDir(dir); err != nil {
		return nil, err
	}
	if ext == "" {
		ext = DefaultExtension
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
