package convert

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/petal-labs/protocols/descriptor"
)

// Header is the CSV header row.
var Header = []string{"name", "ctype", "csubtype", "contract", "address"}

// Row is one (descriptor, address) pair.
type Row struct {
	Name     string `json:"name"`
	CType    string `json:"ctype"`
	CSubtype string `json:"csubtype"`
	Contract string `json:"contract"`
	Address  string `json:"address"`
}

// Record returns the row as CSV fields in Header order.
func (r Row) Record() []string {
	return []string{r.Name, r.CType, r.CSubtype, r.Contract, r.Address}
}

// FileError is a per-file extraction failure. The batch continues past it.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// RowsFor builds one row per address entry of d, in document order. A
// descriptor without addresses yields no rows and no error; one without a
// usable first category fails.
func RowsFor(d *descriptor.Descriptor) ([]Row, error) {
	category, err := d.PrimaryCategory()
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(d.Addresses))
	for _, a := range d.Addresses {
		rows = append(rows, Row{
			Name:     d.Name,
			CType:    category.Type,
			CSubtype: category.Subtype,
			Contract: a.Contract,
			Address:  strings.ToLower(a.Address),
		})
	}
	return rows, nil
}

// ExtractRows loads the descriptor at path and returns its rows. Errors are
// wrapped in a *FileError.
func ExtractRows(path string) ([]Row, error) {
	d, err := descriptor.Load(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	// Description is not a column; it is only normalized.
	d.Description = d.SanitizedDescription()

	rows, err := RowsFor(d)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	return rows, nil
}

// SortRows orders rows by (ctype, csubtype, name). Rows that tie keep their
// relative order.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.CType != b.CType {
			return a.CType < b.CType
		}
		if a.CSubtype != b.CSubtype {
			return a.CSubtype < b.CSubtype
		}
		return a.Name < b.Name
	})
}

// WriteCSV writes the header followed by rows. Lines end in CRLF.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the CSV to path through a temporary file in the same
// directory, so readers never observe a partial file.
func WriteFile(path string, rows []Row) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".protocols-*.csv")
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := WriteCSV(tmp, rows); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("setting output file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}
	return nil
}
