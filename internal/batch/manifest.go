package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Entry is one photograph of one shelf row.
type Entry struct {
	Path       string   `yaml:"path" json:"path"`
	ShelfID    int      `yaml:"shelf_id" json:"shelf_id"`
	Row        int      `yaml:"row" json:"row"`
	BaseColumn int      `yaml:"base_column" json:"base_column"`
	Conf       *float64 `yaml:"conf,omitempty" json:"conf,omitempty"`
	IoU        *float64 `yaml:"iou,omitempty" json:"iou,omitempty"`
}

// Manifest lists the photographs of a bookcase.
//
//	shelf_id: 3          # default for entries that omit it
//	scans:
//	  - path: row0.jpg
//	    row: 0
//	  - path: row1.jpg
//	    row: 1
//	    base_column: 0
type Manifest struct {
	ShelfID int     `yaml:"shelf_id"`
	Scans   []Entry `yaml:"scans"`
}

// LoadManifest reads a YAML manifest. Relative entry paths are resolved
// against the manifest's directory and a missing shelf_id falls back to the
// manifest-level one.
func LoadManifest(path string) ([]Entry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // manifest path is user input by design
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	entries := make([]Entry, len(m.Scans))
	for i, e := range m.Scans {
		if e.ShelfID == 0 {
			e.ShelfID = m.ShelfID
		}
		if e.Path != "" && !filepath.IsAbs(e.Path) {
			e.Path = filepath.Join(base, e.Path)
		}
		entries[i] = e
	}
	if err := ValidateEntries(entries); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return entries, nil
}

// ValidateEntries checks every entry and reports all problems at once.
func ValidateEntries(entries []Entry) error {
	if len(entries) == 0 {
		return errors.New("no scans listed")
	}
	var errs []error
	for i, e := range entries {
		if e.Path == "" {
			errs = append(errs, fmt.Errorf("scan %d: path is required", i))
		}
		if e.ShelfID <= 0 {
			errs = append(errs, fmt.Errorf("scan %d: shelf_id must be positive", i))
		}
		if e.Row < 0 || e.BaseColumn < 0 {
			errs = append(errs, fmt.Errorf("scan %d: row and base_column must not be negative", i))
		}
		if e.Conf != nil && (*e.Conf <= 0 || *e.Conf > 1) {
			errs = append(errs, fmt.Errorf("scan %d: conf must be in (0, 1]", i))
		}
		if e.IoU != nil && (*e.IoU <= 0 || *e.IoU > 1) {
			errs = append(errs, fmt.Errorf("scan %d: iou must be in (0, 1]", i))
		}
	}
	return errors.Join(errs...)
}
