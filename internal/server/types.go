package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// ScanResponse wraps a scan result for /scan.
type ScanResponse struct {
	Success bool `json:"success"`
	*pipeline.ScanResult
}

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Fields  []string `json:"fields,omitempty"`
}

// ScanParams are the non-image inputs of a scan.
type ScanParams struct {
	ShelfID    int      `json:"shelf_id" validate:"gt=0"`
	Row        int      `json:"row" validate:"gte=0"`
	BaseColumn int      `json:"base_column" validate:"gte=0"`
	Conf       *float64 `json:"conf,omitempty" validate:"omitempty,gt=0,lte=1"`
	IoU        *float64 `json:"iou,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// paramAliases maps each parameter to the form names that set it, newest
// first. The French names are kept for older clients.
var paramAliases = map[string][]string{
	"shelf_id":    {"shelf_id", "biblio_id"},
	"row":         {"row", "position_ligne"},
	"base_column": {"base_column", "position_colonne"},
}

// formValue returns the first non-empty value among the aliases of key.
func formValue(get func(string) string, key string) string {
	names := paramAliases[key]
	if names == nil {
		names = []string{key}
	}
	for _, n := range names {
		if v := strings.TrimSpace(get(n)); v != "" {
			return v
		}
	}
	return ""
}

// parseScanParams reads the parameters from form-style lookups. It checks
// syntax only; ranges are checked by the validator.
func parseScanParams(get func(string) string, requireShelf bool) (ScanParams, error) {
	var p ScanParams
	var errs []error
	parseInt := func(key string, dst *int, required bool) {
		v := formValue(get, key)
		if v == "" {
			if required {
				errs = append(errs, fmt.Errorf("%s is required", key))
			}
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s must be an integer", key))
			return
		}
		*dst = n
	}
	parseFloat := func(key string) *float64 {
		v := formValue(get, key)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s must be a number", key))
			return nil
		}
		return &f
	}

	parseInt("shelf_id", &p.ShelfID, requireShelf)
	parseInt("row", &p.Row, false)
	parseInt("base_column", &p.BaseColumn, false)
	p.Conf = parseFloat("conf")
	p.IoU = parseFloat("iou")
	return p, errors.Join(errs...)
}

// thresholds merges the optional overrides into defaults. It returns nil
// when neither is set.
func (p ScanParams) thresholds(defaults detector.Thresholds) *detector.Thresholds {
	if p.Conf == nil && p.IoU == nil {
		return nil
	}
	th := defaults
	if p.Conf != nil {
		th.Confidence = *p.Conf
	}
	if p.IoU != nil {
		th.IoU = *p.IoU
	}
	return &th
}
