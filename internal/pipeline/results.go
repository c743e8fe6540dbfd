package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ToJSON serializes a scan result to indented JSON.
func ToJSON(res *ScanResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainText lists one line per region: column, title and author.
func ToPlainText(res *ScanResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	lines := make([]string, 0, len(res.Regions))
	for _, r := range res.Regions {
		title := strings.TrimSpace(r.Golden.Title)
		if title == "" {
			title = "?"
		}
		lines = append(lines, fmt.Sprintf("%d\t%s\t%s", r.Position.Column, title, r.Golden.Author))
	}
	return strings.Join(lines, "\n"), nil
}

// ToCSV exports the golden records with their positions.
func ToCSV(res *ScanResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"shelf_id", "row", "column", "title", "author", "isbn", "confidence", "validation", "persisted"})
	for _, r := range res.Regions {
		isbn := ""
		if r.Golden.ISBN != nil {
			isbn = *r.Golden.ISBN
		}
		_ = w.Write([]string{
			strconv.Itoa(r.Position.ShelfID),
			strconv.Itoa(r.Position.Row),
			strconv.Itoa(r.Position.Column),
			r.Golden.Title,
			r.Golden.Author,
			isbn,
			fmt.Sprintf("%.3f", r.Confidence),
			string(r.Validation),
			strconv.FormatBool(r.Persisted),
		})
	}
	w.Flush()
	return buf.String(), w.Error()
}

// ValidateScanResult performs consistency checks on a result.
func ValidateScanResult(res *ScanResult) error {
	if res == nil {
		return errors.New("nil result")
	}
	if res.Width <= 0 || res.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", res.Width, res.Height)
	}
	if len(res.Regions) > res.DetectedCount {
		return fmt.Errorf("%d regions but only %d detections", len(res.Regions), res.DetectedCount)
	}
	for i, r := range res.Regions {
		if r.Index != i {
			return fmt.Errorf("region %d has index %d", i, r.Index)
		}
		if i > 0 && r.Position.Column != res.Regions[i-1].Position.Column+1 {
			return fmt.Errorf("region %d column %d is not contiguous", i, r.Position.Column)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("region %d confidence out of range", i)
		}
		b := r.Detection.Box
		if b.X1 < 0 || b.Y1 < 0 || b.X2 > float64(res.Width) || b.Y2 > float64(res.Height) {
			return fmt.Errorf("region %d box outside image", i)
		}
	}
	return nil
}
