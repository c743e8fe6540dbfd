package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// FormatResults renders the batch as json, csv or text.
func (r *Result) FormatResults(format string) (string, error) {
	switch format {
	case "json":
		return r.formatJSON()
	case "csv":
		return r.formatCSV()
	case "text", "":
		return r.formatText(), nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

func (r *Result) formatJSON() (string, error) {
	out := struct {
		Summary Summary `json:"summary"`
		*Result
	}{Summary: r.Summary(), Result: r}
	bts, err := json.MarshalIndent(out, "", "  ")
	return string(bts), err
}

// formatCSV writes one row per region, or one empty row for a failed or
// empty scan so every entry appears.
func (r *Result) formatCSV() (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	header := []string{"file", "shelf_id", "row", "column", "title", "author", "isbn", "confidence", "persisted", "error"}
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, it := range r.Items {
		e := it.Entry
		if it.Result == nil || len(it.Result.Regions) == 0 {
			row := []string{e.Path, strconv.Itoa(e.ShelfID), strconv.Itoa(e.Row), "", "", "", "", "", "", it.Error}
			if err := w.Write(row); err != nil {
				return "", err
			}
			continue
		}
		for _, reg := range it.Result.Regions {
			g := reg.Golden
			row := []string{
				e.Path,
				strconv.Itoa(reg.Position.ShelfID),
				strconv.Itoa(reg.Position.Row),
				strconv.Itoa(reg.Position.Column),
				g.Title,
				g.Author,
				deref(g.ISBN),
				strconv.FormatFloat(reg.Confidence, 'f', 3, 64),
				strconv.FormatBool(reg.Persisted),
				"",
			}
			if err := w.Write(row); err != nil {
				return "", err
			}
		}
	}
	w.Flush()
	return b.String(), w.Error()
}

func (r *Result) formatText() string {
	var b strings.Builder
	for i, it := range r.Items {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "# %s (shelf %d, row %d)\n", it.Entry.Path, it.Entry.ShelfID, it.Entry.Row)
		if it.Result == nil {
			fmt.Fprintf(&b, "error: %s\n", it.Error)
			continue
		}
		if len(it.Result.Regions) == 0 {
			b.WriteString("no books detected\n")
			continue
		}
		for _, reg := range it.Result.Regions {
			title := reg.Golden.Title
			if title == "" {
				title = "?"
			}
			fmt.Fprintf(&b, "%d\t%s\t%s\n", reg.Position.Column, title, reg.Golden.Author)
		}
	}
	return b.String()
}

// PrintStats writes the summary block shown after a batch.
func (r *Result) PrintStats(w io.Writer) {
	s := r.Summary()
	_, _ = fmt.Fprintf(w, "\nBatch Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Scans: %d\n", s.Scans)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Books detected: %d\n", s.Regions)
	_, _ = fmt.Fprintf(w, "  Matched in catalogue: %d\n", s.Matched)
	_, _ = fmt.Fprintf(w, "  Persisted: %d\n", s.Persisted)
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", r.Workers)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	if s.Scans > 0 {
		_, _ = fmt.Fprintf(w, "  Avg per scan: %v\n", (r.Duration / time.Duration(s.Scans)).Round(time.Millisecond))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
