package batch

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/shelfscan/internal/golden"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
	"github.com/MeKo-Tech/shelfscan/internal/sequence"
)

func sampleResult() *Result {
	isbn := "9782070360024"
	failure := errors.New("detect: timeout")
	return &Result{
		Workers:  2,
		Duration: 3 * time.Second,
		Items: []Item{
			{
				Entry: Entry{Path: "row0.jpg", ShelfID: 1, Row: 0},
				Result: &pipeline.ScanResult{Regions: []pipeline.RegionResult{
					{
						Position:   sequence.Position{ShelfID: 1, Row: 0, Column: 0},
						Golden:     golden.Record{Title: "L'Étranger", Author: "Albert Camus", ISBN: &isbn},
						Confidence: 0.91,
						Persisted:  true,
					},
					{Position: sequence.Position{ShelfID: 1, Row: 0, Column: 1}},
				}},
			},
			{Entry: Entry{Path: "row1.jpg", ShelfID: 1, Row: 1}, Result: &pipeline.ScanResult{Regions: []pipeline.RegionResult{}}},
			{Entry: Entry{Path: "row2.jpg", ShelfID: 1, Row: 2}, Error: failure.Error(), err: failure},
		},
	}
}

func TestResult_Summary(t *testing.T) {
	assert.Equal(t, Summary{Scans: 3, Failed: 1, Regions: 2, Persisted: 1}, sampleResult().Summary())
}

func TestResult_FormatText(t *testing.T) {
	out, err := sampleResult().FormatResults("text")
	require.NoError(t, err)

	assert.Contains(t, out, "# row0.jpg (shelf 1, row 0)\n0\tL'Étranger\tAlbert Camus\n1\t?\t\n")
	assert.Contains(t, out, "# row1.jpg (shelf 1, row 1)\nno books detected\n")
	assert.Contains(t, out, "# row2.jpg (shelf 1, row 2)\nerror: detect: timeout\n")
}

func TestResult_FormatCSV(t *testing.T) {
	out, err := sampleResult().FormatResults("csv")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "file,shelf_id,row,column,title,author,isbn,confidence,persisted,error", lines[0])
	assert.Equal(t, "row0.jpg,1,0,0,L'Étranger,Albert Camus,9782070360024,0.910,true,", lines[1])
	assert.Equal(t, "row1.jpg,1,1,,,,,,,", lines[3])
	assert.Equal(t, "row2.jpg,1,2,,,,,,,detect: timeout", lines[4])
}

func TestResult_FormatJSON(t *testing.T) {
	out, err := sampleResult().FormatResults("json")
	require.NoError(t, err)

	var decoded struct {
		Summary Summary `json:"summary"`
		Items   []struct {
			Entry Entry  `json:"entry"`
			Error string `json:"error"`
		} `json:"items"`
		Workers int `json:"workers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, 1, decoded.Summary.Failed)
	assert.Len(t, decoded.Items, 3)
	assert.Equal(t, "detect: timeout", decoded.Items[2].Error)
	assert.Equal(t, 2, decoded.Workers)
}

func TestResult_FormatUnknown(t *testing.T) {
	_, err := sampleResult().FormatResults("xml")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestResult_PrintStats(t *testing.T) {
	var buf bytes.Buffer
	sampleResult().PrintStats(&buf)
	out := buf.String()
	assert.Contains(t, out, "Scans: 3")
	assert.Contains(t, out, "Failed: 1")
	assert.Contains(t, out, "Persisted: 1")
	assert.Contains(t, out, "Avg per scan: 1s")
}
