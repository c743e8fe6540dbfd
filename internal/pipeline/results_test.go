package pipeline

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/golden"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
	"github.com/MeKo-Tech/shelfscan/internal/sequence"
	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

func sampleResult() *ScanResult {
	isbn := "9782070360024"
	res := &ScanResult{ScanID: "abc", Width: 200, Height: 100, DetectedCount: 2, Layout: sequence.Horizontal}
	res.Regions = []RegionResult{
		{
			Index:      0,
			Position:   sequence.Position{ShelfID: 1, Row: 2, Column: 3},
			Detection:  detector.Detection{Box: utils.NewBox(10, 5, 40, 95), Score: 0.9, Class: "book"},
			Confidence: 0.95,
			Validation: llm.Yes,
			Golden:     golden.Record{Title: "L'Étranger", Author: "Albert Camus", ISBN: &isbn},
			Persisted:  true,
		},
		{
			Index:      1,
			Position:   sequence.Position{ShelfID: 1, Row: 2, Column: 4},
			Detection:  detector.Detection{Box: utils.NewBox(50, 5, 80, 95), Score: 0.8, Class: "book"},
			Confidence: 0.4,
			Validation: llm.Unknown,
			Golden:     golden.Record{Title: "Nadja, roman", Author: golden.UnknownAuthor},
		},
	}
	return res
}

func TestToJSON(t *testing.T) {
	s, err := ToJSON(sampleResult())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &raw))
	assert.Equal(t, "abc", raw["scan_id"])
	assert.EqualValues(t, 2, raw["detected_count"])

	regions := raw["regions"].([]interface{})
	first := regions[0].(map[string]interface{})
	for _, key := range []string{"position_index", "ocr_text", "ocr_confidence", "ocr_quality", "corrected_text",
		"extracted_metadata", "bibliographic_match", "validation_result", "golden_record", "position"} {
		assert.Contains(t, first, key)
	}
	assert.Equal(t, "yes", first["validation_result"])

	_, err = ToJSON(nil)
	assert.Error(t, err)
}

func TestToPlainText(t *testing.T) {
	txt, err := ToPlainText(sampleResult())
	require.NoError(t, err)
	assert.Equal(t, "3\tL'Étranger\tAlbert Camus\n4\tNadja, roman\tUnknown", txt)

	txt, err = ToPlainText(&ScanResult{})
	require.NoError(t, err)
	assert.Empty(t, txt)
}

func TestToCSV(t *testing.T) {
	out, err := ToCSV(sampleResult())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "shelf_id,row,column,title,author,isbn,confidence,validation,persisted", lines[0])
	assert.Equal(t, "1,2,3,L'Étranger,Albert Camus,9782070360024,0.950,yes,true", lines[1])
	assert.Equal(t, `1,2,4,"Nadja, roman",Unknown,,0.400,unknown,false`, lines[2])
}

func TestValidateScanResult(t *testing.T) {
	require.NoError(t, ValidateScanResult(sampleResult()))

	tests := []struct {
		name   string
		mutate func(*ScanResult)
	}{
		{"nil size", func(r *ScanResult) { r.Width = 0 }},
		{"more regions than detections", func(r *ScanResult) { r.DetectedCount = 1 }},
		{"index gap", func(r *ScanResult) { r.Regions[1].Index = 5 }},
		{"column gap", func(r *ScanResult) { r.Regions[1].Position.Column = 9 }},
		{"confidence", func(r *ScanResult) { r.Regions[0].Confidence = 1.2 }},
		{"box outside", func(r *ScanResult) { r.Regions[1].Detection.Box.X2 = 500 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sampleResult()
			tt.mutate(res)
			assert.Error(t, ValidateScanResult(res))
		})
	}
	assert.Error(t, ValidateScanResult(nil))
}
