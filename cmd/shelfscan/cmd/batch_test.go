package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/shelfscan/internal/batch"
)

func TestBatchCommand_Manifest(t *testing.T) {
	dir := isolate(t)
	withStubScanner(t)
	writeShelf(t, dir, "row1.png")
	writeShelf(t, dir, "row2.png")
	manifest := filepath.Join(dir, "bookcase.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`shelf_id: 3
scans:
  - path: row1.png
    row: 1
  - path: row2.png
    row: 2
    base_column: 10
`), 0o600))

	out, stderr, err := execute(t, "batch", manifest, "--workers", "2", "--stats")
	require.NoError(t, err)

	var res batch.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.Workers)
	assert.Equal(t, 1, res.Items[0].Result.Regions[0].Position.Row)
	assert.Equal(t, 10, res.Items[1].Result.Regions[0].Position.Column)
	assert.Contains(t, stderr, "Batch Statistics:")
	assert.Contains(t, stderr, "Books detected: 6")
}

func TestBatchCommand_Dir(t *testing.T) {
	dir := isolate(t)
	withStubScanner(t)
	photos := filepath.Join(dir, "photos")
	require.NoError(t, os.MkdirAll(photos, 0o755))
	writeShelf(t, photos, "a.png")
	writeShelf(t, photos, "b.png")
	require.NoError(t, os.WriteFile(filepath.Join(photos, "notes.txt"), []byte("x"), 0o600))

	out, _, err := execute(t, "batch", "--dir", photos, "--shelf-id", "5", "--first-row", "3", "--format", "csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// header plus three spines per photograph
	assert.Len(t, lines, 7)
}

func TestBatchCommand_FailureStopsUnlessContinuing(t *testing.T) {
	dir := isolate(t)
	withStubScanner(t)
	writeShelf(t, dir, "row1.png")
	manifest := filepath.Join(dir, "bookcase.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`shelf_id: 1
scans:
  - path: row1.png
    row: 1
  - path: missing.png
    row: 2
`), 0o600))

	_, _, err := execute(t, "batch", manifest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.png")

	out, _, err := execute(t, "batch", manifest, "--continue-on-error", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "missing.png")
}

func TestBatchCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"nothing to scan", []string{"batch"}, "manifest file or --dir is required"},
		{"both sources", []string{"batch", "m.yaml", "--dir", "."}, "not both"},
		{"dir without shelf", []string{"batch", "--dir", "."}, "--shelf-id is required"},
		{"missing manifest", []string{"batch", "none.yaml"}, "none.yaml"},
		{"bad format", []string{"batch", "--dir", ".", "--shelf-id", "1", "--format", "xml"}, "unsupported format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			withStubScanner(t)
			writeShelf(t, dir, "row.png")

			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
