package batch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
	"github.com/MeKo-Tech/shelfscan/internal/sequence"
	"github.com/MeKo-Tech/shelfscan/internal/testutil"
)

type fakeScanner struct {
	mu       sync.Mutex
	reqs     []pipeline.ScanRequest
	failRow  int
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeScanner) Scan(ctx context.Context, req pipeline.ScanRequest) (*pipeline.ScanResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if req.Row == f.failRow {
		return nil, errors.New("detector unavailable")
	}
	return &pipeline.ScanResult{
		ScanID: "scan",
		Regions: []pipeline.RegionResult{{
			Position:  sequence.Position{ShelfID: req.ShelfID, Row: req.Row, Column: req.BaseColumn},
			Persisted: true,
		}},
	}, nil
}

type recordingProgress struct {
	mu       sync.Mutex
	started  int
	progress []int
	errors   int
	complete bool
}

func (r *recordingProgress) OnStart(total int) { r.started = total }
func (r *recordingProgress) OnProgress(current, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, current)
}
func (r *recordingProgress) OnComplete() { r.complete = true }
func (r *recordingProgress) OnError(int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
}

// shelfEntries writes n synthetic row photographs and returns their entries.
func shelfEntries(t *testing.T, n int) []Entry {
	t.Helper()
	img, _ := testutil.GenerateShelfImage(testutil.DefaultShelfConfig())
	dir := t.TempDir()
	entries := make([]Entry, n)
	for i := range entries {
		path := filepath.Join(dir, "row"+string(rune('a'+i))+".png")
		testutil.SaveImage(t, img, path)
		entries[i] = Entry{Path: path, ShelfID: 2, Row: i, BaseColumn: 10 * i}
	}
	return entries
}

func TestRun_KeepsEntryOrder(t *testing.T) {
	entries := shelfEntries(t, 5)
	scanner := &fakeScanner{failRow: -1, delay: 5 * time.Millisecond}
	progress := &recordingProgress{}

	res, err := Run(context.Background(), scanner, entries, Config{Workers: 3, Progress: progress})
	require.NoError(t, err)

	require.Len(t, res.Items, 5)
	for i, it := range res.Items {
		assert.Equal(t, entries[i], it.Entry)
		require.NotNil(t, it.Result)
		assert.Equal(t, i, it.Result.Regions[0].Position.Row)
		assert.Equal(t, 10*i, it.Result.Regions[0].Position.Column)
	}
	assert.Equal(t, 3, res.Workers)
	assert.LessOrEqual(t, scanner.peak.Load(), int32(3))
	assert.Equal(t, 5, progress.started)
	assert.Len(t, progress.progress, 5)
	assert.True(t, progress.complete)
	assert.Equal(t, Summary{Scans: 5, Regions: 5, Persisted: 5}, res.Summary())
}

func TestRun_WorkersCappedByEntries(t *testing.T) {
	res, err := Run(context.Background(), &fakeScanner{failRow: -1}, shelfEntries(t, 2), Config{Workers: 8})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Workers)
}

func TestRun_StopsOnFirstError(t *testing.T) {
	entries := shelfEntries(t, 4)
	scanner := &fakeScanner{failRow: 0}

	res, err := Run(context.Background(), scanner, entries, Config{Workers: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detector unavailable")

	require.Len(t, res.Items, 4)
	assert.Error(t, res.Items[0].Err())
	for _, it := range res.Items[1:] {
		assert.ErrorIs(t, it.Err(), context.Canceled)
	}
	assert.Equal(t, 4, res.Summary().Failed)
}

func TestRun_ContinueOnError(t *testing.T) {
	entries := shelfEntries(t, 3)
	scanner := &fakeScanner{failRow: 1}
	progress := &recordingProgress{}

	res, err := Run(context.Background(), scanner, entries, Config{Workers: 2, ContinueOnError: true, Progress: progress})
	require.NoError(t, err)

	s := res.Summary()
	assert.Equal(t, 3, s.Scans)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 2, s.Regions)
	assert.Equal(t, 1, progress.errors)
	assert.Equal(t, "detector unavailable", res.Items[1].Error)
	assert.ErrorContains(t, res.Errors(), entries[1].Path)
}

func TestRun_UnreadableImage(t *testing.T) {
	entries := []Entry{
		{Path: filepath.Join(t.TempDir(), "missing.jpg"), ShelfID: 1},
		{Path: filepath.Join(t.TempDir(), "notes.txt"), ShelfID: 1, Row: 1},
	}
	res, err := Run(context.Background(), &fakeScanner{failRow: -1}, entries, Config{ContinueOnError: true})
	require.NoError(t, err)
	assert.Contains(t, res.Items[0].Error, "load")
	assert.Contains(t, res.Items[1].Error, "unsupported image format")
}

func TestRun_ThresholdOverrides(t *testing.T) {
	entries := shelfEntries(t, 2)
	conf := 0.3
	entries[1].Conf = &conf
	scanner := &fakeScanner{failRow: -1}

	_, err := Run(context.Background(), scanner, entries, Config{Thresholds: detector.Thresholds{Confidence: 0.5, IoU: 0.4}})
	require.NoError(t, err)

	require.Len(t, scanner.reqs, 2)
	assert.Nil(t, scanner.reqs[0].Thresholds)
	assert.Equal(t, &detector.Thresholds{Confidence: 0.3, IoU: 0.4}, scanner.reqs[1].Thresholds)
}

func TestRun_RejectsInvalidEntries(t *testing.T) {
	_, err := Run(context.Background(), &fakeScanner{}, nil, Config{})
	assert.ErrorContains(t, err, "no scans listed")
}

func TestRun_WithRealPipeline(t *testing.T) {
	entries := shelfEntries(t, 2)
	_, boxes := testutil.GenerateShelfImage(testutil.DefaultShelfConfig())
	memStore := &testutil.MemoryStore{}
	p, err := pipeline.NewBuilder().
		WithDetector(&testutil.StubDetector{Detections: testutil.DetectionsFor(boxes, 0.9)}).
		WithRecognizer(testutil.NewStubRecognizer(0.9)).
		WithBooks(&testutil.StubBooks{}).
		WithStore(memStore).
		WithArtifacts(nil).
		Build(context.Background())
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	res, err := Run(context.Background(), p, entries, Config{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Summary().Regions)
}
