package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/shelfscan/internal/artifacts"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
	"github.com/MeKo-Tech/shelfscan/internal/testutil"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeScanner records requests and answers with fn.
type fakeScanner struct {
	mu   sync.Mutex
	reqs []pipeline.ScanRequest
	fn   func(pipeline.ScanRequest) (*pipeline.ScanResult, error)
	arts artifacts.Store
}

func (f *fakeScanner) Scan(_ context.Context, req pipeline.ScanRequest) (*pipeline.ScanResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return &pipeline.ScanResult{ScanID: "fake", Regions: []pipeline.RegionResult{}}, nil
}

func (f *fakeScanner) Info() map[string]interface{} {
	return map[string]interface{}{"detector": map[string]interface{}{"backend": "fake"}}
}
func (f *fakeScanner) Artifacts() artifacts.Store { return f.arts }
func (f *fakeScanner) Close() error               { return nil }

func (f *fakeScanner) last() pipeline.ScanRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

// newStubPipeline builds a real pipeline over the synthetic shelf with stub
// backends and local artifacts in a temp dir.
func newStubPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	_, boxes := testutil.GenerateShelfImage(testutil.DefaultShelfConfig())
	arts, err := artifacts.NewLocal(t.TempDir())
	require.NoError(t, err)

	p, err := pipeline.NewBuilder().
		WithDetector(&testutil.StubDetector{Detections: testutil.DetectionsFor(boxes, 0.9)}).
		WithRecognizer(testutil.NewStubRecognizer(0.9, "Balzac La Peau de Chagrin", "Zola Germinal", "Gide Les Faux-monnayeurs")).
		WithAgent(llm.NewAgent(&testutil.ScriptedCompleter{Verdict: "Oui"}, nil)).
		WithBooks(&testutil.StubBooks{}).
		WithStore(&testutil.MemoryStore{}).
		WithArtifacts(arts).
		WithLogger(quietLogger).
		Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func shelfJPEG(t *testing.T) []byte {
	t.Helper()
	img, _ := testutil.GenerateShelfImage(testutil.DefaultShelfConfig())
	return testutil.EncodeJPEG(t, img)
}

// multipartRequest builds a POST with the given fields and an optional file part.
func multipartRequest(t *testing.T, target, fileField string, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if file != nil {
		part, err := writer.CreateFormFile(fileField, "shelf.jpg")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
