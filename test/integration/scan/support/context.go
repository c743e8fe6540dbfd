// Package support holds the godog step definitions for the scan API suite.
package support

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/MeKo-Tech/shelfscan/internal/artifacts"
	"github.com/MeKo-Tech/shelfscan/internal/bibliographic"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
	"github.com/MeKo-Tech/shelfscan/internal/server"
	"github.com/MeKo-Tech/shelfscan/internal/testutil"
)

const maxScansPerScenario = 8

// TestContext is the state of one scenario: the stub backends, the
// in-process server and the last response.
type TestContext struct {
	TempDir string

	Spines     []string
	Books      *testutil.StubBooks
	Completer  *testutil.ScriptedCompleter
	Offline    bool
	Store      *testutil.MemoryStore
	RateLimit  server.RateLimitConfig
	Server     *httptest.Server
	pipeline   *pipeline.Pipeline
	recognizer *testutil.StubRecognizer

	LastStatus int
	LastBody   []byte
	LastHeader http.Header
	Messages   []server.WebSocketMessage
}

// NewTestContext creates a scenario context with a fresh temp dir.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "shelfscan-scan-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &TestContext{
		TempDir:   dir,
		Books:     &testutil.StubBooks{Candidates: map[string]*bibliographic.Candidate{}},
		Completer: &testutil.ScriptedCompleter{Verdict: "Oui"},
		Store:     &testutil.MemoryStore{},
	}, nil
}

// StartServer builds the pipeline over the stubs and serves it.
func (tc *TestContext) StartServer() error {
	if tc.Server != nil {
		return errors.New("server already running")
	}
	_, boxes := testutil.GenerateShelfImage(testutil.DefaultShelfConfig())

	arts, err := artifacts.NewLocal(tc.TempDir)
	if err != nil {
		return err
	}
	var completer llm.Completer = tc.Completer
	if tc.Offline {
		completer = llm.Offline{}
	}
	// The recognizer answers in call order, so queue the spine texts once
	// per scan a scenario may run.
	spines := make([]string, len(boxes))
	copy(spines, tc.Spines)
	var texts []string
	for range maxScansPerScenario {
		texts = append(texts, spines...)
	}
	tc.recognizer = testutil.NewStubRecognizer(0.9, texts...)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := pipeline.NewBuilder().
		WithDetector(&testutil.StubDetector{Detections: testutil.DetectionsFor(boxes, 0.9)}).
		WithRecognizer(tc.recognizer).
		WithAgent(llm.NewAgent(completer, logger)).
		WithBooks(tc.Books).
		WithStore(tc.Store).
		WithArtifacts(arts).
		WithLogger(logger).
		Build(context.Background())
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	tc.pipeline = p

	srv := server.New(p, server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 5,
		RateLimit:   tc.RateLimit,
		Version:     "test",
		Pipeline:    p.Config(),
	}, logger)
	tc.Server = httptest.NewServer(srv.Handler())
	return nil
}

// URL returns the base URL of the running server.
func (tc *TestContext) URL() string {
	if tc.Server == nil {
		return ""
	}
	return tc.Server.URL
}

// Cleanup stops the server and removes the temp dir.
func (tc *TestContext) Cleanup() error {
	if tc.Server != nil {
		tc.Server.Close()
		tc.Server = nil
	}
	if tc.pipeline != nil {
		_ = tc.pipeline.Close()
	}
	return os.RemoveAll(tc.TempDir)
}
