package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
)

type mockWebSocketConn struct {
	sent []WebSocketMessage
}

func (m *mockWebSocketConn) WriteMessage(_ int, data []byte) error {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func wsPayload(t *testing.T, req WebSocketScanRequest) []byte {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return data
}

func TestServer_HandleWebSocketMessage_Rejects(t *testing.T) {
	server := New(&fakeScanner{}, Config{}, quietLogger)
	jpg := shelfJPEG(t)
	badConf := 3.0

	tests := []struct {
		name    string
		data    []byte
		errPart string
	}{
		{"malformed json", []byte(`{"image":`), "Failed to parse request"},
		{"zero shelf id", wsPayload(t, WebSocketScanRequest{Image: jpg}), "Invalid parameters"},
		{"bad confidence", wsPayload(t, WebSocketScanRequest{Image: jpg, ShelfID: 1, Conf: &badConf}), "Invalid parameters"},
		{"no image", wsPayload(t, WebSocketScanRequest{ShelfID: 1}), "No image provided"},
		{"not an image", wsPayload(t, WebSocketScanRequest{Image: []byte("hello"), ShelfID: 1}), "Unsupported file type"},
		{"over upload limit", wsPayload(t, WebSocketScanRequest{Image: make([]byte, 10*1024*1024+1), ShelfID: 1}), "File too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &mockWebSocketConn{}
			server.handleWebSocketMessage(httptest.NewRequest(http.MethodGet, "/ws/scan", nil), conn, tt.data)
			require.Len(t, conn.sent, 1)
			assert.Equal(t, "error", conn.sent[0].Type)
			assert.Contains(t, conn.sent[0].Error, tt.errPart)
		})
	}
}

func TestServer_HandleWebSocketMessage_ScanError(t *testing.T) {
	fake := &fakeScanner{fn: func(pipeline.ScanRequest) (*pipeline.ScanResult, error) {
		return nil, errors.New("detect: model missing")
	}}
	server := New(fake, Config{}, quietLogger)
	conn := &mockWebSocketConn{}

	server.handleWebSocketMessage(httptest.NewRequest(http.MethodGet, "/ws/scan", nil), conn,
		wsPayload(t, WebSocketScanRequest{Image: shelfJPEG(t), ShelfID: 1}))

	require.Len(t, conn.sent, 1)
	assert.Equal(t, "error", conn.sent[0].Type)
	assert.Contains(t, conn.sent[0].Error, "model missing")
}

func TestServer_ScanWebSocket_StreamsProgress(t *testing.T) {
	server := New(newStubPipeline(t), Config{}, quietLogger)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/scan"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	defer func() { _ = resp.Body.Close() }()

	require.NoError(t, conn.WriteJSON(WebSocketScanRequest{Image: shelfJPEG(t), ShelfID: 4, Row: 1}))

	var stages []string
	var result *pipeline.ScanResult
	for result == nil {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
		var msg WebSocketMessage
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case "progress":
			require.NotNil(t, msg.Region)
			stages = append(stages, msg.Stage)
		case "result":
			result = msg.Payload
		default:
			t.Fatalf("unexpected message %+v", msg)
		}
	}

	require.NotEmpty(t, stages)
	assert.Equal(t, pipeline.StageDetect, stages[0])
	assert.Contains(t, stages, pipeline.StageRecognize)
	require.Len(t, result.Regions, 3)
	assert.Equal(t, 4, result.Regions[0].Position.ShelfID)
	assert.Equal(t, 1, result.Regions[0].Position.Row)
}

func TestServer_WebSocketReadLimitFollowsUploadLimit(t *testing.T) {
	small := New(&fakeScanner{}, Config{MaxUploadMB: 1}, quietLogger)
	large := New(&fakeScanner{}, Config{MaxUploadMB: 10}, quietLogger)

	// A maximal upload still fits once base64-encoded.
	full, err := json.Marshal(WebSocketScanRequest{Image: make([]byte, 1024*1024), ShelfID: 1, Row: 99, BaseColumn: 99})
	require.NoError(t, err)
	assert.LessOrEqual(t, int64(len(full)), small.wsReadLimit())
	assert.Less(t, small.wsReadLimit(), int64(2*1024*1024))
	assert.Greater(t, large.wsReadLimit(), int64(10*1024*1024))
	assert.Less(t, large.wsReadLimit(), int64(14*1024*1024))
}

func TestServer_ScanWebSocket_OversizedFrameClosesConnection(t *testing.T) {
	fake := &fakeScanner{}
	server := New(fake, Config{MaxUploadMB: 1}, quietLogger)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/scan"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	defer func() { _ = resp.Body.Close() }()

	frame := []byte(`{"shelf_id":1,"image":"` + strings.Repeat("A", 2*1024*1024) + `"}`)
	_ = conn.WriteMessage(websocket.TextMessage, frame)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.Empty(t, fake.reqs)
}
