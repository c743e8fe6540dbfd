package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/shelfscan/internal/pipeline"
	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
	// wsEnvelopeBytes covers the JSON fields around the image.
	wsEnvelopeBytes = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketScanRequest is one scan submitted over /ws/scan. Image holds the
// encoded photograph; encoding/json carries it as base64.
type WebSocketScanRequest struct {
	Image      []byte   `json:"image"`
	ShelfID    int      `json:"shelf_id" validate:"gt=0"`
	Row        int      `json:"row" validate:"gte=0"`
	BaseColumn int      `json:"base_column" validate:"gte=0"`
	Conf       *float64 `json:"conf,omitempty" validate:"omitempty,gt=0,lte=1"`
	IoU        *float64 `json:"iou,omitempty" validate:"omitempty,gt=0,lte=1"`
}

func (r WebSocketScanRequest) params() ScanParams {
	return ScanParams{ShelfID: r.ShelfID, Row: r.Row, BaseColumn: r.BaseColumn, Conf: r.Conf, IoU: r.IoU}
}

// WebSocketMessage is every frame the server sends. Type is "progress",
// "result" or "error".
type WebSocketMessage struct {
	Type    string               `json:"type"`
	ScanID  string               `json:"scan_id,omitempty"`
	Stage   string               `json:"stage,omitempty"`
	Region  *int                 `json:"region,omitempty"`
	Total   int                  `json:"total,omitempty"`
	Payload *pipeline.ScanResult `json:"payload,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// WebSocketConnWriter is the write side of a WebSocket connection.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// scanWebSocketHandler upgrades the connection and serves scans until the
// client goes away.
func (s *Server) scanWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	s.handleWebSocketConnection(r, conn)
}

// wsReadLimit is the largest frame accepted on /ws/scan: an upload of
// maxUploadMB once base64-encoded, plus the envelope.
func (s *Server) wsReadLimit() int64 {
	return (s.maxUploadMB*1024*1024+2)/3*4 + wsEnvelopeBytes
}

func (s *Server) handleWebSocketConnection(r *http.Request, conn *websocket.Conn) {
	conn.SetReadLimit(s.wsReadLimit())
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read failed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType != websocket.TextMessage {
			s.sendWebSocketError(conn, "only text messages are accepted")
			continue
		}
		s.handleWebSocketMessage(r, conn, data)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

// handleWebSocketMessage runs one scan, streaming stage events before the
// final result.
func (s *Server) handleWebSocketMessage(r *http.Request, conn WebSocketConnWriter, data []byte) {
	var req WebSocketScanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.sendWebSocketError(conn, fmt.Sprintf("Invalid parameters: %v", err))
		return
	}
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, "No image provided")
		return
	}
	if int64(len(req.Image)) > s.maxUploadMB*1024*1024 {
		s.sendWebSocketError(conn, "File too large")
		return
	}
	if ct := utils.SniffContentType(req.Image); !utils.AllowedUploadTypes[ct] {
		s.sendWebSocketError(conn, "Unsupported file type: "+ct)
		return
	}
	img, _, err := utils.DecodeImage(req.Image)
	if err != nil {
		s.sendWebSocketError(conn, "Invalid image format")
		return
	}
	uploadSizeBytes.Observe(float64(len(req.Image)))

	ctx := r.Context()
	start := time.Now()
	res, err := s.scanner.Scan(ctx, pipeline.ScanRequest{
		Image:      img,
		ShelfID:    req.ShelfID,
		Row:        req.Row,
		BaseColumn: req.BaseColumn,
		Thresholds: req.params().thresholds(s.thresholds),
		Progress: func(ev pipeline.Event) {
			region := ev.Region
			s.sendWebSocketMessage(conn, WebSocketMessage{
				Type:   "progress",
				ScanID: ev.ScanID,
				Stage:  ev.Stage,
				Region: &region,
				Total:  ev.Total,
			})
		},
	})
	scanDuration.WithLabelValues("websocket").Observe(time.Since(start).Seconds())
	if err != nil {
		status := "error"
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			status = "rejected"
		}
		scansTotal.WithLabelValues("websocket", status).Inc()
		s.sendWebSocketError(conn, fmt.Sprintf("Scan failed: %v", err))
		return
	}
	scansTotal.WithLabelValues("websocket", "success").Inc()
	scanRegions.Observe(float64(len(res.Regions)))
	s.sendWebSocketMessage(conn, WebSocketMessage{Type: "result", ScanID: res.ScanID, Payload: res})
}

func (s *Server) sendWebSocketError(conn WebSocketConnWriter, message string) {
	s.sendWebSocketMessage(conn, WebSocketMessage{Type: "error", Error: message})
}

func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket message", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warn("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}
