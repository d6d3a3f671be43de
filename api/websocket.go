package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/memtensor/deepresearch/pkg/pipeline"
	"github.com/memtensor/deepresearch/pkg/types"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// runner is a service entry point that delivers events to emit
type runner func(ctx context.Context, req *types.ResearchRequest, emit pipeline.Emitter) error

// wsConn serialises writes to one WebSocket connection
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (w *wsConn) send(event *types.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return w.ws.WriteJSON(event)
}

func (w *wsConn) emit(ctx context.Context, event *types.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.send(event)
}

func (w *wsConn) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}

// webSocket reads one request from the client, answers thinking and then
// forwards every event run produces before closing the connection
// @Summary WebSocket research
// @Description Send one JSON message {"user_id","prompt"}. /ws streams the single-pass agent, /ws/agent replays the graph result.
// @Tags research
// @Router /ws [get]
// @Router /ws/agent [get]
func (s *Server) webSocket(mode string, run runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.logger.Warn("Failed to upgrade the websocket", map[string]interface{}{"error": err.Error()})
			return
		}
		defer ws.Close()

		log := s.logger.WithFields(map[string]interface{}{
			"request_id": c.GetString("request_id"),
			"mode":       mode,
		})
		conn := &wsConn{ws: ws}
		defer func() {
			if r := recover(); r != nil {
				log.Error("WebSocket handler panicked", fmt.Errorf("%v", r))
				_ = conn.send(types.NewErrorEvent(internalErrorMessage))
			}
			conn.close()
		}()

		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Info("WebSocket client left before sending a request", map[string]interface{}{"error": err.Error()})
			return
		}

		var req types.ResearchRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = conn.send(types.NewErrorEvent(invalidJSONMessage))
			return
		}
		if err := pipeline.ValidateRequest(&req); err != nil {
			_ = conn.send(types.NewErrorEvent(pipeline.RequiredFieldsMessage))
			return
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		go watchClose(ws, cancel)

		if err := conn.send(types.NewThinkingEvent()); err != nil {
			return
		}
		if err := run(ctx, &req, conn.emit); err != nil {
			log.Info("WebSocket request ended with an error", map[string]interface{}{"error": err.Error()})
		}
	}
}

// watchClose drains control frames and cancels the request once the client
// closes the connection
func watchClose(ws *websocket.Conn, cancel context.CancelFunc) {
	for {
		if _, _, err := ws.NextReader(); err != nil {
			cancel()
			return
		}
	}
}
