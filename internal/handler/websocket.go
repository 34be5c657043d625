package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/interview"
	"sovereign-journalist/internal/middleware"
	"sovereign-journalist/internal/model"
)

const (
	wsPongWait  = 60 * time.Second
	wsWriteWait = 10 * time.Second
)

// Frame types sent to WebSocket clients.
const (
	FrameDelta = "delta"
	FrameDone  = "done"
	FrameError = "error"
)

// TurnFrame is one client request on the interview socket. The session token
// is required on the first frame and remembered for later ones.
type TurnFrame struct {
	SessionToken string              `json:"sessionToken,omitempty"`
	Messages     []model.ChatMessage `json:"messages"`
}

// ServerFrame is one server message on the interview socket.
type ServerFrame struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
	Status     int    `json:"status,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

type WebSocketHandler struct {
	Orchestrator *interview.Orchestrator
	Log          *zap.Logger
	// Limiter, when set, is charged once per turn frame.
	Limiter *middleware.RateLimiter
	// CheckOrigin overrides the upgrader's same-origin check.
	CheckOrigin func(r *http.Request) bool
}

type frameWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *frameWriter) send(f ServerFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Serve runs interview turns over a WebSocket. Each turn frame produces a
// sequence of delta frames closed by done, or a single error frame. An
// authorization failure closes the socket.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	clientIP := c.ClientIP()
	upgrader := websocket.Upgrader{CheckOrigin: h.CheckOrigin}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	ws.SetReadLimit(middleware.MaxBodyBytes)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go keepAlive(ctx, ws)

	out := &frameWriter{conn: ws}
	var token string
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var frame TurnFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = out.send(errorFrame(fmt.Errorf("%w: invalid frame", apperr.ErrValidation)))
			continue
		}
		if frame.SessionToken != "" {
			token = frame.SessionToken
		}
		if h.Limiter != nil {
			if ok, seconds := h.Limiter.AllowClient(clientIP); !ok {
				if err := out.send(ServerFrame{Type: FrameError, Error: "Rate limit exceeded", Status: http.StatusTooManyRequests, RetryAfter: seconds}); err != nil {
					return
				}
				continue
			}
		}

		if err := h.turn(ctx, out, token, frame.Messages); err != nil {
			if errors.Is(err, apperr.ErrUnauthorized) {
				deadline := time.Now().Add(wsWriteWait)
				_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
				return
			}
			if !isFrameError(err) {
				return
			}
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}

type frameError struct{ error }

func isFrameError(err error) bool {
	var fe frameError
	return errors.As(err, &fe)
}

// turn runs one interview turn. Errors reported to the client as a frame are
// wrapped in frameError; any other error means the socket is unusable.
func (h *WebSocketHandler) turn(ctx context.Context, out *frameWriter, token string, transcript []model.ChatMessage) error {
	stream, err := h.Orchestrator.Converse(ctx, token, transcript)
	if err != nil {
		if sendErr := out.send(errorFrame(err)); sendErr != nil {
			return sendErr
		}
		if errors.Is(err, apperr.ErrUnauthorized) {
			return err
		}
		h.Log.Info("interview turn rejected", zap.Int("status", apperr.Status(err)), zap.Error(err))
		return frameError{err}
	}
	defer stream.Close()

	var writeErr error
	err = interview.Relay(stream, func(text string) error {
		writeErr = out.send(ServerFrame{Type: FrameDelta, Text: text})
		return writeErr
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		h.Log.Warn("interview stream aborted", zap.Error(err))
		if sendErr := out.send(errorFrame(err)); sendErr != nil {
			return sendErr
		}
		return frameError{err}
	}
	return out.send(ServerFrame{Type: FrameDone})
}

func errorFrame(err error) ServerFrame {
	f := ServerFrame{Type: FrameError, Error: apperr.PublicMessage(err), Status: apperr.Status(err)}
	if f.Status == http.StatusTooManyRequests {
		f.RetryAfter = int(apperr.RetryAfter.Seconds())
	}
	return f
}

func keepAlive(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(wsPongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}
