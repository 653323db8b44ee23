package main

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sells-group/phish-cli/internal/model"
)

// Stream event types.
const (
	eventStep   = "step"
	eventResult = "result"
	eventError  = "error"
)

const streamWriteTimeout = 10 * time.Second

// streamEvent is one frame on /api/analyze/stream.
type streamEvent struct {
	Type    string                 `json:"type"`
	Step    *model.AgentStep       `json:"step,omitempty"`
	Result  *model.AnalyzeResponse `json:"result,omitempty"`
	Message string                 `json:"message,omitempty"`
}

func (s *server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024 * 16,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(s.deps.corsOrigins, "*") {
				return true
			}
			return slices.Contains(s.deps.corsOrigins, origin)
		},
	}
}

// handleAnalyzeStream runs one analysis and replays its agent trace step by
// step before sending the full result, so the console timeline can animate.
func (s *server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("upgrading to websocket", zap.Error(err))
		return
	}
	defer conn.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stopOnShutdown := context.AfterFunc(s.ctx, cancel)
	defer stopOnShutdown()

	req := model.AnalysisRequest{
		Mode:  model.Mode(r.URL.Query().Get("mode")),
		Value: r.URL.Query().Get("value"),
	}

	resp, err := s.deps.analyzer.Analyze(ctx, req)
	if err != nil {
		_, msg := analysisStatus(err)
		s.send(conn, streamEvent{Type: eventError, Message: msg})
		s.close(conn)
		return
	}

	if resp.Agent != nil {
		for i := range resp.Agent.Steps {
			if ctx.Err() != nil {
				return
			}
			if !s.send(conn, streamEvent{Type: eventStep, Step: &resp.Agent.Steps[i]}) {
				return
			}
		}
	}
	if s.send(conn, streamEvent{Type: eventResult, Result: resp}) {
		s.close(conn)
	}
}

func (s *server) send(conn *websocket.Conn, ev streamEvent) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		zap.L().Debug("websocket write", zap.String("type", ev.Type), zap.Error(err))
		return false
	}
	return true
}

func (s *server) close(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
