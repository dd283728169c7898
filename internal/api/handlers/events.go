package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

func (h *TaskHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range h.origins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// TaskEvents streams progress of one task over a WebSocket until the task
// reaches a terminal state or the client goes away
func (h *TaskHandler) TaskEvents(w http.ResponseWriter, r *http.Request) {
	t, ok := h.task(w, r)
	if !ok {
		return
	}
	events, stop, err := h.manager.Subscribe(r.Context(), t.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer stop()

	upgrader := h.upgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	logger := h.logger.With(zap.String("task_id", t.ID))
	logger.Debug("event stream connected")

	// the client never sends anything useful; reading detects disconnects
	// and processes pongs
	gone := make(chan struct{})
	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				closeStream(ws)
				return
			}
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(ev); err != nil {
				logger.Debug("event stream write failed", zap.Error(err))
				return
			}
			if ev.Terminal() {
				h.manager.Release(t.ID)
				closeStream(ws)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-gone:
			logger.Debug("event stream disconnected")
			return
		}
	}
}

func closeStream(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
