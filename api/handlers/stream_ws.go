package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/flowdroplabs/flowdrop/api/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// HandleStreamLive upgrades to a WebSocket and pushes one Update per redraw
// tick, so the client's balance counts up in real time. The connection
// closes when the client disconnects or the server shuts down.
func (h *Handlers) HandleStreamLive(w http.ResponseWriter, r *http.Request) {
	member := chi.URLParam(r, "member")
	if member == "" {
		writeError(w, http.StatusBadRequest, "member is required")
		return
	}

	v, err := h.cfg.Streams.ViewFor(member)
	if err != nil {
		h.log.Error("failed to create stream view", "member", member, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create stream view")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade websocket connection", "member", member, "error", err)
		return
	}
	defer conn.Close()

	metrics.LiveStreamsGauge.Inc()
	defer metrics.LiveStreamsGauge.Dec()
	h.log.Info("live stream client connected", "member", member, "remoteAddr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader goroutine: the client sends nothing meaningful, but reading is
	// how we learn about disconnects and answer control frames.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	updates := v.Subscribe()
	defer v.Unsubscribe(updates)

	// Send the current state immediately so the client never renders blank.
	if err := writeUpdate(conn, v.Current()); err != nil {
		return
	}

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			if err := writeUpdate(conn, u); err != nil {
				h.log.Debug("live stream client gone", "member", member, "error", err)
				return
			}
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeUpdate(conn *websocket.Conn, u any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(u)
}
