package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/gatekeeper/internal/registry"
	"github.com/kiranshivaraju/gatekeeper/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Registrar is the part of the connection registry the notify handler uses.
type Registrar interface {
	Register(handle string, ch registry.Channel)
	DeregisterIf(handle string, ch registry.Channel) bool
}

// NewNotifyHandler returns an http.HandlerFunc for GET /ws/{handle}.
// The connection is registered for the handle and kept open until the peer
// goes away. Inbound frames are read and discarded.
func NewNotifyHandler(reg Registrar, writeTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := chi.URLParam(r, "handle")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "handle", handle, "error", err)
			return
		}
		defer conn.Close()

		ch := &wsChannel{conn: conn, writeTimeout: writeTimeout}
		reg.Register(handle, ch)
		defer reg.DeregisterIf(handle, ch)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					slog.Info("websocket closed", "handle", handle, "error", err)
				}
				return
			}
		}
	}
}

// wsChannel adapts a websocket connection to registry.Channel.
type wsChannel struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsChannel) Send(ctx context.Context, result models.JobResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(result)
}
