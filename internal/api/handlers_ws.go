package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader allows any origin; there is no browser-facing auth model.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and hands it to the wsbroadcast
// hub for the lifetime of the socket.
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := r.container.WS.NewClient(conn)
	r.container.WS.RegisterClient(client)

	ctx := req.Context()
	go client.WritePump(ctx)
	client.ReadPump(ctx)
}
