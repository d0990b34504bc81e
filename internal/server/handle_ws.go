package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// handleSessionWS pushes the runtime view as a text frame on connect and
// after every change. Incoming frames are ignored; actions go through the
// REST endpoints.
func handleSessionWS(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g := guestFrom(r)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Hour)
		defer cancel()
		ctx = conn.CloseRead(ctx)

		feed := newViewFeed()
		unsubscribe := g.Runtime.Subscribe(feed.push)
		defer unsubscribe()
		feed.push(g.Runtime.View())

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case v := <-feed.ch:
				data, err := json.Marshal(v)
				if err != nil {
					logger.Error("encoding view failed", "session", g.Session.ID, "error", err)
					return
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					logger.Debug("websocket write failed", "session", g.Session.ID, "error", err)
					return
				}
			}
		}
	}
}
