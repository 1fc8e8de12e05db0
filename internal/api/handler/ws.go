package handler

import (
	"net/http"

	"socialchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the web client's origin once it is served from a fixed host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket accepts every connection; authorization happens per command.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	identity := CurrentIdentity(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, identity)
	if !h.Hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}
	logrus.WithFields(logrus.Fields{"conn_id": client.ID(), "identity": describe(identity)}).Debug("websocket connected")
	client.Run()
}
