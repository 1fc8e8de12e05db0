// Package handler exposes the chat core over HTTP: the WebSocket endpoint
// and the private room endpoints.
package handler

import (
	"socialchat/backend/internal/chathub"
	"socialchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Hub      *chathub.ManagerService
	Accounts storage.AccountStore
	Friends  chathub.FriendshipOracle
	Secret   []byte
}

func NewHandler(hub *chathub.ManagerService, accounts storage.AccountStore, friends chathub.FriendshipOracle, secret string) *Handler {
	return &Handler{Hub: hub, Accounts: accounts, Friends: friends, Secret: []byte(secret)}
}

// Routes mounts every endpoint behind the identity middleware.
func (h *Handler) Routes(r gin.IRouter) {
	r.Use(h.Identity())

	r.GET("/ws", h.ServeWebSocket)

	private := r.Group("/chat/private")
	private.GET("", h.ListPrivateRooms)
	private.POST("", h.CreateGroupRoom)
	private.POST("/:user_id", h.CreateDirectRoom)
}
