package handler

import (
	"context"
	"errors"
	"net/http"

	"socialchat/backend/internal/chathub"
	"socialchat/backend/internal/models"
	"socialchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type memberView struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	ProfileImage string `json:"profile_image"`
}

type roomView struct {
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	Image   string       `json:"image"`
	Active  bool         `json:"active"`
	Members []memberView `json:"members"`
}

type groupRequest struct {
	UserIDs []string `json:"user_ids" binding:"required,min=1"`
}

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// ListPrivateRooms lists the caller's private rooms, inactive ones included,
// with titles and images resolved for the caller.
func (h *Handler) ListPrivateRooms(c *gin.Context) {
	me := CurrentIdentity(c)
	if me == nil {
		abortError(c, http.StatusUnauthorized, "You must be authenticated to view your chats.")
		return
	}

	rooms, err := h.Hub.Registry.ListRoomsFor(c.Request.Context(), me)
	if err != nil {
		logrus.WithError(err).WithField("user_id", me.ID).Error("list private rooms")
		abortError(c, http.StatusInternalServerError, "Unable to load chats.")
		return
	}

	views := make([]roomView, 0, len(rooms))
	for i := range rooms {
		room := &rooms[i]
		v := roomView{
			ID:     room.ID,
			Title:  h.Hub.Registry.Title(room, me),
			Image:  h.Hub.Registry.Image(room, me),
			Active: room.Active,
		}
		for _, m := range room.Members {
			v.Members = append(v.Members, memberView{ID: m.ID, Username: m.Username, ProfileImage: m.ProfileImage})
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"rooms": views})
}

// friendOf loads accountID and checks it is a mutual friend of me. On
// failure the response has been written.
func (h *Handler) friendOf(c *gin.Context, me *models.Account, accountID string) (*models.Account, bool) {
	ctx := c.Request.Context()
	other, err := h.Accounts.GetAccount(ctx, accountID)
	if errors.Is(err, storage.ErrAccountNotFound) {
		abortError(c, http.StatusNotFound, "Unable to find that account.")
		return nil, false
	}
	if err != nil {
		logrus.WithError(err).WithField("user_id", accountID).Error("load account")
		abortError(c, http.StatusInternalServerError, "Unable to start a chat.")
		return nil, false
	}

	ok, err := h.Friends.IsMutualFriend(ctx, me.ID, other.ID)
	if err != nil {
		logrus.WithError(err).Error("check friendship")
		abortError(c, http.StatusInternalServerError, "Unable to start a chat.")
		return nil, false
	}
	if !ok {
		abortError(c, http.StatusUnauthorized, "You must be friends to chat.")
		return nil, false
	}
	return other, true
}

// reactivate marks a room visible again once friendship was just confirmed.
func (h *Handler) reactivate(ctx context.Context, room *models.Room) {
	if err := h.Hub.Registry.SetActive(ctx, room, true); err != nil {
		logrus.WithError(err).WithField("room_id", room.ID).Warn("reactivate room")
	}
}

// CreateDirectRoom finds or creates the private room with :user_id.
func (h *Handler) CreateDirectRoom(c *gin.Context) {
	me := CurrentIdentity(c)
	if me == nil {
		abortError(c, http.StatusUnauthorized, "You must be authenticated to start a chat.")
		return
	}
	otherID := c.Param("user_id")
	if otherID == me.ID {
		abortError(c, http.StatusBadRequest, "You can't chat with yourself.")
		return
	}
	other, ok := h.friendOf(c, me, otherID)
	if !ok {
		return
	}

	room, err := h.Hub.Registry.FindOrCreateDirect(c.Request.Context(), me, other)
	if err != nil {
		logrus.WithError(err).Error("find or create direct room")
		abortError(c, http.StatusInternalServerError, "Unable to start a chat.")
		return
	}
	h.reactivate(c.Request.Context(), room)
	c.JSON(http.StatusOK, gin.H{"room_id": room.ID})
}

// CreateGroupRoom finds or creates the private room of the caller and the
// listed friends.
func (h *Handler) CreateGroupRoom(c *gin.Context) {
	me := CurrentIdentity(c)
	if me == nil {
		abortError(c, http.StatusUnauthorized, "You must be authenticated to start a chat.")
		return
	}
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "user_ids is required.")
		return
	}

	members := []*models.Account{me}
	for _, id := range req.UserIDs {
		if id == me.ID {
			continue
		}
		other, ok := h.friendOf(c, me, id)
		if !ok {
			return
		}
		members = append(members, other)
	}

	room, err := h.Hub.Registry.FindOrCreateGroup(c.Request.Context(), members)
	if errors.Is(err, chathub.ErrTooFewMembers) {
		abortError(c, http.StatusBadRequest, "A group chat needs at least one other member.")
		return
	}
	if err != nil {
		logrus.WithError(err).Error("find or create group room")
		abortError(c, http.StatusInternalServerError, "Unable to start a chat.")
		return
	}
	h.reactivate(c.Request.Context(), room)
	c.JSON(http.StatusOK, gin.H{"room_id": room.ID})
}
