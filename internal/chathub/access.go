package chathub

import (
	"context"
	"fmt"

	"socialchat/backend/internal/models"
)

// FriendshipOracle answers whether two accounts are mutual friends.
type FriendshipOracle interface {
	IsMutualFriend(ctx context.Context, a, b string) (bool, error)
}

// AccessControl decides per room kind who may join, send and read.
// Friendship is queried at decision time; Room.Active is never consulted.
type AccessControl struct {
	Friends FriendshipOracle
}

func NewAccessControl(friends FriendshipOracle) *AccessControl {
	return &AccessControl{Friends: friends}
}

// CanJoin: public rooms admit anyone, anonymous observers included.
// Private rooms admit members, and direct rooms only while the two members
// are still friends.
func (a *AccessControl) CanJoin(ctx context.Context, room *models.Room, identity *models.Account) error {
	if !room.IsPrivate() {
		return nil
	}
	return a.checkPrivate(ctx, room, identity, true)
}

// CanSend requires an authenticated identity whose session is joined to room.
func (a *AccessControl) CanSend(ctx context.Context, room *models.Room, identity *models.Account, currentRoomID string) error {
	if currentRoomID == "" || currentRoomID != room.ID {
		return AuthorizationError("Room access denied.")
	}
	if identity == nil {
		return AuthorizationError("You must be authenticated to chat.")
	}
	if !room.IsPrivate() {
		return nil
	}
	return a.checkPrivate(ctx, room, identity, true)
}

// CanRead gates history. Public history is open; private history needs membership only.
func (a *AccessControl) CanRead(ctx context.Context, room *models.Room, identity *models.Account) error {
	if !room.IsPrivate() {
		return nil
	}
	return a.checkPrivate(ctx, room, identity, false)
}

func (a *AccessControl) checkPrivate(ctx context.Context, room *models.Room, identity *models.Account, needFriends bool) error {
	if identity == nil || !room.HasMember(identity.ID) {
		return AuthorizationError("You do not have the permission to chat in that room.")
	}
	if !needFriends || !room.IsDirect() || a.Friends == nil {
		return nil
	}
	other, _ := room.Other(identity.ID)
	ok, err := a.Friends.IsMutualFriend(ctx, identity.ID, other.ID)
	if err != nil {
		return fmt.Errorf("check friendship in room %s: %w", room.ID, err)
	}
	if !ok {
		return notFriendsError()
	}
	return nil
}
