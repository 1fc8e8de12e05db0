package chathub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"socialchat/backend/internal/models"
	"socialchat/backend/internal/storage"

	"golang.org/x/sync/singleflight"
)

var (
	ErrSelfChat      = errors.New("cannot open a private chat with yourself")
	ErrTooFewMembers = errors.New("a private room needs at least two members")
)

// Registry owns room metadata, membership and the public room connected
// sets. All mutation of those sets goes through it; it holds no lock across
// storage calls.
type Registry struct {
	Rooms        storage.RoomStore
	Presence     storage.PresenceStore
	DefaultImage string

	// inflight collapses concurrent find-or-create calls in this process;
	// the storage unique key covers other processes.
	inflight singleflight.Group
}

func NewRegistry(rooms storage.RoomStore, presence storage.PresenceStore, defaultImage string) *Registry {
	return &Registry{Rooms: rooms, Presence: presence, DefaultImage: defaultImage}
}

// Room loads a fresh copy of the room with its members.
func (r *Registry) Room(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := r.Rooms.GetRoomByID(ctx, roomID)
	if errors.Is(err, storage.ErrRoomNotFound) {
		return nil, NotFoundError("Invalid room.")
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

// Topic is the broadcast topic of a room.
func (r *Registry) Topic(room *models.Room) string {
	if room.IsPrivate() {
		return "PrivateChatRoom-" + room.ID
	}
	return "PublicChatRoom-" + room.ID
}

// CreatePublic creates a public room. An empty authorized list opens it to
// every authenticated account.
func (r *Registry) CreatePublic(ctx context.Context, title, image string, authorized []*models.Account) (*models.Room, error) {
	room := &models.Room{Kind: models.RoomPublic, Title: title, Image: image, Active: true}
	ids := make([]string, 0, len(authorized))
	for _, a := range authorized {
		ids = append(ids, a.ID)
		room.Members = append(room.Members, *a)
	}
	if err := r.Rooms.CreateRoom(ctx, room, ids); err != nil {
		return nil, err
	}
	return room, nil
}

// FindOrCreateDirect returns the one private room whose members are exactly a and b.
func (r *Registry) FindOrCreateDirect(ctx context.Context, a, b *models.Account) (*models.Room, error) {
	if a.ID == b.ID {
		return nil, ErrSelfChat
	}
	return r.findOrCreate(ctx, []string{a.ID, b.ID})
}

// FindOrCreateGroup returns the private room whose member set equals members.
func (r *Registry) FindOrCreateGroup(ctx context.Context, members []*models.Account) (*models.Room, error) {
	ids := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		ids = append(ids, m.ID)
	}
	if len(ids) < 2 {
		return nil, ErrTooFewMembers
	}
	return r.findOrCreate(ctx, ids)
}

func (r *Registry) findOrCreate(ctx context.Context, ids []string) (*models.Room, error) {
	key := models.MemberKeyFor(ids...)
	v, err, _ := r.inflight.Do(key, func() (any, error) {
		template := &models.Room{Kind: models.RoomPrivate, Active: true}
		room, _, err := r.Rooms.FindOrCreateRoom(context.WithoutCancel(ctx), template, ids)
		return room, err
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing a flight each get their own copy.
	cp := *v.(*models.Room)
	cp.Members = append([]models.Account(nil), cp.Members...)
	return &cp, nil
}

// ListRoomsFor returns every private room the identity belongs to, regardless of Active.
func (r *Registry) ListRoomsFor(ctx context.Context, identity *models.Account) ([]models.Room, error) {
	return r.Rooms.ListPrivateRoomsFor(ctx, identity.ID)
}

// SetActive updates the visibility hint of a private room.
func (r *Registry) SetActive(ctx context.Context, room *models.Room, active bool) error {
	if room.Active == active {
		return nil
	}
	if err := r.Rooms.SetRoomActive(ctx, room.ID, active); err != nil {
		return err
	}
	room.Active = active
	return nil
}

// Title resolves the display title for viewer. Untitled direct rooms show
// the other member; untitled groups list the other members.
func (r *Registry) Title(room *models.Room, viewer *models.Account) string {
	if room.Title != "" || !room.IsPrivate() {
		return room.Title
	}
	viewerID := ""
	if viewer != nil {
		viewerID = viewer.ID
	}
	if room.IsDirect() && room.HasMember(viewerID) {
		other, _ := room.Other(viewerID)
		return other.Username
	}
	names := make([]string, 0, len(room.Members))
	for _, m := range room.Members {
		if m.ID != viewerID {
			names = append(names, m.Username)
		}
	}
	return strings.Join(names, ", ")
}

// Image resolves the display image for viewer, falling back to the default asset.
func (r *Registry) Image(room *models.Room, viewer *models.Account) string {
	if room.Image != "" {
		return room.Image
	}
	if room.IsDirect() && viewer != nil && room.HasMember(viewer.ID) {
		if other, _ := room.Other(viewer.ID); other.ProfileImage != "" {
			return other.ProfileImage
		}
	}
	return r.DefaultImage
}

// IsMember reports whether identity may be counted as connected. An open
// public room (no authorized list) admits every authenticated account.
func (r *Registry) IsMember(room *models.Room, identity *models.Account) bool {
	if identity == nil {
		return false
	}
	if !room.IsPrivate() && len(room.Members) == 0 {
		return true
	}
	return room.HasMember(identity.ID)
}

// Connect adds identity to a public room's connected set. It returns
// whether identity is now connected.
func (r *Registry) Connect(ctx context.Context, room *models.Room, identity *models.Account) (bool, error) {
	if room.IsPrivate() || !r.IsMember(room, identity) {
		return false, nil
	}
	if _, err := r.Presence.AddConnected(ctx, room.ID, identity.ID); err != nil {
		return false, err
	}
	return true, nil
}

// Disconnect removes identity from a public room's connected set and
// reports whether it was there.
func (r *Registry) Disconnect(ctx context.Context, room *models.Room, identity *models.Account) (bool, error) {
	if room.IsPrivate() || identity == nil {
		return false, nil
	}
	return r.Presence.RemoveConnected(ctx, room.ID, identity.ID)
}

// PresenceCount is the size of the connected set.
func (r *Registry) PresenceCount(ctx context.Context, room *models.Room) (int, error) {
	n, err := r.Presence.CountConnected(ctx, room.ID)
	if err != nil {
		return 0, fmt.Errorf("presence count for room %s: %w", room.ID, err)
	}
	return n, nil
}
