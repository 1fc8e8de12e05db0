package models

import (
	"sort"
	"strings"
	"time"
)

// RoomKind tags the two room families.
type RoomKind string

const (
	RoomPublic  RoomKind = "public"
	RoomPrivate RoomKind = "private"
)

// Room is a chat room of either kind.
//
// For public rooms Members is the list of authorized users; an empty list
// means the room is open to every authenticated account. For private rooms
// Members is the fixed participant set.
type Room struct {
	ID    string   `gorm:"primaryKey" json:"id"`
	Kind  RoomKind `gorm:"type:text;not null;index" json:"kind"`
	Title string   `gorm:"type:text" json:"title"`
	Image string   `gorm:"type:text" json:"image"`
	// Active is a visibility hint for private rooms, never an access rule.
	Active bool `gorm:"not null;default:true" json:"active"`
	// MemberKey identifies a private room by its member set. The unique
	// index arbitrates concurrent find-or-create calls.
	MemberKey *string   `gorm:"type:text;uniqueIndex" json:"-"`
	Members   []Account `gorm:"many2many:room_members;" json:"members,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomMember is the join row between rooms and accounts.
type RoomMember struct {
	RoomID    string `gorm:"primaryKey"`
	AccountID string `gorm:"primaryKey;index"`
}

// RoomConnection marks an account as currently connected to a public room.
type RoomConnection struct {
	RoomID      string `gorm:"primaryKey"`
	AccountID   string `gorm:"primaryKey"`
	ConnectedAt time.Time
}

// IsPrivate reports whether the room is membership-gated.
func (r *Room) IsPrivate() bool { return r.Kind == RoomPrivate }

// IsDirect reports whether the room is a private chat between exactly two accounts.
func (r *Room) IsDirect() bool { return r.IsPrivate() && len(r.Members) == 2 }

// HasMember reports whether accountID is in the member list.
func (r *Room) HasMember(accountID string) bool {
	for _, m := range r.Members {
		if m.ID == accountID {
			return true
		}
	}
	return false
}

// Other returns the first member that is not accountID.
func (r *Room) Other(accountID string) (Account, bool) {
	for _, m := range r.Members {
		if m.ID != accountID {
			return m, true
		}
	}
	return Account{}, false
}

// MemberKeyFor builds the order-independent key of a member set.
// Duplicate ids collapse.
func MemberKeyFor(ids ...string) string {
	set := make(map[string]struct{}, len(ids))
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		uniq = append(uniq, id)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, ":")
}
