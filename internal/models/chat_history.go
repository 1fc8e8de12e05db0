package models

import "time"

// ChatMessage is a persisted chat message. Messages are append-only.
type ChatMessage struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	// RoomID is the room the message was sent to.
	RoomID string `gorm:"type:text;not null;index:idx_room_created,priority:1" json:"room_id"`
	// AuthorID is the account that sent the message.
	AuthorID string `gorm:"type:text;not null;index" json:"author_id"`
	// Content is never empty or whitespace-only.
	Content string `gorm:"type:text;not null" json:"content"`
	// CreatedAt is server-assigned and non-decreasing within a room.
	CreatedAt time.Time `gorm:"not null;index:idx_room_created,priority:2" json:"created_at"`
}

// MessageRecord is a history row joined with its author's display fields.
type MessageRecord struct {
	ID           uint
	RoomID       string
	AuthorID     string
	Username     string
	ProfileImage string
	Content      string
	CreatedAt    time.Time
}
