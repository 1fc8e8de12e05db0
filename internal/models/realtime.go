package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Message types carried in the message_type field of pushed events.
const (
	MsgTypeNewMessage         = 0
	MsgTypeConnectedUserCount = 1
	MsgTypeJoin               = 2
	MsgTypeLeave              = 3
)

// Command is a client request read from the socket.
type Command struct {
	Command    string     `json:"command"`
	RoomID     string     `json:"room_id"`
	Message    string     `json:"message"`
	PageNumber PageNumber `json:"page_number"`
}

// PageNumber accepts both 2 and "2" on the wire.
type PageNumber int

func (p *PageNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("page_number: %w", err)
	}
	*p = PageNumber(n)
	return nil
}

// ChatEvent is the chat.message payload. History records use the same schema.
type ChatEvent struct {
	MessageType  int    `json:"message_type"`
	ProfileImage string `json:"profile_image"`
	Username     string `json:"username"`
	UserID       string `json:"user_id"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
}

// PresenceEvent carries the connected user count of a public room.
type PresenceEvent struct {
	MessageType        int `json:"message_type"`
	ConnectedUserCount int `json:"connected_user_count"`
}

// MembershipEvent notifies private room peers that someone joined or left.
type MembershipEvent struct {
	MessageType  int    `json:"message_type"`
	RoomID       string `json:"room_id"`
	Username     string `json:"username"`
	UserID       string `json:"user_id"`
	ProfileImage string `json:"profile_image"`
}

// JoinResponse is echoed to the joining connection.
type JoinResponse struct {
	Join     string `json:"join"`
	Username string `json:"username"`
}

// LeaveResponse is echoed to the leaving connection.
type LeaveResponse struct {
	Leave string `json:"leave"`
}

// ErrorResponse is the error envelope sent to the originating connection only.
type ErrorResponse struct {
	Error   int    `json:"error"`
	Message string `json:"message,omitempty"`
}
