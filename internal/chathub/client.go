package chathub

import "socialchat/backend/internal/models"

// Subscriber receives encoded frames from the Broadcaster and from its own session.
type Subscriber interface {
	// ID is unique per connection.
	ID() string
	// Deliver queues a frame without blocking. It returns false when the
	// frame was dropped because the subscriber is closed or too slow.
	Deliver(frame []byte) bool
}

// Client is one live connection registered with the ManagerService.
type Client interface {
	Subscriber
	// Identity is nil for anonymous connections.
	Identity() *models.Account
	// Run starts the client's read and write pumps.
	Run()
	// Close shuts the connection down; the session cleanup runs on the read side.
	Close()
}
