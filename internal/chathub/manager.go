package chathub

import (
	"context"
	"sync"
	"time"

	"socialchat/backend/internal/config"
	"socialchat/backend/internal/models"
	"socialchat/backend/internal/storage"

	"github.com/sirupsen/logrus"
)

// ManagerService owns the live connections of this process and the
// collaborators their sessions share.
type ManagerService struct {
	Registry    *Registry
	Access      *AccessControl
	Messages    storage.MessageStore
	Writer      *RoomWriter
	Broadcaster Broadcaster

	PageSize   int
	SendBuffer int
	Location   *time.Location
	Now        func() time.Time

	RegisterCh   chan Client
	UnregisterCh chan Client

	mu      sync.RWMutex
	Clients map[string]Client

	done chan struct{}
	log  *logrus.Entry
}

func NewManagerService(registry *Registry, access *AccessControl, messages storage.MessageStore, b Broadcaster, chat config.Chat, loc *time.Location) *ManagerService {
	if loc == nil {
		loc = time.UTC
	}
	return &ManagerService{
		Registry:     registry,
		Access:       access,
		Messages:     messages,
		Writer:       NewRoomWriter(messages),
		Broadcaster:  b,
		PageSize:     chat.PageSize,
		SendBuffer:   chat.SendBuffer,
		Location:     loc,
		Now:          time.Now,
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		Clients:      make(map[string]Client),
		done:         make(chan struct{}),
		log:          logrus.WithField("component", "hub"),
	}
}

// NewSession creates the command state machine for one connection. Replies
// and room events reach the connection through out.
func (m *ManagerService) NewSession(out Subscriber, identity *models.Account) *Session {
	fields := logrus.Fields{"conn_id": out.ID()}
	if identity != nil {
		fields["user_id"] = identity.ID
	}
	return &Session{
		hub:      m,
		out:      out,
		identity: identity,
		log:      m.log.WithFields(fields),
		state:    StateNoRoom,
	}
}

// Run tracks registrations until ctx is done, then closes every client.
// Each client runs its own session cleanup as it goes down.
func (m *ManagerService) Run(ctx context.Context) {
	m.log.Info("hub started")
	for {
		select {
		case c := <-m.RegisterCh:
			m.mu.Lock()
			m.Clients[c.ID()] = c
			m.mu.Unlock()
			m.log.WithField("conn_id", c.ID()).Debug("client registered")

		case c := <-m.UnregisterCh:
			m.mu.Lock()
			delete(m.Clients, c.ID())
			m.mu.Unlock()
			m.log.WithField("conn_id", c.ID()).Debug("client unregistered")

		case <-ctx.Done():
			close(m.done)
			m.mu.Lock()
			clients := m.Clients
			m.Clients = make(map[string]Client)
			m.mu.Unlock()
			for _, c := range clients {
				c.Close()
			}
			m.log.WithField("closed", len(clients)).Info("hub stopped")
			return
		}
	}
}

// Register hands c to the hub. It returns false once the hub has stopped.
func (m *ManagerService) Register(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

// ActiveSessions is the number of registered connections.
func (m *ManagerService) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Clients)
}
