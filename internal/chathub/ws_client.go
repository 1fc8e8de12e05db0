package chathub

import (
	"context"
	"sync"
	"time"

	"socialchat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	cleanupTimeout = 5 * time.Second
)

// WebSocketClient implements Client over a gorilla connection. Commands are
// read and handled sequentially on the read pump; frames leave through the
// buffered Send queue drained by the write pump.
type WebSocketClient struct {
	id       string
	identity *models.Account
	Conn     *websocket.Conn
	Hub      *ManagerService
	Send     chan []byte

	session   *Session
	done      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, identity *models.Account) *WebSocketClient {
	size := hub.SendBuffer
	if size <= 0 {
		size = 256
	}
	c := &WebSocketClient{
		id:       uuid.NewString(),
		identity: identity,
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan []byte, size),
		done:     make(chan struct{}),
	}
	c.session = hub.NewSession(c, identity)
	c.log = c.session.log
	return c
}

func (c *WebSocketClient) ID() string                { return c.id }
func (c *WebSocketClient) Identity() *models.Account { return c.identity }
func (c *WebSocketClient) Session() *Session         { return c.session }

// Deliver never blocks. A client whose queue is full is closed.
func (c *WebSocketClient) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- frame:
		return true
	default:
		c.log.Warn("send queue full, closing slow client")
		c.Close()
		return false
	}
}

func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close is safe to call more than once and from any goroutine.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *WebSocketClient) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c.done
		cancel()
	}()

	defer func() {
		cleanupCtx, stop := context.WithTimeout(context.Background(), cleanupTimeout)
		c.session.Close(cleanupCtx)
		stop()
		c.Close()
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("unexpected close")
			}
			return
		}
		c.session.Handle(ctx, message)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.Conn.Close()
	}()

	for {
		select {
		case frame := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.WithError(err).Debug("write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
