package chathub

import (
	"context"
	"sync"

	"socialchat/backend/internal/models"
	"socialchat/backend/internal/storage"
)

type appendRequest struct {
	ctx      context.Context
	authorID string
	content  string
	publish  func(*models.ChatMessage)
	done     chan appendResult
}

type appendResult struct {
	msg *models.ChatMessage
	err error
}

type roomQueue struct {
	pending []*appendRequest
}

// RoomWriter is the single writer of each room in this process. Appends to
// one room run one at a time, and each message is published before the next
// one is stored, so subscribers see messages in persisted order. The queue
// lock only guards the queues; storage runs on the room's drain goroutine.
type RoomWriter struct {
	Messages storage.MessageStore

	mu    sync.Mutex
	rooms map[string]*roomQueue
}

func NewRoomWriter(messages storage.MessageStore) *RoomWriter {
	return &RoomWriter{Messages: messages, rooms: make(map[string]*roomQueue)}
}

// Append stores content in roomID and, once stored, calls publish with the
// message before any later message of the room is stored. A request whose
// ctx is done before its turn stores nothing.
func (w *RoomWriter) Append(ctx context.Context, roomID, authorID, content string, publish func(*models.ChatMessage)) (*models.ChatMessage, error) {
	req := &appendRequest{
		ctx:      ctx,
		authorID: authorID,
		content:  content,
		publish:  publish,
		done:     make(chan appendResult, 1),
	}

	w.mu.Lock()
	q, running := w.rooms[roomID]
	if !running {
		q = &roomQueue{}
		w.rooms[roomID] = q
	}
	q.pending = append(q.pending, req)
	w.mu.Unlock()

	if !running {
		go w.drain(roomID, q)
	}

	res := <-req.done
	return res.msg, res.err
}

func (w *RoomWriter) drain(roomID string, q *roomQueue) {
	for {
		w.mu.Lock()
		if len(q.pending) == 0 {
			delete(w.rooms, roomID)
			w.mu.Unlock()
			return
		}
		req := q.pending[0]
		q.pending = q.pending[1:]
		w.mu.Unlock()

		req.done <- w.apply(roomID, req)
	}
}

func (w *RoomWriter) apply(roomID string, req *appendRequest) appendResult {
	if err := req.ctx.Err(); err != nil {
		return appendResult{err: err}
	}
	msg, err := w.Messages.AppendMessage(req.ctx, roomID, req.authorID, req.content)
	if err != nil {
		return appendResult{err: err}
	}
	if req.publish != nil {
		req.publish(msg)
	}
	return appendResult{msg: msg}
}
