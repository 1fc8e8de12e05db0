package chathub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"socialchat/backend/internal/models"

	"github.com/sirupsen/logrus"
)

// Commands accepted from clients.
const (
	CommandJoin            = "join"
	CommandLeave           = "leave"
	CommandSend            = "send"
	CommandGetChatMessages = "get_chatroom_messages"
)

// SessionState is the position of a Session in its lifecycle.
type SessionState int

const (
	StateNoRoom SessionState = iota
	StateInRoom
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNoRoom:
		return "connected"
	case StateInRoom:
		return "in_room"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the per-connection command state machine. Commands are handled
// one at a time by the connection's read loop; mu only guards state for
// readers on other goroutines and is never held across storage calls.
type Session struct {
	hub      *ManagerService
	out      Subscriber
	identity *models.Account
	log      *logrus.Entry

	mu    sync.Mutex
	state SessionState
	room  *models.Room
}

// State returns the current state and joined room id.
func (s *Session) State() (SessionState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return s.state, ""
	}
	return s.state, s.room.ID
}

func (s *Session) currentRoom() *models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) setRoom(room *models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.room = room
	if room == nil {
		s.state = StateNoRoom
	} else {
		s.state = StateInRoom
	}
}

func (s *Session) reply(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("failed to encode reply")
		return
	}
	s.out.Deliver(frame)
}

func (s *Session) replyError(ce *ClientError) {
	s.reply(models.ErrorResponse{Error: ce.Code, Message: ce.Message})
}

func (s *Session) publish(ctx context.Context, room *models.Room, ev Event) {
	topic := s.hub.Registry.Topic(room)
	if err := s.hub.Broadcaster.Publish(context.WithoutCancel(ctx), topic, ev); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"topic": topic, "event": ev.Kind}).Error("publish failed")
	}
}

func (s *Session) username() string {
	if s.identity == nil {
		return ""
	}
	return s.identity.Username
}

// Handle decodes one raw command and runs it. Failures are answered with the
// error envelope; nothing a command does terminates the connection.
func (s *Session) Handle(ctx context.Context, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("command handler panicked")
			s.replyError(InternalError("Something went wrong."))
		}
	}()

	var cmd models.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.log.WithError(err).Debug("malformed command")
		s.replyError(ValidationError("Malformed command."))
		return
	}

	if err := s.Dispatch(ctx, cmd); err != nil {
		ce := AsClientError(err)
		entry := s.log.WithFields(logrus.Fields{"command": cmd.Command, "room_id": cmd.RoomID, "code": ce.Code})
		if ce.Code >= 500 {
			entry.WithError(err).Error("command failed")
		} else {
			entry.Debug(ce.Message)
		}
		s.replyError(ce)
	}
}

// Dispatch routes a decoded command. Unknown commands are ignored.
func (s *Session) Dispatch(ctx context.Context, cmd models.Command) error {
	switch cmd.Command {
	case CommandJoin:
		return s.Join(ctx, cmd.RoomID)
	case CommandLeave:
		return s.Leave(ctx, cmd.RoomID)
	case CommandSend:
		return s.Send(ctx, cmd.RoomID, cmd.Message)
	case CommandGetChatMessages:
		return s.GetChatroomMessages(ctx, cmd.RoomID, int(cmd.PageNumber))
	default:
		s.log.WithField("command", cmd.Command).Debug("ignoring unknown command")
		return nil
	}
}

// denied records that a direct room's members are no longer friends.
func (s *Session) denied(ctx context.Context, room *models.Room, err error) error {
	if errors.Is(err, ErrNotFriends) {
		if serr := s.hub.Registry.SetActive(context.WithoutCancel(ctx), room, false); serr != nil {
			s.log.WithError(serr).WithField("room_id", room.ID).Warn("failed to deactivate room")
		}
	}
	return err
}

// Join subscribes the session to a room, leaving any other room first.
func (s *Session) Join(ctx context.Context, roomID string) error {
	room, err := s.hub.Registry.Room(ctx, roomID)
	if err != nil {
		return err
	}
	if err := s.hub.Access.CanJoin(ctx, room, s.identity); err != nil {
		return s.denied(ctx, room, err)
	}

	if current := s.currentRoom(); current != nil {
		if current.ID == room.ID {
			s.reply(models.JoinResponse{Join: room.ID, Username: s.username()})
			return nil
		}
		if err := s.leave(ctx, current); err != nil {
			s.log.WithError(err).WithField("room_id", current.ID).Warn("failed to leave previous room")
		}
	}

	if _, err := s.hub.Registry.Connect(ctx, room, s.identity); err != nil {
		return err
	}
	s.hub.Broadcaster.Subscribe(s.hub.Registry.Topic(room), s.out)
	s.setRoom(room)

	s.reply(models.JoinResponse{Join: room.ID, Username: s.username()})

	if room.IsPrivate() {
		s.publish(ctx, room, Event{
			Kind: EventChatJoin,
			Payload: models.MembershipEvent{
				MessageType:  models.MsgTypeJoin,
				RoomID:       room.ID,
				Username:     s.identity.Username,
				UserID:       s.identity.ID,
				ProfileImage: s.identity.ProfileImage,
			},
		})
		return nil
	}

	return s.publishCount(ctx, room)
}

func (s *Session) publishCount(ctx context.Context, room *models.Room) error {
	n, err := s.hub.Registry.PresenceCount(ctx, room)
	if err != nil {
		return err
	}
	s.publish(ctx, room, Event{
		Kind:    EventUserCount,
		Payload: models.PresenceEvent{MessageType: models.MsgTypeConnectedUserCount, ConnectedUserCount: n},
	})
	return nil
}

// Leave unsubscribes from roomID. It is a no-op unless that room is the one joined.
func (s *Session) Leave(ctx context.Context, roomID string) error {
	current := s.currentRoom()
	if current == nil || current.ID != roomID {
		return nil
	}
	if err := s.leave(ctx, current); err != nil {
		return err
	}
	s.reply(models.LeaveResponse{Leave: current.ID})
	return nil
}

// leave always clears the session's room; the returned error only reports
// failed presence bookkeeping.
func (s *Session) leave(ctx context.Context, room *models.Room) error {
	s.hub.Broadcaster.Unsubscribe(s.hub.Registry.Topic(room), s.out)
	s.setRoom(nil)

	if room.IsPrivate() {
		if s.identity == nil {
			return nil
		}
		s.publish(ctx, room, Event{
			Kind: EventChatLeave,
			Payload: models.MembershipEvent{
				MessageType:  models.MsgTypeLeave,
				RoomID:       room.ID,
				Username:     s.identity.Username,
				UserID:       s.identity.ID,
				ProfileImage: s.identity.ProfileImage,
			},
		})
		return nil
	}

	if _, err := s.hub.Registry.Disconnect(ctx, room, s.identity); err != nil {
		return err
	}
	return s.publishCount(ctx, room)
}

// Send persists a message and broadcasts it to the joined room.
func (s *Session) Send(ctx context.Context, roomID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ValidationError("You can't send an empty message.")
	}
	current := s.currentRoom()
	if current == nil || current.ID != roomID {
		return AuthorizationError("Room access denied.")
	}
	if s.identity == nil {
		return AuthorizationError("You must be authenticated to chat.")
	}

	room, err := s.hub.Registry.Room(ctx, roomID)
	if err != nil {
		return err
	}
	if err := s.hub.Access.CanSend(ctx, room, s.identity, current.ID); err != nil {
		return s.denied(ctx, room, err)
	}

	identity := *s.identity
	_, err = s.hub.Writer.Append(ctx, room.ID, identity.ID, content, func(msg *models.ChatMessage) {
		s.publish(ctx, room, Event{
			Kind: EventChatMessage,
			Payload: models.ChatEvent{
				MessageType:  models.MsgTypeNewMessage,
				ProfileImage: identity.ProfileImage,
				Username:     identity.Username,
				UserID:       identity.ID,
				Message:      msg.Content,
				Timestamp:    FormatTimestamp(msg.CreatedAt, s.hub.Now(), s.hub.Location),
			},
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.WithError(err).WithField("room_id", room.ID).Error("failed to store message")
		return InternalError("Your message could not be sent.")
	}

	if room.IsPrivate() && !room.Active {
		if err := s.hub.Registry.SetActive(context.WithoutCancel(ctx), room, true); err != nil {
			s.log.WithError(err).WithField("room_id", room.ID).Warn("failed to reactivate room")
		}
	}
	return nil
}

// GetChatroomMessages answers with one page of history, newest first.
func (s *Session) GetChatroomMessages(ctx context.Context, roomID string, page int) error {
	room, err := s.hub.Registry.Room(ctx, roomID)
	if err != nil {
		return err
	}
	if err := s.hub.Access.CanRead(ctx, room, s.identity); err != nil {
		return err
	}

	enc := newPageEncoder(s.hub.Now(), s.hub.Location)
	next, ok, err := s.hub.Messages.EachMessage(ctx, room.ID, page, s.hub.PageSize, enc.add)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"room_id": room.ID, "page": page}).Warn("history retrieval failed")
		return RetrievalFailure("Something went wrong retrieving chatroom messages.")
	}
	s.out.Deliver(enc.finish(ok, next))
	return nil
}

// Close runs the implicit leave. Errors are logged and dropped.
func (s *Session) Close(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("session cleanup panicked")
		}
	}()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	room := s.room
	s.mu.Unlock()

	if room != nil {
		if err := s.leave(ctx, room); err != nil {
			s.log.WithError(err).WithField("room_id", room.ID).Debug("cleanup leave failed")
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	s.room = nil
	s.mu.Unlock()
}

// pageEncoder writes the messages payload frame one record at a time as
// rows arrive from storage.
type pageEncoder struct {
	buf bytes.Buffer
	n   int
	now time.Time
	loc *time.Location
}

func newPageEncoder(now time.Time, loc *time.Location) *pageEncoder {
	e := &pageEncoder{now: now, loc: loc}
	e.buf.WriteString(`{"messages_payload":"messages_payload","messages":`)
	return e
}

func (e *pageEncoder) add(rec models.MessageRecord) error {
	b, err := json.Marshal(models.ChatEvent{
		MessageType:  models.MsgTypeNewMessage,
		ProfileImage: rec.ProfileImage,
		Username:     rec.Username,
		UserID:       rec.AuthorID,
		Message:      rec.Content,
		Timestamp:    FormatTimestamp(rec.CreatedAt, e.now, e.loc),
	})
	if err != nil {
		return err
	}
	if e.n == 0 {
		e.buf.WriteByte('[')
	} else {
		e.buf.WriteByte(',')
	}
	e.buf.Write(b)
	e.n++
	return nil
}

// finish closes the frame. Past the last page messages is null.
func (e *pageEncoder) finish(ok bool, next int) []byte {
	switch {
	case !ok:
		e.buf.WriteString("null")
	case e.n == 0:
		e.buf.WriteString("[]")
	default:
		e.buf.WriteByte(']')
	}
	e.buf.WriteString(`,"new_page_number":`)
	e.buf.WriteString(strconv.Itoa(next))
	e.buf.WriteByte('}')
	return e.buf.Bytes()
}
