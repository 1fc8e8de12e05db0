package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"socialchat/backend/internal/chathub"
	"socialchat/backend/internal/config"
	"socialchat/backend/internal/models"
	"socialchat/backend/internal/storage"
	"socialchat/backend/internal/storage/storagetest"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type testEnv struct {
	store  *storage.Service
	hub    *chathub.ManagerService
	router *gin.Engine
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storagetest.Open(t)
	registry := chathub.NewRegistry(store, store, "/static/images/default_room.png")
	hub := chathub.NewManagerService(registry, chathub.NewAccessControl(store), store, chathub.NewLocalBroadcaster(),
		config.Chat{PageSize: 10, SendBuffer: 64}, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	NewHandler(hub, store, store, testSecret).Routes(router)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return &testEnv{store: store, hub: hub, router: router, server: server}
}

func (e *testEnv) token(t *testing.T, a *models.Account) string {
	t.Helper()
	tok, err := IssueToken([]byte(testSecret), a.ID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) dial(t *testing.T, a *models.Account) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if a != nil {
		header.Set("Authorization", "Bearer "+e.token(t, a))
	}
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) do(t *testing.T, method, path string, a *models.Account, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if a != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, a))
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func send(t *testing.T, conn *websocket.Conn, cmd map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(cmd))
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		if match(frame) {
			return frame
		}
	}
}

func hasKey(key string) func(map[string]any) bool {
	return func(f map[string]any) bool {
		_, ok := f[key]
		return ok
	}
}

func isChatMessage(f map[string]any) bool {
	v, ok := f["message_type"].(float64)
	return ok && int(v) == models.MsgTypeNewMessage && f["message"] != nil
}

// expectSilence fails if any frame arrives within d. The connection is not
// usable afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, frame, err := conn.ReadMessage()
	assert.Error(t, err, "unexpected frame %s", frame)
}

func TestWebSocket_PublicRoomBroadcast(t *testing.T) {
	e := newTestEnv(t)
	alice := storagetest.Account(t, e.store, "alice")
	bob := storagetest.Account(t, e.store, "bob")
	carol := storagetest.Account(t, e.store, "carol")
	room, err := e.hub.Registry.CreatePublic(context.Background(), "General", "", nil)
	require.NoError(t, err)

	ca, cb, cc := e.dial(t, alice), e.dial(t, bob), e.dial(t, carol)

	send(t, ca, map[string]any{"command": "join", "room_id": room.ID})
	joined := readUntil(t, ca, hasKey("join"))
	assert.Equal(t, "alice", joined["username"])
	send(t, cb, map[string]any{"command": "join", "room_id": room.ID})
	readUntil(t, cb, hasKey("join"))

	send(t, ca, map[string]any{"command": "send", "room_id": room.ID, "message": "hello room"})

	for _, conn := range []*websocket.Conn{ca, cb} {
		msg := readUntil(t, conn, isChatMessage)
		assert.Equal(t, "hello room", msg["message"])
		assert.Equal(t, alice.ID, msg["user_id"])
	}
	expectSilence(t, cc, 300*time.Millisecond)
}

func TestWebSocket_ErrorsGoToSenderOnly(t *testing.T) {
	e := newTestEnv(t)
	alice := storagetest.Account(t, e.store, "alice")
	bob := storagetest.Account(t, e.store, "bob")
	storagetest.Befriend(t, e.store, alice, bob)
	private, err := e.hub.Registry.FindOrCreateDirect(context.Background(), alice, bob)
	require.NoError(t, err)
	public, err := e.hub.Registry.CreatePublic(context.Background(), "General", "", nil)
	require.NoError(t, err)

	anon := e.dial(t, nil)
	send(t, anon, map[string]any{"command": "join", "room_id": private.ID})
	frame := readUntil(t, anon, hasKey("error"))
	assert.EqualValues(t, http.StatusForbidden, frame["error"])

	ca := e.dial(t, alice)
	cb := e.dial(t, bob)
	send(t, ca, map[string]any{"command": "join", "room_id": public.ID})
	readUntil(t, ca, hasKey("join"))
	send(t, cb, map[string]any{"command": "join", "room_id": public.ID})
	readUntil(t, cb, hasKey("join"))

	send(t, ca, map[string]any{"command": "send", "room_id": public.ID, "message": "  \t "})
	frame = readUntil(t, ca, hasKey("error"))
	assert.EqualValues(t, http.StatusUnprocessableEntity, frame["error"])

	send(t, anon, map[string]any{"command": "send", "room_id": public.ID, "message": "hi"})
	frame = readUntil(t, anon, hasKey("error"))
	assert.EqualValues(t, http.StatusForbidden, frame["error"])

	// Bob only ever sees presence updates.
	require.NoError(t, cb.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	for {
		var f map[string]any
		if err := cb.ReadJSON(&f); err != nil {
			break
		}
		assert.NotContains(t, f, "error")
		assert.False(t, isChatMessage(f))
	}
}

func TestWebSocket_HistoryAndDisconnectCleanup(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := storagetest.Account(t, e.store, "alice")
	room, err := e.hub.Registry.CreatePublic(ctx, "General", "", nil)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		_, err := e.store.AppendMessage(ctx, room.ID, alice.ID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	ca := e.dial(t, alice)
	send(t, ca, map[string]any{"command": "get_chatroom_messages", "room_id": room.ID, "page_number": 2})
	page := readUntil(t, ca, hasKey("messages_payload"))
	assert.EqualValues(t, 3, page["new_page_number"])
	assert.Len(t, page["messages"], 2)

	send(t, ca, map[string]any{"command": "join", "room_id": room.ID})
	readUntil(t, ca, hasKey("join"))
	require.Eventually(t, func() bool {
		n, err := e.store.CountConnected(ctx, room.ID)
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)

	ca.Close()
	require.Eventually(t, func() bool {
		n, err := e.store.CountConnected(ctx, room.ID)
		return err == nil && n == 0 && e.hub.ActiveSessions() == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestIdentity(t *testing.T) {
	e := newTestEnv(t)
	alice := storagetest.Account(t, e.store, "alice")
	h := NewHandler(e.hub, e.store, e.store, testSecret)

	expired, err := IssueToken([]byte(testSecret), alice.ID, -time.Minute)
	require.NoError(t, err)
	forged, err := IssueToken([]byte("other-secret"), alice.ID, time.Hour)
	require.NoError(t, err)
	unknown, err := IssueToken([]byte(testSecret), "nobody", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{name: "header", header: "Bearer " + e.token(t, alice), want: alice.ID},
		{name: "cookie", cookie: "Bearer " + e.token(t, alice), want: alice.ID},
		{name: "bare cookie", cookie: e.token(t, alice), want: alice.ID},
		{name: "none"},
		{name: "garbage", header: "Bearer not-a-token"},
		{name: "expired", header: "Bearer " + expired},
		{name: "wrong key", header: "Bearer " + forged},
		{name: "unknown account", header: "Bearer " + unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				c.Request.AddCookie(&http.Cookie{Name: authCookie, Value: tt.cookie})
			}

			h.Identity()(c)

			got := CurrentIdentity(c)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestCreateDirectRoom(t *testing.T) {
	e := newTestEnv(t)
	alice := storagetest.Account(t, e.store, "alice")
	bob := storagetest.Account(t, e.store, "bob")
	stranger := storagetest.Account(t, e.store, "stranger")
	storagetest.Befriend(t, e.store, alice, bob)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/chat/private/"+bob.ID, nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/chat/private/"+alice.ID, alice, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/chat/private/missing", alice, "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/chat/private/"+stranger.ID, alice, "").Code)

	first := e.do(t, http.MethodPost, "/chat/private/"+bob.ID, alice, "")
	require.Equal(t, http.StatusOK, first.Code)
	second := e.do(t, http.MethodPost, "/chat/private/"+alice.ID, bob, "")
	require.Equal(t, http.StatusOK, second.Code)

	var a, b struct {
		RoomID string `json:"room_id"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.NotEmpty(t, a.RoomID)
	assert.Equal(t, a.RoomID, b.RoomID)
}

func TestCreateDirectRoom_Reactivates(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := storagetest.Account(t, e.store, "alice")
	bob := storagetest.Account(t, e.store, "bob")
	storagetest.Befriend(t, e.store, alice, bob)
	room, err := e.hub.Registry.FindOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)
	require.NoError(t, e.store.SetRoomActive(ctx, room.ID, false))

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/chat/private/"+bob.ID, alice, "").Code)

	reloaded, err := e.store.GetRoomByID(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Active)
}

func TestCreateGroupRoom(t *testing.T) {
	e := newTestEnv(t)
	alice := storagetest.Account(t, e.store, "alice")
	bob := storagetest.Account(t, e.store, "bob")
	carol := storagetest.Account(t, e.store, "carol")
	stranger := storagetest.Account(t, e.store, "stranger")
	storagetest.Befriend(t, e.store, alice, bob)
	storagetest.Befriend(t, e.store, alice, carol)

	body := func(ids ...string) string {
		b, _ := json.Marshal(map[string][]string{"user_ids": ids})
		return string(b)
	}

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/chat/private", alice, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/chat/private", alice, body(alice.ID)).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/chat/private", alice, body(bob.ID, stranger.ID)).Code)

	w := e.do(t, http.MethodPost, "/chat/private", alice, body(bob.ID, carol.ID))
	require.Equal(t, http.StatusOK, w.Code)

	list := e.do(t, http.MethodGet, "/chat/private", bob, "")
	require.Equal(t, http.StatusOK, list.Code)
	var resp struct {
		Rooms []roomView `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "alice, carol", resp.Rooms[0].Title)
	assert.Equal(t, "/static/images/default_room.png", resp.Rooms[0].Image)
	assert.Len(t, resp.Rooms[0].Members, 3)
}

func TestListPrivateRooms(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := storagetest.Account(t, e.store, "alice")
	bob := storagetest.Account(t, e.store, "bob")
	storagetest.Befriend(t, e.store, alice, bob)
	room, err := e.hub.Registry.FindOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)
	require.NoError(t, e.store.SetRoomActive(ctx, room.ID, false))

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/chat/private", nil, "").Code)

	w := e.do(t, http.MethodGet, "/chat/private", alice, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Rooms []roomView `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, room.ID, resp.Rooms[0].ID)
	assert.Equal(t, "bob", resp.Rooms[0].Title)
	assert.Equal(t, bob.ProfileImage, resp.Rooms[0].Image)
	assert.False(t, resp.Rooms[0].Active, "inactive rooms are still listed")
}
