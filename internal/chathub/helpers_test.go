package chathub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"socialchat/backend/internal/config"
	"socialchat/backend/internal/models"
	"socialchat/backend/internal/storage"
	"socialchat/backend/internal/storage/storagetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 10, 15, 4, 0, 0, time.UTC)

// recorder is a Subscriber that keeps every frame it is handed.
type recorder struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	refuse bool
}

func newRecorder() *recorder { return &recorder{id: uuid.NewString()} }

func (r *recorder) ID() string { return r.id }

func (r *recorder) Deliver(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refuse {
		return false
	}
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return true
}

func (r *recorder) decoded(t *testing.T) []map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, 0, len(r.frames))
	for _, f := range r.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m), string(f))
		out = append(out, m)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

func (r *recorder) last(t *testing.T) map[string]any {
	t.Helper()
	frames := r.decoded(t)
	require.NotEmpty(t, frames)
	return frames[len(frames)-1]
}

// ofType filters frames carrying the given message_type.
func (r *recorder) ofType(t *testing.T, msgType int) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range r.decoded(t) {
		if v, ok := f["message_type"].(float64); ok && int(v) == msgType {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) errorCodes(t *testing.T) []int {
	t.Helper()
	var codes []int
	for _, f := range r.decoded(t) {
		if v, ok := f["error"].(float64); ok {
			codes = append(codes, int(v))
		}
	}
	return codes
}

type mockFriendshipOracle struct {
	mock.Mock
}

func (m *mockFriendshipOracle) IsMutualFriend(ctx context.Context, a, b string) (bool, error) {
	args := m.Called(ctx, a, b)
	return args.Bool(0), args.Error(1)
}

type fixture struct {
	store *storage.Service
	bus   *LocalBroadcaster
	hub   *ManagerService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storagetest.Open(t)
	store.Now = func() time.Time { return fixedNow }
	bus := NewLocalBroadcaster()
	registry := NewRegistry(store, store, "/static/images/default_room.png")
	hub := NewManagerService(registry, NewAccessControl(store), store, bus,
		config.Chat{PageSize: 10, SendBuffer: 16}, time.UTC)
	hub.Now = func() time.Time { return fixedNow }
	return &fixture{store: store, bus: bus, hub: hub}
}

func (f *fixture) session(identity *models.Account) (*Session, *recorder) {
	r := newRecorder()
	return f.hub.NewSession(r, identity), r
}

func (f *fixture) publicRoom(t *testing.T, authorized ...*models.Account) *models.Room {
	t.Helper()
	room, err := f.hub.Registry.CreatePublic(context.Background(), "General", "", authorized)
	require.NoError(t, err)
	return room
}

func (f *fixture) directRoom(t *testing.T, a, b *models.Account) *models.Room {
	t.Helper()
	room, err := f.hub.Registry.FindOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return room
}

func (f *fixture) messageCount(t *testing.T, roomID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.store.DB.Model(&models.ChatMessage{}).Where("room_id = ?", roomID).Count(&n).Error)
	return n
}

func (f *fixture) connectedIDs(t *testing.T, roomID string) []string {
	t.Helper()
	var ids []string
	require.NoError(t, f.store.DB.Model(&models.RoomConnection{}).Where("room_id = ?", roomID).Pluck("account_id", &ids).Error)
	return ids
}
