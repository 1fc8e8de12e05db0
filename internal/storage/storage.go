package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"socialchat/backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRoomNotFound    = errors.New("chat room not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidPage     = errors.New("invalid page number")
)

// RoomStore persists rooms and their member sets.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *models.Room, memberIDs []string) error
	// FindOrCreateRoom returns the private room whose member set is exactly
	// memberIDs, creating it from the template when none exists. The bool
	// reports whether this call created it.
	FindOrCreateRoom(ctx context.Context, template *models.Room, memberIDs []string) (*models.Room, bool, error)
	GetRoomByID(ctx context.Context, roomID string) (*models.Room, error)
	ListPrivateRoomsFor(ctx context.Context, accountID string) ([]models.Room, error)
	SetRoomActive(ctx context.Context, roomID string, active bool) error
}

// PresenceStore holds the connected set of public rooms.
type PresenceStore interface {
	AddConnected(ctx context.Context, roomID, accountID string) (bool, error)
	RemoveConnected(ctx context.Context, roomID, accountID string) (bool, error)
	CountConnected(ctx context.Context, roomID string) (int, error)
}

// MessageStore is append-only plus paginated read.
type MessageStore interface {
	AppendMessage(ctx context.Context, roomID, authorID, content string) (*models.ChatMessage, error)
	// EachMessage streams one page, newest first, calling fn per record.
	// It returns the next page number and false when page is past the end,
	// in which case fn is never called.
	EachMessage(ctx context.Context, roomID string, page, size int, fn func(models.MessageRecord) error) (int, bool, error)
	PageMessages(ctx context.Context, roomID string, page, size int) ([]models.MessageRecord, int, error)
}

// AccountStore resolves identities owned by the account service.
type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
}

// FriendshipStore answers friendship queries; the friend-request workflow lives elsewhere.
type FriendshipStore interface {
	IsMutualFriend(ctx context.Context, a, b string) (bool, error)
	ListMutualFriendPairs(ctx context.Context) ([][2]string, error)
}

type Storage interface {
	RoomStore
	PresenceStore
	MessageStore
	AccountStore
	FriendshipStore
}

var _ Storage = (*Service)(nil)

type Service struct {
	DB *gorm.DB
	// Now is the message clock.
	Now func() time.Time
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{
		DB:  db,
		Now: time.Now,
	}
}

// Migrate creates or updates every table the chat core uses.
func Migrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&models.Room{}, "Members", &models.RoomMember{}); err != nil {
		return fmt.Errorf("setup room_members join table: %w", err)
	}
	if err := db.AutoMigrate(
		&models.Account{},
		&models.Friendship{},
		&models.Room{},
		&models.RoomMember{},
		&models.RoomConnection{},
		&models.ChatMessage{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func membersByUsername(db *gorm.DB) *gorm.DB {
	return db.Order("accounts.username ASC")
}

func memberRows(roomID string, memberIDs []string) []models.RoomMember {
	seen := make(map[string]struct{}, len(memberIDs))
	rows := make([]models.RoomMember, 0, len(memberIDs))
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, models.RoomMember{RoomID: roomID, AccountID: id})
	}
	return rows
}

// CreateRoom inserts a room and its member rows.
func (s *Service) CreateRoom(ctx context.Context, room *models.Room, memberIDs []string) error {
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(room).Error; err != nil {
			return err
		}
		if rows := memberRows(room.ID, memberIDs); len(rows) > 0 {
			return tx.Create(&rows).Error
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// FindOrCreateRoom relies on the unique member_key index: a concurrent
// insert of the same key does nothing and the winner's row is read back.
func (s *Service) FindOrCreateRoom(ctx context.Context, template *models.Room, memberIDs []string) (*models.Room, bool, error) {
	key := models.MemberKeyFor(memberIDs...)
	room := *template
	room.ID = uuid.New().String()
	room.MemberKey = &key
	room.Members = nil

	created := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "member_key"}}, DoNothing: true}).
			Create(&room)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		rows := memberRows(room.ID, memberIDs)
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("find or create room %s: %w", key, err)
	}

	var found models.Room
	err = s.DB.WithContext(ctx).
		Preload("Members", membersByUsername).
		Where("member_key = ?", key).
		First(&found).Error
	if err != nil {
		return nil, false, fmt.Errorf("load room %s: %w", key, err)
	}
	return &found, created, nil
}

func (s *Service) GetRoomByID(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room

	err := s.DB.WithContext(ctx).
		Preload("Members", membersByUsername).
		Where("id = ?", roomID).
		First(&room).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return &room, nil
}

// ListPrivateRoomsFor returns every private room the account belongs to, active or not.
func (s *Service) ListPrivateRoomsFor(ctx context.Context, accountID string) ([]models.Room, error) {
	var rooms []models.Room

	err := s.DB.WithContext(ctx).
		Preload("Members", membersByUsername).
		Select("rooms.*").
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("rooms.kind = ? AND room_members.account_id = ?", models.RoomPrivate, accountID).
		Order("rooms.created_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("list private rooms for %s: %w", accountID, err)
	}
	return rooms, nil
}

func (s *Service) SetRoomActive(ctx context.Context, roomID string, active bool) error {
	res := s.DB.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("set room %s active=%t: %w", roomID, active, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *Service) AddConnected(ctx context.Context, roomID, accountID string) (bool, error) {
	conn := models.RoomConnection{RoomID: roomID, AccountID: accountID, ConnectedAt: s.Now().UTC()}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&conn)
	if res.Error != nil {
		return false, fmt.Errorf("connect %s to room %s: %w", accountID, roomID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Service) RemoveConnected(ctx context.Context, roomID, accountID string) (bool, error) {
	res := s.DB.WithContext(ctx).
		Where("room_id = ? AND account_id = ?", roomID, accountID).
		Delete(&models.RoomConnection{})
	if res.Error != nil {
		return false, fmt.Errorf("disconnect %s from room %s: %w", accountID, roomID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Service) CountConnected(ctx context.Context, roomID string) (int, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.RoomConnection{}).Where("room_id = ?", roomID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count connected in room %s: %w", roomID, err)
	}
	return int(n), nil
}

// AppendMessage stores a message stamped with the server clock, clamped so
// timestamps never go backwards within a room.
func (s *Service) AppendMessage(ctx context.Context, roomID, authorID, content string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		RoomID:    roomID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.Now().UTC(),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last models.ChatMessage
		if err := tx.Where("room_id = ?", roomID).
			Order("created_at DESC, id DESC").
			Limit(1).
			Find(&last).Error; err != nil {
			return err
		}
		if last.ID != 0 && last.CreatedAt.After(msg.CreatedAt) {
			msg.CreatedAt = last.CreatedAt
		}
		return tx.Create(msg).Error
	})
	if err != nil {
		return nil, fmt.Errorf("append message to room %s: %w", roomID, err)
	}
	return msg, nil
}

// totalPages matches the paginator the clients were built against: an
// empty room still has one (empty) page.
func totalPages(count int64, size int) int {
	pages := int((count + int64(size) - 1) / int64(size))
	if pages == 0 {
		return 1
	}
	return pages
}

func (s *Service) EachMessage(ctx context.Context, roomID string, page, size int, fn func(models.MessageRecord) error) (int, bool, error) {
	if page < 1 || size < 1 {
		return 0, false, ErrInvalidPage
	}
	db := s.DB.WithContext(ctx)

	var count int64
	if err := db.Model(&models.ChatMessage{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
		return 0, false, fmt.Errorf("count messages in room %s: %w", roomID, err)
	}
	if page > totalPages(count, size) {
		return page, false, nil
	}

	rows, err := db.Table("chat_messages AS m").
		Select("m.id AS id, m.room_id AS room_id, m.author_id AS author_id, a.username AS username, " +
			"a.profile_image AS profile_image, m.content AS content, m.created_at AS created_at").
		Joins("JOIN accounts a ON a.id = m.author_id").
		Where("m.room_id = ?", roomID).
		Order("m.created_at DESC, m.id DESC").
		Limit(size).
		Offset((page - 1) * size).
		Rows()
	if err != nil {
		return 0, false, fmt.Errorf("page %d of room %s: %w", page, roomID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.MessageRecord
		if err := db.ScanRows(rows, &rec); err != nil {
			return 0, false, fmt.Errorf("scan message: %w", err)
		}
		if err := fn(rec); err != nil {
			return 0, false, err
		}
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("page %d of room %s: %w", page, roomID, err)
	}
	return page + 1, true, nil
}

// PageMessages materializes one page. The slice is nil once the pages are exhausted.
func (s *Service) PageMessages(ctx context.Context, roomID string, page, size int) ([]models.MessageRecord, int, error) {
	var out []models.MessageRecord
	next, ok, err := s.EachMessage(ctx, roomID, page, size, func(rec models.MessageRecord) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if ok && out == nil {
		out = []models.MessageRecord{}
	}
	return out, next, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	err := s.DB.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}
	return &account, nil
}

// SaveAccount upserts an account mirrored from the account service.
func (s *Service) SaveAccount(ctx context.Context, account *models.Account) error {
	if err := s.DB.WithContext(ctx).Save(account).Error; err != nil {
		return fmt.Errorf("save account %s: %w", account.ID, err)
	}
	return nil
}

// IsMutualFriend requires both directed edges.
func (s *Service) IsMutualFriend(ctx context.Context, a, b string) (bool, error) {
	if a == b {
		return false, nil
	}
	var n int64
	err := s.DB.WithContext(ctx).
		Model(&models.Friendship{}).
		Where("(account_id = ? AND friend_id = ?) OR (account_id = ? AND friend_id = ?)", a, b, b, a).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check friendship %s/%s: %w", a, b, err)
	}
	return n == 2, nil
}

// ListMutualFriendPairs returns each mutual pair once, lower id first.
func (s *Service) ListMutualFriendPairs(ctx context.Context) ([][2]string, error) {
	type pair struct {
		AccountID string
		FriendID  string
	}
	var pairs []pair
	err := s.DB.WithContext(ctx).
		Table("friendships AS f").
		Select("f.account_id AS account_id, f.friend_id AS friend_id").
		Joins("JOIN friendships r ON r.account_id = f.friend_id AND r.friend_id = f.account_id").
		Where("f.account_id < f.friend_id").
		Order("f.account_id, f.friend_id").
		Scan(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("list friend pairs: %w", err)
	}
	out := make([][2]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, [2]string{p.AccountID, p.FriendID})
	}
	return out, nil
}
