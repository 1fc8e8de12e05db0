// Package storagetest opens throwaway SQLite-backed storage for tests.
package storagetest

import (
	"context"
	"testing"

	"socialchat/backend/internal/models"
	"socialchat/backend/internal/storage"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a migrated in-memory database. The pool is pinned to one
// connection so every query sees the same database and writers serialize.
func Open(t testing.TB) *storage.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := storage.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return storage.NewStorageService(db)
}

// Account creates an account with the given username.
func Account(t testing.TB, s *storage.Service, username string) *models.Account {
	t.Helper()
	a := &models.Account{Username: username, ProfileImage: "/media/" + username + ".png"}
	if err := s.SaveAccount(context.Background(), a); err != nil {
		t.Fatalf("failed to create account %s: %v", username, err)
	}
	return a
}

// Befriend writes both directions of a friendship.
func Befriend(t testing.TB, s *storage.Service, a, b *models.Account) {
	t.Helper()
	rows := []models.Friendship{{AccountID: a.ID, FriendID: b.ID}, {AccountID: b.ID, FriendID: a.ID}}
	if err := s.DB.Create(&rows).Error; err != nil {
		t.Fatalf("failed to befriend %s and %s: %v", a.Username, b.Username, err)
	}
}

// Unfriend removes both directions of a friendship.
func Unfriend(t testing.TB, s *storage.Service, a, b *models.Account) {
	t.Helper()
	err := s.DB.Where("(account_id = ? AND friend_id = ?) OR (account_id = ? AND friend_id = ?)", a.ID, b.ID, b.ID, a.ID).
		Delete(&models.Friendship{}).Error
	if err != nil {
		t.Fatalf("failed to unfriend %s and %s: %v", a.Username, b.Username, err)
	}
}
