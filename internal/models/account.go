package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account is the identity the chat core consumes from the account service.
// Only the display fields needed for broadcasts and room titles are kept.
type Account struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Username     string `gorm:"type:text;not null;index" json:"username"`
	ProfileImage string `gorm:"type:text" json:"profile_image"`
}

// BeforeCreate is a GORM hook that assigns a new UUID when ID is not set.
func (a *Account) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}

// Friendship is one directed edge of the friend list. Two accounts are
// mutual friends when both directions are present.
type Friendship struct {
	AccountID string `gorm:"primaryKey"`
	FriendID  string `gorm:"primaryKey;index"`
}
