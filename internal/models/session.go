package models

import (
	"time"

	"github.com/google/uuid"
)

// Session rows are opaque bearer tokens. The ID itself is the secret,
// so it is generated from crypto/rand rather than a uuid.
type Session struct {
	ID        string    `json:"-" gorm:"type:varchar(64);primaryKey"`
	UserID    uuid.UUID `json:"userID" gorm:"type:uuid;not null;index"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null;index"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Session) TableName() string {
	return "sessions"
}
