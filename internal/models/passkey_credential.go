package models

import (
	"time"

	"github.com/google/uuid"
)

type PasskeyCredential struct {
	BaseModel
	UserID uuid.UUID `json:"userID" gorm:"type:uuid;not null;index"`
	Name   string    `json:"name" gorm:"type:varchar(255);not null;default:'Passkey'"`

	// CredentialID is the authenticator-assigned identifier, stored
	// base64-encoded. Authenticators guarantee it is globally unique.
	CredentialID    string `json:"-" gorm:"type:text;uniqueIndex;not null"`
	PublicKey       []byte `json:"-" gorm:"type:bytea;not null"`
	AttestationType string `json:"-" gorm:"type:varchar(30)"`
	AAGUID          []byte `json:"-" gorm:"type:bytea"`
	SignCount       uint32 `json:"-" gorm:"not null;default:0"`
	Transports      string `json:"-" gorm:"type:text"`
	BackupEligible  bool   `json:"-" gorm:"not null;default:false"`
	BackupState     bool   `json:"-" gorm:"not null;default:false"`

	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

func (PasskeyCredential) TableName() string {
	return "passkey_credentials"
}
