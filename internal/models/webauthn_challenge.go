package models

import (
	"time"

	"github.com/google/uuid"
)

type ChallengeKind string

const (
	ChallengeRegistration   ChallengeKind = "registration"
	ChallengeAuthentication ChallengeKind = "authentication"
)

// WebAuthnChallenge holds one pending ceremony per (identity key, kind).
// The identity key is the user id when known, or a synthetic value for
// the usernameless flow. Rows are single-use and expire after five
// minutes; expiry is checked at read time as well as by the sweeper.
type WebAuthnChallenge struct {
	BaseModel
	IdentityKey string        `json:"-" gorm:"type:varchar(64);not null;index:idx_challenge_key_kind,unique"`
	Kind        ChallengeKind `json:"-" gorm:"type:varchar(20);not null;index:idx_challenge_key_kind,unique"`
	UserID      *uuid.UUID    `json:"-" gorm:"type:uuid;index"`
	Challenge   []byte        `json:"-" gorm:"type:bytea;not null"`
	SessionData string        `json:"-" gorm:"type:text;not null"`
	ExpiresAt   time.Time     `json:"-" gorm:"not null;index"`
}

func (WebAuthnChallenge) TableName() string {
	return "webauthn_challenges"
}
