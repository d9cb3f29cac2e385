package services

import (
	"errors"
	"time"

	"github.com/emRival/PMJ-Secure/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChallengeTTL bounds how long a WebAuthn ceremony may stay open.
const ChallengeTTL = 5 * time.Minute

// ChallengeStore keeps at most one live challenge per (identity key,
// kind). Rows live in the database, so per-key atomicity comes from the
// storage layer and the store works across process restarts.
type ChallengeStore struct {
	DB  *gorm.DB
	TTL time.Duration
}

func NewChallengeStore(db *gorm.DB) *ChallengeStore {
	return &ChallengeStore{DB: db, TTL: ChallengeTTL}
}

// Put overwrites any existing challenge for the key. Overwriting closes
// the window where two concurrent ceremonies could race on one key.
func (s *ChallengeStore) Put(identityKey string, kind models.ChallengeKind, userID *uuid.UUID, challenge []byte, sessionData string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_key = ? AND kind = ?", identityKey, kind).
			Delete(&models.WebAuthnChallenge{}).Error; err != nil {
			return err
		}
		row := models.WebAuthnChallenge{
			IdentityKey: identityKey,
			Kind:        kind,
			UserID:      userID,
			Challenge:   challenge,
			SessionData: sessionData,
			ExpiresAt:   time.Now().Add(s.TTL),
		}
		return tx.Create(&row).Error
	})
}

// Take removes the challenge on read, whether or not the caller's
// verification later succeeds. A failed ceremony cannot be retried
// against the same challenge; the client must request a fresh one.
// The read and the delete run in one transaction, and the challenge is
// only handed out when this caller's delete removed the row. Two
// concurrent takes of the same key therefore succeed at most once.
// Rows past their expiry are treated as absent even when the sweeper
// has not fired yet.
func (s *ChallengeStore) Take(identityKey string, kind models.ChallengeKind) (*models.WebAuthnChallenge, error) {
	var row models.WebAuthnChallenge
	var claimed bool
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.First(&row, "identity_key = ? AND kind = ?", identityKey, kind).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		result := tx.Delete(&models.WebAuthnChallenge{}, "id = ?", row.ID)
		if result.Error != nil {
			return result.Error
		}
		claimed = result.RowsAffected == 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}

	if time.Now().After(row.ExpiresAt) {
		return nil, nil
	}
	return &row, nil
}

func CleanupExpiredChallenges(db *gorm.DB) {
	db.Where("expires_at < ?", time.Now()).Delete(&models.WebAuthnChallenge{})
}
