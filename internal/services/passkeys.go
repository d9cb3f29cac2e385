package services

import (
	"errors"
	"time"

	"github.com/emRival/PMJ-Secure/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Passkey credential storage. A user may own zero or many credentials;
// credential IDs are globally unique across all users.

func (s *AuthService) AddPasskey(cred *models.PasskeyCredential) error {
	if err := s.DB.Create(cred).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrCredentialExists
		}
		return err
	}
	return nil
}

func (s *AuthService) FindPasskeyByCredentialID(credentialID string) (*models.PasskeyCredential, error) {
	var cred models.PasskeyCredential
	err := s.DB.First(&cred, "credential_id = ?", credentialID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

func (s *AuthService) ListPasskeys(userID uuid.UUID) ([]models.PasskeyCredential, error) {
	var creds []models.PasskeyCredential
	err := s.DB.Where("user_id = ?", userID).Order("created_at DESC").Find(&creds).Error
	return creds, err
}

// UpdatePasskeyCounter persists the authenticator-reported counter and
// stamps last_used_at.
func (s *AuthService) UpdatePasskeyCounter(id uuid.UUID, newCount uint32) error {
	now := time.Now()
	return s.DB.Model(&models.PasskeyCredential{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"sign_count":   newCount,
			"last_used_at": now,
		}).Error
}

// DeletePasskey removes a credential only when it belongs to userID and
// reports whether a row was removed.
func (s *AuthService) DeletePasskey(id, userID uuid.UUID) (bool, error) {
	result := s.DB.Delete(&models.PasskeyCredential{}, "id = ? AND user_id = ?", id, userID)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
