package services

import (
	"errors"

	"github.com/emRival/PMJ-Secure/internal/models"
	"github.com/emRival/PMJ-Secure/pkg/utils"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

type TOTPService struct {
	DB     *gorm.DB
	Issuer string
}

func NewTOTPService(db *gorm.DB, issuer string) *TOTPService {
	return &TOTPService{DB: db, Issuer: issuer}
}

// Provision generates a fresh secret and stores it unconfirmed. The
// secret only becomes active once Confirm validates a code against it.
func (s *TOTPService) Provision(userID uuid.UUID, username string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: username,
	})
	if err != nil {
		return nil, err
	}

	encrypted, err := utils.EncryptAESGCM(key.Secret())
	if err != nil {
		return nil, err
	}

	err = s.DB.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"totp_secret":  encrypted,
			"totp_enabled": false,
		}).Error
	if err != nil {
		return nil, err
	}
	return key, nil
}

// Confirm validates the first code and flips totp_enabled. It does not
// re-provision; a wrong code leaves the pending secret in place.
func (s *TOTPService) Confirm(userID uuid.UUID, code string) error {
	secret, err := s.pendingSecret(userID)
	if err != nil {
		return err
	}

	if !totp.Validate(code, secret) {
		return ErrTotpInvalid
	}

	return s.DB.Model(&models.User{}).Where("id = ?", userID).
		Update("totp_enabled", true).Error
}

// Verify checks a login code against the stored secret. No state is
// mutated. The standard 30-second step with one step of clock-skew
// tolerance applies.
func (s *TOTPService) Verify(userID uuid.UUID, code string) (bool, error) {
	secret, err := s.pendingSecret(userID)
	if err != nil {
		if errors.Is(err, ErrNotProvisioned) {
			return false, nil
		}
		return false, err
	}
	return totp.Validate(code, secret), nil
}

// Disable clears the secret and the enabled flag in one UPDATE, so a
// crash cannot leave one without the other.
func (s *TOTPService) Disable(userID uuid.UUID) error {
	return s.DB.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"totp_secret":  "",
			"totp_enabled": false,
		}).Error
}

func (s *TOTPService) Enabled(userID uuid.UUID) (bool, error) {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.TOTPEnabled, nil
}

func (s *TOTPService) pendingSecret(userID uuid.UUID) (string, error) {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotProvisioned
		}
		return "", err
	}
	if user.TOTPSecret == "" {
		return "", ErrNotProvisioned
	}
	return utils.DecryptOrPlaintext(user.TOTPSecret), nil
}
