package services

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/emRival/PMJ-Secure/internal/models"
	"github.com/emRival/PMJ-Secure/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionTTL is a design constant, not user-configurable.
const SessionTTL = 7 * 24 * time.Hour

const sessionTokenBytes = 32

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{5,20}$`)
	upperPattern    = regexp.MustCompile(`[A-Z]`)
	digitPattern    = regexp.MustCompile(`[0-9]`)
	symbolPattern   = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>\/?~` + "`" + `]`)
)

type AuthService struct {
	DB *gorm.DB
}

func NewAuthService(db *gorm.DB) *AuthService {
	return &AuthService{DB: db}
}

func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// maxPasswordBytes matches the bcrypt input limit; anything longer
// would be rejected at hash time.
const maxPasswordBytes = 72

func ValidatePassword(password string) error {
	if len(password) > maxPasswordBytes {
		return ErrPasswordTooLong
	}
	if len(password) < 8 ||
		!upperPattern.MatchString(password) ||
		!digitPattern.MatchString(password) ||
		!symbolPattern.MatchString(password) {
		return ErrWeakPassword
	}
	return nil
}

// CreateUser hashes the password and inserts the user. The storage
// layer's uniqueness constraint on username is re-signaled as
// ErrUsernameTaken; the raw driver error never escapes.
func (s *AuthService) CreateUser(username, password string) (*models.User, error) {
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username:     username,
		PasswordHash: hash,
	}
	if err := s.DB.Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return &user, nil
}

func (s *AuthService) FindUserByUsername(username string) (*models.User, error) {
	var user models.User
	if err := s.DB.First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// VerifyPassword returns nil (no error) for both an unknown username
// and a wrong password, so callers cannot enumerate accounts.
func (s *AuthService) VerifyPassword(username, password string) (*models.User, error) {
	var user models.User
	if err := s.DB.First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if !utils.CheckPassword(password, user.PasswordHash) {
		return nil, nil
	}
	return &user, nil
}

func (s *AuthService) SetPassword(userID uuid.UUID, newPassword string) error {
	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.DB.Model(&models.User{}).Where("id = ?", userID).
		Update("password_hash", hash).Error
}

// CreateSession mints an opaque bearer token valid for SessionTTL.
func (s *AuthService) CreateSession(userID uuid.UUID) (string, error) {
	token, err := utils.GenerateOpaqueToken(sessionTokenBytes)
	if err != nil {
		return "", err
	}

	session := models.Session{
		ID:        token,
		UserID:    userID,
		ExpiresAt: time.Now().Add(SessionTTL),
	}
	if err := s.DB.Create(&session).Error; err != nil {
		return "", err
	}
	return token, nil
}

// GetSession resolves a session token to its owning user. An unknown or
// expired token yields (nil, nil); absence is a normal outcome here.
func (s *AuthService) GetSession(sessionID string) (*models.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	var session models.Session
	err := s.DB.First(&session, "id = ? AND expires_at > ?", sessionID, time.Now()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var user models.User
	if err := s.DB.First(&user, "id = ?", session.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// DeleteSession is idempotent; revoking an unknown token is a no-op.
func (s *AuthService) DeleteSession(sessionID string) error {
	return s.DB.Delete(&models.Session{}, "id = ?", sessionID).Error
}

func CleanupExpiredSessions(db *gorm.DB) {
	db.Where("expires_at < ?", time.Now()).Delete(&models.Session{})
}

// isUniqueViolation matches uniqueness errors across the sqlite and
// postgres drivers without leaking their text to callers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
