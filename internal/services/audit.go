package services

import (
	"time"

	"github.com/emRival/PMJ-Secure/internal/models"
	"github.com/emRival/PMJ-Secure/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit actions recorded by the authentication engine.
const (
	AuditRegister          = "auth.register"
	AuditLogin             = "auth.login"
	AuditLoginFailed       = "auth.login_failed"
	AuditLogout            = "auth.logout"
	AuditPasswordChanged   = "auth.password_changed"
	AuditPasswordReset     = "auth.password_reset"
	AuditTOTPEnabled       = "auth.totp_enabled"
	AuditTOTPDisabled      = "auth.totp_disabled"
	AuditPasskeyRegistered = "auth.passkey_registered"
	AuditPasskeyLogin      = "auth.passkey_login"
	AuditPasskeyRemoved    = "auth.passkey_removed"
	AuditCloneSuspected    = "auth.clone_suspected"
)

type AuditEntry struct {
	UserID    *uuid.UUID
	Action    string
	Details   map[string]interface{}
	IPAddress string
	RequestID string
}

// AuditService writes append-only audit rows off the request path. A
// full queue drops the entry rather than blocking a login.
type AuditService struct {
	DB    *gorm.DB
	queue chan models.AuditLog
}

func NewAuditService(db *gorm.DB) *AuditService {
	s := &AuditService{
		DB:    db,
		queue: make(chan models.AuditLog, 1000),
	}
	go s.processQueue()
	return s
}

func (s *AuditService) LogAsync(entry AuditEntry) {
	row := models.AuditLog{
		UserID:    entry.UserID,
		Action:    entry.Action,
		Details:   entry.Details,
		IPAddress: entry.IPAddress,
		RequestID: entry.RequestID,
		CreatedAt: time.Now().UTC(),
	}

	select {
	case s.queue <- row:
	default:
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

func (s *AuditService) processQueue() {
	for row := range s.queue {
		if err := s.DB.Create(&row).Error; err != nil {
			logger.Error("audit_log_insert_failed", err, map[string]interface{}{
				"action": row.Action,
			})
		}
	}
}
