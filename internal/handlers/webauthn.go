package handlers

import (
	"encoding/json"
	"errors"

	"github.com/emRival/PMJ-Secure/internal/middleware"
	"github.com/emRival/PMJ-Secure/internal/services"
	"github.com/emRival/PMJ-Secure/pkg/logger"
	"github.com/emRival/PMJ-Secure/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type WebAuthnHandler struct {
	WebAuthn *services.WebAuthnService
	Auth     *services.AuthService
	Audit    *services.AuditService
}

func NewWebAuthnHandler(wa *services.WebAuthnService, auth *services.AuthService, audit *services.AuditService) *WebAuthnHandler {
	return &WebAuthnHandler{WebAuthn: wa, Auth: auth, Audit: audit}
}

func (h *WebAuthnHandler) RegisterBegin(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	options, err := h.WebAuthn.BeginRegistration(user.ID)
	if err != nil {
		logger.Error("passkey_register_begin_failed", err, map[string]interface{}{
			"user_id": user.ID.String(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to begin registration")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"options": options})
}

type registerFinishRequest struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

func (h *WebAuthnHandler) RegisterFinish(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req registerFinishRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	cred, err := h.WebAuthn.FinishRegistration(user.ID, req.Name, req.Response)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrChallengeExpired):
			return utils.Error(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrVerificationFailed):
			return utils.Error(c, fiber.StatusBadRequest, "failed to verify credential")
		case errors.Is(err, services.ErrCredentialExists):
			return utils.Error(c, fiber.StatusConflict, err.Error())
		default:
			return utils.Error(c, fiber.StatusInternalServerError, "failed to save credential")
		}
	}

	logger.InfoWithUser(user.ID.String(), "passkey_registered", map[string]interface{}{
		"credential_id": cred.ID.String(),
		"name":          cred.Name,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID: &user.ID,
		Action: services.AuditPasskeyRegistered,
		Details: map[string]interface{}{
			"name": cred.Name,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{"credential": cred})
}

type loginBeginRequest struct {
	Username string `json:"username"`
}

func (h *WebAuthnHandler) LoginBegin(c *fiber.Ctx) error {
	var req loginBeginRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	options, challengeKey, err := h.WebAuthn.BeginLogin(req.Username)
	if err != nil {
		logger.Error("passkey_login_begin_failed", err, map[string]interface{}{
			"ip": c.IP(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to begin passkey login")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"options":      options,
		"challengeKey": challengeKey,
	})
}

type loginFinishRequest struct {
	ChallengeKey string          `json:"challengeKey"`
	Response     json.RawMessage `json:"response"`
}

func (h *WebAuthnHandler) LoginFinish(c *fiber.Ctx) error {
	var req loginFinishRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.ChallengeKey == "" {
		return utils.Error(c, fiber.StatusBadRequest, "challengeKey is required")
	}

	user, err := h.WebAuthn.FinishLogin(req.ChallengeKey, req.Response)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrChallengeExpired):
			return utils.Error(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrCredentialNotFound):
			return utils.Error(c, fiber.StatusUnauthorized, err.Error())
		case errors.Is(err, services.ErrPossibleCloneDetected):
			h.Audit.LogAsync(services.AuditEntry{
				Action:    services.AuditCloneSuspected,
				IPAddress: c.IP(),
				RequestID: getRequestID(c),
			})
			return utils.Error(c, fiber.StatusForbidden, err.Error())
		case errors.Is(err, services.ErrVerificationFailed):
			return utils.Error(c, fiber.StatusUnauthorized, "passkey verification failed")
		default:
			return utils.Error(c, fiber.StatusInternalServerError, "internal error")
		}
	}

	sessionID, err := h.Auth.CreateSession(user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating session")
	}
	setSessionCookie(c, sessionID)

	logger.InfoWithUser(user.ID.String(), "passkey_login", map[string]interface{}{
		"ip": c.IP(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    services.AuditPasskeyLogin,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"user": user})
}

func (h *WebAuthnHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	creds, err := h.Auth.ListPasskeys(user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing passkeys")
	}

	return utils.Success(c, fiber.StatusOK, creds)
}

func (h *WebAuthnHandler) Delete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	credID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid credential ID")
	}

	removed, err := h.Auth.DeletePasskey(credID, user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to delete passkey")
	}
	if !removed {
		return utils.Error(c, fiber.StatusNotFound, "passkey not found")
	}

	logger.InfoWithUser(user.ID.String(), "passkey_deleted", map[string]interface{}{
		"credential_id": credID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    services.AuditPasskeyRemoved,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "passkey removed"})
}
