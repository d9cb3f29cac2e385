package handlers

import (
	"errors"

	"github.com/emRival/PMJ-Secure/internal/middleware"
	"github.com/emRival/PMJ-Secure/internal/services"
	"github.com/emRival/PMJ-Secure/pkg/logger"
	"github.com/emRival/PMJ-Secure/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type TOTPHandler struct {
	TOTP  *services.TOTPService
	Audit *services.AuditService
}

func NewTOTPHandler(totpSvc *services.TOTPService, audit *services.AuditService) *TOTPHandler {
	return &TOTPHandler{TOTP: totpSvc, Audit: audit}
}

func (h *TOTPHandler) Status(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"totpEnabled": user.TOTPEnabled,
	})
}

// Setup provisions a fresh secret. The secret stays inactive until
// VerifySetup confirms the user's authenticator produces matching
// codes.
func (h *TOTPHandler) Setup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if user.TOTPEnabled {
		return utils.Error(c, fiber.StatusConflict, "totp is already enabled")
	}

	key, err := h.TOTP.Provision(user.ID, user.Username)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate totp secret")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"secret": key.Secret(),
		"qrUri":  key.URL(),
	})
}

type verifySetupRequest struct {
	Code string `json:"code"`
}

func (h *TOTPHandler) VerifySetup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req verifySetupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	if user.TOTPEnabled {
		return utils.Error(c, fiber.StatusConflict, "totp is already enabled")
	}

	if err := h.TOTP.Confirm(user.ID, req.Code); err != nil {
		switch {
		case errors.Is(err, services.ErrNotProvisioned):
			return utils.Error(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrTotpInvalid):
			return utils.Error(c, fiber.StatusBadRequest, err.Error())
		default:
			return utils.Error(c, fiber.StatusInternalServerError, "failed to enable totp")
		}
	}

	logger.InfoWithUser(user.ID.String(), "totp_enabled", nil)

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    services.AuditTOTPEnabled,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"totpEnabled": true})
}

type disableTOTPRequest struct {
	Password string `json:"password"`
}

// Disable requires the account password again; a stolen session alone
// must not be enough to strip the second factor.
func (h *TOTPHandler) Disable(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req disableTOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "password is required")
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		return utils.Error(c, fiber.StatusBadRequest, "invalid password")
	}

	if err := h.TOTP.Disable(user.ID); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to disable totp")
	}

	logger.InfoWithUser(user.ID.String(), "totp_disabled", nil)

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    services.AuditTOTPDisabled,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"totpEnabled": false})
}
