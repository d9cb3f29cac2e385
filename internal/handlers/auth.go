package handlers

import (
	"errors"

	"github.com/emRival/PMJ-Secure/internal/middleware"
	"github.com/emRival/PMJ-Secure/internal/services"
	"github.com/emRival/PMJ-Secure/pkg/logger"
	"github.com/emRival/PMJ-Secure/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type AuthHandler struct {
	Auth  *services.AuthService
	TOTP  *services.TOTPService
	Audit *services.AuditService
}

func NewAuthHandler(auth *services.AuthService, totpSvc *services.TOTPService, audit *services.AuditService) *AuthHandler {
	return &AuthHandler{Auth: auth, TOTP: totpSvc, Audit: audit}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.Username == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "username and password are required")
	}
	if err := services.ValidateUsername(req.Username); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	if err := services.ValidatePassword(req.Password); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	user, err := h.Auth.CreateUser(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrUsernameTaken) {
			return utils.Error(c, fiber.StatusConflict, err.Error())
		}
		logger.Error("register_failed", err, map[string]interface{}{
			"ip": c.IP(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	sessionID, err := h.Auth.CreateSession(user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating session")
	}
	setSessionCookie(c, sessionID)

	logger.InfoWithUser(user.ID.String(), "user_registered", map[string]interface{}{
		"username": user.Username,
		"ip":       c.IP(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    services.AuditRegister,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{"user": user})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.Username == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "username and password are required")
	}

	user, err := h.Auth.VerifyPassword(req.Username, req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	if user == nil {
		// Unknown username and wrong password are indistinguishable
		// here; detail lives in the audit log only.
		h.Audit.LogAsync(services.AuditEntry{
			Action:    services.AuditLoginFailed,
			Details:   map[string]interface{}{"username": req.Username},
			IPAddress: c.IP(),
			RequestID: getRequestID(c),
		})
		return utils.Error(c, fiber.StatusUnauthorized, services.ErrInvalidCredentials.Error())
	}

	if user.TOTPEnabled {
		if req.TOTPCode == "" {
			return utils.Error(c, fiber.StatusUnauthorized, services.ErrTotpRequired.Error())
		}
		valid, err := h.TOTP.Verify(user.ID, req.TOTPCode)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "internal error")
		}
		if !valid {
			h.Audit.LogAsync(services.AuditEntry{
				UserID:    &user.ID,
				Action:    services.AuditLoginFailed,
				Details:   map[string]interface{}{"reason": "totp"},
				IPAddress: c.IP(),
				RequestID: getRequestID(c),
			})
			return utils.Error(c, fiber.StatusUnauthorized, services.ErrTotpInvalid.Error())
		}
	}

	sessionID, err := h.Auth.CreateSession(user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating session")
	}
	setSessionCookie(c, sessionID)

	logger.InfoWithUser(user.ID.String(), "user_login", map[string]interface{}{
		"ip": c.IP(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    services.AuditLogin,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"user": user})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sessionID := c.Cookies(middleware.SessionCookie)
	if sessionID != "" {
		if err := h.Auth.DeleteSession(sessionID); err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed revoking session")
		}
	}
	clearSessionCookie(c)

	if user := middleware.GetCurrentUser(c); user != nil {
		h.Audit.LogAsync(services.AuditEntry{
			UserID:    &user.ID,
			Action:    services.AuditLogout,
			IPAddress: c.IP(),
			RequestID: getRequestID(c),
		})
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "logged out"})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		return utils.Error(c, fiber.StatusBadRequest, "currentPassword and newPassword are required")
	}
	if err := services.ValidatePassword(req.NewPassword); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	if !utils.CheckPassword(req.CurrentPassword, user.PasswordHash) {
		return utils.Error(c, fiber.StatusBadRequest, "incorrect current password")
	}

	if err := h.Auth.SetPassword(user.ID, req.NewPassword); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating password")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &user.ID,
		Action:    services.AuditPasswordChanged,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password updated"})
}

type verifyPasswordRequest struct {
	Password string `json:"password"`
}

// VerifyPassword re-authenticates an already signed-in user, used to
// gate sensitive views.
func (h *AuthHandler) VerifyPassword(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req verifyPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "password is required")
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"valid": false})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"valid": true})
}

type resetRequestRequest struct {
	Username string `json:"username"`
	TOTPCode string `json:"totpCode"`
}

// ResetPasswordRequest exchanges a username plus a valid TOTP code for
// a single-use reset token. Delivery of reset links is out of scope;
// TOTP proof is the one recovery factor this engine accepts. Every
// failure mode returns the same generic message.
func (h *AuthHandler) ResetPasswordRequest(c *fiber.Ctx) error {
	var req resetRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Username == "" || req.TOTPCode == "" {
		return utils.Error(c, fiber.StatusBadRequest, "username and totpCode are required")
	}

	const genericDenial = "password reset not available"

	account, err := h.Auth.FindUserByUsername(req.Username)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	if account == nil || !account.TOTPEnabled {
		return utils.Error(c, fiber.StatusUnauthorized, genericDenial)
	}

	valid, err := h.TOTP.Verify(account.ID, req.TOTPCode)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	if !valid {
		return utils.Error(c, fiber.StatusUnauthorized, genericDenial)
	}

	token, err := utils.GenerateResetToken(account.ID, account.Username)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating reset token")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"resetToken": token})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword applies the state transition a valid reset token
// effects: a new password hash and a fresh session.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Token == "" || req.NewPassword == "" {
		return utils.Error(c, fiber.StatusBadRequest, "token and newPassword are required")
	}
	if err := services.ValidatePassword(req.NewPassword); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	claims, err := utils.ValidateResetToken(req.Token)
	if err != nil {
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired reset token")
	}
	if !utils.ConsumeJTIIfValid(claims.JTI) {
		return utils.Error(c, fiber.StatusUnauthorized, "reset token already used")
	}

	if err := h.Auth.SetPassword(claims.UserID, req.NewPassword); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating password")
	}

	sessionID, err := h.Auth.CreateSession(claims.UserID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating session")
	}
	setSessionCookie(c, sessionID)

	h.Audit.LogAsync(services.AuditEntry{
		UserID:    &claims.UserID,
		Action:    services.AuditPasswordReset,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password reset"})
}
