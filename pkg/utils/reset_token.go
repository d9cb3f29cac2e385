package utils

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Reset tokens are the only JWT surface left in the system; regular
// sessions are opaque database-backed tokens.
const resetTokenExpiry = 15 * time.Minute

var resetSecret = []byte("change-me-in-production")

func ConfigureResetTokens(secret string) {
	if secret != "" {
		resetSecret = []byte(secret)
	}
}

type ResetClaims struct {
	UserID    uuid.UUID `json:"userID"`
	Username  string    `json:"username"`
	TokenType string    `json:"tokenType"`
	JTI       string    `json:"jti"`
	jwt.RegisteredClaims
}

func GenerateResetToken(userID uuid.UUID, username string) (string, error) {
	expiresAt := time.Now().Add(resetTokenExpiry)
	jti := uuid.New().String()
	claims := ResetClaims{
		UserID:    userID,
		Username:  username,
		TokenType: "password_reset",
		JTI:       jti,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        jti,
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(resetSecret)
}

func ValidateResetToken(tokenString string) (*ResetClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ResetClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return resetSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ResetClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid reset token")
	}

	if claims.TokenType != "password_reset" {
		return nil, fmt.Errorf("invalid token type")
	}

	if claims.JTI == "" {
		return nil, fmt.Errorf("missing token ID")
	}

	return claims, nil
}

var consumedJTIs = make(map[string]time.Time)
var jtiMu sync.Mutex

// ConsumeJTIIfValid claims the token ID, reporting false when it was
// already consumed. Check and claim happen under one lock, so two
// concurrent submissions of the same token cannot both succeed.
func ConsumeJTIIfValid(jti string) bool {
	jtiMu.Lock()
	defer jtiMu.Unlock()
	if _, exists := consumedJTIs[jti]; exists {
		return false
	}
	consumedJTIs[jti] = time.Now()
	return true
}

func CleanupExpiredJTIs() {
	jtiMu.Lock()
	defer jtiMu.Unlock()
	now := time.Now()
	for jti, consumedAt := range consumedJTIs {
		if now.Sub(consumedAt) > resetTokenExpiry {
			delete(consumedJTIs, jti)
		}
	}
}
