package handlers

import (
	"net/http"
	"strings"
	"testing"
)

func TestAuthHandler_Register(t *testing.T) {
	env := setupTestEnv(t)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
		"username": "alice_01",
		"password": "Password1!",
	}, nil)
	assertStatus(t, resp, http.StatusCreated)

	sessionID := sessionCookieValue(t, resp)
	if sessionID == "" {
		t.Fatal("expected registration to open a session")
	}

	body := decodeJSONMap(t, resp)
	data := body["data"].(map[string]any)
	user := data["user"].(map[string]any)
	if user["username"].(string) != "alice_01" {
		t.Fatalf("unexpected username in response: %v", user["username"])
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Fatal("password hash must never appear in a response")
	}

	// The fresh session is immediately usable.
	resp = performRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, sessionHeaders(sessionID))
	assertStatus(t, resp, http.StatusOK)
}

func TestAuthHandler_Register_DuplicateUsername(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env, "alice_01", "Password1!")

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
		"username": "alice_01",
		"password": "Password1!",
	}, nil)
	assertStatus(t, resp, http.StatusConflict)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "username already exists")
}

func TestAuthHandler_Register_Validation(t *testing.T) {
	env := setupTestEnv(t)

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"username too short", "abc", "Password1!"},
		{"username with dash", "bad-name1", "Password1!"},
		{"password too short", "alice_01", "Aa1!"},
		{"password without symbol", "alice_01", "Password123"},
		{"password without uppercase", "alice_01", "password1!"},
		{"password beyond bcrypt limit", "alice_01", "Aa1!" + strings.Repeat("x", 72)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
				"username": tc.username,
				"password": tc.password,
			}, nil)
			assertStatus(t, resp, http.StatusBadRequest)
		})
	}
}

func TestAuthHandler_Login_Success(t *testing.T) {
	env := setupTestEnv(t)
	_, registrationSession := createTestUser(t, env, "alice_01", "Password1!")

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "alice_01",
		"password": "Password1!",
	}, nil)
	assertStatus(t, resp, http.StatusOK)

	loginSession := sessionCookieValue(t, resp)
	if loginSession == "" {
		t.Fatal("expected login to set a session cookie")
	}
	if loginSession == registrationSession {
		t.Fatal("each login must mint a distinct session")
	}
}

func TestAuthHandler_Login_GenericFailure(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env, "alice_01", "Password1!")

	// Wrong password and unknown username must be indistinguishable.
	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "alice_01",
		"password": "WrongPass1!",
	}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid username or password")

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "nobody_here",
		"password": "WrongPass1!",
	}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid username or password")
}

func TestAuthHandler_Login_RateLimited(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env, "alice_01", "Password1!")

	for i := 0; i < 5; i++ {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
			"username": "alice_01",
			"password": "WrongPass1!",
		}, nil)
		assertStatus(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	}

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "alice_01",
		"password": "Password1!",
	}, nil)
	assertStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After hint on denial")
	}
}

func TestAuthHandler_LogoutRevokesSession(t *testing.T) {
	env := setupTestEnv(t)
	_, sessionID := createTestUser(t, env, "alice_01", "Password1!")

	resp := performRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, sessionHeaders(sessionID))
	assertStatus(t, resp, http.StatusOK)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/logout", nil, sessionHeaders(sessionID))
	assertStatus(t, resp, http.StatusOK)

	// The token is dead server-side, not just cleared from the client.
	resp = performRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, sessionHeaders(sessionID))
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestAuthHandler_Logout_WithoutSession(t *testing.T) {
	env := setupTestEnv(t)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/logout", nil, nil)
	assertStatus(t, resp, http.StatusOK)
}

func TestAuthHandler_Me_RequiresSession(t *testing.T) {
	env := setupTestEnv(t)

	resp := performRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)

	resp = performRequest(t, env.app, http.MethodGet, "/api/auth/me", nil,
		sessionHeaders("forged-session-token"))
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestAuthHandler_ChangePassword(t *testing.T) {
	env := setupTestEnv(t)
	_, sessionID := createTestUser(t, env, "alice_01", "Password1!")

	resp := performJSONRequest(t, env.app, http.MethodPut, "/api/auth/password", map[string]any{
		"currentPassword": "WrongPass1!",
		"newPassword":     "Changed2@pw",
	}, sessionHeaders(sessionID))
	assertStatus(t, resp, http.StatusBadRequest)

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/auth/password", map[string]any{
		"currentPassword": "Password1!",
		"newPassword":     "weak",
	}, sessionHeaders(sessionID))
	assertStatus(t, resp, http.StatusBadRequest)

	resp = performJSONRequest(t, env.app, http.MethodPut, "/api/auth/password", map[string]any{
		"currentPassword": "Password1!",
		"newPassword":     "Changed2@pw",
	}, sessionHeaders(sessionID))
	assertStatus(t, resp, http.StatusOK)

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "alice_01",
		"password": "Changed2@pw",
	}, nil)
	assertStatus(t, resp, http.StatusOK)
}

func TestAuthHandler_VerifyPassword(t *testing.T) {
	env := setupTestEnv(t)
	_, sessionID := createTestUser(t, env, "alice_01", "Password1!")

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/verify-password", map[string]any{
		"password": "Password1!",
	}, sessionHeaders(sessionID))
	assertStatus(t, resp, http.StatusOK)

	body := decodeJSONMap(t, resp)
	if valid, _ := body["valid"].(bool); !valid {
		t.Fatal("expected the correct password to verify")
	}

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/verify-password", map[string]any{
		"password": "WrongPass1!",
	}, sessionHeaders(sessionID))
	assertStatus(t, resp, http.StatusBadRequest)

	body = decodeJSONMap(t, resp)
	if valid, _ := body["valid"].(bool); valid {
		t.Fatal("expected the wrong password to be rejected")
	}
}
