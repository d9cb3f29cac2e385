package services

import (
	"testing"

	"github.com/emRival/PMJ-Secure/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func setupWebAuthnTest(t *testing.T) (*WebAuthnService, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.PasskeyCredential{},
		&models.WebAuthnChallenge{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "PMJ Secure Test",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:3001"},
	})
	if err != nil {
		t.Fatalf("failed building webauthn config: %v", err)
	}

	auth := NewAuthService(db)
	return NewWebAuthnService(db, wa, auth, NewChallengeStore(db)), db
}

func createWebAuthnUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username, PasswordHash: "hash"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user: %v", err)
	}
	return user
}

func TestCloneSuspected(t *testing.T) {
	cases := []struct {
		name     string
		stored   uint32
		reported uint32
		suspect  bool
	}{
		{"counter increments", 5, 6, false},
		{"counter jumps ahead", 5, 100, false},
		{"counter stalls", 5, 5, true},
		{"counter regresses", 5, 3, true},
		{"counter resets to zero", 5, 0, true},
		{"authenticator without counters", 0, 0, false},
		{"first real count after zero", 0, 1, false},
		{"zero stored ignores any report", 0, 7, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CloneSuspected(tc.stored, tc.reported); got != tc.suspect {
				t.Fatalf("CloneSuspected(%d, %d) = %v, want %v",
					tc.stored, tc.reported, got, tc.suspect)
			}
		})
	}
}

func TestWebAuthnService_BeginRegistration_StoresChallenge(t *testing.T) {
	service, db := setupWebAuthnTest(t)
	user := createWebAuthnUser(t, db, "alice_01")

	options, err := service.BeginRegistration(user.ID)
	if err != nil {
		t.Fatalf("failed beginning registration: %v", err)
	}
	if options == nil || len(options.Response.Challenge) == 0 {
		t.Fatal("expected creation options with a challenge")
	}

	var row models.WebAuthnChallenge
	err = db.First(&row, "identity_key = ? AND kind = ?",
		user.ID.String(), models.ChallengeRegistration).Error
	if err != nil {
		t.Fatalf("expected a pending challenge row: %v", err)
	}
	if row.SessionData == "" {
		t.Fatal("expected serialized session data alongside the challenge")
	}
}

func TestWebAuthnService_CorruptTransportsSurfaces(t *testing.T) {
	service, db := setupWebAuthnTest(t)
	user := createWebAuthnUser(t, db, "alice_01")

	cred := models.PasskeyCredential{
		UserID:       user.ID,
		Name:         "YubiKey",
		CredentialID: "Y3JlZC1pZA==",
		PublicKey:    []byte{1, 2, 3},
		Transports:   "not-json",
	}
	if err := db.Create(&cred).Error; err != nil {
		t.Fatalf("failed inserting credential: %v", err)
	}

	if _, err := service.BeginRegistration(user.ID); err == nil {
		t.Fatal("expected a corrupt transports column to surface as an error")
	}
}

func TestWebAuthnService_FinishRegistration_NoChallenge(t *testing.T) {
	service, db := setupWebAuthnTest(t)
	user := createWebAuthnUser(t, db, "alice_01")

	_, err := service.FinishRegistration(user.ID, "My Key", []byte(`{}`))
	if err != ErrChallengeExpired {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestWebAuthnService_FinishRegistration_MalformedResponse(t *testing.T) {
	service, db := setupWebAuthnTest(t)
	user := createWebAuthnUser(t, db, "alice_01")

	if _, err := service.BeginRegistration(user.ID); err != nil {
		t.Fatalf("failed beginning registration: %v", err)
	}

	_, err := service.FinishRegistration(user.ID, "My Key", []byte(`not-json`))
	if err != ErrVerificationFailed {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	// The failed attempt consumed the challenge; a retry needs a new
	// ceremony.
	_, err = service.FinishRegistration(user.ID, "My Key", []byte(`not-json`))
	if err != ErrChallengeExpired {
		t.Fatalf("expected ErrChallengeExpired on retry, got %v", err)
	}
}

func TestWebAuthnService_BeginLogin_UnknownUsername(t *testing.T) {
	service, db := setupWebAuthnTest(t)

	options, key, err := service.BeginLogin("ghost_user")
	if err != nil {
		t.Fatalf("unknown username must not error: %v", err)
	}
	if options == nil || key == "" {
		t.Fatal("expected assertion options and a challenge key")
	}

	// The synthetic key backs a real stored challenge, so the response
	// is indistinguishable from a known account's.
	var row models.WebAuthnChallenge
	err = db.First(&row, "identity_key = ? AND kind = ?",
		key, models.ChallengeAuthentication).Error
	if err != nil {
		t.Fatalf("expected a pending challenge for the synthetic key: %v", err)
	}
	if row.UserID != nil {
		t.Fatal("synthetic challenge must not be bound to a user")
	}
}

func TestWebAuthnService_BeginLogin_UserWithoutCredentials(t *testing.T) {
	service, db := setupWebAuthnTest(t)
	user := createWebAuthnUser(t, db, "alice_01")

	options, key, err := service.BeginLogin(user.Username)
	if err != nil {
		t.Fatalf("failed beginning login: %v", err)
	}
	if options == nil || key == "" {
		t.Fatal("expected assertion options and a challenge key")
	}
	if key == user.ID.String() {
		t.Fatal("a user with no credentials should get the discoverable flow")
	}
}

func TestWebAuthnService_FinishLogin_UnknownChallengeKey(t *testing.T) {
	service, _ := setupWebAuthnTest(t)

	_, err := service.FinishLogin(uuid.NewString(), []byte(`{}`))
	if err != ErrChallengeExpired {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestWebAuthnService_FinishLogin_MalformedResponse(t *testing.T) {
	service, _ := setupWebAuthnTest(t)

	_, key, err := service.BeginLogin("")
	if err != nil {
		t.Fatalf("failed beginning discoverable login: %v", err)
	}

	_, err = service.FinishLogin(key, []byte(`not-json`))
	if err != ErrVerificationFailed {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	_, err = service.FinishLogin(key, []byte(`not-json`))
	if err != ErrChallengeExpired {
		t.Fatalf("expected the challenge to be consumed, got %v", err)
	}
}
