package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/emRival/PMJ-Secure/internal/models"
	"github.com/emRival/PMJ-Secure/pkg/logger"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebAuthnService drives the two-phase registration and authentication
// ceremonies. Cryptographic verification is delegated to go-webauthn;
// this service owns challenge consumption, credential storage, and the
// clone-detection policy on top of it.
type WebAuthnService struct {
	DB         *gorm.DB
	WebAuthn   *webauthn.WebAuthn
	Auth       *AuthService
	Challenges *ChallengeStore
}

func NewWebAuthnService(db *gorm.DB, wa *webauthn.WebAuthn, auth *AuthService, challenges *ChallengeStore) *WebAuthnService {
	return &WebAuthnService{DB: db, WebAuthn: wa, Auth: auth, Challenges: challenges}
}

type passkeyUser struct {
	user  models.User
	creds []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	b, _ := u.user.ID.MarshalBinary()
	return b
}

func (u *passkeyUser) WebAuthnName() string {
	return u.user.Username
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.user.Username
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.creds
}

func (s *WebAuthnService) loadPasskeyUser(userID uuid.UUID) (*passkeyUser, error) {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}

	dbCreds, err := s.Auth.ListPasskeys(userID)
	if err != nil {
		return nil, err
	}

	creds := make([]webauthn.Credential, len(dbCreds))
	for i, dc := range dbCreds {
		rawID, err := base64.StdEncoding.DecodeString(dc.CredentialID)
		if err != nil {
			return nil, err
		}

		var transports []protocol.AuthenticatorTransport
		if dc.Transports != "" {
			var ts []string
			if err := json.Unmarshal([]byte(dc.Transports), &ts); err != nil {
				return nil, err
			}
			for _, t := range ts {
				transports = append(transports, protocol.AuthenticatorTransport(t))
			}
		}

		creds[i] = webauthn.Credential{
			ID:              rawID,
			PublicKey:       dc.PublicKey,
			AttestationType: dc.AttestationType,
			Authenticator: webauthn.Authenticator{
				AAGUID:    dc.AAGUID,
				SignCount: dc.SignCount,
			},
			Transport: transports,
			Flags: webauthn.CredentialFlags{
				BackupEligible: dc.BackupEligible,
				BackupState:    dc.BackupState,
			},
		}
	}

	return &passkeyUser{user: user, creds: creds}, nil
}

// BeginRegistration opens a registration ceremony for an authenticated
// user. Existing credentials are deliberately NOT excluded: excluding
// them would block the "add another device" flow, which matters more
// here than preventing a user from enrolling the same authenticator
// twice.
func (s *WebAuthnService) BeginRegistration(userID uuid.UUID) (*protocol.CredentialCreation, error) {
	waUser, err := s.loadPasskeyUser(userID)
	if err != nil {
		return nil, err
	}

	options, session, err := s.WebAuthn.BeginRegistration(waUser,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: protocol.VerificationPreferred,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	)
	if err != nil {
		return nil, err
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}

	err = s.Challenges.Put(userID.String(), models.ChallengeRegistration, &userID,
		[]byte(session.Challenge), string(sessionJSON))
	if err != nil {
		return nil, err
	}
	return options, nil
}

// FinishRegistration consumes the pending challenge, verifies the
// attestation, and persists the credential with the authenticator's
// initial signature counter.
func (s *WebAuthnService) FinishRegistration(userID uuid.UUID, name string, response []byte) (*models.PasskeyCredential, error) {
	row, err := s.Challenges.Take(userID.String(), models.ChallengeRegistration)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrChallengeExpired
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(row.SessionData), &session); err != nil {
		return nil, err
	}

	waUser, err := s.loadPasskeyUser(userID)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, ErrVerificationFailed
	}

	credential, err := s.WebAuthn.CreateCredential(waUser, session, parsed)
	if err != nil {
		return nil, ErrVerificationFailed
	}

	var transportsJSON []byte
	if len(credential.Transport) > 0 {
		ts := make([]string, len(credential.Transport))
		for i, t := range credential.Transport {
			ts[i] = string(t)
		}
		transportsJSON, _ = json.Marshal(ts)
	}

	if name == "" {
		name = "Passkey"
	}

	dbCred := models.PasskeyCredential{
		UserID:          userID,
		Name:            name,
		CredentialID:    base64.StdEncoding.EncodeToString(credential.ID),
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		AAGUID:          credential.Authenticator.AAGUID,
		SignCount:       credential.Authenticator.SignCount,
		Transports:      string(transportsJSON),
		BackupEligible:  credential.Flags.BackupEligible,
		BackupState:     credential.Flags.BackupState,
	}
	if err := s.Auth.AddPasskey(&dbCred); err != nil {
		return nil, err
	}
	return &dbCred, nil
}

// BeginLogin opens an authentication ceremony. With a known username
// the challenge is keyed by the user id and the options name that
// user's credentials; otherwise a synthetic key backs the discoverable
// (usernameless) flow. An unknown username still yields options rather
// than an error, so the endpoint cannot be used to enumerate accounts.
func (s *WebAuthnService) BeginLogin(username string) (*protocol.CredentialAssertion, string, error) {
	if username != "" {
		var user models.User
		err := s.DB.First(&user, "username = ?", username).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", err
		}
		if err == nil {
			waUser, err := s.loadPasskeyUser(user.ID)
			if err != nil {
				return nil, "", err
			}
			if len(waUser.creds) > 0 {
				options, session, err := s.WebAuthn.BeginLogin(waUser)
				if err != nil {
					return nil, "", err
				}
				sessionJSON, err := json.Marshal(session)
				if err != nil {
					return nil, "", err
				}
				key := user.ID.String()
				err = s.Challenges.Put(key, models.ChallengeAuthentication, &user.ID,
					[]byte(session.Challenge), string(sessionJSON))
				if err != nil {
					return nil, "", err
				}
				return options, key, nil
			}
		}
	}

	options, session, err := s.WebAuthn.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", err
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, "", err
	}

	key := uuid.NewString()
	err = s.Challenges.Put(key, models.ChallengeAuthentication, nil,
		[]byte(session.Challenge), string(sessionJSON))
	if err != nil {
		return nil, "", err
	}
	return options, key, nil
}

// FinishLogin consumes the challenge, locates the credential by the id
// the authenticator asserted (never a client-supplied user id), verifies
// the assertion, and applies the clone-detection rule before persisting
// the new counter. On success the owning user is returned for session
// creation.
func (s *WebAuthnService) FinishLogin(challengeKey string, response []byte) (*models.User, error) {
	row, err := s.Challenges.Take(challengeKey, models.ChallengeAuthentication)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrChallengeExpired
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(row.SessionData), &session); err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, ErrVerificationFailed
	}

	dbCred, err := s.Auth.FindPasskeyByCredentialID(base64.StdEncoding.EncodeToString(parsed.RawID))
	if err != nil {
		return nil, err
	}
	if dbCred == nil {
		return nil, ErrCredentialNotFound
	}

	waUser, err := s.loadPasskeyUser(dbCred.UserID)
	if err != nil {
		return nil, err
	}

	storedCount := dbCred.SignCount

	var validated *webauthn.Credential
	if len(session.UserID) > 0 {
		// Named flow: the ceremony was begun for a specific user, so
		// the credential must belong to that user.
		sessionUserID, err := uuid.FromBytes(session.UserID)
		if err != nil || sessionUserID != dbCred.UserID {
			return nil, ErrCredentialNotFound
		}
		validated, err = s.WebAuthn.ValidateLogin(waUser, session, parsed)
		if err != nil {
			return nil, ErrVerificationFailed
		}
	} else {
		validated, err = s.WebAuthn.ValidateDiscoverableLogin(
			func(rawID, userHandle []byte) (webauthn.User, error) {
				return waUser, nil
			},
			session,
			parsed,
		)
		if err != nil {
			return nil, ErrVerificationFailed
		}
	}

	if validated.Authenticator.CloneWarning ||
		CloneSuspected(storedCount, validated.Authenticator.SignCount) {
		logger.Error("passkey_clone_suspected", ErrPossibleCloneDetected, map[string]interface{}{
			"user_id":        dbCred.UserID.String(),
			"credential":     dbCred.ID.String(),
			"stored_count":   storedCount,
			"reported_count": validated.Authenticator.SignCount,
		})
		return nil, ErrPossibleCloneDetected
	}

	if err := s.Auth.UpdatePasskeyCounter(dbCred.ID, validated.Authenticator.SignCount); err != nil {
		return nil, err
	}
	return &waUser.user, nil
}

// CloneSuspected applies the counter-regression rule: a counter that
// fails to strictly increase means another authenticator may hold the
// same private key. A stored count of zero means the authenticator does
// not implement counters at all, so the check is skipped in that one
// case.
func CloneSuspected(storedCount, reportedCount uint32) bool {
	if storedCount == 0 {
		return false
	}
	return reportedCount <= storedCount
}
