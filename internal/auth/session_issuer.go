package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 12 * time.Hour

var (
	errIssuerMissingSigningKey = errors.New("session issuer: signing key required")
	errIssuerMissingName       = errors.New("session issuer: issuer name required")
	errIssuerMissingSubject    = errors.New("session issuer: subject required")
)

// SessionProfile identifies the staff member a minted session represents.
type SessionProfile struct {
	UserID      string
	Email       string
	DisplayName string
	Roles       []string
}

// SessionIssuerConfig configures local session minting.
type SessionIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// SessionIssuer mints session JWTs in the shape the auth gateway emits.
// Production traffic carries gateway-issued tokens; this issuer backs the
// mint-session development command and the test suites.
type SessionIssuer struct {
	signingSecret []byte
	issuer        string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewSessionIssuer constructs an issuer with sane defaults.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errIssuerMissingSigningKey
	}
	issuer := cfg.Issuer
	if issuer == "" {
		return nil, errIssuerMissingName
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// IssueSession produces a signed session token for the profile and reports
// when it expires.
func (i *SessionIssuer) IssueSession(profile SessionProfile) (string, time.Time, error) {
	if profile.UserID == "" {
		return "", time.Time{}, errIssuerMissingSubject
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.tokenTTL)

	claims := SessionClaims{
		UserID:          profile.UserID,
		UserEmail:       profile.Email,
		UserDisplayName: profile.DisplayName,
		UserRoles:       profile.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
