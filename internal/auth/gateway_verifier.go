// Package auth validates the identity tokens minted by the platform
// gateway. The gateway authenticates users upstream; this package only
// checks the HS256 signature and extracts the verified subject, which the
// rest of the system trusts completely.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSigningSecret = errors.New("gateway verifier: signing secret required")
	ErrMissingIssuer        = errors.New("gateway verifier: issuer required")
	ErrMissingToken         = errors.New("gateway verifier: token required")
	ErrInvalidToken         = errors.New("gateway verifier: invalid token")
	ErrExpiredToken         = errors.New("gateway verifier: token expired")
	ErrMissingSubject       = errors.New("gateway verifier: subject required")
)

// GatewayVerifierConfig describes how gateway tokens are validated.
type GatewayVerifierConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	Clock         func() time.Time
}

// GatewayVerifier validates HS256 JWTs issued by the platform gateway.
type GatewayVerifier struct {
	signingSecret []byte
	issuer        string
	audience      string
	clock         func() time.Time
}

// NewGatewayVerifier constructs a verifier with the provided configuration.
func NewGatewayVerifier(cfg GatewayVerifierConfig) (*GatewayVerifier, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &GatewayVerifier{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      strings.TrimSpace(cfg.Audience),
		clock:         clock,
	}, nil
}

// VerifyToken checks the token and returns the authenticated user id.
func (v *GatewayVerifier) VerifyToken(tokenString string) (string, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrMissingToken
	}

	options := []jwt.ParserOption{
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		options...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}
