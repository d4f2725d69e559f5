// ABOUTME: Bearer credential verification for the MCP HTTP surface
// ABOUTME: HS256 JWTs carry the agent identity in "sub"; static API keys map to a fixed principal

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum JWT signing secret length in bytes.
const MinSecretLength = 32

// Issuer is set on generated tokens and required on verified ones.
const Issuer = "coven-mcp"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// TokenVerifier resolves a bearer credential to a principal ID.
type TokenVerifier interface {
	Verify(token string) (principalID string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier. The secret must be at least MinSecretLength bytes.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify validates the token and returns its subject.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate mints a token for principalID that expires after expiresIn.
func (v *JWTVerifier) Generate(principalID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   principalID,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// APIKeyVerifier accepts a fixed set of static keys. Keys are compared by
// SHA-256 digest in constant time.
type APIKeyVerifier struct {
	keys [][sha256.Size]byte
}

// APIKeyPrincipal is the principal ID reported for static API keys.
const APIKeyPrincipal = "api-key"

// NewAPIKeyVerifier creates a verifier for keys. Empty keys are ignored.
func NewAPIKeyVerifier(keys []string) *APIKeyVerifier {
	v := &APIKeyVerifier{}
	for _, k := range keys {
		if k == "" {
			continue
		}
		v.keys = append(v.keys, sha256.Sum256([]byte(k)))
	}
	return v
}

// Len returns the number of configured keys.
func (v *APIKeyVerifier) Len() int { return len(v.keys) }

// Verify returns APIKeyPrincipal if token matches a configured key.
func (v *APIKeyVerifier) Verify(token string) (string, error) {
	sum := sha256.Sum256([]byte(token))
	match := 0
	for _, k := range v.keys {
		match |= subtle.ConstantTimeCompare(sum[:], k[:])
	}
	if match == 1 {
		return APIKeyPrincipal, nil
	}
	return "", ErrInvalidToken
}

// Chain tries each verifier in order and returns the first success.
type Chain []TokenVerifier

// Verify implements TokenVerifier. The last error is returned when none match,
// except that an expiry error from any verifier takes precedence.
func (c Chain) Verify(token string) (string, error) {
	err := ErrInvalidToken
	expired := false
	for _, v := range c {
		id, verr := v.Verify(token)
		if verr == nil {
			return id, nil
		}
		if errors.Is(verr, ErrExpiredToken) {
			expired = true
		}
		err = verr
	}
	if expired {
		return "", ErrExpiredToken
	}
	return "", err
}
