// ABOUTME: HTTP middleware enforcing bearer authentication on MCP endpoints
// ABOUTME: Disabled entirely when no API keys or JWT secret are configured

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Config selects which credentials the middleware accepts.
type Config struct {
	APIKeys   []string
	JWTSecret string
}

// Enabled reports whether any credential is configured.
func (c Config) Enabled() bool {
	for _, k := range c.APIKeys {
		if k != "" {
			return true
		}
	}
	return c.JWTSecret != ""
}

// Authenticator verifies bearer credentials for HTTP requests.
type Authenticator struct {
	verifier Chain
	enabled  bool
}

// NewAuthenticator builds an Authenticator from cfg. With an empty cfg every
// request passes through unauthenticated.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	a := &Authenticator{enabled: cfg.Enabled()}
	if keys := NewAPIKeyVerifier(cfg.APIKeys); keys.Len() > 0 {
		a.verifier = append(a.verifier, keys)
	}
	if cfg.JWTSecret != "" {
		v, err := NewJWTVerifier([]byte(cfg.JWTSecret))
		if err != nil {
			return nil, err
		}
		a.verifier = append(a.verifier, v)
	}
	return a, nil
}

// Enabled reports whether requests must carry a credential.
func (a *Authenticator) Enabled() bool { return a.enabled }

// Authenticate verifies the Authorization header value.
func (a *Authenticator) Authenticate(header string) (*AuthContext, error) {
	if !a.enabled {
		return &AuthContext{Method: "none"}, nil
	}

	token, errMsg := extractBearerToken(header)
	if errMsg != "" {
		return nil, errors.New(errMsg)
	}

	id, err := a.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if id == APIKeyPrincipal {
		return &AuthContext{PrincipalID: id, Method: "api_key"}, nil
	}
	return &AuthContext{PrincipalID: id, Method: "jwt"}, nil
}

// Middleware rejects requests without a valid bearer credential and attaches
// the AuthContext to those that pass.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := a.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
	})
}
