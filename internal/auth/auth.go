// Package auth verifies signaling credentials (AUTH_MODE=none|api_key|jwt).
//
// Credential *verification* lives here; credential *issuance* belongs to the
// external identity service. In jwt mode the token may carry a display
// identity claim which the rendezvous core treats as an opaque display name.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hallway/hallway/internal/config"
)

var ErrMissingCredentials = errors.New("missing credentials")

// Identity is the result of verifying a credential.
type Identity struct {
	// Subject is a stable identifier from the credential (JWT `sub` claim).
	// Empty for api_key mode, where all clients share one key.
	Subject string

	// DisplayName is the optional display identity carried by the credential
	// (JWT `name` claim). The core treats it as opaque.
	DisplayName string
}

type Verifier interface {
	Verify(credential string) (Identity, error)
}

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// CredentialFromQuery extracts the credential for mode from a query string
// (`apiKey` or `token`).
func CredentialFromQuery(mode config.AuthMode, q url.Values) (string, error) {
	switch mode {
	case config.AuthModeAPIKey:
		if apiKey := q.Get("apiKey"); apiKey != "" {
			return apiKey, nil
		}
		return "", ErrMissingCredentials
	case config.AuthModeJWT:
		if token := q.Get("token"); token != "" {
			return token, nil
		}
		return "", ErrMissingCredentials
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
}

// CredentialFromRequest extracts the credential for mode from request headers
// (preferred) or the query string (fallback).
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	switch mode {
	case config.AuthModeAPIKey:
		if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
			return v, nil
		}
	case config.AuthModeJWT:
		if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
			token, ok := strings.CutPrefix(v, "Bearer ")
			if !ok {
				return "", ErrInvalidCredentials
			}
			if token = strings.TrimSpace(token); token != "" {
				return token, nil
			}
			return "", ErrInvalidCredentials
		}
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
	return CredentialFromQuery(mode, r.URL.Query())
}
