// Package auth provides authentication and authorization utilities.
package auth

import (
	"encoding/json"
	"fmt"
)

// Identity represents the authenticated caller attached to a request once a
// bearer token has passed validation.
type Identity struct {
	// Subject is the unique identifier for the principal (from 'sub' claim).
	// This is always required per OIDC Core 1.0 spec § 5.1.
	Subject string

	// Name is the human-readable name (from 'name' claim).
	Name string

	// Email is the email address (from 'email' claim, if available).
	Email string

	// Claims preserves every claim from the validated token. Filter builders
	// and scope checks read from here; group/role claim names vary by
	// provider, so nothing is promoted to a dedicated field.
	Claims map[string]any

	// Token is the original bearer token. It is redacted in String() and
	// MarshalJSON() to prevent leakage.
	Token string

	// TokenType is the type of token (e.g., "Bearer").
	TokenType string
}

// String returns a representation of the Identity with sensitive fields
// redacted, so an Identity is always safe to log or print.
func (i *Identity) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Identity{Subject:%q}", i.Subject)
}

// MarshalJSON redacts the bearer token during JSON serialization so it never
// leaks into structured logs or API responses.
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}

	type safeIdentity struct {
		Subject   string         `json:"subject"`
		Name      string         `json:"name"`
		Email     string         `json:"email"`
		Claims    map[string]any `json:"claims"`
		Token     string         `json:"token"`
		TokenType string         `json:"tokenType"`
	}

	token := i.Token
	if token != "" {
		token = "REDACTED"
	}

	return json.Marshal(&safeIdentity{
		Subject:   i.Subject,
		Name:      i.Name,
		Email:     i.Email,
		Claims:    i.Claims,
		Token:     token,
		TokenType: i.TokenType,
	})
}
