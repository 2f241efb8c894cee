package auth

import "github.com/golang-jwt/jwt/v5"

// TokenUse distinguishes API tokens from anything else signed with the same
// secret.
type TokenUse string

const TokenUseAPI TokenUse = "api"

// Claims are the only supported JWT claims shape for dev backend API tokens.
// The same token authorizes REST calls and realtime channel subscriptions.
type Claims struct {
	jwt.RegisteredClaims

	UserID string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Use    TokenUse `json:"use"`
}
