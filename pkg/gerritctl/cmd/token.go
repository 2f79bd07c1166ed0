package cmd

import (
	"github.com/golang-jwt/jwt/v4"
)

// identityFromTokenInfo extracts the principal from a tokeninfo response.
func identityFromTokenInfo(info map[string]any) string {
	if email, ok := info["email"].(string); ok && email != "" {
		return email
	}
	if sub, ok := info["sub"].(string); ok && sub != "" {
		return sub
	}
	if userID, ok := info["user_id"].(string); ok && userID != "" {
		return userID
	}
	return ""
}

// identityFromJWT pulls an identity claim out of a JWT access token.
// Providers that issue opaque tokens yield an empty string.
func identityFromJWT(token string) string {
	parser := jwt.Parser{}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	if email, ok := claims["email"].(string); ok && email != "" {
		return email
	}
	if username, ok := claims["preferred_username"].(string); ok && username != "" {
		return username
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub
	}
	return ""
}
