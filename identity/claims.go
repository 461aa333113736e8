package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// UnverifiedClaims decodes the claims of a JWT without checking its signature.
// Only use it on tokens received directly from the token endpoint.
func UnverifiedClaims(raw string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parse token claims: %w", err)
	}
	return claims, nil
}
