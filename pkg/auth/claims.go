package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/chataccess/pkg/enums"
)

// AccessTokenPayload captures the operator identity baked into a JWT.
type AccessTokenPayload struct {
	ActorID string
	Email   string
	Role    enums.Role
	JTI     string
}

// AccessTokenClaims represents the typed JWT presented on admin routes.
type AccessTokenClaims struct {
	ActorID string     `json:"actor_id"`
	Email   string     `json:"email,omitempty"`
	Role    enums.Role `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token grants administrator access.
func (c *AccessTokenClaims) IsAdmin() bool {
	return c != nil && c.Role == enums.RoleAdmin
}
