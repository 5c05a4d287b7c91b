package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminTokenTTL is how long an issued dashboard token stays valid.
const AdminTokenTTL = 12 * time.Hour

// AdminClaims represents the claims in an admin dashboard token
type AdminClaims struct {
	ShopID string `json:"shop_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// ErrInvalidToken is returned for expired, malformed or non-admin tokens.
var ErrInvalidToken = errors.New("invalid admin token")

// Manager issues and validates admin tokens with an injected secret.
type Manager struct {
	secret []byte
}

// NewManager creates a token manager
func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret)}
}

// GenerateAdminToken generates a JWT token for dashboard access
func (m *Manager) GenerateAdminToken(shopID string) (string, error) {
	claims := &AdminClaims{
		ShopID: shopID,
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(AdminTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (m *Manager) ValidateToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid || claims.Role != "admin" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
