package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Realm identifies the JWT authentication realm.
type Realm string

const (
	RealmAgent     Realm = "agent"
	RealmAffiliate Realm = "affiliate"
	RealmAdmin     Realm = "admin"
)

// IsOwner reports whether the realm belongs to a commission owner.
func (r Realm) IsOwner() bool {
	return r == RealmAgent || r == RealmAffiliate
}

// Claims holds the custom JWT claims for all 3 realms.
type Claims struct {
	jwt.RegisteredClaims
	Realm  Realm  `json:"realm"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`   // admin realm: viewer, admin, superadmin
	Status string `json:"status,omitempty"` // owner realms: active, suspended
}

// JWTManager handles token generation and validation for all 3 realms.
type JWTManager struct {
	secret          []byte
	agentExpiry     time.Duration
	affiliateExpiry time.Duration
	adminExpiry     time.Duration
}

// NewJWTManager creates a JWT manager with realm-specific expiry durations.
func NewJWTManager(secret string, agentExpiry, affiliateExpiry, adminExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:          []byte(secret),
		agentExpiry:     agentExpiry,
		affiliateExpiry: affiliateExpiry,
		adminExpiry:     adminExpiry,
	}
}

// GenerateToken creates a signed JWT for the given realm and subject.
func (m *JWTManager) GenerateToken(realm Realm, subjectID uuid.UUID, email, role, status string) (string, error) {
	var expiry time.Duration
	switch realm {
	case RealmAgent:
		expiry = m.agentExpiry
	case RealmAffiliate:
		expiry = m.affiliateExpiry
	case RealmAdmin:
		expiry = m.adminExpiry
	default:
		return "", fmt.Errorf("unknown realm: %s", realm)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
		Realm:  realm,
		Email:  email,
		Role:   role,
		Status: status,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT, returning claims if valid.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// ValidateTokenForRealms validates a token and ensures it belongs to one of
// the expected realms.
func (m *JWTManager) ValidateTokenForRealms(tokenString string, realms ...Realm) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	for _, r := range realms {
		if claims.Realm == r {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("expected realm %v, got %s", realms, claims.Realm)
}
