package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scopes granted to internal collaborators.
const (
	ScopeCommissionsWrite = "commissions:write"
	ScopeSettlementsWrite = "settlements:write"
)

// ServiceToken is the payload of a collaborator token.
type ServiceToken struct {
	Sub    string   `json:"sub"`
	Scopes []string `json:"scopes"`
	Exp    int64    `json:"exp"`
	Iat    int64    `json:"iat"`
	Jti    string   `json:"jti"`
}

// HasScope reports whether the token grants scope.
func (t *ServiceToken) HasScope(scope string) bool {
	return slices.Contains(t.Scopes, scope)
}

// ServiceTokenManager issues HMAC-SHA256 scoped tokens for the booking,
// maturation and settlement collaborators that call /internal routes.
type ServiceTokenManager struct {
	secret []byte
	now    func() time.Time
}

// NewServiceTokenManager creates a service token manager.
func NewServiceTokenManager(secret string) *ServiceTokenManager {
	return &ServiceTokenManager{secret: []byte(secret), now: time.Now}
}

// Generate creates a scoped token.
// Format: base64(payload).base64(signature)
func (m *ServiceTokenManager) Generate(service string, scopes []string, ttl time.Duration) (string, error) {
	now := m.now()
	token := ServiceToken{
		Sub:    service,
		Scopes: scopes,
		Exp:    now.Add(ttl).Unix(),
		Iat:    now.Unix(),
		Jti:    uuid.New().String(),
	}

	payloadJSON, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("marshal service token: %w", err)
	}

	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadJSON)
	sigB64 := base64.RawURLEncoding.EncodeToString(m.sign(payloadB64))
	return payloadB64 + "." + sigB64, nil
}

// Validate verifies and decodes a service token.
func (m *ServiceTokenManager) Validate(tokenString string) (*ServiceToken, error) {
	payloadB64, sigB64, ok := strings.Cut(tokenString, ".")
	if !ok || strings.Contains(sigB64, ".") {
		return nil, fmt.Errorf("invalid service token format")
	}

	actualSig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if !hmac.Equal(m.sign(payloadB64), actualSig) {
		return nil, fmt.Errorf("invalid signature")
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var token ServiceToken
	if err := json.Unmarshal(payloadJSON, &token); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}

	if m.now().Unix() > token.Exp {
		return nil, fmt.Errorf("token expired")
	}
	return &token, nil
}

func (m *ServiceTokenManager) sign(data string) []byte {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
