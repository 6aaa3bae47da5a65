package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTManager() *JWTManager {
	return NewJWTManager("test-secret-key", 24*time.Hour, 24*time.Hour, 8*time.Hour)
}

func TestGenerateAndValidateAgentToken(t *testing.T) {
	mgr := newTestJWTManager()
	agentID := uuid.New()

	token, err := mgr.GenerateToken(RealmAgent, agentID, "agent@test.com", "", "active")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := mgr.ValidateTokenForRealms(token, RealmAgent, RealmAffiliate)
	require.NoError(t, err)
	assert.Equal(t, agentID.String(), claims.Subject)
	assert.Equal(t, RealmAgent, claims.Realm)
	assert.Equal(t, "agent@test.com", claims.Email)
	assert.True(t, claims.Realm.IsOwner())
}

func TestGenerateAndValidateAdminToken(t *testing.T) {
	mgr := newTestJWTManager()

	token, err := mgr.GenerateToken(RealmAdmin, uuid.New(), "admin@test.com", RoleSuperAdmin, "")
	require.NoError(t, err)

	claims, err := mgr.ValidateTokenForRealms(token, RealmAdmin)
	require.NoError(t, err)
	assert.Equal(t, RealmAdmin, claims.Realm)
	assert.Equal(t, RoleSuperAdmin, claims.Role)
	assert.False(t, claims.Realm.IsOwner())
}

func TestGenerateAndValidateAffiliateToken(t *testing.T) {
	mgr := newTestJWTManager()

	token, err := mgr.GenerateToken(RealmAffiliate, uuid.New(), "aff@test.com", "", "active")
	require.NoError(t, err)

	claims, err := mgr.ValidateTokenForRealms(token, RealmAffiliate)
	require.NoError(t, err)
	assert.Equal(t, RealmAffiliate, claims.Realm)
	assert.Equal(t, "active", claims.Status)
}

func TestUnknownRealm(t *testing.T) {
	_, err := newTestJWTManager().GenerateToken(Realm("player"), uuid.New(), "", "", "")
	assert.Error(t, err)
}

func TestRealmMismatchRejected(t *testing.T) {
	mgr := newTestJWTManager()

	token, err := mgr.GenerateToken(RealmAgent, uuid.New(), "", "", "")
	require.NoError(t, err)

	_, err = mgr.ValidateTokenForRealms(token, RealmAdmin)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expected realm")
}

func TestInvalidSecretRejected(t *testing.T) {
	mgr1 := NewJWTManager("secret-1", time.Hour, time.Hour, time.Hour)
	mgr2 := NewJWTManager("secret-2", time.Hour, time.Hour, time.Hour)

	token, err := mgr1.GenerateToken(RealmAgent, uuid.New(), "", "", "")
	require.NoError(t, err)

	_, err = mgr2.ValidateToken(token)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	mgr := NewJWTManager("secret", -time.Minute, -time.Minute, -time.Minute)

	token, err := mgr.GenerateToken(RealmAgent, uuid.New(), "", "", "")
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestServiceTokenRoundtrip(t *testing.T) {
	mgr := NewServiceTokenManager("svc-secret")

	token, err := mgr.Generate("booking-engine", []string{ScopeCommissionsWrite}, time.Hour)
	require.NoError(t, err)

	parsed, err := mgr.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "booking-engine", parsed.Sub)
	assert.True(t, parsed.HasScope(ScopeCommissionsWrite))
	assert.False(t, parsed.HasScope(ScopeSettlementsWrite))
}

func TestServiceTokenInvalidSignature(t *testing.T) {
	token, err := NewServiceTokenManager("secret-1").Generate("svc", nil, time.Hour)
	require.NoError(t, err)

	_, err = NewServiceTokenManager("secret-2").Validate(token)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signature")
}

func TestServiceTokenExpired(t *testing.T) {
	mgr := NewServiceTokenManager("secret")
	token, err := mgr.Generate("svc", nil, time.Minute)
	require.NoError(t, err)

	mgr.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = mgr.Validate(token)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestServiceTokenMalformed(t *testing.T) {
	mgr := NewServiceTokenManager("secret")
	for _, tok := range []string{"", "nodot", "a.b.c", "payload.!!!"} {
		_, err := mgr.Validate(tok)
		assert.Error(t, err, tok)
	}
}
