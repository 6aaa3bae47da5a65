//go:build integration

package testutil

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tripledger/commission/internal/auth"
	"github.com/tripledger/commission/internal/domain"
)

// SeedOwner inserts an owner row directly and returns its ID.
func (env *TestEnv) SeedOwner(kind domain.OwnerKind, tier domain.Tier, method domain.PayoutMethod) uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := uuid.New()
	_, err := env.Pool.Exec(ctx, `
		INSERT INTO owners (id, kind, email, tier, payout_method)
		VALUES ($1, $2, $3, $4, $5)`,
		id, string(kind), fmt.Sprintf("owner_%s@test.com", id.String()[:8]), string(tier), string(method))
	if err != nil {
		env.t.Fatalf("SeedOwner: %v", err)
	}
	return id
}

// EarnAvailable records a commission through the service and releases it
// immediately, returning the entry ID.
func (env *TestEnv) EarnAvailable(ownerID uuid.UUID, amount string, earnedAt time.Time) uuid.UUID {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := env.App.Commissions.Record(ctx, domain.RecordCommissionParams{
		OwnerID:         ownerID,
		SourceBookingID: "BK-" + uuid.NewString(),
		Amount:          decimal.RequireFromString(amount),
		EarnedAt:        earnedAt,
	})
	if err != nil {
		env.t.Fatalf("EarnAvailable: record: %v", err)
	}
	if _, err := env.App.Commissions.Release(ctx, res.Entry.ID); err != nil {
		env.t.Fatalf("EarnAvailable: release: %v", err)
	}
	return res.Entry.ID
}

// OwnerToken generates an owner JWT in the realm matching kind.
func (env *TestEnv) OwnerToken(kind domain.OwnerKind, ownerID uuid.UUID) string {
	env.t.Helper()
	realm := auth.RealmAgent
	if kind == domain.OwnerAffiliate {
		realm = auth.RealmAffiliate
	}
	token, err := env.JWTMgr.GenerateToken(realm, ownerID, "", "", "active")
	if err != nil {
		env.t.Fatalf("OwnerToken: %v", err)
	}
	return token
}

// AdminToken generates a JWT for an admin user with the given role.
func (env *TestEnv) AdminToken(role string) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(auth.RealmAdmin, uuid.New(), "admin@test.com", role, "")
	if err != nil {
		env.t.Fatalf("AdminToken: %v", err)
	}
	return token
}

// ServiceToken generates a collaborator token carrying scopes.
func (env *TestEnv) ServiceToken(scopes ...string) string {
	env.t.Helper()
	token, err := env.Services.Generate("integration", scopes, time.Hour)
	if err != nil {
		env.t.Fatalf("ServiceToken: %v", err)
	}
	return token
}

// GET performs an unauthenticated GET request.
func (env *TestEnv) GET(path string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodGet, path, nil, "")
}

// POST performs a POST request with optional auth token.
func (env *TestEnv) POST(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodPost, path, body, token)
}

// AuthGET performs an authenticated GET request.
func (env *TestEnv) AuthGET(path, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodGet, path, nil, token)
}

// AuthPATCH performs an authenticated PATCH request.
func (env *TestEnv) AuthPATCH(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	return env.do(http.MethodPatch, path, body, token)
}

func (env *TestEnv) do(method, path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("%s %s: encode: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("%s %s: new request: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// RawPOST performs a POST request with raw bytes and custom headers.
func (env *TestEnv) RawPOST(path string, body []byte, headers map[string]string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+path, bytes.NewReader(body))
	if err != nil {
		env.t.Fatalf("RawPOST %s: new request: %v", path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("RawPOST %s: %v", path, err)
	}
	return resp
}

// StripeWebhookSignature generates a valid Stripe webhook signature for testing.
func StripeWebhookSignature(payload []byte) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(TestStripeWebhookSecret))
	mac.Write([]byte(ts + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
