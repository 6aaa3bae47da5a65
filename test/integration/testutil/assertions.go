//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DecodeJSON reads and decodes a JSON response body into dst.
func DecodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
}

// AssertStatus checks that the response has the expected HTTP status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// AssertErrorCode checks that the response body contains the expected error code.
func AssertErrorCode(t *testing.T, resp *http.Response, expectedCode string) {
	t.Helper()
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	DecodeJSON(t, resp, &errResp)
	if errResp.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, errResp.Code, errResp.Message)
	}
}

// AssertBalance reads the owner row and compares available, reserved and
// lifetime paid against the expected decimal strings.
func AssertBalance(t *testing.T, env *TestEnv, ownerID uuid.UUID, available, reserved, lifetimePaid string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var av, res, paid string
	err := env.Pool.QueryRow(ctx,
		"SELECT available_balance::text, reserved_balance::text, lifetime_paid::text FROM owners WHERE id = $1",
		ownerID).Scan(&av, &res, &paid)
	if err != nil {
		t.Fatalf("AssertBalance: query: %v", err)
	}
	check := func(name, want, got string) {
		if !decimal.RequireFromString(got).Equal(decimal.RequireFromString(want)) {
			t.Errorf("%s: expected %s, got %s", name, want, got)
		}
	}
	check("available_balance", available, av)
	check("reserved_balance", reserved, res)
	check("lifetime_paid", lifetimePaid, paid)
}

// BalanceVersion returns the owner row's balance write counter.
func BalanceVersion(t *testing.T, env *TestEnv, ownerID uuid.UUID) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var v int64
	if err := env.Pool.QueryRow(ctx, "SELECT balance_version FROM owners WHERE id = $1", ownerID).Scan(&v); err != nil {
		t.Fatalf("BalanceVersion: query: %v", err)
	}
	return v
}

// CountOutboxEvents returns the number of outbox events of eventType for an aggregate.
func CountOutboxEvents(t *testing.T, env *TestEnv, aggregateID uuid.UUID, eventType string) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err := env.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM event_outbox WHERE "aggregateId" = $1 AND "eventType" = $2`,
		aggregateID.String(), eventType).Scan(&count)
	if err != nil {
		t.Fatalf("CountOutboxEvents: %v", err)
	}
	return count
}

// CountPayoutBindings returns how many payouts reference entryID.
func CountPayoutBindings(t *testing.T, env *TestEnv, entryID uuid.UUID) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err := env.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM payout_entries WHERE entry_id = $1", entryID).Scan(&count)
	if err != nil {
		t.Fatalf("CountPayoutBindings: %v", err)
	}
	return count
}
