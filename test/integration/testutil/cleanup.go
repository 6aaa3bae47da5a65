//go:build integration

package testutil

import (
	"context"
	"time"
)

// CleanAll truncates every table in dependency-safe order.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tables := []string{
		"event_outbox",
		"balance_adjustments",
		"payout_entries",
		"commission_entries",
		"payout_requests",
		"owners",
	}
	for _, table := range tables {
		_, _ = env.Pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE")
	}
}
