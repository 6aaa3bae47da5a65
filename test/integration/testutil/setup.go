//go:build integration

package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripledger/commission/internal/app"
	"github.com/tripledger/commission/internal/auth"
	"github.com/tripledger/commission/internal/infra"
	"github.com/tripledger/commission/internal/projection"
)

const (
	TestJWTSecret           = "integration-test-secret-0123456789abcdef"
	TestServiceSecret       = "integration-service-secret-0123456789abcdef"
	TestStripeWebhookSecret = "whsec_test_integration_secret"
	TestDBHost              = "localhost"
	TestDBPort              = 5435
	TestDBUser              = "commission"
	TestDBPass              = "commission"
	TestDBName              = "commission_test"
)

// TestEnv holds all resources for an integration test.
type TestEnv struct {
	Server   *httptest.Server
	Pool     *pgxpool.Pool
	App      *app.App
	JWTMgr   *auth.JWTManager
	Services *auth.ServiceTokenManager
	t        *testing.T
}

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error
)

func testDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, TestDBName)
}

func bootstrapDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, "commission")
}

func ensureTestDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bPool, err := pgxpool.New(ctx, bootstrapDSN())
	if err != nil {
		return fmt.Errorf("connect bootstrap db: %w", err)
	}
	defer bPool.Close()

	var exists bool
	err = bPool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", TestDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check db exists: %w", err)
	}
	if !exists {
		if _, err = bPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", TestDBName)); err != nil {
			return fmt.Errorf("create test db: %w", err)
		}
	}
	return nil
}

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		if err := ensureTestDB(); err != nil {
			poolErr = err
			return
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		if err := infra.RunMigrations(testDSN(), "", logger); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		poolCfg, err := pgxpool.ParseConfig(testDSN())
		if err != nil {
			poolErr = fmt.Errorf("parse pool config: %w", err)
			return
		}
		poolCfg.MaxConns = 20
		poolCfg.MinConns = 1

		sharedPool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			poolErr = fmt.Errorf("create pool: %w", err)
		}
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

// NewTestEnv creates a test environment with an httptest.Server backed by the
// real router and the test database.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)

	cfg, err := infra.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.StripeSecretKey = ""
	cfg.StripeWebhookSecret = TestStripeWebhookSecret
	cfg.PayoutRateLimit = 1000
	cfg.AllocationRetries = 3
	cfg.ReconcileAutoRepair = false

	jwtMgr := auth.NewJWTManager(TestJWTSecret, time.Hour, time.Hour, time.Hour)
	services := auth.NewServiceTokenManager(TestServiceSecret)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	a, err := app.New(app.Deps{
		Pool:          pool,
		Config:        cfg,
		JWTMgr:        jwtMgr,
		ServiceTokens: services,
		Projection:    projection.NewInMemoryStore(),
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("wire app: %v", err)
	}

	server := httptest.NewServer(a.Router)
	env := &TestEnv{
		Server:   server,
		Pool:     pool,
		App:      a,
		JWTMgr:   jwtMgr,
		Services: services,
		t:        t,
	}

	t.Cleanup(func() {
		server.Close()
		env.CleanAll()
	})

	env.CleanAll()
	return env
}
