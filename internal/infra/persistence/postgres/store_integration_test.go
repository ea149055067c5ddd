package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/quanterhq/strategyd/errs"
	"github.com/quanterhq/strategyd/internal/domain/portfolio"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "strategyd"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/strategyd?sslmode=disable", host, port.Port())

	if err := applyMigrations(dsn); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func applyMigrations(dsn string) error {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return fmt.Errorf("runtime caller lookup failed")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", "..", ".."))
	migrationsDir := filepath.Join(root, "db", "migrations")
	sourceURL := fmt.Sprintf("file://%s", migrationsDir)

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer sqlDB.Close()

	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func truncate(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), "TRUNCATE holdings, strategies")
	require.NoError(t, err)
}

func TestFindDescriptorRoundTrip(t *testing.T) {
	truncate(t)
	store := New(testPool)
	ctx := context.Background()

	desc := &portfolio.Descriptor{
		ID:            "alpha-1",
		GatewayID:     "gw-east",
		EnableBalance: decimal.RequireFromString("100000.5000"),
	}
	require.NoError(t, store.SaveDescriptor(ctx, desc))
	require.NoError(t, store.SaveHolding(ctx, &portfolio.Holding{
		StrategyID:    "alpha-1",
		Symbol:        "510300.XSHG",
		Code:          "510300",
		Name:          "CSI 300 ETF",
		CostPrice:     decimal.RequireFromString("3.8500"),
		LastPrice:     decimal.RequireFromString("3.9000"),
		CurrentAmount: 1000,
		EnableAmount:  800,
		IncomeAmount:  200,
	}))

	loaded, err := store.FindDescriptor(ctx, "alpha-1")
	require.NoError(t, err)
	require.Equal(t, "gw-east", loaded.GatewayID)
	require.True(t, loaded.EnableBalance.Equal(desc.EnableBalance))
	require.Len(t, loaded.Holdings, 1)

	h := loaded.Holdings[0]
	require.Equal(t, "510300", h.Code)
	require.True(t, h.CostPrice.Equal(decimal.RequireFromString("3.85")))
	require.Equal(t, int64(800), h.EnableAmount)
}

func TestFindDescriptorMissing(t *testing.T) {
	truncate(t)
	store := New(testPool)

	_, err := store.FindDescriptor(context.Background(), "nobody")
	require.True(t, errs.IsCode(err, errs.CodeNotFound))
}

func TestSaveHoldingUpserts(t *testing.T) {
	truncate(t)
	store := New(testPool)
	ctx := context.Background()

	require.NoError(t, store.SaveDescriptor(ctx, &portfolio.Descriptor{ID: "alpha-1"}))

	h := &portfolio.Holding{
		StrategyID:   "alpha-1",
		Symbol:       "510300.XSHG",
		CostPrice:    decimal.RequireFromString("3.85"),
		IncomeAmount: 100,
	}
	require.NoError(t, store.SaveHolding(ctx, h))

	h.IncomeAmount = 0
	h.EnableAmount = 100
	h.CostPrice = decimal.Zero
	require.NoError(t, store.SaveHolding(ctx, h))

	loaded, err := store.FindDescriptor(ctx, "alpha-1")
	require.NoError(t, err)
	require.Len(t, loaded.Holdings, 1)
	require.Equal(t, int64(100), loaded.Holdings[0].EnableAmount)
	require.True(t, loaded.Holdings[0].CostPrice.IsZero())
}

func TestDeleteHolding(t *testing.T) {
	truncate(t)
	store := New(testPool)
	ctx := context.Background()

	require.NoError(t, store.SaveDescriptor(ctx, &portfolio.Descriptor{ID: "alpha-1"}))
	require.NoError(t, store.SaveHolding(ctx, &portfolio.Holding{
		StrategyID: "alpha-1",
		Symbol:     "510300.XSHG",
	}))
	require.NoError(t, store.DeleteHolding(ctx, "alpha-1", "510300.XSHG"))

	loaded, err := store.FindDescriptor(ctx, "alpha-1")
	require.NoError(t, err)
	require.Empty(t, loaded.Holdings)

	// Deleting again is a no-op.
	require.NoError(t, store.DeleteHolding(ctx, "alpha-1", "510300.XSHG"))
}
