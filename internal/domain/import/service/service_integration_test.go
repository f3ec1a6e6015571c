//go:build integration

package service

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
	financerepo "github.com/FACorreiaa/tenant-ledger/internal/domain/finance/repository"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/tenant-ledger/pkg/db"
)

var testDB *db.DB

func TestMain(m *testing.M) {
	if err := godotenv.Load("../../../../.env.test"); err != nil {
		log.Println("Warning: .env.test file not found for import integration tests.")
	}

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		log.Fatal("TEST_DATABASE_URL environment variable is not set for import integration tests")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var err error
	testDB, err = db.New(db.Config{DSN: dsn, MaxConns: 8}, logger)
	if err != nil {
		log.Fatalf("Unable to connect to test database: %v", err)
	}
	if err := testDB.RunMigrations(); err != nil {
		log.Fatalf("Unable to migrate test database: %v", err)
	}

	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func newPostgresService(t *testing.T) *ImportService {
	t.Helper()
	repo := repository.NewPostgresImportRepository(testDB.Pool)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewImportService(repo, parser.NewRegistry(repo), logger, 1<<20)
}

func TestPostgres_UploadReviewComplete(t *testing.T) {
	ctx := context.Background()
	svc := newPostgresService(t)
	tenant := uuid.New()
	t.Cleanup(func() { _ = svc.DiscardAll(context.Background(), tenant) })

	first, err := svc.Upload(ctx, tenant, "jan.csv", statementCSV(5))
	require.NoError(t, err)
	assert.Equal(t, 5, first.NewCount)

	second, err := svc.Upload(ctx, tenant, "jan.csv", statementCSV(5))
	require.NoError(t, err)
	assert.Equal(t, 5, second.ExactDuplicateCount)

	page, err := svc.ListStaged(ctx, tenant, common.PageQuery{PageSize: 50})
	require.NoError(t, err)
	require.EqualValues(t, 10, page.Metadata.TotalCount)

	var keys []uuid.UUID
	for _, rec := range page.Items {
		if rec.IsSelected {
			keys = append(keys, rec.Key)
		}
	}
	require.Len(t, keys, 5)

	res, err := svc.Complete(ctx, tenant, keys)
	require.NoError(t, err)
	assert.Equal(t, CompletionResult{AcceptedCount: 5, RejectedCount: 5}, *res)

	ledger := financerepo.NewPostgresLedgerRepository(testDB.Pool)
	rows, total, err := ledger.ListLedger(ctx, tenant, common.PageQuery{PageNumber: 1, PageSize: 50})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, rows, 5)

	third, err := svc.Upload(ctx, tenant, "jan.csv", statementCSV(5))
	require.NoError(t, err)
	assert.Equal(t, 5, third.ExactDuplicateCount)
	assert.Zero(t, third.NewCount)
}

func TestPostgres_ConcurrentUploadsSerialise(t *testing.T) {
	ctx := context.Background()
	svc := newPostgresService(t)
	tenant := uuid.New()
	t.Cleanup(func() { _ = svc.DiscardAll(context.Background(), tenant) })

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		totalNew int
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Upload(ctx, tenant, "feb.csv", statementCSV(3))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			totalNew += res.NewCount
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, totalNew)
}
