package api

import (
	"fmt"
	"log/slog"
	"time"

	financehandler "github.com/FACorreiaa/tenant-ledger/internal/domain/finance/handler"
	financerepo "github.com/FACorreiaa/tenant-ledger/internal/domain/finance/repository"
	importhandler "github.com/FACorreiaa/tenant-ledger/internal/domain/import/handler"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/import/parser"
	importrepo "github.com/FACorreiaa/tenant-ledger/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/tenant-ledger/internal/domain/import/service"

	"github.com/FACorreiaa/tenant-ledger/pkg/config"
	"github.com/FACorreiaa/tenant-ledger/pkg/db"
	"github.com/FACorreiaa/tenant-ledger/pkg/interceptors"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	ImportRepo importrepo.ImportRepository
	LedgerRepo financerepo.LedgerRepository

	// Services
	Parsers       *parser.Registry
	ImportService *importservice.ImportService

	// Handlers
	TenantAuth     *interceptors.TenantAuth
	FinanceHandler *financehandler.FinanceHandler
	ImportHandler  *importhandler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()
	deps.initServices()
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// OpenDatabase connects using cfg without running migrations.
func OpenDatabase(cfg *config.Config, logger *slog.Logger) (*db.DB, error) {
	return db.New(db.Config{
		DSN:             cfg.Database.DSN(),
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, logger)
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := OpenDatabase(d.Config, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() {
	d.ImportRepo = importrepo.NewPostgresImportRepository(d.DB.Pool)
	d.LedgerRepo = financerepo.NewPostgresLedgerRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() {
	d.Parsers = parser.NewRegistry(d.ImportRepo)
	d.ImportService = importservice.NewImportService(d.ImportRepo, d.Parsers, d.Logger, d.Config.Import.MaxUploadBytes)

	d.Logger.Info("services initialized", slog.Any("extensions", d.Parsers.SupportedExtensions()))
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() {
	d.TenantAuth = interceptors.NewTenantAuth([]byte(d.Config.Auth.JWTSecret))
	d.FinanceHandler = financehandler.NewFinanceHandler(d.LedgerRepo, d.Logger)
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, d.Logger, d.Config.Import.MaxUploadBytes)

	d.Logger.Info("handlers initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
