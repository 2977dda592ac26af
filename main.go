package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-paramquery/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/config"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/crypto"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/database"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/logging"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/models"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/repositories"
	"github.com/ekaya-inc/ekaya-paramquery/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	orgFlag := flag.String("org", "", "organization id")
	queryFlag := flag.String("query", "", "query id")
	paramsFlag := flag.String("params", "{}", "parameter values as a JSON or YAML mapping")
	optionsFlag := flag.Bool("options", false, "print dropdown options for the query instead of rendering it")
	refreshFlag := flag.Bool("refresh", false, "execute the query with its default values and store the result")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck // sync on stderr may fail harmlessly

	orgID, err := uuid.Parse(*orgFlag)
	if err != nil {
		logger.Fatal("Invalid -org", zap.Error(err))
	}
	queryID, err := uuid.Parse(*queryFlag)
	if err != nil {
		logger.Fatal("Invalid -query", zap.Error(err))
	}
	params, err := models.ParseParameterValues(*paramsFlag)
	if err != nil {
		logger.Fatal("Invalid -params", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.Int("max_parallel_validations", cfg.Engine.MaxParallelValidations),
	)

	db, err := database.NewConnection(ctx, &database.Config{
		URL:             cfg.Database.URL(),
		MaxConnections:  cfg.Database.MaxConnections,
		MinConnections:  cfg.Database.MaxIdleConns,
		MaxConnIdleTime: cfg.Datasource.ConnectionTTL(),
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		if err := migrate(cfg, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	var encryptor *crypto.CredentialEncryptor
	if cfg.Datasource.CredentialsKey != "" {
		encryptor, err = crypto.NewCredentialEncryptor(cfg.Datasource.CredentialsKey)
		if err != nil {
			logger.Fatal("Failed to create credential encryptor", zap.Error(err))
		}
	}

	pool := datasource.NewRunnerPool(datasource.RunnerPoolConfig{
		TTLMinutes:       cfg.Datasource.ConnectionTTLMinutes,
		MaxRunnersPerOrg: cfg.Datasource.MaxRunnersPerOrg,
	}, datasource.NewDatasourceAdapterFactory(datasource.RunnerOptions{
		PoolMaxConns: cfg.Datasource.PoolMaxConns,
		PoolMinConns: cfg.Datasource.PoolMinConns,
		MaxIdleTime:  cfg.Datasource.ConnectionTTL(),
	}), logger)
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("Failed to close runner pool", zap.Error(err))
		}
	}()

	repo := repositories.NewQueryRepository(db, encryptor)
	svc := services.NewQueryRenderService(repo, pool, &cfg.Engine, logger)

	var out any
	switch {
	case *refreshFlag:
		out, err = svc.RefreshResult(ctx, orgID, queryID)
	case *optionsFlag:
		out, err = svc.DropdownOptions(ctx, orgID, queryID, params)
	default:
		out, err = svc.Render(ctx, orgID, queryID, params)
	}
	if err != nil {
		logger.Error("Request failed", zap.Error(err))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("Failed to write output", zap.Error(err))
		os.Exit(1)
	}
}

// migrate applies the embedded schema through a database/sql handle, which
// golang-migrate requires.
func migrate(cfg *config.Config, logger *zap.Logger) error {
	url, err := database.MigrationURL(cfg.Database.URL(), database.DefaultMigrationTimeout)
	if err != nil {
		return err
	}
	sqlDB, err := sql.Open("pgx", url)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return database.RunMigrations(sqlDB, logger)
}
