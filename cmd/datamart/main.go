package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/canopylabs/datamart/pkg/datamart"
	"github.com/canopylabs/datamart/pkg/logger"
	"github.com/canopylabs/datamart/pkg/postgres"
	"github.com/canopylabs/datamart/pkg/retry"
	"github.com/canopylabs/datamart/pkg/server"
	"github.com/canopylabs/datamart/pkg/source"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// PostgreSQL configuration
	pgHostFlag := flag.String("pg-host", "localhost", "PostgreSQL host (or set PG_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "PostgreSQL port (or set PG_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "", "PostgreSQL database name (or set PG_DATABASE env var)")
	pgUsernameFlag := flag.String("pg-username", "", "PostgreSQL username (or set PG_USERNAME env var)")
	pgPasswordFlag := flag.String("pg-password", "", "PostgreSQL password (or set PG_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "PostgreSQL SSL mode (or set PG_SSLMODE env var)")

	// Commands
	migrateFlag := flag.Bool("migrate", false, "Run registry migrations using goose")
	migrateStatusFlag := flag.Bool("migrate-status", false, "Show registry migration status")
	createSchemaFlag := flag.Bool("create-schema", false, "Create the dimensions and fact tables of the model")
	dropSchemaFlag := flag.Bool("drop-schema", false, "Drop the fact tables and dimensions of the model")
	populateDimensionsFlag := flag.Bool("populate-dimensions", false, "Populate every dimension of the model from its source")
	populateFactTablesFlag := flag.Bool("populate-fact-tables", false, "Populate every fact table of the model from its source")
	cubeModelFlag := flag.Bool("cube-model", false, "Print the cube descriptor for the model as JSON")
	serveFlag := flag.Bool("serve", false, "Serve the cube descriptor and registry over HTTP")
	listTypesFlag := flag.Bool("list-types", false, "List registered dimension types")
	listDimensionsFlag := flag.Bool("list-dimensions", false, "List registered dimensions")
	listFactTablesFlag := flag.Bool("list-fact-tables", false, "List registered fact tables")
	deleteDimensionFlag := flag.String("delete-dimension", "", "Drop the named dimension and its registry row")
	truncateDimensionFlag := flag.String("truncate-dimension", "", "Remove every row of the named dimension")

	// Options
	modelFlag := flag.String("model", "model.yaml", "Path to the model declaration file")
	parallelFlag := flag.Int("parallel", 1, "Number of tables to populate concurrently")
	cascadeFlag := flag.Bool("cascade", false, "Cascade truncation to referencing fact tables")
	listenFlag := flag.String("listen", ":8080", "HTTP listen address for --serve")

	flag.Parse()

	// A .env file is optional; missing is fine.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	// Override PostgreSQL flags with environment variables if set
	if envPgHost := os.Getenv("PG_HOST"); envPgHost != "" {
		*pgHostFlag = envPgHost
	}
	if envPgPort := os.Getenv("PG_PORT"); envPgPort != "" {
		*pgPortFlag = envPgPort
	}
	if envPgDatabase := os.Getenv("PG_DATABASE"); envPgDatabase != "" {
		*pgDatabaseFlag = envPgDatabase
	}
	if envPgUsername := os.Getenv("PG_USERNAME"); envPgUsername != "" {
		*pgUsernameFlag = envPgUsername
	}
	if envPgPassword := os.Getenv("PG_PASSWORD"); envPgPassword != "" {
		*pgPasswordFlag = envPgPassword
	}
	if envPgSSLMode := os.Getenv("PG_SSLMODE"); envPgSSLMode != "" {
		*pgSSLModeFlag = envPgSSLMode
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		env := os.Getenv("SENTRY_ENVIRONMENT")
		if env == "" {
			env = "development"
		}
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: env}); err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	pgCfg := &postgres.Config{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *migrateFlag {
		if err := pgCfg.Validate(); err != nil {
			return err
		}
		return postgres.MigrateUp(log, pgCfg.ConnString())
	}
	if *migrateStatusFlag {
		if err := pgCfg.Validate(); err != nil {
			return err
		}
		return postgres.MigrateStatus(log, pgCfg.ConnString())
	}

	pool, err := connect(ctx, log, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := postgres.NewStore(log, pool)

	types := datamart.NewTypeRegistry(log)
	datamart.RegisterBuiltinTypes(types)
	sources := datamart.NewSourceRegistry(log)

	manager, err := datamart.NewManager(datamart.ManagerConfig{
		Logger:  log,
		Store:   store,
		Types:   types,
		Sources: sources,
	})
	if err != nil {
		return err
	}

	if *listTypesFlag {
		for _, e := range types.Entries() {
			fmt.Printf("%s\t%s\n", e.Key, e.Description)
		}
		return nil
	}
	if *listDimensionsFlag {
		regs, err := manager.Registered(ctx)
		if err != nil {
			return err
		}
		for _, reg := range regs {
			fmt.Printf("%s\t%s\t%s\n", reg.Name, reg.TypeKey, reg.DateCreate.Format("2006-01-02 15:04:05"))
		}
		return nil
	}
	if *listFactTablesFlag {
		regs, err := manager.FactTables(ctx)
		if err != nil {
			return err
		}
		for _, reg := range regs {
			updated := "never"
			if reg.DateUpdate != nil {
				updated = reg.DateUpdate.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%s\t%s\t%s\n", reg.Name, reg.DateCreate.Format("2006-01-02 15:04:05"), updated)
		}
		return nil
	}
	if *deleteDimensionFlag != "" {
		return manager.Delete(ctx, *deleteDimensionFlag)
	}
	if *truncateDimensionFlag != "" {
		return manager.Truncate(ctx, *truncateDimensionFlag, *cascadeFlag)
	}

	// The remaining commands operate on the declared model.
	decl, err := datamart.LoadDeclarationFile(*modelFlag)
	if err != nil {
		return err
	}
	if err := source.Register(log, store, sources, decl.Sources); err != nil {
		return err
	}
	model, err := manager.BuildModel(ctx, decl)
	if err != nil {
		return err
	}

	switch {
	case *createSchemaFlag:
		return model.CreateSchema(ctx)
	case *dropSchemaFlag:
		return model.DropSchema(ctx)
	case *populateDimensionsFlag:
		return model.PopulateDimensions(ctx, *parallelFlag)
	case *populateFactTablesFlag:
		return model.PopulateFactTables(ctx, *parallelFlag)
	case *cubeModelFlag:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(model.CubeModel())
	case *serveFlag:
		srv, err := server.New(server.Config{
			Logger:  log,
			Addr:    *listenFlag,
			Model:   model,
			Manager: manager,
		})
		if err != nil {
			return err
		}
		return srv.Start(ctx)
	}

	flag.Usage()
	return fmt.Errorf("no command specified")
}

// connect dials the pool with retries so a freshly started database does not
// fail the command.
func connect(ctx context.Context, log *slog.Logger, cfg *postgres.Config) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		pool, err = postgres.NewPool(ctx, log, cfg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pool, nil
}
