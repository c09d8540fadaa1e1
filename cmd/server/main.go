package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vanshika/wastelca/internal/audit"
	"github.com/vanshika/wastelca/internal/auth"
	"github.com/vanshika/wastelca/internal/batch"
	"github.com/vanshika/wastelca/internal/config"
	"github.com/vanshika/wastelca/internal/domain"
	"github.com/vanshika/wastelca/internal/generator"
	"github.com/vanshika/wastelca/internal/graph"
	"github.com/vanshika/wastelca/internal/logging"
	"github.com/vanshika/wastelca/internal/memstore"
	"github.com/vanshika/wastelca/internal/objectstore"
	"github.com/vanshika/wastelca/internal/reconcile"
	"github.com/vanshika/wastelca/internal/repository"
	"github.com/vanshika/wastelca/internal/server"
	"github.com/vanshika/wastelca/internal/service"
)

// engineStore is what both store backends provide.
type engineStore interface {
	reconcile.TransactionStore
	reconcile.CandidateLookup
	reconcile.SlotCounter
	service.Writer
}

func main() {
	seedDir := flag.String("seed-dir", "", "dataset directory loaded into the memory store on start")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *seedDir); err != nil {
		logger.Error("server stopped unexpectedly", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config, seedDir string) error {
	profiles, err := config.LoadSlotProfiles(cfg.SlotProfile.Path)
	if err != nil {
		return fmt.Errorf("slot profiles: %w", err)
	}

	var health server.HealthChecks

	store, graphClient, err := buildStore(ctx, logger, cfg)
	if err != nil {
		return err
	}
	if graphClient != nil {
		defer func() {
			if err := graphClient.Close(context.Background()); err != nil {
				logger.Warn("closing graph client failed", "error", err)
			}
		}()
		health = append(health, server.GraphHealthService{Client: graphClient})
	}

	ingest := service.NewIngestService(store, profiles)
	ingestor := service.NewBulkIngestor(ingest, cfg.Batch.Workers)
	if seedDir != "" {
		if err := seed(ctx, logger, ingestor, seedDir); err != nil {
			return err
		}
	}

	auditDB, err := buildAudit(ctx, logger, cfg.Audit)
	if err != nil {
		return err
	}
	if auditDB != nil {
		defer auditDB.Close()
		health = append(health, server.AuditHealthService{DB: auditDB})
	}

	authenticator, err := auth.New(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("authenticator: %w", err)
	}

	queries := reconcile.NewQueryService(store)
	lookup := auth.NewScopedLookup(store)
	resolver := reconcile.NewResolver(store, lookup, logger)
	// batch jobs run without a caller identity; the handler authorizes them
	systemResolver := reconcile.NewResolver(store, store, logger.With("component", "batch"))

	var history server.HistoryReader
	if auditDB != nil {
		recorder := audit.NewRecorder(auditDB, logger)
		resolver.Observe(recorder)
		systemResolver.Observe(recorder)
		history = recorder
	}

	var aggregator *reconcile.Aggregator
	runner := batch.NewRunner(logger.With("component", "batch"), batch.Options{
		Workers:   cfg.Batch.Workers,
		QueueSize: cfg.Batch.QueueSize,
		OnComplete: func(ctx context.Context, job domain.BatchJob) {
			if err := aggregator.RecordScopeChanged(ctx, job.Request.Scope()); err != nil {
				logger.Warn("refresh status views failed", "job", job.ID, "error", err)
			}
		},
	})
	runner.Register(domain.BatchAutoMap, (&batch.AutoMapper{
		Queries:   queries,
		Lookup:    store,
		Resolver:  systemResolver,
		Threshold: cfg.Batch.AutoMapThreshold,
		Logger:    logger.With("component", "automap"),
	}).Operation())
	if cfg.Batch.CalculationURL != "" {
		runner.Register(domain.BatchCalculate, (&batch.CalculationClient{
			URL:     cfg.Batch.CalculationURL,
			Client:  http.DefaultClient,
			Timeout: cfg.Batch.CalculationTimeout,
		}).Operation())
	}
	if cfg.ObjectStore.Enabled() {
		minioClient, err := objectstore.NewMinIOClient(cfg.ObjectStore)
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		if err := objectstore.CheckBucket(ctx, minioClient, cfg.ObjectStore.Bucket); err != nil {
			logger.Warn("import bucket unavailable, imports will fail until it exists", "error", err)
		}
		runner.Register(domain.BatchImport, batch.ImportOperation(objectstore.NewImportSource(minioClient, cfg.ObjectStore.Bucket), ingestor))
	}

	aggregator = reconcile.NewAggregator(store, runner, logger, reconcile.AggregatorOptions{})

	runner.Start(ctx)
	defer func() {
		if err := runner.Stop(context.Background()); err != nil {
			logger.Warn("stopping batch runner failed", "error", err)
		}
	}()

	apiHandlers := server.NewAPIHandlers(logger, server.APIDependencies{
		Queries:    queries,
		Resolver:   resolver,
		Lookup:     lookup,
		Counter:    store,
		Aggregator: aggregator,
		Batches:    runner,
		History:    history,
	})

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:           health,
		API:              apiHandlers,
		Authenticator:    authenticator,
		AllowedOrigins:   parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	})

	srv := server.New(logger, cfg.HTTP, router)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildStore returns the graph client too when the neo4j backend is used.
func buildStore(ctx context.Context, logger *slog.Logger, cfg config.Config) (engineStore, graph.Client, error) {
	if cfg.Store.Backend == "memory" {
		logger.Info("using in-memory store")
		return memstore.New(), nil, nil
	}

	graphClient, err := buildGraphClient(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("graph client: %w", err)
	}
	repo := repository.New(graphClient)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = graphClient.Close(context.Background())
		return nil, nil, fmt.Errorf("graph schema: %w", err)
	}
	logger.Info("connected to graph", "uri", cfg.Store.URI, "database", cfg.Store.Database)
	return repo, graphClient, nil
}

func buildGraphClient(ctx context.Context, cfg config.Config) (graph.Client, error) {
	if cfg.Store.URI == "" {
		return nil, graph.ErrMissingURI
	}
	return graph.NewNeo4jClient(ctx, graph.Options{
		URI:            cfg.Store.URI,
		Database:       cfg.Store.Database,
		Username:       cfg.Store.Username,
		Password:       cfg.Store.Password,
		MaxConnections: cfg.Store.MaxConnections,
	})
}

func buildAudit(ctx context.Context, logger *slog.Logger, cfg config.AuditConfig) (*sql.DB, error) {
	if !cfg.Enabled() {
		logger.Info("audit history disabled")
		return nil, nil
	}
	db, err := audit.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit database: %w", err)
	}
	if cfg.MigrateOnStart {
		if err := audit.Migrate(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("audit migrations: %w", err)
		}
	}
	return db, nil
}

func seed(ctx context.Context, logger *slog.Logger, ingestor *service.BulkIngestor, dir string) error {
	ds, err := generator.ReadDataset(dir)
	if err != nil {
		return fmt.Errorf("seed dataset: %w", err)
	}
	if err := ingestor.IngestOrganizations(ctx, ds.Organizations); err != nil {
		return fmt.Errorf("seed organizations: %w", err)
	}
	if err := ingestor.IngestEntities(ctx, ds.Entities); err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}
	result, err := ingestor.IngestTransactions(ctx, ds.Transactions)
	if err != nil {
		return fmt.Errorf("seed transactions: %w", err)
	}
	logger.Info("seeded store", "dir", dir, "organizations", len(ds.Organizations), "entities", len(ds.Entities), "created", result.Created, "skipped", result.Skipped)
	return nil
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	var origins []string
	for _, part := range strings.Split(csv, ",") {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}
