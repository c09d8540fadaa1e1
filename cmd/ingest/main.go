package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vanshika/wastelca/internal/config"
	"github.com/vanshika/wastelca/internal/generator"
	"github.com/vanshika/wastelca/internal/graph"
	"github.com/vanshika/wastelca/internal/logging"
	"github.com/vanshika/wastelca/internal/repository"
	"github.com/vanshika/wastelca/internal/service"
	"github.com/vanshika/wastelca/internal/sheet"
)

func main() {
	var (
		datasetDir = flag.String("dataset-dir", "./seed-data", "Directory containing organizations.json, entities.json and transactions.json")
		workbook   = flag.String("xlsx", "", "Import transactions from an xlsx workbook instead of a dataset directory")
		org        = flag.String("organization", "", "Organization for workbook rows without an organization column")
		workers    = flag.Int("workers", 4, "Number of concurrent workers for ingestion")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "ingest")

	dataset, err := loadDataset(*datasetDir, *workbook, *org)
	if err != nil {
		logger.Error("failed to load dataset", "error", err)
		os.Exit(1)
	}
	if len(dataset.Transactions) == 0 {
		logger.Error("transactions dataset empty", "dir", *datasetDir, "xlsx", *workbook)
		os.Exit(1)
	}

	profiles, err := config.LoadSlotProfiles(cfg.SlotProfile.Path)
	if err != nil {
		logger.Error("failed to load slot profiles", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	graphClient, err := buildGraphClient(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to create graph client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := graphClient.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}()

	repo := repository.New(graphClient)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure graph schema", "error", err)
		os.Exit(1)
	}
	ingestor := service.NewBulkIngestor(service.NewIngestService(repo, profiles), *workers)

	start := time.Now()
	logger.Info("ingesting organizations", "count", len(dataset.Organizations), "workers", *workers)
	if err := ingestor.IngestOrganizations(ctx, dataset.Organizations); err != nil {
		logger.Error("organization ingestion failed", "error", err)
		os.Exit(1)
	}

	logger.Info("ingesting entities", "count", len(dataset.Entities))
	if err := ingestor.IngestEntities(ctx, dataset.Entities); err != nil {
		logger.Error("entity ingestion failed", "error", err)
		os.Exit(1)
	}

	logger.Info("ingesting transactions", "count", len(dataset.Transactions))
	result, err := ingestor.IngestTransactions(ctx, dataset.Transactions)
	if err != nil {
		logger.Error("transaction ingestion failed", "error", err, "created", result.Created, "skipped", result.Skipped)
		os.Exit(1)
	}

	logger.Info("ingestion complete", "duration", time.Since(start).String(), "created", result.Created, "skipped", result.Skipped)
}

func loadDataset(dir, workbook, org string) (generator.Dataset, error) {
	if workbook == "" {
		return generator.ReadDataset(dir)
	}
	file, err := os.Open(workbook)
	if err != nil {
		return generator.Dataset{}, fmt.Errorf("open %s: %w", workbook, err)
	}
	defer file.Close()

	inputs, err := sheet.ParseTransactions(file, org)
	if err != nil {
		return generator.Dataset{}, fmt.Errorf("parse %s: %w", workbook, err)
	}
	return generator.Dataset{Transactions: inputs}, nil
}

func buildGraphClient(ctx context.Context, logger *slog.Logger, cfg config.Config) (graph.Client, error) {
	if cfg.Store.URI == "" {
		return nil, fmt.Errorf("GRAPH_URI is required for ingestion")
	}
	opts := graph.Options{
		URI:            cfg.Store.URI,
		Database:       cfg.Store.Database,
		Username:       cfg.Store.Username,
		Password:       cfg.Store.Password,
		MaxConnections: cfg.Store.MaxConnections,
	}
	client, err := graph.NewNeo4jClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	logger.Info("connected to graph", "uri", cfg.Store.URI, "database", cfg.Store.Database)
	return client, nil
}
