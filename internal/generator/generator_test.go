package generator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vanshika/wastelca/internal/config"
	"github.com/vanshika/wastelca/internal/memstore"
	"github.com/vanshika/wastelca/internal/service"
)

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := Config{NumOrganizations: 2, ClientsPerOrg: 4, VehiclesPerOrg: 2, NumTransactions: 50, Year: 2024, NearMatchChance: 0.5, Seed: 7}
	first, err := New(cfg).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	second, err := New(cfg).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if len(first.Organizations) != 2 || len(first.Transactions) != 50 {
		t.Fatalf("unexpected sizes: %d orgs, %d transactions", len(first.Organizations), len(first.Transactions))
	}
	wantEntities := len(defaultNameFragments().items) + 2*(4+2)
	if len(first.Entities) != wantEntities {
		t.Fatalf("expected %d entities, got %d", wantEntities, len(first.Entities))
	}
	for i := range first.Entities {
		if first.Entities[i].ID != second.Entities[i].ID {
			t.Fatalf("entity ids differ between runs with the same seed")
		}
	}
	for _, tx := range first.Transactions {
		if tx.OccurredOn.Year() != 2024 || len(tx.Descriptors) < 2 {
			t.Fatalf("unexpected transaction %#v", tx)
		}
	}
}

func TestGeneratedDatasetIngests(t *testing.T) {
	ds, err := New(Config{NumOrganizations: 1, ClientsPerOrg: 3, VehiclesPerOrg: 1, NumTransactions: 30, Seed: 3}).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	ctx := context.Background()
	store := memstore.New()
	ingestor := service.NewBulkIngestor(service.NewIngestService(store, config.DefaultSlotProfiles()), 2)
	if err := ingestor.IngestOrganizations(ctx, ds.Organizations); err != nil {
		t.Fatalf("IngestOrganizations returned error: %v", err)
	}
	if err := ingestor.IngestEntities(ctx, ds.Entities); err != nil {
		t.Fatalf("IngestEntities returned error: %v", err)
	}
	result, err := ingestor.IngestTransactions(ctx, ds.Transactions)
	if err != nil {
		t.Fatalf("IngestTransactions returned error: %v", err)
	}
	if result.Created != 30 {
		t.Fatalf("expected 30 created transactions, got %#v", result)
	}
}

func TestWriteAndReadDataset(t *testing.T) {
	dir := t.TempDir()
	ds, err := New(Config{NumOrganizations: 1, ClientsPerOrg: 2, VehiclesPerOrg: 1, NumTransactions: 5, Seed: 11}).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if err := WriteDataset(ds, dir); err != nil {
		t.Fatalf("WriteDataset returned error: %v", err)
	}
	for _, name := range []string{OrganizationsFile, EntitiesFile, TransactionsFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to be written: %v", name, err)
		}
	}

	loaded, err := ReadDataset(dir)
	if err != nil {
		t.Fatalf("ReadDataset returned error: %v", err)
	}
	if len(loaded.Transactions) != 5 || len(loaded.Entities) != len(ds.Entities) {
		t.Fatalf("unexpected dataset %d transactions, %d entities", len(loaded.Transactions), len(loaded.Entities))
	}
	if !loaded.Transactions[0].Weight.Equal(ds.Transactions[0].Weight) {
		t.Fatalf("weight changed in round trip: %s vs %s", loaded.Transactions[0].Weight, ds.Transactions[0].Weight)
	}

	if err := os.Remove(filepath.Join(dir, TransactionsFile)); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, err := ReadDataset(dir); !errors.Is(err, ErrMissingDataset) {
		t.Fatalf("expected ErrMissingDataset, got %v", err)
	}
}
