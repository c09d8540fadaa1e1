package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBulkIngestorCountsCreatedAndSkipped(t *testing.T) {
	svc, _ := newTestService(t)
	ingestor := NewBulkIngestor(svc, 3)
	ctx := context.Background()

	var inputs []TransactionInput
	for i := 1; i <= 20; i++ {
		inputs = append(inputs, TransactionInput{
			OrganizationCode: "ORG1",
			DocumentNumber:   fmt.Sprintf("DOC-%02d", i%10),
			LineNumber:       i,
			OccurredOn:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		})
	}

	result, err := ingestor.IngestTransactions(ctx, inputs)
	if err != nil {
		t.Fatalf("IngestTransactions returned error: %v", err)
	}
	if result.Created != 20 || result.Skipped != 0 {
		t.Fatalf("unexpected first result %#v", result)
	}

	result, err = ingestor.IngestTransactions(ctx, inputs[:5])
	if err != nil {
		t.Fatalf("IngestTransactions returned error: %v", err)
	}
	if result.Created != 0 || result.Skipped != 5 {
		t.Fatalf("unexpected second result %#v", result)
	}
}

func TestBulkIngestorAggregatesErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ingestor := NewBulkIngestor(svc, 2)

	err := ingestor.IngestEntities(context.Background(), []EntityInput{
		{ID: "c1", Kind: "client", OrganizationCode: "ORG1"},
		{ID: "bad1", Kind: "driver"},
		{ID: "bad2", Kind: "vehicle"},
	})
	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("expected TaskError, got %v", err)
	}
	if len(taskErr.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(taskErr.Errors), taskErr)
	}
}

func TestBulkIngestorEmptyInput(t *testing.T) {
	svc, _ := newTestService(t)
	ingestor := NewBulkIngestor(svc, 0)
	if err := ingestor.IngestOrganizations(context.Background(), nil); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if ingestor.workers != 4 {
		t.Fatalf("expected default worker count, got %d", ingestor.workers)
	}
}

func TestBulkIngestorCancelled(t *testing.T) {
	svc, _ := newTestService(t)
	ingestor := NewBulkIngestor(svc, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ingestor.IngestTransactions(ctx, []TransactionInput{{
		OrganizationCode: "ORG1",
		DocumentNumber:   "D1",
		OccurredOn:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}})
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("expected nil or context.Canceled, got %v", err)
	}
}
