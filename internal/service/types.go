package service

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrganizationInput registers an owning company.
type OrganizationInput struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// EntityInput is a canonical reference entity as supplied by the catalog export.
type EntityInput struct {
	ID               string            `json:"id"`
	Kind             string            `json:"kind"`
	Code             string            `json:"code"`
	Label            string            `json:"label"`
	OrganizationCode string            `json:"organizationCode"`
	Direction        string            `json:"direction"`
	Capacity         decimal.Decimal   `json:"capacity"`
	Unit             string            `json:"unit"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// TransactionInput is one imported movement line. ID may be empty, in which
// case it is derived from organization, document and line number.
type TransactionInput struct {
	ID               string          `json:"id"`
	OrganizationCode string          `json:"organizationCode"`
	Direction        string          `json:"direction"`
	DocumentNumber   string          `json:"documentNumber"`
	LineNumber       int             `json:"lineNumber"`
	OccurredOn       time.Time       `json:"occurredOn"`
	Descriptors      []string        `json:"descriptors"`
	Weight           decimal.Decimal `json:"weight"`
	Unit             string          `json:"unit"`
	// Slots overrides the direction's slot profile when set.
	Slots []string `json:"slots,omitempty"`
}

// IngestResult counts what a bulk transaction ingest did.
type IngestResult struct {
	Created int64
	Skipped int64
}
