package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vanshika/wastelca/internal/graph"
)

// HealthService defines behaviour for readiness checks.
type HealthService interface {
	Check(ctx context.Context) error
}

// GraphHealthService verifies graph connectivity as part of health checks.
type GraphHealthService struct {
	Client graph.Client
}

// Check implements the HealthService interface.
func (s GraphHealthService) Check(ctx context.Context) error {
	if s.Client == nil {
		return nil
	}
	return s.Client.VerifyConnectivity(ctx)
}

// AuditHealthService pings the audit database.
type AuditHealthService struct {
	DB *sql.DB
}

func (s AuditHealthService) Check(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("audit database: %w", err)
	}
	return nil
}

// HealthChecks runs every check and joins their failures.
type HealthChecks []HealthService

func (c HealthChecks) Check(ctx context.Context) error {
	var errs []error
	for _, check := range c {
		if check == nil {
			continue
		}
		if err := check.Check(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
