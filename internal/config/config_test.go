package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vanshika/wastelca/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("AUTH_MODE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.HTTP.Port != defaultPort {
		t.Fatalf("expected default port %d, got %d", defaultPort, cfg.HTTP.Port)
	}
	if cfg.Store.Backend != "neo4j" {
		t.Fatalf("expected neo4j backend, got %q", cfg.Store.Backend)
	}
	if cfg.Auth.Mode != "disabled" {
		t.Fatalf("expected disabled auth, got %q", cfg.Auth.Mode)
	}
	if cfg.Batch.AutoMapThreshold != defaultAutoMapThreshold {
		t.Fatalf("unexpected threshold %v", cfg.Batch.AutoMapThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("SERVER_READ_TIMEOUT", "3s")
	t.Setenv("CALCULATION_TIMEOUT", "90s")
	t.Setenv("AUTOMAP_THRESHOLD", "0.9")
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("AUTH_DEV_ORGANIZATIONS", "org1, ORG2 ,")
	t.Setenv("DATABASE_URL", "postgres://localhost/audit")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.Store.Backend)
	}
	if cfg.HTTP.ReadTimeout != 3*time.Second {
		t.Fatalf("unexpected read timeout %v", cfg.HTTP.ReadTimeout)
	}
	if cfg.Batch.CalculationTimeout != 90*time.Second {
		t.Fatalf("unexpected calculation timeout %v", cfg.Batch.CalculationTimeout)
	}
	if cfg.Batch.AutoMapThreshold != 0.9 {
		t.Fatalf("unexpected threshold %v", cfg.Batch.AutoMapThreshold)
	}
	if len(cfg.Auth.DevOrganizations) != 2 || cfg.Auth.DevOrganizations[1] != "ORG2" {
		t.Fatalf("unexpected dev organizations %#v", cfg.Auth.DevOrganizations)
	}
	if !cfg.Audit.Enabled() || !cfg.ObjectStore.Enabled() {
		t.Fatalf("expected audit and object store to be enabled")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad port":      {"SERVER_PORT": "70000"},
		"bad duration":  {"SERVER_IDLE_TIMEOUT": "soon"},
		"bad backend":   {"STORE_BACKEND": "sqlite"},
		"bad auth mode": {"AUTH_MODE": "basic"},
		"oidc no url":   {"AUTH_MODE": "oidc"},
		"bad threshold": {"AUTOMAP_THRESHOLD": "1.5"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestLoadSlotProfiles(t *testing.T) {
	profiles, err := LoadSlotProfiles("")
	if err != nil {
		t.Fatalf("LoadSlotProfiles returned error: %v", err)
	}
	if got := profiles.For(domain.DirectionOutbound); len(got) != 4 {
		t.Fatalf("expected 4 outbound slots, got %v", got)
	}
	if got := profiles.For(domain.DirectionAny); len(got) != 3 {
		t.Fatalf("expected inbound fallback, got %v", got)
	}

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := "profiles:\n  inbound: [item, client, client]\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	profiles, err = LoadSlotProfiles(path)
	if err != nil {
		t.Fatalf("LoadSlotProfiles returned error: %v", err)
	}
	inbound := profiles.For(domain.DirectionInbound)
	if len(inbound) != 2 || inbound[0] != domain.SlotLineItem || inbound[1] != domain.SlotClient {
		t.Fatalf("unexpected inbound profile %v", inbound)
	}
	if got := profiles.For(domain.DirectionOutbound); len(got) != 4 {
		t.Fatalf("outbound default should survive, got %v", got)
	}
}

func TestParseSlotProfilesErrors(t *testing.T) {
	cases := map[string]string{
		"unknown direction": "profiles:\n  sideways: [client]\n",
		"unknown slot":      "profiles:\n  inbound: [driver]\n",
		"empty":             "profiles:\n  inbound: []\n",
		"unknown field":     "slots:\n  inbound: [client]\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseSlotProfiles([]byte(raw)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
