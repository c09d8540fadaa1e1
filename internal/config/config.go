package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP        HTTPConfig
	Store       StoreConfig
	Logging     LoggingConfig
	Auth        AuthConfig
	Audit       AuditConfig
	ObjectStore ObjectStoreConfig
	Batch       BatchConfig
	SlotProfile SlotProfileConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	AllowedOriginsCSV string
}

// StoreConfig selects the record store. Backend is neo4j or memory.
type StoreConfig struct {
	Backend        string
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

// AuthConfig controls how bearer tokens are verified. Mode is oidc, dev or disabled.
type AuthConfig struct {
	Mode               string
	IssuerURL          string
	ClientID           string
	OrganizationsClaim string
	RolesClaim         string
	DevSubject         string
	DevOrganizations   []string
}

// AuditConfig points at the Postgres commit history. Empty DatabaseURL disables it.
type AuditConfig struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// Enabled reports whether an audit database is configured.
func (c AuditConfig) Enabled() bool {
	return c.DatabaseURL != ""
}

// ObjectStoreConfig describes the MinIO bucket holding import files.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether an object store endpoint is configured.
func (c ObjectStoreConfig) Enabled() bool {
	return c.Endpoint != ""
}

// BatchConfig tunes the batch job runner.
type BatchConfig struct {
	Workers            int
	QueueSize          int
	AutoMapThreshold   float64
	CalculationURL     string
	CalculationTimeout time.Duration
}

// SlotProfileConfig points at an optional YAML slot profile file.
type SlotProfileConfig struct {
	Path string
}

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLoggingLevel     = "info"
	defaultLoggingFormat    = "text"
	defaultStoreBackend     = "neo4j"
	defaultGraphMaxSessions = 10
	defaultAuthMode         = "disabled"
	defaultOrgsClaim        = "organizations"
	defaultRolesClaim       = "roles"
	defaultAuditMaxOpen     = 10
	defaultAuditMaxIdle     = 2
	defaultAuditLifetime    = 30 * time.Minute
	defaultImportBucket     = "wastelca-imports"
	defaultBatchWorkers     = 2
	defaultBatchQueue       = 32
	defaultAutoMapThreshold = 0.85
	defaultCalcTimeout      = 2 * time.Minute
)

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Host:            valueOrDefault("SERVER_HOST", defaultHost),
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
		Store: StoreConfig{
			Backend:        strings.ToLower(valueOrDefault("STORE_BACKEND", defaultStoreBackend)),
			URI:            os.Getenv("GRAPH_URI"),
			Database:       valueOrDefault("GRAPH_DATABASE", ""),
			Username:       os.Getenv("GRAPH_USERNAME"),
			Password:       os.Getenv("GRAPH_PASSWORD"),
			MaxConnections: parseIntWithDefault("GRAPH_MAX_CONNECTIONS", defaultGraphMaxSessions),
		},
		Auth: AuthConfig{
			Mode:               strings.ToLower(valueOrDefault("AUTH_MODE", defaultAuthMode)),
			IssuerURL:          os.Getenv("AUTH_ISSUER_URL"),
			ClientID:           os.Getenv("AUTH_CLIENT_ID"),
			OrganizationsClaim: valueOrDefault("AUTH_ORGANIZATIONS_CLAIM", defaultOrgsClaim),
			RolesClaim:         valueOrDefault("AUTH_ROLES_CLAIM", defaultRolesClaim),
			DevSubject:         valueOrDefault("AUTH_DEV_SUBJECT", "dev"),
			DevOrganizations:   splitCSV(os.Getenv("AUTH_DEV_ORGANIZATIONS")),
		},
		Audit: AuditConfig{
			DatabaseURL:     os.Getenv("DATABASE_URL"),
			MaxOpenConns:    parseIntWithDefault("DATABASE_MAX_OPEN_CONNS", defaultAuditMaxOpen),
			MaxIdleConns:    parseIntWithDefault("DATABASE_MAX_IDLE_CONNS", defaultAuditMaxIdle),
			ConnMaxLifetime: defaultAuditLifetime,
			MigrateOnStart:  parseBoolWithDefault("DATABASE_MIGRATE", true),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    valueOrDefault("MINIO_BUCKET", defaultImportBucket),
			UseSSL:    parseBoolWithDefault("MINIO_USE_SSL", false),
		},
		Batch: BatchConfig{
			Workers:            parseIntWithDefault("BATCH_WORKERS", defaultBatchWorkers),
			QueueSize:          parseIntWithDefault("BATCH_QUEUE_SIZE", defaultBatchQueue),
			AutoMapThreshold:   defaultAutoMapThreshold,
			CalculationURL:     os.Getenv("CALCULATION_URL"),
			CalculationTimeout: defaultCalcTimeout,
		},
		SlotProfile: SlotProfileConfig{
			Path: os.Getenv("SLOT_PROFILE_PATH"),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
		{"DATABASE_CONN_MAX_LIFETIME", &cfg.Audit.ConnMaxLifetime},
		{"CALCULATION_TIMEOUT", &cfg.Batch.CalculationTimeout},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.target = parsed
		}
	}

	if v := os.Getenv("AUTOMAP_THRESHOLD"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AUTOMAP_THRESHOLD: %w", err)
		}
		if threshold <= 0 || threshold > 1 {
			return Config{}, fmt.Errorf("AUTOMAP_THRESHOLD %v must be in (0, 1]", threshold)
		}
		cfg.Batch.AutoMapThreshold = threshold
	}

	switch cfg.Store.Backend {
	case "neo4j", "memory":
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
	switch cfg.Auth.Mode {
	case "oidc":
		if cfg.Auth.IssuerURL == "" || cfg.Auth.ClientID == "" {
			return Config{}, fmt.Errorf("AUTH_MODE=oidc requires AUTH_ISSUER_URL and AUTH_CLIENT_ID")
		}
	case "dev", "disabled":
	default:
		return Config{}, fmt.Errorf("unknown AUTH_MODE %q", cfg.Auth.Mode)
	}

	cfg.HTTP.AllowedOriginsCSV = os.Getenv("SERVER_ALLOWED_ORIGINS")

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
