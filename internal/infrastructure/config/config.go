package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Blob      BlobConfig      `koanf:"blob"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Custody   CustodyConfig   `koanf:"custody"`
	Retention RetentionConfig `koanf:"retention"`
	Archive   ArchiveConfig   `koanf:"archive"`
	Security  SecurityConfig  `koanf:"security"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	MetricsPort     int           `koanf:"metrics_port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Enabled  bool   `koanf:"enabled"`
}

// BlobConfig locates payload storage. An empty Dir selects the in-memory
// store, which only makes sense for development.
type BlobConfig struct {
	Dir string `koanf:"dir"`
}

// LedgerConfig tunes the writer and verifier
type LedgerConfig struct {
	// AppendRetries caps CAS retries when concurrent writers race for a
	// sequence slot
	AppendRetries int `koanf:"append_retries"`
	// VerifyBatchSize is how many entries one verification batch loads
	VerifyBatchSize int `koanf:"verify_batch_size"`
	// VerifyRatePerSecond throttles background verification reads
	VerifyRatePerSecond int `koanf:"verify_rate_per_second"`
}

// CustodyConfig tunes the custody state machine and gap detector
type CustodyConfig struct {
	// TemporalThreshold is the custody gap above which an unexplained
	// interval is flagged
	TemporalThreshold time.Duration `koanf:"temporal_threshold"`
	// StrictGaps rejects transitions that would introduce findings instead
	// of soft-flagging them
	StrictGaps bool `koanf:"strict_gaps"`
}

// RetentionConfig tunes the retention scan scheduler
type RetentionConfig struct {
	ScanInterval time.Duration `koanf:"scan_interval"`
	// ScanJitter randomizes scan starts so replicas do not scan in lockstep
	ScanJitter time.Duration `koanf:"scan_jitter"`
}

// ArchiveConfig configures sealed cold storage
type ArchiveConfig struct {
	// EncryptionKey is the hex-encoded 32-byte sealing key
	EncryptionKey string `koanf:"encryption_key"`
	KeyPrefix     string `koanf:"key_prefix"`
}

type SecurityConfig struct {
	JWTSecret   string        `koanf:"jwt_secret"`
	TokenExpiry time.Duration `koanf:"token_expiry"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Load builds the configuration from defaults, then an optional
// configs/config.yaml, then ECB_-prefixed environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB: 0,
		},
		Ledger: LedgerConfig{
			AppendRetries:       8,
			VerifyBatchSize:     1000,
			VerifyRatePerSecond: 5000,
		},
		Custody: CustodyConfig{
			TemporalThreshold: time.Hour,
			StrictGaps:        false,
		},
		Retention: RetentionConfig{
			ScanInterval: time.Hour,
			ScanJitter:   5 * time.Minute,
		},
		Archive: ArchiveConfig{
			KeyPrefix: "archive/",
		},
		Security: SecurityConfig{
			TokenExpiry: 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Enabled:      true,
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional
	if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
		_ = err
	}

	if err := k.Load(env.Provider("ECB_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "ECB_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
