package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/custodialabs/evidence-custody-backend/internal/api/rest"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/custody"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/retention"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/blob"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/cache"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/config"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/database"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/events"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/locks"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/memory"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/telemetry"
	custodysvc "github.com/custodialabs/evidence-custody-backend/internal/service/custody"
	ledgersvc "github.com/custodialabs/evidence-custody-backend/internal/service/ledger"
	reportingsvc "github.com/custodialabs/evidence-custody-backend/internal/service/reporting"
	retentionsvc "github.com/custodialabs/evidence-custody-backend/internal/service/retention"
)

// stores groups the persistence ports behind their interfaces so the wiring
// below reads the same whether Postgres or the in-memory fallback backs them
type stores struct {
	entries     ledger.EntryRepository
	checkpoints ledger.CheckpointRepository
	custody     custody.EntryRepository
	items       evidence.Repository
	policies    retention.PolicyRepository
	holds       retention.HoldRepository
	archives    retention.ArchiveRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to set up logger: %v", err)
	}

	ctx := context.Background()
	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    "custody-api",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to set up event logger: %v", err)
	}
	defer zlog.Sync()

	notifier := events.NewAsyncNotifier(zlog, 256)
	defer notifier.Close()
	notifier.Subscribe(complianceEventMetrics)

	var (
		st   stores
		pool *pgxpool.Pool
	)
	if cfg.Database.URL != "" {
		pool, err = database.NewPool(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer pool.Close()

		repos := database.NewRepositories(pool)
		st = stores{
			entries:     repos.Ledger,
			checkpoints: repos.Checkpoints,
			custody:     repos.Custody,
			items:       repos.Evidence,
			policies:    repos.Policies,
			holds:       repos.Holds,
			archives:    repos.Archives,
		}
	} else {
		logger.Warn("no database configured, using in-memory stores")
		ledgerStore := memory.NewLedgerStore()
		st = stores{
			entries:     ledgerStore,
			checkpoints: ledgerStore,
			custody:     memory.NewCustodyStore(),
			items:       memory.NewEvidenceStore(),
			policies:    memory.NewPolicyStore(),
			holds:       memory.NewHoldStore(),
			archives:    memory.NewArchiveStore(),
		}
	}

	var tailCache ledgersvc.TailCache
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("failed to parse redis URL: %v", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		tailCache = cache.NewLedgerCache(redis.NewClient(opts), zlog)
	}

	active, sealed, err := buildBlobStores(cfg, logger)
	if err != nil {
		log.Fatalf("failed to set up blob storage: %v", err)
	}

	if cfg.Security.JWTSecret == "" {
		log.Fatal("security.jwt_secret is required")
	}

	locker := locks.NewRegistry()
	writer := ledgersvc.NewWriter(st.entries, tailCache, logger).
		WithMaxRetries(cfg.Ledger.AppendRetries)
	verifier := ledgersvc.NewVerifier(st.entries, st.checkpoints, writer, notifier,
		logger, cfg.Ledger.VerifyRatePerSecond)
	custodySvc := custodysvc.NewService(st.custody, st.items, st.holds,
		custody.NewRuleRegistry(),
		custody.NewGapDetectorWithThreshold(cfg.Custody.TemporalThreshold),
		writer, locker, notifier, logger).
		WithStrictGaps(cfg.Custody.StrictGaps)
	engine := retentionsvc.NewEngine(st.items, st.policies, st.holds, st.custody,
		st.entries, writer, notifier, logger)
	executor := retentionsvc.NewExecutor(st.items, st.archives, st.holds, active,
		sealed, custodySvc, writer, locker, notifier, logger)
	holdSvc := retentionsvc.NewHoldService(st.holds, st.items, writer, logger)
	reporting := reportingsvc.NewService(st.entries, st.holds, verifier, engine, logger)

	auth := rest.NewAuthMiddleware([]byte(cfg.Security.JWTSecret), cfg.Security.TokenExpiry)
	handlers := rest.NewHandlers(rest.Services{
		Items:     st.items,
		Policies:  st.policies,
		Custody:   custodySvc,
		Holds:     holdSvc,
		Engine:    engine,
		Executor:  executor,
		Verifier:  verifier,
		Reporting: reporting,
	}, logger)

	var ready rest.ReadyCheck
	if pool != nil {
		ready = func(ctx context.Context) error { return pool.Ping(ctx) }
	}
	server := rest.NewServer(cfg.Server, handlers, auth, logger, ready)

	metricsServer := startMetricsServer(cfg.Server.MetricsPort, pool)

	runCtx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	go engine.Run(runCtx, cfg.Retention.ScanInterval, cfg.Retention.ScanJitter)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-runCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	shutdownCtx := context.Background()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}
}

// buildBlobStores prepares active and sealed payload storage. The sealing key
// comes from configuration; a missing key in development gets an ephemeral
// one, which makes archives unreadable across restarts.
func buildBlobStores(cfg *config.Config, logger *slog.Logger) (blob.Store, blob.Store, error) {
	var active, sealedInner blob.Store
	if cfg.Blob.Dir != "" {
		var err error
		if active, err = blob.NewFileStore(cfg.Blob.Dir + "/active"); err != nil {
			return nil, nil, err
		}
		if sealedInner, err = blob.NewFileStore(cfg.Blob.Dir + "/sealed"); err != nil {
			return nil, nil, err
		}
	} else {
		logger.Warn("no blob directory configured, payloads held in memory")
		active = blob.NewMemoryStore()
		sealedInner = blob.NewMemoryStore()
	}

	var key []byte
	if cfg.Archive.EncryptionKey != "" {
		var err error
		key, err = hex.DecodeString(cfg.Archive.EncryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("archive.encryption_key is not hex: %w", err)
		}
	} else {
		logger.Warn("no archive encryption key configured, using an ephemeral key")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, err
		}
	}

	sealed, err := blob.NewSealedStore(sealedInner, key)
	if err != nil {
		return nil, nil, err
	}
	return active, sealed, nil
}

func addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
