// Command retention runs retention lifecycle operations out of band: scan
// for due items, execute disposal decisions, verify ledger partitions, or
// restore an archived item.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/custody"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/blob"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/config"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/database"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/events"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/locks"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/telemetry"
	custodysvc "github.com/custodialabs/evidence-custody-backend/internal/service/custody"
	ledgersvc "github.com/custodialabs/evidence-custody-backend/internal/service/ledger"
	retentionsvc "github.com/custodialabs/evidence-custody-backend/internal/service/retention"
)

var (
	mode       = flag.String("mode", "scan", "Operation mode: scan, execute, verify, restore")
	evidenceID = flag.String("evidence-id", "", "Evidence ID for restore")
	actorID    = flag.String("actor", "retention-job", "Actor recorded on ledger entries")
	dryRun     = flag.Bool("dry-run", false, "Report what would happen without executing")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url is required")
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to set up logger: %v", err)
	}

	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()
	repos := database.NewRepositories(pool)

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to set up event logger: %v", err)
	}
	defer zlog.Sync()
	notifier := events.NewAsyncNotifier(zlog, 256)
	defer notifier.Close()

	active, sealed, err := buildBlobStores(cfg, logger)
	if err != nil {
		log.Fatalf("failed to set up blob storage: %v", err)
	}

	locker := locks.NewRegistry()
	writer := ledgersvc.NewWriter(repos.Ledger, nil, logger).
		WithMaxRetries(cfg.Ledger.AppendRetries)
	verifier := ledgersvc.NewVerifier(repos.Ledger, repos.Checkpoints, writer,
		notifier, logger, cfg.Ledger.VerifyRatePerSecond)
	custodySvc := custodysvc.NewService(repos.Custody, repos.Evidence, repos.Holds,
		custody.NewRuleRegistry(),
		custody.NewGapDetectorWithThreshold(cfg.Custody.TemporalThreshold),
		writer, locker, notifier, logger)
	engine := retentionsvc.NewEngine(repos.Evidence, repos.Policies, repos.Holds,
		repos.Custody, repos.Ledger, writer, notifier, logger)
	executor := retentionsvc.NewExecutor(repos.Evidence, repos.Archives, repos.Holds,
		active, sealed, custodySvc, writer, locker, notifier, logger)

	switch *mode {
	case "scan":
		err = runScan(ctx, engine, logger)
	case "execute":
		err = runExecute(ctx, engine, executor, logger)
	case "verify":
		err = runVerify(ctx, verifier, logger)
	case "restore":
		err = runRestore(ctx, executor, logger)
	default:
		err = fmt.Errorf("unknown mode: %s", *mode)
	}

	if err != nil {
		logger.Error("operation failed", "mode", *mode, "error", err)
		os.Exit(1)
	}
	logger.Info("operation completed", "mode", *mode)
}

func runScan(ctx context.Context, engine *retentionsvc.Engine, logger *slog.Logger) error {
	report, err := engine.ScanOnce(ctx)
	if err != nil {
		return err
	}
	logger.Info("retention scan finished",
		"evaluated", report.Evaluated,
		"due", len(report.Due),
		"suppressed", len(report.Suppressed),
		"duration", report.Duration)
	return nil
}

func runExecute(ctx context.Context, engine *retentionsvc.Engine, executor *retentionsvc.Executor, logger *slog.Logger) error {
	report, err := engine.ScanOnce(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, decision := range report.Due {
		if *dryRun {
			logger.Info("would execute disposal",
				"evidence_id", decision.EvidenceID,
				"action", decision.Action,
				"due_at", decision.DueAt)
			continue
		}
		if err := executor.Execute(ctx, decision, *actorID); err != nil {
			// One stuck item must not stall the rest of the worklist
			logger.Error("disposal failed",
				"evidence_id", decision.EvidenceID,
				"action", decision.Action,
				"error", err)
			failed++
		}
	}

	logger.Info("disposal pass finished",
		"due", len(report.Due), "failed", failed, "dry_run", *dryRun)
	if failed > 0 {
		return fmt.Errorf("%d of %d disposals failed", failed, len(report.Due))
	}
	return nil
}

func runVerify(ctx context.Context, verifier *ledgersvc.Verifier, logger *slog.Logger) error {
	results, err := verifier.VerifyAll(ctx)
	if err != nil {
		return err
	}

	var broken int
	for partition, result := range results {
		if !result.IsValid {
			broken++
			logger.Error("partition chain broken",
				"partition", partition,
				"first_broken_sequence", result.FirstBrokenSequence,
				"breaks", len(result.ChainBreaks))
		}
	}
	logger.Info("verification finished",
		"partitions", len(results), "broken", broken)
	if broken > 0 {
		return fmt.Errorf("%d of %d partitions failed verification", broken, len(results))
	}
	return nil
}

func runRestore(ctx context.Context, executor *retentionsvc.Executor, logger *slog.Logger) error {
	if *evidenceID == "" {
		return fmt.Errorf("-evidence-id is required for restore")
	}
	id, err := uuid.Parse(*evidenceID)
	if err != nil {
		return fmt.Errorf("invalid evidence ID: %w", err)
	}
	if *dryRun {
		logger.Info("would restore evidence", "evidence_id", id)
		return nil
	}
	return executor.Restore(ctx, id, *actorID)
}

// buildBlobStores mirrors the API server's storage wiring
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
