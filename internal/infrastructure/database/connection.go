// Package database provides the PostgreSQL repositories backing the domain
// stores. All chain tables are append-only; uniqueness constraints carry the
// optimistic concurrency the writers rely on.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/config"
)

// NewPool opens a pgx connection pool and verifies connectivity
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// Repositories bundles the durable stores for wiring at startup
type Repositories struct {
	Ledger      *LedgerRepository
	Checkpoints *CheckpointRepository
	Custody     *CustodyRepository
	Evidence    *EvidenceRepository
	Policies    *PolicyRepository
	Holds       *HoldRepository
	Archives    *ArchiveRepository
}

// NewRepositories creates the repository collection over one pool
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Ledger:      NewLedgerRepository(pool),
		Checkpoints: NewCheckpointRepository(pool),
		Custody:     NewCustodyRepository(pool),
		Evidence:    NewEvidenceRepository(pool),
		Policies:    NewPolicyRepository(pool),
		Holds:       NewHoldRepository(pool),
		Archives:    NewArchiveRepository(pool),
	}
}
