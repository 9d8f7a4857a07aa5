package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"hedgeflow/internal/model"
)

// PostgresArchive persists audit records to Postgres with idempotent upserts.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

func NewPostgresArchive(ctx context.Context, dsn string) (*PostgresArchive, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresArchive{pool: pool}, nil
}

func (a *PostgresArchive) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// SaveDeposit inserts or updates one deposit keyed by tx hash.
func (a *PostgresArchive) SaveDeposit(ctx context.Context, deposit model.DepositEvent) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO deposits (
			tx_hash, depositor, amount, minted_amount, block_number, detected_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (tx_hash)
		DO UPDATE SET
			depositor = EXCLUDED.depositor,
			amount = EXCLUDED.amount,
			minted_amount = EXCLUDED.minted_amount,
			block_number = EXCLUDED.block_number,
			updated_at = now()
	`,
		deposit.TxHash,
		deposit.Depositor,
		deposit.Amount,
		deposit.MintedAmount,
		int64(deposit.BlockNumber),
		deposit.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert deposit: %w", err)
	}
	return nil
}

// SaveExecution inserts or updates one execution log keyed by tx hash. The
// position list is stored as a JSON document.
func (a *PostgresArchive) SaveExecution(ctx context.Context, log model.ExecutionLog) error {
	positions, err := json.Marshal(log.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO execution_logs (
			tx_hash, notional, token_amount, depositor, positions,
			success_count, total_venues, executed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (tx_hash)
		DO UPDATE SET
			positions = EXCLUDED.positions,
			success_count = EXCLUDED.success_count,
			total_venues = EXCLUDED.total_venues,
			executed_at = EXCLUDED.executed_at,
			updated_at = now()
	`,
		log.Request.DepositTxHash,
		log.Request.Notional,
		log.Request.TokenAmount,
		log.Request.Depositor,
		positions,
		log.SuccessCount,
		log.TotalVenues,
		log.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert execution log: %w", err)
	}
	return nil
}
