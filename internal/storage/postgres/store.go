package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pairsync/internal/model"
)

// Schema creates the tables written by Store.
const Schema = `
CREATE TABLE IF NOT EXISTS pairs (
	network          TEXT NOT NULL,
	contract_addr    TEXT NOT NULL,
	asset0           TEXT NOT NULL,
	asset1           TEXT NOT NULL,
	asset0_native    BOOLEAN NOT NULL,
	asset1_native    BOOLEAN NOT NULL,
	liquidity_token  TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (network, contract_addr)
);
CREATE INDEX IF NOT EXISTS pairs_liquidity_token_idx ON pairs (network, liquidity_token);
CREATE TABLE IF NOT EXISTS assets (
	network     TEXT NOT NULL,
	address     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (network, address)
);
`

// Store provides Postgres persistence for mirrored pairs and derived assets.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// PutPairBatch upserts pairs and registers both legs of each as assets.
func (s *Store) PutPairBatch(ctx context.Context, network string, pairs []model.Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	queued := queuePairs(batch, network, pairs)

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert pairs: %w", err)
		}
	}
	return nil
}

// ListPairs returns the stored pairs of network in insertion order.
func (s *Store) ListPairs(ctx context.Context, network string) ([]model.Pair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT contract_addr, asset0, asset1, asset0_native, asset1_native, liquidity_token
		FROM pairs WHERE network = $1 ORDER BY created_at, contract_addr
	`, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Pair
	for rows.Next() {
		var (
			pair           model.Pair
			asset0, asset1 string
			native0        bool
			native1        bool
		)
		if err := rows.Scan(&pair.ContractAddr, &asset0, &asset1, &native0, &native1, &pair.LiquidityToken); err != nil {
			return nil, err
		}
		pair.AssetInfos = [2]model.AssetInfo{assetInfo(asset0, native0), assetInfo(asset1, native1)}
		out = append(out, model.NormalizePair(pair))
	}
	return out, rows.Err()
}

func queuePairs(batch *pgx.Batch, network string, pairs []model.Pair) int {
	queued := 0
	seenAssets := make(map[string]struct{})
	for _, pair := range pairs {
		batch.Queue(`
			INSERT INTO pairs (
				network, contract_addr, asset0, asset1, asset0_native, asset1_native, liquidity_token, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			ON CONFLICT (network, contract_addr)
			DO UPDATE SET
				asset0 = EXCLUDED.asset0,
				asset1 = EXCLUDED.asset1,
				asset0_native = EXCLUDED.asset0_native,
				asset1_native = EXCLUDED.asset1_native,
				liquidity_token = EXCLUDED.liquidity_token,
				updated_at = now()
		`,
			network,
			pair.ContractAddr,
			pair.AssetAddresses[0],
			pair.AssetAddresses[1],
			pair.AssetInfos[0].IsNative(),
			pair.AssetInfos[1].IsNative(),
			pair.LiquidityToken,
		)
		queued++

		for _, address := range pair.AssetAddresses {
			if _, ok := seenAssets[address]; ok || address == "" {
				continue
			}
			seenAssets[address] = struct{}{}
			batch.Queue(`
				INSERT INTO assets (network, address, created_at)
				VALUES ($1, $2, now())
				ON CONFLICT (network, address) DO NOTHING
			`, network, address)
			queued++
		}
	}
	return queued
}

func assetInfo(address string, native bool) model.AssetInfo {
	if native {
		return model.NativeAsset(address)
	}
	return model.TokenAsset(address)
}
