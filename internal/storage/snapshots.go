package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"trade-engine/internal/model"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PgStateStore persists one JSON snapshot row per symbol, last-writer-wins.
type PgStateStore struct {
	pool *pgxpool.Pool
}

func NewPgStateStore(pool *pgxpool.Pool) *PgStateStore {
	return &PgStateStore{pool: pool}
}

func (s *PgStateStore) Save(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO engine_snapshots (symbol, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (symbol) DO UPDATE SET state = $2, updated_at = now()`,
		snap.Symbol, data)
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", snap.Symbol, err)
	}
	return nil
}

func (s *PgStateStore) Load(ctx context.Context, symbol string) (*model.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		"SELECT state FROM engine_snapshots WHERE symbol = $1", symbol).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", symbol, err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot for %s: %w", symbol, err)
	}
	return &snap, nil
}
