package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/search-console-tap/internal/state"
)

// StateStore keeps the bookmark document in a single JSONB row per state id.
type StateStore struct {
	pool    pgxPool
	table   string
	stateID string
}

// NewStateStore wraps pool. Empty table and stateID fall back to
// "tap_state" and "default".
func NewStateStore(pool pgxPool, table, stateID string) (*StateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "tap_state"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if stateID == "" {
		stateID = "default"
	}
	return &StateStore{pool: pool, table: table, stateID: stateID}, nil
}

// EnsureSchema creates the state table when missing.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	state JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Load implements state.Store. A missing row is an empty state.
func (s *StateStore) Load(ctx context.Context) (*state.State, error) {
	query := fmt.Sprintf(`SELECT state FROM %s WHERE id = $1`, s.table)
	var data []byte
	err := s.pool.QueryRow(ctx, query, s.stateID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return state.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", s.stateID, err)
	}
	return state.Parse(data)
}

// Save implements state.Store.
func (s *StateStore) Save(ctx context.Context, st *state.State) error {
	data, err := st.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, state, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, s.stateID, data); err != nil {
		return fmt.Errorf("save state %s: %w", s.stateID, err)
	}
	return nil
}
