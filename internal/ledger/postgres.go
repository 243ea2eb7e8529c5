package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists escrows in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS prize_escrows (
  seq BIGSERIAL,
  puzzle_id TEXT PRIMARY KEY,
  token TEXT NOT NULL,
  total_pool NUMERIC(78,0) NOT NULL,
  winner_shares INT[] NOT NULL,
  state TEXT NOT NULL,
  created_by TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  activation_time BIGINT NOT NULL DEFAULT 0,
  end_time BIGINT NOT NULL DEFAULT 0,
  completed_at BIGINT NOT NULL DEFAULT 0,
  distributed NUMERIC(78,0) NOT NULL DEFAULT 0,
  recovered NUMERIC(78,0),
  recovered_at BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS prize_completions (
  puzzle_id TEXT NOT NULL REFERENCES prize_escrows(puzzle_id),
  rank INT NOT NULL,
  schema_version INT NOT NULL,
  user_addr TEXT NOT NULL,
  duration_ms BIGINT NOT NULL,
  completed_at BIGINT NOT NULL,
  metadata JSONB,
  prize NUMERIC(78,0) NOT NULL,
  claimed BOOLEAN NOT NULL DEFAULT false,
  paid_at BIGINT NOT NULL DEFAULT 0,
  payout_ref TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (puzzle_id, rank),
  UNIQUE (puzzle_id, user_addr)
);
CREATE INDEX IF NOT EXISTS idx_prize_completions_user ON prize_completions(user_addr);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PGStore) Create(ctx context.Context, e *Escrow) error {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO prize_escrows (puzzle_id, token, total_pool, winner_shares, state, created_by, created_at,
  activation_time, end_time, completed_at, distributed)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11::numeric)
ON CONFLICT (puzzle_id) DO NOTHING`,
		e.PuzzleID.Hex(), e.Token.Hex(), intText(e.TotalPool), sharesToInt32(e.WinnerShares),
		e.State.String(), e.CreatedBy.Hex(), e.CreatedAt, e.ActivationTime, e.EndTime,
		e.CompletedAt, intText(e.Distributed))
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id common.Hash) (*Escrow, error) {
	return s.load(ctx, s.pool, id, false)
}

func (s *PGStore) Update(ctx context.Context, id common.Hash, fn func(*Escrow) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := s.load(ctx, tx, id, true)
	if err != nil {
		return err
	}
	known := len(e.Completions)
	if err := fn(e); err != nil {
		return err
	}

	var recovered *string
	if e.Recovered != nil {
		v := e.Recovered.String()
		recovered = &v
	}
	if _, err := tx.Exec(ctx, `
UPDATE prize_escrows SET state=$2, activation_time=$3, end_time=$4, completed_at=$5,
  distributed=$6::numeric, recovered=$7::numeric, recovered_at=$8
WHERE puzzle_id=$1`,
		id.Hex(), e.State.String(), e.ActivationTime, e.EndTime, e.CompletedAt,
		intText(e.Distributed), recovered, e.RecoveredAt); err != nil {
		return fmt.Errorf("update escrow: %w", err)
	}

	for i, c := range e.Completions {
		if i < known {
			if _, err := tx.Exec(ctx, `
UPDATE prize_completions SET claimed=$3, paid_at=$4, payout_ref=$5 WHERE puzzle_id=$1 AND rank=$2`,
				id.Hex(), c.Rank, c.Claimed, c.PaidAt, c.PayoutRef); err != nil {
				return fmt.Errorf("update completion: %w", err)
			}
			continue
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO prize_completions (puzzle_id, rank, schema_version, user_addr, duration_ms, completed_at,
  metadata, prize, claimed, paid_at, payout_ref)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::numeric, $9, $10, $11)`,
			id.Hex(), c.Rank, c.SchemaVersion, c.User.Hex(), int64(c.DurationMs), c.CompletedAt,
			string(meta), intText(c.Prize), c.Claimed, c.PaidAt, c.PayoutRef); err != nil {
			return fmt.Errorf("insert completion: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) List(ctx context.Context) ([]*Escrow, error) {
	rows, err := s.pool.Query(ctx, `SELECT puzzle_id FROM prize_escrows ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make([]*Escrow, 0, len(ids))
	for _, id := range ids {
		e, err := s.Get(ctx, common.HexToHash(id))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PGStore) load(ctx context.Context, q querier, id common.Hash, forUpdate bool) (*Escrow, error) {
	query := `
SELECT token, total_pool::text, winner_shares, state, created_by, created_at, activation_time,
  end_time, completed_at, distributed::text, recovered::text, recovered_at
FROM prize_escrows WHERE puzzle_id=$1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		token, pool, state, createdBy, distributed string
		recovered                                  *string
		shares                                     []int32
	)
	e := &Escrow{PuzzleID: id}
	err := q.QueryRow(ctx, query, id.Hex()).Scan(&token, &pool, &shares, &state, &createdBy,
		&e.CreatedAt, &e.ActivationTime, &e.EndTime, &e.CompletedAt, &distributed, &recovered, &e.RecoveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select escrow: %w", err)
	}
	if e.State, err = ParseState(state); err != nil {
		return nil, err
	}
	e.Token = common.HexToAddress(token)
	e.CreatedBy = common.HexToAddress(createdBy)
	e.WinnerShares = make([]uint32, len(shares))
	for i, v := range shares {
		e.WinnerShares[i] = uint32(v)
	}
	if e.TotalPool, err = parseInt(pool); err != nil {
		return nil, err
	}
	if e.Distributed, err = parseInt(distributed); err != nil {
		return nil, err
	}
	if recovered != nil {
		if e.Recovered, err = parseInt(*recovered); err != nil {
			return nil, err
		}
	}

	rows, err := q.Query(ctx, `
SELECT rank, schema_version, user_addr, duration_ms, completed_at, metadata, prize::text, claimed, paid_at, payout_ref
FROM prize_completions WHERE puzzle_id=$1 ORDER BY rank`, id.Hex())
	if err != nil {
		return nil, fmt.Errorf("select completions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c          Completion
			user, amt  string
			durationMs int64
			meta       []byte
		)
		if err := rows.Scan(&c.Rank, &c.SchemaVersion, &user, &durationMs, &c.CompletedAt, &meta,
			&amt, &c.Claimed, &c.PaidAt, &c.PayoutRef); err != nil {
			return nil, err
		}
		c.User = common.HexToAddress(user)
		c.DurationMs = uint64(durationMs)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		if c.Prize, err = parseInt(amt); err != nil {
			return nil, err
		}
		e.Completions = append(e.Completions, c)
	}
	return e, rows.Err()
}

func intText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}

func sharesToInt32(shares []uint32) []int32 {
	out := make([]int32, len(shares))
	for i, v := range shares {
		out[i] = int32(v)
	}
	return out
}
