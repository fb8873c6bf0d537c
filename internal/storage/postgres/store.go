// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
	"github.com/JakeFAU/contributor-crawler/internal/storage/migrations"
	"github.com/JakeFAU/contributor-crawler/internal/store"
)

var _ store.Store = (*Store)(nil)

const (
	loadCheckpointSQL = `
SELECT run_id, sub_ranges, current_sub_range_index, current_entity_index,
       total_entities_found, last_updated
FROM checkpoints
WHERE keyword = $1`

	saveCheckpointSQL = `
INSERT INTO checkpoints (
	keyword, run_id, sub_ranges, current_sub_range_index,
	current_entity_index, total_entities_found, last_updated
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (keyword) DO UPDATE SET
	sub_ranges = EXCLUDED.sub_ranges,
	current_sub_range_index = EXCLUDED.current_sub_range_index,
	current_entity_index = EXCLUDED.current_entity_index,
	total_entities_found = EXCLUDED.total_entities_found,
	last_updated = EXCLUDED.last_updated
WHERE checkpoints.run_id = EXCLUDED.run_id`

	clearCheckpointSQL = `DELETE FROM checkpoints WHERE keyword = $1`

	listCheckpointsSQL = `
SELECT keyword, run_id, sub_ranges, current_sub_range_index, current_entity_index,
       total_entities_found, last_updated
FROM checkpoints
ORDER BY keyword`

	entityProcessedSQL = `
SELECT EXISTS (SELECT 1 FROM processed_entities WHERE identity = $1)
    OR EXISTS (SELECT 1 FROM sub_records WHERE owning_entity = $1)`

	insertSubRecordSQL = `
INSERT INTO sub_records (
	identity, owning_entity, display_name, occurrence_count, last_seen, ignored
) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (identity) DO NOTHING`

	insertProcessedSQL = `
INSERT INTO processed_entities (
	identity, popularity, commits_scanned, sub_records, processed_at
) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (identity) DO NOTHING`

	countSubRecordsSQL = `SELECT COUNT(*) FROM sub_records`
	countEntitiesSQL   = `SELECT COUNT(*) FROM processed_entities`
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Migrate applies the embedded schema on Open.
	Migrate bool
}

// pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store implements store.Store on Postgres.
type Store struct {
	pool pool
	now  func() time.Time
}

// Connect builds a pgx pool from cfg and verifies connectivity.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return p, nil
}

// SQLDB wraps the pool for database/sql consumers such as migrations.
// Closing the returned handle leaves the pool open.
func SQLDB(p *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(p)
}

// Open connects, optionally migrates and returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	p, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := migrations.Up(SQLDB(p), migrations.Postgres); err != nil {
			p.Close()
			return nil, err
		}
	}
	return &Store{pool: p, now: time.Now}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Load returns the keyword's checkpoint or nil when none exists.
func (s *Store) Load(ctx context.Context, keyword string) (*crawler.Checkpoint, error) {
	cp := crawler.Checkpoint{Keyword: keyword}
	var ranges []byte
	err := s.pool.QueryRow(ctx, loadCheckpointSQL, keyword).Scan(
		&cp.RunID, &ranges, &cp.SubRangeIndex, &cp.EntityIndex, &cp.TotalEntitiesFound, &cp.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %q: %w", keyword, err)
	}
	if err := json.Unmarshal(ranges, &cp.SubRanges); err != nil {
		return nil, fmt.Errorf("decode sub-ranges for %q: %w", keyword, err)
	}
	return &cp, nil
}

// Save upserts the checkpoint row. A row owned by a different run is left
// untouched and store.ErrCheckpointConflict is returned.
func (s *Store) Save(ctx context.Context, cp *crawler.Checkpoint) error {
	ranges, err := json.Marshal(cp.SubRanges)
	if err != nil {
		return fmt.Errorf("encode sub-ranges: %w", err)
	}
	updated := cp.LastUpdated
	if updated.IsZero() {
		updated = s.now()
	}
	tag, err := s.pool.Exec(ctx, saveCheckpointSQL,
		cp.Keyword, cp.RunID, ranges, cp.SubRangeIndex,
		cp.EntityIndex, cp.TotalEntitiesFound, updated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", cp.Keyword, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCheckpointConflict
	}
	return nil
}

// Clear deletes the keyword's checkpoint.
func (s *Store) Clear(ctx context.Context, keyword string) error {
	if _, err := s.pool.Exec(ctx, clearCheckpointSQL, keyword); err != nil {
		return fmt.Errorf("clear checkpoint %q: %w", keyword, err)
	}
	return nil
}

// List returns every checkpoint ordered by keyword.
func (s *Store) List(ctx context.Context) ([]crawler.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, listCheckpointsSQL)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []crawler.Checkpoint
	for rows.Next() {
		var (
			cp     crawler.Checkpoint
			ranges []byte
		)
		if err := rows.Scan(&cp.Keyword, &cp.RunID, &ranges, &cp.SubRangeIndex,
			&cp.EntityIndex, &cp.TotalEntitiesFound, &cp.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if err := json.Unmarshal(ranges, &cp.SubRanges); err != nil {
			return nil, fmt.Errorf("decode sub-ranges for %q: %w", cp.Keyword, err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// EntityProcessed reports whether the entity has a marker row or owns any sub-record.
func (s *Store) EntityProcessed(ctx context.Context, identity string) (bool, error) {
	var done bool
	if err := s.pool.QueryRow(ctx, entityProcessedSQL, identity).Scan(&done); err != nil {
		return false, fmt.Errorf("check entity %q: %w", identity, err)
	}
	return done, nil
}

// InsertOrIgnore stores rec unless the identity already exists.
func (s *Store) InsertOrIgnore(ctx context.Context, rec crawler.SubRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, insertSubRecordSQL, subRecordArgs(rec)...)
	if err != nil {
		return false, fmt.Errorf("insert sub-record %q: %w", rec.Identity, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordEntity writes recs and the processed marker in one transaction.
func (s *Store) RecordEntity(
	ctx context.Context,
	entity crawler.ProcessedEntity,
	recs []crawler.SubRecord,
) (int, error) {
	processedAt := entity.ProcessedAt
	if processedAt.IsZero() {
		processedAt = s.now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin record entity %q: %w", entity.Identity, err)
	}
	inserted := 0
	for _, rec := range recs {
		tag, err := tx.Exec(ctx, insertSubRecordSQL, subRecordArgs(rec)...)
		if err != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("insert sub-record %q: %w", rec.Identity, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if _, err := tx.Exec(ctx, insertProcessedSQL,
		entity.Identity, entity.Popularity, entity.CommitsScanned, entity.SubRecords, processedAt.UTC(),
	); err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("mark entity %q processed: %w", entity.Identity, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit record entity %q: %w", entity.Identity, err)
	}
	return inserted, nil
}

// CountSubRecords returns the number of stored sub-records.
func (s *Store) CountSubRecords(ctx context.Context) (int, error) {
	return s.count(ctx, countSubRecordsSQL)
}

// CountEntities returns the number of processed markers.
func (s *Store) CountEntities(ctx context.Context) (int, error) {
	return s.count(ctx, countEntitiesSQL)
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return int(n), nil
}

func subRecordArgs(rec crawler.SubRecord) []any {
	var lastSeen *time.Time
	if !rec.LastSeen.IsZero() {
		t := rec.LastSeen.UTC()
		lastSeen = &t
	}
	return []any{
		rec.Identity, rec.OwningEntity, rec.DisplayName,
		rec.OccurrenceCount, lastSeen, rec.Ignored,
	}
}
