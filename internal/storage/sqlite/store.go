package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
	"github.com/JakeFAU/contributor-crawler/internal/storage/migrations"
	"github.com/JakeFAU/contributor-crawler/internal/store"
)

var _ store.Store = (*Store)(nil)

// Timestamps are stored as UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	loadCheckpointSQL = `
SELECT run_id, sub_ranges, current_sub_range_index, current_entity_index,
       total_entities_found, last_updated
FROM checkpoints
WHERE keyword = ?`

	saveCheckpointSQL = `
INSERT INTO checkpoints (
    keyword, run_id, sub_ranges, current_sub_range_index,
    current_entity_index, total_entities_found, last_updated
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (keyword) DO UPDATE SET
    sub_ranges = excluded.sub_ranges,
    current_sub_range_index = excluded.current_sub_range_index,
    current_entity_index = excluded.current_entity_index,
    total_entities_found = excluded.total_entities_found,
    last_updated = excluded.last_updated
WHERE checkpoints.run_id = excluded.run_id`

	listCheckpointsSQL = `
SELECT keyword, run_id, sub_ranges, current_sub_range_index, current_entity_index,
       total_entities_found, last_updated
FROM checkpoints
ORDER BY keyword`

	entityProcessedSQL = `
SELECT EXISTS (SELECT 1 FROM processed_entities WHERE identity = ?)
    OR EXISTS (SELECT 1 FROM sub_records WHERE owning_entity = ?)`

	insertSubRecordSQL = `
INSERT INTO sub_records (
    identity, owning_entity, display_name, occurrence_count, last_seen, ignored
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (identity) DO NOTHING`

	insertProcessedSQL = `
INSERT INTO processed_entities (
    identity, popularity, commits_scanned, sub_records, processed_at
) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (identity) DO NOTHING`
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	db, err := openDB(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for migration tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Load returns the keyword's checkpoint or nil when none exists.
func (s *Store) Load(ctx context.Context, keyword string) (*crawler.Checkpoint, error) {
	cp := crawler.Checkpoint{Keyword: keyword}
	var (
		ranges  string
		updated string
	)
	err := s.db.QueryRowContext(ctx, loadCheckpointSQL, keyword).Scan(
		&cp.RunID, &ranges, &cp.SubRangeIndex, &cp.EntityIndex, &cp.TotalEntitiesFound, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %q: %w", keyword, err)
	}
	if err := decodeCheckpoint(&cp, ranges, updated); err != nil {
		return nil, fmt.Errorf("load checkpoint %q: %w", keyword, err)
	}
	return &cp, nil
}

// Save upserts the checkpoint. A row owned by another run is left untouched
// and reported as store.ErrCheckpointConflict.
func (s *Store) Save(ctx context.Context, cp *crawler.Checkpoint) error {
	ranges, err := json.Marshal(cp.SubRanges)
	if err != nil {
		return fmt.Errorf("encode sub-ranges: %w", err)
	}
	updated := cp.LastUpdated
	if updated.IsZero() {
		updated = time.Now()
	}
	var affected int64
	err = runTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, saveCheckpointSQL,
			cp.Keyword, cp.RunID, string(ranges), cp.SubRangeIndex,
			cp.EntityIndex, cp.TotalEntitiesFound, formatTime(updated),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", cp.Keyword, err)
	}
	if affected == 0 {
		return store.ErrCheckpointConflict
	}
	return nil
}

// Clear deletes the keyword's checkpoint.
func (s *Store) Clear(ctx context.Context, keyword string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE keyword = ?`, keyword); err != nil {
		return fmt.Errorf("clear checkpoint %q: %w", keyword, err)
	}
	return nil
}

// List returns every checkpoint ordered by keyword.
func (s *Store) List(ctx context.Context) ([]crawler.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, listCheckpointsSQL)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.Checkpoint
	for rows.Next() {
		var (
			cp      crawler.Checkpoint
			ranges  string
			updated string
		)
		if err := rows.Scan(&cp.Keyword, &cp.RunID, &ranges, &cp.SubRangeIndex,
			&cp.EntityIndex, &cp.TotalEntitiesFound, &updated); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if err := decodeCheckpoint(&cp, ranges, updated); err != nil {
			return nil, fmt.Errorf("decode checkpoint %q: %w", cp.Keyword, err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// EntityProcessed reports whether the entity has a marker row or owns any sub-record.
func (s *Store) EntityProcessed(ctx context.Context, identity string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, entityProcessedSQL, identity, identity).Scan(&n); err != nil {
		return false, fmt.Errorf("check entity %q: %w", identity, err)
	}
	return n > 0, nil
}

// InsertOrIgnore stores rec unless the identity already exists.
func (s *Store) InsertOrIgnore(ctx context.Context, rec crawler.SubRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, insertSubRecordSQL, subRecordArgs(rec)...)
	if err != nil {
		return false, fmt.Errorf("insert sub-record %q: %w", rec.Identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert sub-record %q: %w", rec.Identity, err)
	}
	return n > 0, nil
}

// RecordEntity writes recs and the processed marker in one transaction.
func (s *Store) RecordEntity(
	ctx context.Context,
	entity crawler.ProcessedEntity,
	recs []crawler.SubRecord,
) (int, error) {
	processedAt := entity.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	var inserted int
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		inserted = 0
		stmt, err := tx.PrepareContext(ctx, insertSubRecordSQL)
		if err != nil {
			return fmt.Errorf("prepare sub-record insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, rec := range recs {
			res, err := stmt.ExecContext(ctx, subRecordArgs(rec)...)
			if err != nil {
				return fmt.Errorf("insert sub-record %q: %w", rec.Identity, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		_, err = tx.ExecContext(ctx, insertProcessedSQL,
			entity.Identity, entity.Popularity, entity.CommitsScanned,
			entity.SubRecords, formatTime(processedAt),
		)
		if err != nil {
			return fmt.Errorf("mark entity processed: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record entity %q: %w", entity.Identity, err)
	}
	return inserted, nil
}

// CountSubRecords returns the number of stored sub-records.
func (s *Store) CountSubRecords(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM sub_records`)
}

// CountEntities returns the number of processed markers.
func (s *Store) CountEntities(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM processed_entities`)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func subRecordArgs(rec crawler.SubRecord) []any {
	var lastSeen any
	if !rec.LastSeen.IsZero() {
		lastSeen = formatTime(rec.LastSeen)
	}
	return []any{
		rec.Identity, rec.OwningEntity, rec.DisplayName,
		rec.OccurrenceCount, lastSeen, rec.Ignored,
	}
}

func decodeCheckpoint(cp *crawler.Checkpoint, ranges, updated string) error {
	if err := json.Unmarshal([]byte(ranges), &cp.SubRanges); err != nil {
		return fmt.Errorf("decode sub-ranges: %w", err)
	}
	t, err := time.Parse(timeLayout, updated)
	if err != nil {
		return fmt.Errorf("decode last_updated: %w", err)
	}
	cp.LastUpdated = t
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
