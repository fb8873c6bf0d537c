package store

import (
	"context"
	"errors"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
)

// ErrCheckpointConflict signals that the live checkpoint for a keyword belongs
// to a different run. Only one writer per keyword is supported.
var ErrCheckpointConflict = errors.New("checkpoint owned by another run")

// CheckpointStore persists the singleton progress marker per keyword.
type CheckpointStore interface {
	// Load returns the live checkpoint, or nil when the keyword has nothing to resume.
	Load(ctx context.Context, keyword string) (*crawler.Checkpoint, error)
	// Save atomically replaces the checkpoint row for cp.Keyword. It fails with
	// ErrCheckpointConflict when the stored row carries a different run ID.
	Save(ctx context.Context, cp *crawler.Checkpoint) error
	// Clear deletes the checkpoint. Clearing a missing keyword is not an error.
	Clear(ctx context.Context, keyword string) error
	// List returns every live checkpoint ordered by keyword.
	List(ctx context.Context) ([]crawler.Checkpoint, error)
}

// DedupStore is the durable record of visited entities and captured sub-records.
type DedupStore interface {
	// EntityProcessed reports whether the entity has a processed marker or owns any sub-record.
	EntityProcessed(ctx context.Context, identity string) (bool, error)
	// InsertOrIgnore stores rec unless its identity already exists (first write wins).
	InsertOrIgnore(ctx context.Context, rec crawler.SubRecord) (bool, error)
	// RecordEntity inserts recs with first-write-wins semantics and writes the
	// processed marker in one transaction. It returns the number of new rows.
	RecordEntity(ctx context.Context, entity crawler.ProcessedEntity, recs []crawler.SubRecord) (int, error)
	// CountSubRecords returns the number of stored sub-records.
	CountSubRecords(ctx context.Context) (int, error)
	// CountEntities returns the number of processed markers.
	CountEntities(ctx context.Context) (int, error)
}

// Store bundles both repositories behind one handle with a lifecycle.
type Store interface {
	CheckpointStore
	DedupStore
	Close() error
}
