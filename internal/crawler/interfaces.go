package crawler

import (
	"context"
	"io"
	"time"
)

// Publisher pushes hand-off messages to downstream consumers (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes run artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ResultSink receives per-entity statistics as they are produced.
type ResultSink interface {
	Write(ctx context.Context, stats EntityStats) error
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// ContributorBatch is the hand-off payload for one processed entity.
type ContributorBatch struct {
	RunID        string      `json:"run_id"`
	Keyword      string      `json:"keyword"`
	Entity       string      `json:"entity"`
	Popularity   int         `json:"popularity"`
	Contributors []SubRecord `json:"contributors"`
}
