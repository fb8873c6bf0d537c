// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"time"
)

// RunState represents the lifecycle state of a crawl run for one keyword.
type RunState string

// Run states reported by the engine.
const (
	StateFresh      RunState = "fresh"
	StatePlanning   RunState = "planning"
	StateFetching   RunState = "fetching"
	StateProcessing RunState = "processing"
	StateComplete   RunState = "complete"
	StateSuspended  RunState = "suspended"
)

// Query describes one search run. It is immutable for the duration of a run.
type Query struct {
	Keyword  string `json:"keyword"`
	Ceiling  int    `json:"ceiling"`
	PageSize int    `json:"page_size"`
	MaxPages int    `json:"max_pages"`
	Sort     string `json:"sort,omitempty"`
	Order    string `json:"order,omitempty"`
}

// PageCap returns the effective number of pages the fetcher may request for one sub-range.
func (q Query) PageCap() int {
	if q.MaxPages > 0 {
		return q.MaxPages
	}
	if q.PageSize <= 0 {
		return 1
	}
	pages := q.Ceiling / q.PageSize
	if q.Ceiling%q.PageSize != 0 {
		pages++
	}
	if pages < 1 {
		pages = 1
	}
	return pages
}

// SubRange is a half-open [Start, End) creation-time window.
type SubRange struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Probed int       `json:"probed,omitempty"`
}

// Duration returns the width of the window.
func (r SubRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Qualifier renders the window as a search qualifier. GitHub treats ".." as
// inclusive on both ends, so the upper bound is End minus one second.
func (r SubRange) Qualifier() string {
	last := r.End.Add(-time.Second)
	if last.Before(r.Start) {
		last = r.Start
	}
	return fmt.Sprintf("created:%s..%s",
		r.Start.UTC().Format(time.RFC3339),
		last.UTC().Format(time.RFC3339),
	)
}

// SearchTerms combines a keyword with the window's creation qualifier.
func SearchTerms(keyword string, r SubRange) string {
	return keyword + " " + r.Qualifier()
}

// String implements fmt.Stringer for log fields.
func (r SubRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.UTC().Format(time.RFC3339), r.End.UTC().Format(time.RFC3339))
}

// Entity is one search result (a repository).
type Entity struct {
	Identity         string    `json:"identity"`
	Popularity       int       `json:"popularity"`
	SecondaryCeiling int       `json:"secondary_ceiling"`
	URL              string    `json:"url,omitempty"`
	Description      string    `json:"description,omitempty"`
	Language         string    `json:"language,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
}

// SubRecord is a contributor identity extracted from an entity's commits.
type SubRecord struct {
	Identity        string    `json:"identity"`
	OwningEntity    string    `json:"owning_entity"`
	OccurrenceCount int       `json:"occurrence_count"`
	DisplayName     string    `json:"display_name"`
	LastSeen        time.Time `json:"last_seen"`
	Ignored         bool      `json:"ignored"`
}

// ProcessedEntity is the marker row proving an entity was visited.
type ProcessedEntity struct {
	Identity       string    `json:"identity"`
	Popularity     int       `json:"popularity"`
	CommitsScanned int       `json:"commits_scanned"`
	SubRecords     int       `json:"sub_records"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// Checkpoint is the durable progress marker for a keyword.
type Checkpoint struct {
	Keyword            string     `json:"keyword"`
	RunID              string     `json:"run_id"`
	SubRanges          []SubRange `json:"sub_ranges"`
	SubRangeIndex      int        `json:"current_sub_range_index"`
	EntityIndex        int        `json:"current_entity_index"`
	TotalEntitiesFound int        `json:"total_entities_found"`
	LastUpdated        time.Time  `json:"last_updated"`
}

// Clone returns a deep copy so stores never share slices with callers.
func (c Checkpoint) Clone() Checkpoint {
	out := c
	out.SubRanges = append([]SubRange(nil), c.SubRanges...)
	return out
}

// Done reports whether every sub-range has been consumed.
func (c Checkpoint) Done() bool {
	return c.SubRangeIndex >= len(c.SubRanges)
}

// EntityOutcome classifies what happened to one entity.
type EntityOutcome string

// Entity outcomes reported in statistics.
const (
	OutcomeProcessed EntityOutcome = "processed"
	OutcomeSkipped   EntityOutcome = "skipped"
	OutcomeFailed    EntityOutcome = "failed"
)

// EntityStats aggregates what the processor learned about one entity.
type EntityStats struct {
	Entity         string        `json:"entity"`
	Popularity     int           `json:"popularity"`
	Outcome        EntityOutcome `json:"outcome"`
	CommitsScanned int           `json:"commits_scanned"`
	Contributors   int           `json:"contributors"`
	Ignored        int           `json:"ignored"`
	Inserted       int           `json:"inserted"`
	TopContributor string        `json:"top_contributor,omitempty"`
	TopCommits     int           `json:"top_commits,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Summary is the final report of a run.
type Summary struct {
	RunID              string        `json:"run_id"`
	Keyword            string        `json:"keyword"`
	State              RunState      `json:"state"`
	Resumed            bool          `json:"resumed"`
	SubRanges          int           `json:"sub_ranges"`
	SubRangesSkipped   int           `json:"sub_ranges_skipped"`
	EntitiesFound      int           `json:"entities_found"`
	EntitiesProcessed  int           `json:"entities_processed"`
	EntitiesSkipped    int           `json:"entities_skipped"`
	EntitiesFailed     int           `json:"entities_failed"`
	SubRecordsInserted int           `json:"sub_records_inserted"`
	SubRecordsTotal    int           `json:"sub_records_total"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         time.Time     `json:"finished_at"`
	Duration           time.Duration `json:"duration"`
}

// Add folds one entity's statistics into the run summary.
func (s *Summary) Add(stats EntityStats) {
	switch stats.Outcome {
	case OutcomeProcessed:
		s.EntitiesProcessed++
		s.SubRecordsInserted += stats.Inserted
	case OutcomeSkipped:
		s.EntitiesSkipped++
	case OutcomeFailed:
		s.EntitiesFailed++
	}
}
