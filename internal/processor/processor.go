// Package processor turns one discovered repository into deduplicated
// contributor records.
package processor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/clock/system"
	"github.com/JakeFAU/contributor-crawler/internal/crawler"
	"github.com/JakeFAU/contributor-crawler/internal/store"
)

// DefaultMaxCommits bounds commit inspection when an entity carries no ceiling.
const DefaultMaxCommits = 100

// CommitLister fetches decoded commit objects for one repository.
type CommitLister interface {
	Commits(ctx context.Context, repo string, limit int) ([]any, error)
}

// Config tunes processing.
type Config struct {
	MaxCommits int
	// Topic receives contributor batches when a publisher is configured.
	Topic string
}

// Run identifies the crawl a processed entity belongs to.
type Run struct {
	ID      string
	Keyword string
}

// Option customises a Processor.
type Option func(*Processor)

// WithPublisher hands actionable contributors to pub before they are recorded.
func WithPublisher(pub crawler.Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

// WithClock overrides the clock used for processed-at timestamps.
func WithClock(clock crawler.Clock) Option {
	return func(p *Processor) { p.clock = clock }
}

// WithClassifier overrides the identity classifier.
func WithClassifier(c *Classifier) Option {
	return func(p *Processor) { p.classifier = c }
}

// Processor extracts, classifies and records contributors of one entity at a time.
type Processor struct {
	dedup      store.DedupStore
	commits    CommitLister
	extractor  *Extractor
	classifier *Classifier
	publisher  crawler.Publisher
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Processor.
func New(
	dedup store.DedupStore,
	commits CommitLister,
	extractor *Extractor,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxCommits <= 0 {
		cfg.MaxCommits = DefaultMaxCommits
	}
	p := &Processor{
		dedup:      dedup,
		commits:    commits,
		extractor:  extractor,
		classifier: NewClassifier(),
		clock:      system.New(),
		cfg:        cfg,
		logger:     logger.Named("processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one entity. Entities already recorded are skipped without
// any secondary fetch. A failed commit fetch or hand-off yields OutcomeFailed
// with a nil error and leaves the entity unmarked for a later run. Store
// errors are returned.
func (p *Processor) Process(ctx context.Context, run Run, entity crawler.Entity) (crawler.EntityStats, error) {
	stats := crawler.EntityStats{Entity: entity.Identity, Popularity: entity.Popularity}
	logger := p.logger.With(zap.String("entity", entity.Identity), zap.String("run_id", run.ID))

	done, err := p.dedup.EntityProcessed(ctx, entity.Identity)
	if err != nil {
		return stats, fmt.Errorf("check entity %q: %w", entity.Identity, err)
	}
	if done {
		stats.Outcome = crawler.OutcomeSkipped
		logger.Debug("entity already processed")
		return stats, nil
	}

	limit := entity.SecondaryCeiling
	if limit <= 0 {
		limit = p.cfg.MaxCommits
	}
	commits, err := p.commits.Commits(ctx, entity.Identity, limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, ctxErr
		}
		stats.Outcome = crawler.OutcomeFailed
		stats.Error = err.Error()
		logger.Warn("commit fetch failed; entity left for a later run", zap.Error(err))
		return stats, nil
	}

	var sightings []Occurrence
	for _, c := range commits {
		if occ, ok := p.extractor.Extract(c); ok {
			sightings = append(sightings, occ)
		}
	}
	recs := Aggregate(entity.Identity, sightings)
	actionable := make([]crawler.SubRecord, 0, len(recs))
	for i := range recs {
		recs[i].Ignored = p.classifier.Classify(recs[i].Identity)
		if recs[i].Ignored {
			stats.Ignored++
			continue
		}
		actionable = append(actionable, recs[i])
	}
	stats.CommitsScanned = len(commits)
	stats.Contributors = len(recs)
	if len(actionable) > 0 {
		stats.TopContributor = actionable[0].Identity
		stats.TopCommits = actionable[0].OccurrenceCount
	}

	if p.publisher != nil && len(actionable) > 0 {
		batch := crawler.ContributorBatch{
			RunID:        run.ID,
			Keyword:      run.Keyword,
			Entity:       entity.Identity,
			Popularity:   entity.Popularity,
			Contributors: actionable,
		}
		if _, err := p.publisher.Publish(ctx, p.cfg.Topic, batch); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return stats, err
			}
			stats.Outcome = crawler.OutcomeFailed
			stats.Error = err.Error()
			logger.Warn("contributor hand-off failed; entity left for a later run", zap.Error(err))
			return stats, nil
		}
	}

	inserted, err := p.dedup.RecordEntity(ctx, crawler.ProcessedEntity{
		Identity:       entity.Identity,
		Popularity:     entity.Popularity,
		CommitsScanned: len(commits),
		SubRecords:     len(recs),
		ProcessedAt:    p.clock.Now(),
	}, recs)
	if err != nil {
		return stats, fmt.Errorf("record entity %q: %w", entity.Identity, err)
	}
	stats.Outcome = crawler.OutcomeProcessed
	stats.Inserted = inserted
	logger.Info("entity processed",
		zap.Int("commits", stats.CommitsScanned),
		zap.Int("contributors", stats.Contributors),
		zap.Int("ignored", stats.Ignored),
		zap.Int("inserted", inserted),
	)
	return stats, nil
}
