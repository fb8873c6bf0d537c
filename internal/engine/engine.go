// Package engine drives one keyword through the segmented, checkpointed crawl:
// plan creation-time sub-ranges, fetch each range page by page and process its
// entities one at a time, persisting the {sub-range, entity} position at every
// unit boundary so an interrupted run resumes where it stopped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/clock/system"
	"github.com/JakeFAU/contributor-crawler/internal/crawler"
	"github.com/JakeFAU/contributor-crawler/internal/pager"
	"github.com/JakeFAU/contributor-crawler/internal/processor"
	"github.com/JakeFAU/contributor-crawler/internal/progress"
	"github.com/JakeFAU/contributor-crawler/internal/store"
)

// Planner splits a period into sub-ranges small enough to page through.
type Planner interface {
	Plan(ctx context.Context, keyword string, start, end time.Time) ([]crawler.SubRange, error)
}

// Fetcher pages through one sub-range.
type Fetcher interface {
	FetchRange(ctx context.Context, q crawler.Query, r crawler.SubRange) (pager.Result, error)
}

// Processor handles one entity.
type Processor interface {
	Process(ctx context.Context, run processor.Run, entity crawler.Entity) (crawler.EntityStats, error)
}

// tracerName scopes the spans the engine starts.
const tracerName = "github.com/JakeFAU/contributor-crawler/internal/engine"

// Deps are the collaborators of an Engine. Dedup, Events, Results and
// TracerProvider are optional; spans go to the global provider by default.
type Deps struct {
	Planner     Planner
	Fetcher     Fetcher
	Processor   Processor
	Checkpoints store.CheckpointStore
	Dedup       store.DedupStore
	IDs         crawler.IDGenerator
	Clock       crawler.Clock
	Events      progress.Emitter
	Results     crawler.ResultSink

	TracerProvider trace.TracerProvider
}

// Config tunes failure handling.
type Config struct {
	// SuspendOnRangeFailure suspends the run when a sub-range cannot be fetched
	// instead of skipping it.
	SuspendOnRangeFailure bool
}

// Engine runs crawls strictly sequentially. A single Engine must not run two
// keywords at once.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
	state  atomic.Value
}

// New validates deps and returns an Engine.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Planner == nil:
		return nil, errors.New("engine: planner is required")
	case deps.Fetcher == nil:
		return nil, errors.New("engine: fetcher is required")
	case deps.Processor == nil:
		return nil, errors.New("engine: processor is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("engine: checkpoint store is required")
	case deps.IDs == nil:
		return nil, errors.New("engine: id generator is required")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.TracerProvider == nil {
		deps.TracerProvider = otel.GetTracerProvider()
	}
	e := &Engine{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("engine"),
		tracer: deps.TracerProvider.Tracer(tracerName),
	}
	e.state.Store(crawler.StateFresh)
	return e, nil
}

// State reports the lifecycle state of the current or last run.
func (e *Engine) State() crawler.RunState {
	return e.state.Load().(crawler.RunState)
}

// Run crawls q.Keyword over [start, end). With no stored checkpoint, or one
// holding no sub-ranges, it plans a fresh run; otherwise it resumes at the
// stored position and ignores start and end. On success the checkpoint is cleared. On failure the position is saved
// and a *crawler.SuspendedError is returned, except for checkpoint conflicts,
// which are returned as is without touching the store.
func (e *Engine) Run(ctx context.Context, q crawler.Query, start, end time.Time) (crawler.Summary, error) {
	sum := crawler.Summary{Keyword: q.Keyword, StartedAt: e.deps.Clock.Now()}
	logger := e.logger.With(zap.String("keyword", q.Keyword))

	cp, err := e.deps.Checkpoints.Load(ctx, q.Keyword)
	if err != nil {
		return sum, fmt.Errorf("load checkpoint for %q: %w", q.Keyword, err)
	}
	if cp == nil || len(cp.SubRanges) == 0 {
		var runID string
		if cp != nil {
			runID = cp.RunID
		}
		e.setState(crawler.StatePlanning)
		cp, err = e.plan(ctx, q.Keyword, start, end, runID)
		if err != nil {
			e.setState(crawler.StateFresh)
			return sum, err
		}
		logger.Info("planned run", zap.String("run_id", cp.RunID), zap.Int("sub_ranges", len(cp.SubRanges)))
	} else {
		sum.Resumed = true
		logger.Info("resuming run",
			zap.String("run_id", cp.RunID),
			zap.Int("sub_range", cp.SubRangeIndex),
			zap.Int("entity", cp.EntityIndex),
			zap.Int("sub_ranges", len(cp.SubRanges)),
		)
	}
	sum.RunID = cp.RunID
	sum.SubRanges = len(cp.SubRanges)

	r := &run{
		Engine:  e,
		query:   q,
		cp:      cp,
		sum:     &sum,
		logger:  logger.With(zap.String("run_id", cp.RunID)),
		started: sum.StartedAt,
	}
	r.emit(progress.Event{Stage: progress.StageRunStart, SubRanges: len(cp.SubRanges)})
	err = r.crawl(ctx)
	r.finish(ctx, err)
	return sum, err
}

// plan stores a fresh checkpoint. A non-empty runID keeps the owner of an
// existing checkpoint row so the guarded save accepts it.
func (e *Engine) plan(ctx context.Context, keyword string, start, end time.Time, runID string) (*crawler.Checkpoint, error) {
	ranges, err := e.deps.Planner.Plan(ctx, keyword, start, end)
	if err != nil {
		return nil, fmt.Errorf("plan %q: %w", keyword, err)
	}
	id := runID
	if id == "" {
		if id, err = e.deps.IDs.NewID(); err != nil {
			return nil, fmt.Errorf("new run id: %w", err)
		}
	}
	cp := &crawler.Checkpoint{
		Keyword:     keyword,
		RunID:       id,
		SubRanges:   ranges,
		LastUpdated: e.deps.Clock.Now(),
	}
	if err := e.deps.Checkpoints.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("save initial checkpoint for %q: %w", keyword, err)
	}
	return cp, nil
}

func (e *Engine) setState(s crawler.RunState) {
	e.state.Store(s)
}

// run carries the mutable state of one invocation.
type run struct {
	*Engine
	query   crawler.Query
	cp      *crawler.Checkpoint
	sum     *crawler.Summary
	logger  *zap.Logger
	started time.Time
}

func (r *run) crawl(ctx context.Context) error {
	for !r.cp.Done() {
		if err := ctx.Err(); err != nil {
			return r.suspend(ctx, err)
		}
		if err := r.crawlRange(ctx); err != nil {
			return r.suspend(ctx, err)
		}
	}

	if err := r.deps.Checkpoints.Clear(ctx, r.query.Keyword); err != nil {
		return r.suspend(ctx, fmt.Errorf("clear checkpoint: %w", err))
	}
	return nil
}

// crawlRange fetches the current sub-range and processes it from the stored
// entity index. An unreadable range is skipped unless the run is cancelled or
// configured to suspend.
func (r *run) crawlRange(ctx context.Context) (err error) {
	i := r.cp.SubRangeIndex
	sub := r.cp.SubRanges[i]
	logger := r.logger.With(zap.Int("sub_range", i), zap.Stringer("range", sub))

	ctx, span := r.tracer.Start(ctx, "crawl.sub_range", trace.WithAttributes(
		attribute.String("keyword", r.query.Keyword),
		attribute.String("run_id", r.cp.RunID),
		attribute.Int("sub_range", i),
		attribute.String("range", sub.String()),
		attribute.Int("entity_index", r.cp.EntityIndex),
	))
	defer func() {
		endSpan(span, err)
	}()

	r.setState(crawler.StateFetching)
	r.emit(progress.Event{Stage: progress.StageRangeStart, SubRange: i})
	began := r.deps.Clock.Now()
	res, err := r.deps.Fetcher.FetchRange(ctx, r.query, sub)
	if err != nil {
		if ctx.Err() != nil || r.cfg.SuspendOnRangeFailure {
			return fmt.Errorf("fetch sub-range %d: %w", i, err)
		}
		logger.Warn("sub-range fetch failed; skipping", zap.Error(err))
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("skipped", true))
		r.sum.SubRangesSkipped++
		r.emit(progress.Event{Stage: progress.StageRangeSkipped, SubRange: i, Note: err.Error()})
		return r.advance(ctx, 0)
	}
	span.SetAttributes(
		attribute.Int("entities", len(res.Entities)),
		attribute.Int("total_count", res.TotalCount),
		attribute.Bool("overflow", res.Overflow),
	)
	if res.Overflow {
		logger.Warn("sub-range exceeds the result ceiling; entities beyond it are unreachable",
			zap.Int("total_count", res.TotalCount))
	}
	if r.cp.EntityIndex > len(res.Entities) {
		logger.Warn("stored entity index past the fetched results",
			zap.Int("entity", r.cp.EntityIndex), zap.Int("entities", len(res.Entities)))
	}

	r.setState(crawler.StateProcessing)
	for r.cp.EntityIndex < len(res.Entities) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.save(ctx); err != nil {
			return err
		}
		if err := r.process(ctx, res.Entities[r.cp.EntityIndex]); err != nil {
			return err
		}
		r.cp.EntityIndex++
	}

	if err := r.advance(ctx, len(res.Entities)); err != nil {
		return err
	}
	r.emit(progress.Event{
		Stage:    progress.StageRangeDone,
		SubRange: i,
		Entities: len(res.Entities),
		Dur:      r.deps.Clock.Now().Sub(began),
	})
	logger.Info("sub-range done", zap.Int("entities", len(res.Entities)), zap.Int("pages", res.Pages))
	return nil
}

func (r *run) process(ctx context.Context, entity crawler.Entity) (err error) {
	ctx, span := r.tracer.Start(ctx, "crawl.entity", trace.WithAttributes(
		attribute.String("entity", entity.Identity),
		attribute.Int("popularity", entity.Popularity),
		attribute.Int("entity_index", r.cp.EntityIndex),
	))
	defer func() {
		endSpan(span, err)
	}()

	stats, err := r.deps.Processor.Process(ctx, processor.Run{ID: r.cp.RunID, Keyword: r.query.Keyword}, entity)
	if err != nil {
		return fmt.Errorf("process %s: %w", entity.Identity, err)
	}
	span.SetAttributes(
		attribute.String("outcome", string(stats.Outcome)),
		attribute.Int("inserted", stats.Inserted),
	)
	r.sum.Add(stats)
	if r.deps.Results != nil {
		if err := r.deps.Results.Write(ctx, stats); err != nil {
			r.logger.Warn("write entity result", zap.String("entity", entity.Identity), zap.Error(err))
		}
	}
	evt := progress.Event{
		SubRange: r.cp.SubRangeIndex,
		Entity:   entity.Identity,
		Inserted: stats.Inserted,
		Note:     stats.Error,
	}
	switch stats.Outcome {
	case crawler.OutcomeSkipped:
		evt.Stage = progress.StageEntitySkipped
	case crawler.OutcomeFailed:
		evt.Stage = progress.StageEntityFailed
	default:
		evt.Stage = progress.StageEntityDone
	}
	r.emit(evt)
	return nil
}

// advance moves to the next sub-range. Entities of the finished range are
// counted in the same save that moves the index, so a resumed range is never
// counted twice.
func (r *run) advance(ctx context.Context, found int) error {
	r.cp.SubRangeIndex++
	r.cp.EntityIndex = 0
	r.cp.TotalEntitiesFound += found
	return r.save(ctx)
}

func (r *run) save(ctx context.Context) error {
	r.cp.LastUpdated = r.deps.Clock.Now()
	if err := r.deps.Checkpoints.Save(ctx, r.cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// suspend persists the current position with a context detached from
// cancellation and wraps cause. Conflicts skip the save.
func (r *run) suspend(ctx context.Context, cause error) error {
	if errors.Is(cause, store.ErrCheckpointConflict) {
		r.logger.Error("checkpoint owned by another run; stopping without saving", zap.Error(cause))
		return cause
	}
	saved := true
	r.cp.LastUpdated = r.deps.Clock.Now()
	if err := r.deps.Checkpoints.Save(context.WithoutCancel(ctx), r.cp); err != nil {
		saved = false
		r.logger.Error("best-effort checkpoint save failed", zap.Error(err))
	}
	return &crawler.SuspendedError{
		Keyword:       r.query.Keyword,
		SubRangeIndex: r.cp.SubRangeIndex,
		EntityIndex:   r.cp.EntityIndex,
		Saved:         saved,
		Cause:         cause,
	}
}

func (r *run) finish(ctx context.Context, err error) {
	now := r.deps.Clock.Now()
	r.sum.FinishedAt = now
	r.sum.Duration = now.Sub(r.started)
	r.sum.EntitiesFound = r.cp.TotalEntitiesFound
	if r.deps.Dedup != nil {
		n, countErr := r.deps.Dedup.CountSubRecords(context.WithoutCancel(ctx))
		if countErr != nil {
			r.logger.Warn("count sub-records", zap.Error(countErr))
		}
		r.sum.SubRecordsTotal = n
	}

	fields := []zap.Field{
		zap.Int("entities_found", r.sum.EntitiesFound),
		zap.Int("entities_processed", r.sum.EntitiesProcessed),
		zap.Int("entities_skipped", r.sum.EntitiesSkipped),
		zap.Int("entities_failed", r.sum.EntitiesFailed),
		zap.Int("sub_ranges_skipped", r.sum.SubRangesSkipped),
		zap.Int("sub_records_inserted", r.sum.SubRecordsInserted),
		zap.Int("sub_records_total", r.sum.SubRecordsTotal),
		zap.Duration("duration", r.sum.Duration),
	}
	if err != nil {
		r.sum.State = crawler.StateSuspended
		r.setState(crawler.StateSuspended)
		r.emit(progress.Event{Stage: progress.StageRunSuspended, Dur: r.sum.Duration, Note: err.Error()})
		r.logger.Warn("run suspended", append(fields, zap.Error(err))...)
		return
	}
	r.sum.State = crawler.StateComplete
	r.setState(crawler.StateComplete)
	r.emit(progress.Event{Stage: progress.StageRunDone, SubRanges: len(r.cp.SubRanges), Dur: r.sum.Duration})
	r.logger.Info("run complete", fields...)
}

func (r *run) emit(evt progress.Event) {
	if r.deps.Events == nil {
		return
	}
	evt.RunID = r.cp.RunID
	evt.Keyword = r.query.Keyword
	evt.TS = r.deps.Clock.Now()
	if evt.SubRanges == 0 {
		evt.SubRanges = len(r.cp.SubRanges)
	}
	r.deps.Events.Emit(evt)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
