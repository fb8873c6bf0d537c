// Package planner decomposes an unbounded keyword search into creation-time
// windows that each fit under the search API's result ceiling.
package planner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultWindow    = 30 * 24 * time.Hour
	DefaultCeiling   = 1000
	DefaultMaxDepth  = 4
	DefaultMinWindow = time.Hour
)

// ErrEmptyPeriod is returned when the requested period has no width after
// clipping to the current time.
var ErrEmptyPeriod = errors.New("planner: empty period")

// Counter is the count-only probe against the search API.
type Counter interface {
	Count(ctx context.Context, query string) (int, error)
}

// Config bounds the planner's subdivision.
type Config struct {
	Window    time.Duration
	Ceiling   int
	MaxDepth  int
	MinWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Ceiling <= 0 {
		c.Ceiling = DefaultCeiling
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MinWindow <= 0 {
		c.MinWindow = DefaultMinWindow
	}
	return c
}

// Planner produces ordered, disjoint sub-ranges for a keyword.
type Planner struct {
	counter Counter
	cfg     Config
	clock   crawler.Clock
	logger  *zap.Logger
}

// New constructs a Planner. A nil logger is replaced with a no-op logger.
func New(counter Counter, cfg Config, clock crawler.Clock, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		counter: counter,
		cfg:     cfg.withDefaults(),
		clock:   clock,
		logger:  logger.Named("planner"),
	}
}

// Windows yields fixed-width half-open windows from start to end, left to
// right. The final window is clipped to end.
func Windows(start, end time.Time, width time.Duration) iter.Seq[crawler.SubRange] {
	return func(yield func(crawler.SubRange) bool) {
		if width <= 0 {
			return
		}
		for cur := start; cur.Before(end); cur = cur.Add(width) {
			next := cur.Add(width)
			if next.After(end) {
				next = end
			}
			if !yield(crawler.SubRange{Start: cur, End: next}) {
				return
			}
		}
	}
}

// Plan probes each window and bisects any window whose count exceeds the
// ceiling. The returned ranges are ordered, disjoint and cover [start, end)
// with end clipped to the clock's current time.
func (p *Planner) Plan(ctx context.Context, keyword string, start, end time.Time) ([]crawler.SubRange, error) {
	start = start.UTC().Truncate(time.Second)
	end = end.UTC().Truncate(time.Second)
	if now := p.clock.Now().UTC().Truncate(time.Second); end.IsZero() || end.After(now) {
		end = now
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: %s..%s", ErrEmptyPeriod, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	var out []crawler.SubRange
	for w := range Windows(start, end, p.cfg.Window) {
		var err error
		out, err = p.refine(ctx, keyword, w, 0, out)
		if err != nil {
			return nil, err
		}
	}
	p.logger.Info("plan ready",
		zap.String("keyword", keyword),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("sub_ranges", len(out)),
	)
	return out, nil
}

func (p *Planner) refine(
	ctx context.Context,
	keyword string,
	r crawler.SubRange,
	depth int,
	out []crawler.SubRange,
) ([]crawler.SubRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	count, err := p.counter.Count(ctx, crawler.SearchTerms(keyword, r))
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", r, err)
	}
	r.Probed = count
	if count <= p.cfg.Ceiling {
		return append(out, r), nil
	}

	mid := r.Start.Add(r.Duration() / 2).Truncate(time.Second)
	if depth >= p.cfg.MaxDepth || mid.Sub(r.Start) < p.cfg.MinWindow || !mid.After(r.Start) {
		p.logger.Warn("sub-range truncated at subdivision bound",
			zap.String("keyword", keyword),
			zap.Stringer("sub_range", r),
			zap.Int("count", count),
			zap.Int("ceiling", p.cfg.Ceiling),
			zap.Int("depth", depth),
		)
		return append(out, r), nil
	}

	p.logger.Debug("bisecting sub-range",
		zap.String("keyword", keyword),
		zap.Stringer("sub_range", r),
		zap.Int("count", count),
		zap.Int("depth", depth),
	)
	out, err = p.refine(ctx, keyword, crawler.SubRange{Start: r.Start, End: mid}, depth+1, out)
	if err != nil {
		return nil, err
	}
	return p.refine(ctx, keyword, crawler.SubRange{Start: mid, End: r.End}, depth+1, out)
}
