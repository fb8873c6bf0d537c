// Package pager walks the result pages of one search sub-range.
package pager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
	"github.com/JakeFAU/contributor-crawler/internal/github"
)

// Searcher returns one page of search results.
type Searcher interface {
	Search(ctx context.Context, query string, opts github.SearchOptions) (github.SearchPage, error)
}

// Config holds per-entity limits stamped onto fetched entities.
type Config struct {
	// SecondaryCeiling caps how many commits are inspected per entity.
	SecondaryCeiling int
}

// Result is everything fetched for one sub-range.
type Result struct {
	Entities   []crawler.Entity
	TotalCount int
	// Overflow is set when the range still holds more results than the API will page through.
	Overflow bool
	Pages    int
}

// Pager fetches sub-ranges page by page.
type Pager struct {
	searcher Searcher
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Pager.
func New(searcher Searcher, cfg Config, logger *zap.Logger) *Pager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pager{searcher: searcher, cfg: cfg, logger: logger.Named("pager")}
}

// FetchRange requests pages 1..q.PageCap() sequentially and stops early on a
// short page. Any page failure aborts the range.
func (p *Pager) FetchRange(ctx context.Context, q crawler.Query, r crawler.SubRange) (Result, error) {
	query := crawler.SearchTerms(q.Keyword, r)
	pageCap := q.PageCap()
	var res Result
	seen := make(map[string]struct{})

	for page := 1; page <= pageCap; page++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		sp, err := p.searcher.Search(ctx, query, github.SearchOptions{
			Sort:    q.Sort,
			Order:   q.Order,
			PerPage: q.PageSize,
			Page:    page,
		})
		if err != nil {
			return Result{}, fmt.Errorf("fetch %s page %d: %w", r, page, err)
		}
		res.Pages++
		if page == 1 {
			res.TotalCount = sp.TotalCount
			res.Overflow = sp.TotalCount > q.Ceiling
		}
		for _, e := range sp.Items {
			// Result sets can shift between pages; keep the first occurrence.
			if _, dup := seen[e.Identity]; dup {
				continue
			}
			seen[e.Identity] = struct{}{}
			e.SecondaryCeiling = p.cfg.SecondaryCeiling
			res.Entities = append(res.Entities, e)
		}
		p.logger.Debug("page fetched",
			zap.String("keyword", q.Keyword),
			zap.Stringer("sub_range", r),
			zap.Int("page", page),
			zap.Int("items", len(sp.Items)),
		)
		if len(sp.Items) < q.PageSize {
			break
		}
	}

	if res.Overflow {
		p.logger.Warn("sub-range exceeds result ceiling; results truncated",
			zap.String("keyword", q.Keyword),
			zap.Stringer("sub_range", r),
			zap.Int("total_count", res.TotalCount),
			zap.Int("ceiling", q.Ceiling),
		)
	}
	return res, nil
}
