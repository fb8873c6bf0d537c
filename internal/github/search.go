package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
)

// SearchOptions selects one page of repository search results.
type SearchOptions struct {
	Sort    string
	Order   string
	PerPage int
	Page    int
}

// SearchPage is one decoded page of repository search results.
type SearchPage struct {
	TotalCount int
	Incomplete bool
	Items      []crawler.Entity
}

type searchResponse struct {
	TotalCount        int          `json:"total_count"`
	IncompleteResults bool         `json:"incomplete_results"`
	Items             []repository `json:"items"`
}

type repository struct {
	FullName        string    `json:"full_name"`
	HTMLURL         string    `json:"html_url"`
	Description     string    `json:"description"`
	Language        string    `json:"language"`
	StargazersCount int       `json:"stargazers_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Search fetches one page of /search/repositories for query.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) (SearchPage, error) {
	return c.search(ctx, endpointSearch, query, opts)
}

// Count returns total_count for query using a single-item page.
func (c *Client) Count(ctx context.Context, query string) (int, error) {
	page, err := c.search(ctx, endpointCount, query, SearchOptions{PerPage: 1, Page: 1})
	if err != nil {
		return 0, err
	}
	return page.TotalCount, nil
}

func (c *Client) search(ctx context.Context, endpoint, query string, opts SearchOptions) (SearchPage, error) {
	params := url.Values{}
	params.Set("q", query)
	if opts.Sort != "" {
		params.Set("sort", opts.Sort)
	}
	if opts.Order != "" {
		params.Set("order", opts.Order)
	}
	if opts.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(opts.PerPage))
	}
	if opts.Page > 0 {
		params.Set("page", strconv.Itoa(opts.Page))
	}
	rawURL := c.cfg.BaseURL + "/search/repositories?" + params.Encode()

	resp, err := c.get(ctx, endpoint, rawURL)
	if err != nil {
		return SearchPage{}, err
	}
	var decoded searchResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return SearchPage{}, fmt.Errorf("decode search response: %w", err)
	}

	page := SearchPage{
		TotalCount: decoded.TotalCount,
		Incomplete: decoded.IncompleteResults,
		Items:      make([]crawler.Entity, 0, len(decoded.Items)),
	}
	for _, repo := range decoded.Items {
		page.Items = append(page.Items, crawler.Entity{
			Identity:    repo.FullName,
			Popularity:  repo.StargazersCount,
			URL:         repo.HTMLURL,
			Description: repo.Description,
			Language:    repo.Language,
			CreatedAt:   repo.CreatedAt,
		})
	}
	return page, nil
}
