package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/oj"
)

const maxPerPage = 100

// Commits lists up to limit commits of repo ("owner/name"), newest first,
// as generic decoded JSON values. An empty repository yields no commits.
func (c *Client) Commits(ctx context.Context, repo string, limit int) ([]any, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("invalid repository identity %q", repo)
	}
	if limit <= 0 {
		return nil, nil
	}
	perPage := min(limit, maxPerPage)
	base := fmt.Sprintf("%s/repos/%s/%s/commits", c.cfg.BaseURL, url.PathEscape(owner), url.PathEscape(name))

	var out []any
	for page := 1; len(out) < limit; page++ {
		params := url.Values{}
		params.Set("per_page", strconv.Itoa(perPage))
		params.Set("page", strconv.Itoa(page))

		resp, err := c.get(ctx, endpointCommits, base+"?"+params.Encode())
		if err != nil {
			if IsStatus(err, http.StatusConflict) {
				// GitHub answers 409 for repositories without commits.
				return out, nil
			}
			return nil, err
		}
		parsed, err := oj.Parse(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("decode commits page %d: %w", page, err)
		}
		items, ok := parsed.([]any)
		if !ok {
			return nil, fmt.Errorf("decode commits page %d: expected array, got %T", page, parsed)
		}
		remaining := limit - len(out)
		if len(items) > remaining {
			items = items[:remaining]
		}
		out = append(out, items...)
		if len(items) < perPage {
			break
		}
	}
	return out, nil
}
