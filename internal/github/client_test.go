package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/contributor-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/contributor-crawler/internal/policy/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(
		collyfetcher.New(collyfetcher.Config{Token: "t"}),
		ratelimit.New(ratelimit.Config{}),
		Config{BaseURL: srv.URL, MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		zap.NewNop(),
	)
}

func TestCountUsesSingleItemPage(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/repositories", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		assert.Equal(t, "golang created:2024-01-01T00:00:00Z..2024-01-30T23:59:59Z", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"total_count":1500,"incomplete_results":false,"items":[{"full_name":"a/b"}]}`))
	})

	n, err := c.Count(context.Background(), "golang created:2024-01-01T00:00:00Z..2024-01-30T23:59:59Z")
	require.NoError(t, err)
	require.Equal(t, 1500, n)
}

func TestSearchDecodesRepositories(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "stars", q.Get("sort"))
		assert.Equal(t, "desc", q.Get("order"))
		assert.Equal(t, "100", q.Get("per_page"))
		assert.Equal(t, "2", q.Get("page"))
		_, _ = w.Write([]byte(`{
			"total_count": 2,
			"incomplete_results": true,
			"items": [
				{"full_name":"octo/one","html_url":"https://github.com/octo/one","description":null,
				 "language":"Go","stargazers_count":42,"created_at":"2024-01-02T03:04:05Z"},
				{"full_name":"octo/two","stargazers_count":7}
			]}`))
	})

	page, err := c.Search(context.Background(), "golang", SearchOptions{Sort: "stars", Order: "desc", PerPage: 100, Page: 2})
	require.NoError(t, err)
	require.Equal(t, 2, page.TotalCount)
	require.True(t, page.Incomplete)
	require.Len(t, page.Items, 2)
	require.Equal(t, "octo/one", page.Items[0].Identity)
	require.Equal(t, 42, page.Items[0].Popularity)
	require.Equal(t, "Go", page.Items[0].Language)
	require.Empty(t, page.Items[0].Description)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), page.Items[0].CreatedAt)
}

func TestGetRetriesTransientStatuses(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"total_count":5,"items":[]}`))
	})

	n, err := c.Count(context.Background(), "golang")
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.EqualValues(t, 3, calls.Load())
}

func TestGetRetriesRateLimitedForbidden(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"total_count":1,"items":[]}`))
	})

	_, err := c.Count(context.Background(), "golang")
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Only the first 1000 search results are available"}`))
	})

	_, err := c.Search(context.Background(), "golang", SearchOptions{Page: 11})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	require.Contains(t, se.Error(), "first 1000")
	require.EqualValues(t, 1, calls.Load())
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Count(context.Background(), "golang")
	require.True(t, IsStatus(err, http.StatusServiceUnavailable), "got %v", err)
	require.EqualValues(t, 3, calls.Load(), "one attempt plus two retries")
}

func TestGetStopsOnCancellation(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Count(ctx, "golang")
	require.ErrorIs(t, err, context.Canceled)
}

func commitsPage(n, offset int) string {
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf(`{"sha":"%d","commit":{"author":{"name":"Dev %d","email":"dev%d@example.org","date":"2024-01-01T00:00:00Z"}}}`,
			offset+i, offset+i, offset+i)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestCommitsPaginatesUpToLimit(t *testing.T) {
	t.Parallel()

	var pages []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/repo/commits", r.URL.Path)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pages = append(pages, r.URL.Query().Get("per_page")+"@"+strconv.Itoa(page))
		_, _ = w.Write([]byte(commitsPage(100, (page-1)*100)))
	})

	commits, err := c.Commits(context.Background(), "octo/repo", 150)
	require.NoError(t, err)
	require.Len(t, commits, 150)
	require.Equal(t, []string{"100@1", "100@2"}, pages)
}

func TestCommitsStopsOnShortPage(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(commitsPage(3, 0)))
	})

	commits, err := c.Commits(context.Background(), "octo/repo", 30)
	require.NoError(t, err)
	require.Len(t, commits, 3)
	require.EqualValues(t, 1, calls.Load())
}

func TestCommitsEmptyRepository(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"Git Repository is empty."}`))
	})

	commits, err := c.Commits(context.Background(), "octo/empty", 100)
	require.NoError(t, err)
	require.Empty(t, commits)
}

func TestCommitsRejectsBadIdentity(t *testing.T) {
	t.Parallel()

	c := New(nil, nil, Config{}, nil)
	_, err := c.Commits(context.Background(), "no-slash", 10)
	require.Error(t, err)
}

func TestStatusErrorRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		code   int
		header http.Header
		body   string
		want   bool
	}{
		{"too many requests", http.StatusTooManyRequests, nil, "", true},
		{"server error", http.StatusInternalServerError, nil, "", true},
		{"primary rate limit", http.StatusForbidden, http.Header{"X-Ratelimit-Remaining": {"0"}}, "", true},
		{"secondary rate limit", http.StatusForbidden, nil, "You have exceeded a secondary rate limit", true},
		{"plain forbidden", http.StatusForbidden, nil, "Resource not accessible", false},
		{"not found", http.StatusNotFound, nil, "", false},
		{"validation", http.StatusUnprocessableEntity, nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			se := newStatusError("u", tt.code, tt.header, []byte(tt.body))
			require.Equal(t, tt.want, se.Retryable())
		})
	}
}

func TestStatusErrorRetryAfter(t *testing.T) {
	t.Parallel()

	se := newStatusError("u", http.StatusTooManyRequests, http.Header{"Retry-After": {"7"}}, nil)
	require.Equal(t, 7*time.Second, se.RetryAfter)
	require.True(t, se.RateLimited())
	require.False(t, IsStatus(errors.New("plain"), http.StatusTooManyRequests))
}
