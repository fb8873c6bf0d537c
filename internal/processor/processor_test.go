package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/clock/system"
	"github.com/JakeFAU/contributor-crawler/internal/crawler"
	pubmemory "github.com/JakeFAU/contributor-crawler/internal/publisher/memory"
	"github.com/JakeFAU/contributor-crawler/internal/storage/memory"
)

type fakeCommits struct {
	body  string
	err   error
	calls int
	limit int
}

func (f *fakeCommits) Commits(_ context.Context, _ string, limit int) ([]any, error) {
	f.calls++
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	v, err := oj.ParseString(f.body)
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

func commit(name, email, date string) string {
	return fmt.Sprintf(`{"sha":"x","commit":{"author":{"name":%q,"email":%q,"date":%q}}}`, name, email, date)
}

func commitsJSON(commits ...string) string {
	return "[" + strings.Join(commits, ",") + "]"
}

var sampleCommits = commitsJSON(
	commit("Alice", "Alice@Dev.io", "2024-03-01T10:00:00Z"),
	commit("", "alice@dev.io ", "2024-03-05T10:00:00Z"),
	commit("Bob", "bob@corp.org", "2024-02-01T10:00:00Z"),
	commit("GitHub", "noreply@github.com", "2024-02-02T10:00:00Z"),
	commit("dependabot[bot]", "49699333+dependabot[bot]@users.noreply.github.com", "2024-02-03T10:00:00Z"),
	`{"sha":"y","commit":{"author":{"name":"Ghost"}}}`,
)

var testRun = Run{ID: "run-1", Keyword: "golang"}

func newProcessor(t *testing.T, commits CommitLister, opts ...Option) (*Processor, *memory.Store) {
	t.Helper()
	ext, err := NewExtractor(Selectors{})
	require.NoError(t, err)
	st := memory.NewStore()
	opts = append([]Option{WithClock(system.NewFixed(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))}, opts...)
	return New(st, commits, ext, Config{MaxCommits: 50, Topic: "contributors"}, zap.NewNop(), opts...), st
}

func TestProcessRecordsContributors(t *testing.T) {
	t.Parallel()

	commits := &fakeCommits{body: sampleCommits}
	pub := pubmemory.New()
	p, st := newProcessor(t, commits, WithPublisher(pub))

	stats, err := p.Process(context.Background(), testRun, crawler.Entity{Identity: "octo/repo", Popularity: 99})
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeProcessed, stats.Outcome)
	assert.Equal(t, 6, stats.CommitsScanned)
	assert.Equal(t, 4, stats.Contributors)
	assert.Equal(t, 2, stats.Ignored)
	assert.Equal(t, 4, stats.Inserted)
	assert.Equal(t, "alice@dev.io", stats.TopContributor)
	assert.Equal(t, 2, stats.TopCommits)
	assert.Equal(t, 50, commits.limit, "falls back to configured ceiling")

	alice, ok := st.SubRecord("alice@dev.io")
	require.True(t, ok)
	assert.Equal(t, "Alice", alice.DisplayName)
	assert.Equal(t, 2, alice.OccurrenceCount)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), alice.LastSeen)
	assert.False(t, alice.Ignored)

	bot, ok := st.SubRecord("noreply@github.com")
	require.True(t, ok)
	assert.True(t, bot.Ignored)

	batches := pub.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "run-1", batches[0].RunID)
	assert.Equal(t, "golang", batches[0].Keyword)
	require.Len(t, batches[0].Contributors, 2, "only actionable contributors are handed off")
	assert.Equal(t, "contributors", pub.Messages()[0].Topic)

	done, err := st.EntityProcessed(context.Background(), "octo/repo")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestProcessSkipsKnownEntityWithoutFetching(t *testing.T) {
	t.Parallel()

	commits := &fakeCommits{body: sampleCommits}
	p, st := newProcessor(t, commits)

	first, err := p.Process(context.Background(), testRun, crawler.Entity{Identity: "octo/repo", SecondaryCeiling: 10})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeProcessed, first.Outcome)
	require.Equal(t, 10, commits.limit)
	before, err := st.CountSubRecords(context.Background())
	require.NoError(t, err)

	second, err := p.Process(context.Background(), testRun, crawler.Entity{Identity: "octo/repo"})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeSkipped, second.Outcome)
	require.Equal(t, 1, commits.calls, "no secondary fetch for a processed entity")

	after, err := st.CountSubRecords(context.Background())
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestProcessEmptyEntityIsStillMarked(t *testing.T) {
	t.Parallel()

	p, st := newProcessor(t, &fakeCommits{body: "[]"})
	stats, err := p.Process(context.Background(), testRun, crawler.Entity{Identity: "octo/empty"})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeProcessed, stats.Outcome)

	done, err := st.EntityProcessed(context.Background(), "octo/empty")
	require.NoError(t, err)
	require.True(t, done)
}

func TestProcessFetchFailureLeavesEntityUnmarked(t *testing.T) {
	t.Parallel()

	p, st := newProcessor(t, &fakeCommits{err: errors.New("502 bad gateway")})
	stats, err := p.Process(context.Background(), testRun, crawler.Entity{Identity: "octo/repo"})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeFailed, stats.Outcome)
	require.Contains(t, stats.Error, "502")

	done, err := st.EntityProcessed(context.Background(), "octo/repo")
	require.NoError(t, err)
	require.False(t, done)
}

func TestProcessPublishFailureLeavesEntityUnmarked(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	pub.Fail = errors.New("topic not found")
	p, st := newProcessor(t, &fakeCommits{body: sampleCommits}, WithPublisher(pub))

	stats, err := p.Process(context.Background(), testRun, crawler.Entity{Identity: "octo/repo"})
	require.NoError(t, err)
	require.Equal(t, crawler.OutcomeFailed, stats.Outcome)

	n, err := st.CountSubRecords(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestProcessReturnsStoreErrors(t *testing.T) {
	t.Parallel()

	p, st := newProcessor(t, &fakeCommits{body: sampleCommits})
	boom := errors.New("disk full")
	st.FailWrites = boom

	_, err := p.Process(context.Background(), testRun, crawler.Entity{Identity: "octo/repo"})
	require.ErrorIs(t, err, boom)
}

func TestProcessCancelledDuringFetch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := newProcessor(t, &fakeCommits{err: context.Canceled})

	_, err := p.Process(ctx, testRun, crawler.Entity{Identity: "octo/repo"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	c := NewClassifier("@internal.corp", "  ")
	tests := []struct {
		identity string
		ignored  bool
	}{
		{"dev@company.io", false},
		{"DEV@Company.IO", false},
		{"noreply@github.com", true},
		{"12345+user@users.noreply.github.com", true},
		{"no-reply@service.net", true},
		{"donotreply@bank.com", true},
		{"do-not-reply@bank.com", true},
		{"root@localhost", true},
		{"someone@example.com", true},
		{"renovate[bot]@users.github.com", true},
		{"user@host.invalid", true},
		{"USER@mail.Host.INVALID", true},
		{"invalidation-team@corp.io", false},
		{"ops@invalid-systems.com", false},
		{"bob@internal.corp", true},
		{"not-an-email", true},
		{"missing@tld", true},
		{"two@@signs.com", true},
		{"space in@name.com", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.identity, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.ignored, c.Classify(tt.identity))
			require.Equal(t, c.Classify(tt.identity), c.Classify(tt.identity))
		})
	}
}

func TestExtractorCustomSelectors(t *testing.T) {
	t.Parallel()

	ext, err := NewExtractor(Selectors{
		Identity:  "$.commit.committer.email",
		Name:      "$.commit.committer.name",
		Timestamp: "$.commit.committer.date",
	})
	require.NoError(t, err)

	doc, err := oj.ParseString(`{"commit":{"committer":{"name":" Carol ","email":"CAROL@x.io","date":"2024-01-01T00:00:00Z"}}}`)
	require.NoError(t, err)
	occ, ok := ext.Extract(doc)
	require.True(t, ok)
	require.Equal(t, "carol@x.io", occ.Identity)
	require.Equal(t, "Carol", occ.DisplayName)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), occ.Timestamp)

	_, ok = ext.Extract(map[string]any{})
	require.False(t, ok)

	_, err = NewExtractor(Selectors{Identity: "$.[["})
	require.Error(t, err)
}

func TestAggregateOrdering(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := Aggregate("o/r", []Occurrence{
		{Identity: "b@x.io", Timestamp: t1},
		{Identity: "a@x.io", Timestamp: t1},
		{Identity: "c@x.io", DisplayName: "C", Timestamp: t1},
		{Identity: "c@x.io", DisplayName: "Other", Timestamp: t1.Add(time.Hour)},
	})
	require.Len(t, recs, 3)
	require.Equal(t, []string{"c@x.io", "a@x.io", "b@x.io"},
		[]string{recs[0].Identity, recs[1].Identity, recs[2].Identity})
	require.Equal(t, "C", recs[0].DisplayName)
	require.Equal(t, t1.Add(time.Hour), recs[0].LastSeen)
	require.Equal(t, "o/r", recs[0].OwningEntity)
}
