package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
	"github.com/JakeFAU/contributor-crawler/internal/store"
)

func TestCheckpointLifecycle(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	cp, err := s.Load(ctx, "golang")
	require.NoError(t, err)
	require.Nil(t, cp)

	saved := &crawler.Checkpoint{
		Keyword:   "golang",
		RunID:     "run-1",
		SubRanges: []crawler.SubRange{{Start: time.Unix(0, 0), End: time.Unix(3600, 0)}},
	}
	require.NoError(t, s.Save(ctx, saved))

	saved.SubRanges[0].Probed = 42
	loaded, err := s.Load(ctx, "golang")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Zero(t, loaded.SubRanges[0].Probed, "store must not alias caller slices")

	other := &crawler.Checkpoint{Keyword: "golang", RunID: "run-2"}
	require.ErrorIs(t, s.Save(ctx, other), store.ErrCheckpointConflict)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.Clear(ctx, "golang"))
	require.NoError(t, s.Clear(ctx, "golang"))
	cp, err = s.Load(ctx, "golang")
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestRecordEntityFirstWriteWins(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	first := crawler.SubRecord{Identity: "a@x.io", OwningEntity: "o/one", DisplayName: "First"}
	second := crawler.SubRecord{Identity: "a@x.io", OwningEntity: "o/two", DisplayName: "Second"}

	n, err := s.RecordEntity(ctx, crawler.ProcessedEntity{Identity: "o/one"}, []crawler.SubRecord{first})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.RecordEntity(ctx, crawler.ProcessedEntity{Identity: "o/two"}, []crawler.SubRecord{second})
	require.NoError(t, err)
	require.Zero(t, n)

	rec, ok := s.SubRecord("a@x.io")
	require.True(t, ok)
	require.Equal(t, "First", rec.DisplayName)

	done, err := s.EntityProcessed(ctx, "o/two")
	require.NoError(t, err)
	require.True(t, done, "marker row alone proves the visit")

	inserted, err := s.InsertOrIgnore(ctx, crawler.SubRecord{Identity: "b@x.io", OwningEntity: "o/three"})
	require.NoError(t, err)
	require.True(t, inserted)
	done, err = s.EntityProcessed(ctx, "o/three")
	require.NoError(t, err)
	require.True(t, done, "owning a sub-record also counts")

	count, err := s.CountSubRecords(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	entities, err := s.CountEntities(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, entities)
}

func TestFailWrites(t *testing.T) {
	t.Parallel()

	s := NewStore()
	boom := errors.New("disk full")
	s.FailWrites = boom
	ctx := context.Background()

	require.ErrorIs(t, s.Save(ctx, &crawler.Checkpoint{Keyword: "k"}), boom)
	_, err := s.RecordEntity(ctx, crawler.ProcessedEntity{Identity: "o/r"}, nil)
	require.ErrorIs(t, err, boom)
}
