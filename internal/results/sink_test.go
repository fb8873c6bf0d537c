package results

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
)

func TestFileSinkAppendsAcrossOpens(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "results.jsonl")
	for _, entity := range []string{"o/a", "o/b"} {
		sink, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, sink.Write(context.Background(), crawler.EntityStats{
			Entity:   entity,
			Outcome:  crawler.OutcomeProcessed,
			Inserted: 2,
		}))
		require.NoError(t, sink.Close())
	}

	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []Line
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l Line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		got = append(got, l)
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, 2)
	require.Equal(t, "o/a", got[0].Entity)
	require.Equal(t, "o/b", got[1].Entity)
	require.Equal(t, crawler.OutcomeProcessed, got[1].Outcome)
	require.False(t, got[0].RecordedAt.IsZero())
}

func TestWriterSinkFlushesEachLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	sink.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, sink.Write(context.Background(), crawler.EntityStats{Entity: "o/a", Outcome: crawler.OutcomeFailed, Error: "502"}))
	require.Equal(t,
		`{"recorded_at":"2024-01-01T00:00:00Z","entity":"o/a","popularity":0,"outcome":"failed",`+
			`"commits_scanned":0,"contributors":0,"ignored":0,"inserted":0,"error":"502"}`+"\n",
		buf.String())
	require.NoError(t, sink.Close())
}

func TestWriteHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	require.ErrorIs(t, NewWriterSink(&buf).Write(ctx, crawler.EntityStats{Entity: "o/a"}), context.Canceled)
	require.Zero(t, buf.Len())
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.Error(t, err)
}
