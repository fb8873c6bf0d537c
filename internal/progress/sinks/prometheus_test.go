package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/contributor-crawler/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunStart},
		{RunID: "r1", TS: now, Stage: progress.StageRangeDone, Entities: 40},
		{RunID: "r1", TS: now, Stage: progress.StageRangeSkipped},
		{RunID: "r1", TS: now, Stage: progress.StageEntityDone, Entity: "o/a", Inserted: 5},
		{RunID: "r1", TS: now, Stage: progress.StageEntityDone, Entity: "o/b", Inserted: 2},
		{RunID: "r1", TS: now, Stage: progress.StageEntitySkipped, Entity: "o/c"},
		{RunID: "r1", TS: now, Stage: progress.StageEntityFailed, Entity: "o/d"},
		{RunID: "r1", TS: now, Stage: progress.StageRunDone, Dur: 90 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("complete")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsActive), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.ranges.WithLabelValues("done")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.ranges.WithLabelValues("skipped")), 1e-9)
	require.InDelta(t, 40.0, testutil.ToFloat64(sink.rangeEntities), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.entities.WithLabelValues("processed")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.entities.WithLabelValues("failed")), 1e-9)
	require.InDelta(t, 7.0, testutil.ToFloat64(sink.subRecords), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "crawler_run_duration_seconds"))
}

func TestPrometheusSinkSuspendedRunLeavesNoActiveGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunStart},
		{RunID: "r1", TS: now, Stage: progress.StageRunStart},
	}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsActive), 1e-9)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunSuspended},
	}))
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsActive), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("suspended")), 1e-9)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkConsumes(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: time.Now(), Stage: progress.StageRangeSkipped, SubRange: 2, Note: "502"},
		{RunID: "r1", TS: time.Now(), Stage: progress.StageRunDone},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, int64(2), entries[0].ContextMap()["sub_range"])
	require.Equal(t, "502", entries[0].ContextMap()["note"])
	require.Equal(t, zapcore.InfoLevel, entries[1].Level)
}
