package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/contributor-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns collectors for
// runs started, finished and in flight plus per-range and per-entity outcomes.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  *prometheus.HistogramVec

	ranges        *prometheus.CounterVec
	rangeEntities prometheus.Counter
	entities      *prometheus.CounterVec
	subRecords    prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Total crawl runs started or resumed.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_finished_total",
			Help: "Total crawl runs that stopped, partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_runs_active",
			Help: "Current number of runs in flight.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_run_duration_seconds",
			Help:    "Wall time per run invocation.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		ranges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_sub_ranges_total",
			Help: "Sub-ranges finished, partitioned by outcome.",
		}, []string{"outcome"}),
		rangeEntities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_entities_found_total",
			Help: "Entities returned by sub-range fetches.",
		}),
		entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_entities_total",
			Help: "Entities handled by the processor, partitioned by outcome.",
		}, []string{"outcome"}),
		subRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_sub_records_inserted_total",
			Help: "New contributor records written to the dedup store.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsActive,
		s.runDuration,
		s.ranges,
		s.rangeEntities,
		s.entities,
		s.subRecords,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone:
		s.finishRun(evt, "complete")
	case progress.StageRunSuspended:
		s.finishRun(evt, "suspended")
	case progress.StageRangeDone:
		s.ranges.WithLabelValues("done").Inc()
		s.rangeEntities.Add(float64(evt.Entities))
	case progress.StageRangeSkipped:
		s.ranges.WithLabelValues("skipped").Inc()
	case progress.StageEntityDone:
		s.entities.WithLabelValues("processed").Inc()
		if evt.Inserted > 0 {
			s.subRecords.Add(float64(evt.Inserted))
		}
	case progress.StageEntitySkipped:
		s.entities.WithLabelValues("skipped").Inc()
	case progress.StageEntityFailed:
		s.entities.WithLabelValues("failed").Inc()
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
