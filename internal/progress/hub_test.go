package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHubDeliversInOrder(t *testing.T) {
	t.Parallel()

	a, b := newStubSink(), newStubSink()
	hub := NewHub(Config{}, a, nil, b)

	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageRangeStart))
	hub.Emit(sampleEvent(StageRunDone))

	for _, s := range []*stubSink{a, b} {
		got := s.Stages()
		require.Equal(t, []Stage{StageRunStart, StageRangeStart, StageRunDone}, got)
	}
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageRunStart, TS: time.Now()})
	hub.Emit(Event{RunID: "r", TS: time.Now(), Stage: StageEntityDone})
	hub.Emit(Event{RunID: "r", TS: time.Now(), Stage: "BOGUS"})
	require.Empty(t, sink.Stages())
}

func TestHubSinkFailureDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	failing := sinkFunc(func(context.Context, []Event) error { return errors.New("boom") })
	sink := newStubSink()
	hub := NewHub(Config{}, failing, sink)

	hub.Emit(sampleEvent(StageRunStart))
	require.Len(t, sink.Stages(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubCloseJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("close failed")
	hub := NewHub(Config{}, &stubSink{closeErr: boom}, newStubSink())
	require.ErrorIs(t, hub.Close(context.Background()), boom)
}

type stubSink struct {
	mu       sync.Mutex
	events   []Event
	closeErr error
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return s.closeErr
}

func (s *stubSink) Stages() []Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Stage
	for _, e := range s.events {
		out = append(out, e.Stage)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	evt := Event{RunID: "run-1", Keyword: "golang", TS: time.Now(), Stage: stage}
	switch stage {
	case StageEntityDone, StageEntitySkipped, StageEntityFailed:
		evt.Entity = "octo/repo"
	}
	return evt
}
