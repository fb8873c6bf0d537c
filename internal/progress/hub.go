package progress

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const defaultSinkTimeout = 5 * time.Second

// Config controls sink delivery for the Hub.
//   - SinkTimeout: per-sink timeout for each delivery (default 5s).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

// Hub fans events out to registered sinks in the caller's goroutine. A sink
// failure is logged and never reaches the emitter. A nil *Hub discards events.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger
}

// NewHub returns a Hub delivering to sinks in registration order.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Hub{cfg: cfg, sinks: kept, logger: logger}
}

// Emit validates evt and hands it to every sink. Invalid events are dropped.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	batch := []Event{evt}
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.String("stage", string(evt.Stage)), zap.Error(err))
		}
		cancel()
	}
}

// Close closes every sink and joins their errors.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	var errs []error
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
