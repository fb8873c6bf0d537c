package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/contributor-crawler/internal/progress"
)

// LogSink writes one structured line per unit boundary.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("keyword", evt.Keyword),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRangeStart, progress.StageRangeDone, progress.StageRangeSkipped:
			fields = append(fields,
				zap.Int("sub_range", evt.SubRange),
				zap.Int("sub_ranges", evt.SubRanges),
				zap.Int("entities", evt.Entities),
			)
		case progress.StageEntityDone, progress.StageEntitySkipped, progress.StageEntityFailed:
			fields = append(fields,
				zap.Int("sub_range", evt.SubRange),
				zap.String("entity", evt.Entity),
				zap.Int("inserted", evt.Inserted),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt.Stage), "progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageRangeSkipped, progress.StageEntityFailed, progress.StageRunSuspended:
		return zapcore.WarnLevel
	case progress.StageEntityDone, progress.StageEntitySkipped, progress.StageRangeStart:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
