package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRunSuspended  Stage = "RUN_SUSPENDED"
	StageRangeStart    Stage = "RANGE_START"
	StageRangeDone     Stage = "RANGE_DONE"
	StageRangeSkipped  Stage = "RANGE_SKIPPED"
	StageEntityDone    Stage = "ENTITY_DONE"
	StageEntitySkipped Stage = "ENTITY_SKIPPED"
	StageEntityFailed  Stage = "ENTITY_FAILED"
)

// Event captures a single milestone of a crawl run.
type Event struct {
	// RunID identifies the run; it survives resumption.
	RunID string
	// Keyword is the search keyword the run belongs to.
	Keyword string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// SubRange is the zero-based sub-range index for range and entity events.
	SubRange int
	// SubRanges is the plan length.
	SubRanges int
	// Entity names the repository for entity events.
	Entity string
	// Entities counts entities fetched for a range.
	Entities int
	// Inserted counts new sub-records written for an entity.
	Inserted int
	// Dur captures elapsed time for completed runs and ranges.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunSuspended:
	case StageRangeStart, StageRangeDone, StageRangeSkipped:
		if e.SubRange < 0 {
			return errors.New("range events require a sub-range index")
		}
	case StageEntityDone, StageEntitySkipped, StageEntityFailed:
		if e.Entity == "" {
			return fmt.Errorf("%s requires entity", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
