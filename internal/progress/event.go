// Package progress defines the event stream emitted by the capture pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart   Stage = "BATCH_START"
	StageBatchDone    Stage = "BATCH_DONE"
	StageTargetStart  Stage = "TARGET_START"
	StageTargetDone   Stage = "TARGET_DONE"
	StageTargetError  Stage = "TARGET_ERROR"
	StageRegionKept   Stage = "REGION_KEPT"
	StageFallbackUsed Stage = "FALLBACK_USED"
)

// Event captures a single pipeline milestone.
type Event struct {
	// ToolID scopes target and region events to one catalog entry. Batch
	// events leave it empty.
	ToolID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Region labels REGION_KEPT events (hero, features, pricing, fullpage).
	Region string
	// Bytes carries the stored asset size for region and target events.
	Bytes int64
	// Dur captures wall time for target completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone:
	case StageTargetStart, StageTargetDone, StageTargetError, StageFallbackUsed:
		if e.ToolID == "" {
			return fmt.Errorf("%s requires tool id", e.Stage)
		}
	case StageRegionKept:
		if e.ToolID == "" {
			return errors.New("region event requires tool id")
		}
		if e.Region == "" {
			return errors.New("region event requires region")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
