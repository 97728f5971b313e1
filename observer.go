package linkage

import (
	"time"

	"github.com/phil-mansfield/linkage/material"
)

// StepEvent describes one completed coupling step.
type StepEvent struct {
	// Step counts completed steps, starting at 1.
	Step int
	// TimeYears is the clock after the step.
	TimeYears, DtYears float64

	RequestedSeconds, ActualSeconds float64
	Checkpoint                      bool

	Materials material.Stats
	Elapsed   time.Duration
}

// CheckpointEvent describes one fired checkpoint.
type CheckpointEvent struct {
	Index     int
	TimeYears float64
	// Transitions is the number of material identifiers rewritten since the
	// previous checkpoint.
	Transitions int
}

// Observer is notified as a Model runs. Checkpoint errors halt the run in
// the same way that a failing CheckpointFunc does.
type Observer interface {
	Step(ev StepEvent)
	Checkpoint(ev CheckpointEvent) error
}
