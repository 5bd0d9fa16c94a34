package runstore

import "fmt"

// StageStatus is the lifecycle state of one pipeline stage.
type StageStatus string

const (
	// StageStatusPending means the stage has not started yet.
	StageStatusPending StageStatus = "pending"

	// StageStatusRunning means the stage is currently executing.
	StageStatusRunning StageStatus = "running"

	// StageStatusCompleted means the stage finished successfully.
	StageStatusCompleted StageStatus = "completed"

	// StageStatusFailed means the stage failed and aborted the pipeline.
	StageStatusFailed StageStatus = "failed"

	// StageStatusSkipped means the stage was not requested for this run.
	StageStatusSkipped StageStatus = "skipped"
)

// Validate checks that the status is one of the known values.
func (s StageStatus) Validate() error {
	switch s {
	case StageStatusPending, StageStatusRunning, StageStatusCompleted, StageStatusFailed, StageStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid stage status: %s", s)
	}
}

// StageRecord is the persisted state of one pipeline stage. FailureKind and
// Message are only set when the stage failed, so a caller inspecting the
// ledger can see which sub-stage to re-submit.
type StageRecord struct {
	Name         string      `json:"name"`
	Status       StageStatus `json:"status"`
	FailureKind  string      `json:"failure_kind,omitempty"`
	Message      string      `json:"message,omitempty"`
	StartedAtMs  int64       `json:"started_at_ms,omitempty"`
	FinishedAtMs int64       `json:"finished_at_ms,omitempty"`
}

// Validate checks required fields before the record is written.
func (r *StageRecord) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	return r.Status.Validate()
}

// IterationEvent is published after every refinement iteration. It carries
// enough to render live progress without reading the full checkpoint.
type IterationEvent struct {
	RunName     string  `json:"run_name"`
	Iteration   int     `json:"iteration"`
	NumPinned   int     `json:"num_pinned"`
	NumFound    int     `json:"num_found"`
	Distance    float64 `json:"kpoints_distance"`
	Threshold   float64 `json:"gap_threshold"`
	CreatedAtMs int64   `json:"created_at_ms"`
}
