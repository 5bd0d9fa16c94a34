package pipeline

import "fmt"

// FailureKind identifies which class of failure aborted the pipeline. The
// values are stable strings; they are persisted to the run ledger and shown
// to the user, so a caller can decide what to re-submit.
type FailureKind string

const (
	KindRelaxFailed     FailureKind = "RELAX_FAILED"
	KindSCFFailed       FailureKind = "SCF_FAILED"
	KindNSCFFailed      FailureKind = "NSCF_FAILED"
	KindCannotPinpoint  FailureKind = "CANNOT_PINPOINT"
	KindMaxIterations   FailureKind = "MAX_ITERATIONS"
	KindOutOfMemory     FailureKind = "OUT_OF_MEMORY"
	KindInvariantFailed FailureKind = "INVARIANT_FAILED"
)

// StageError wraps a stage failure with the stage's name and failure kind.
// The pipeline aborts on the first StageError; nothing downstream runs.
type StageError struct {
	Stage string
	Kind  FailureKind
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stage %s failed (%s)", e.Stage, e.Kind)
	}
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
