// Package refine drives the adaptive mesh-refinement search: an explicit
// state machine that submits band jobs over a k-point set, classifies the
// resulting gaps, and refines a tighter local grid around the ambiguous
// points until the crossing set converges or the distance floor is reached.
package refine

import (
	"fmt"

	"github.com/qflowhq/bandscan/internal/bands"
	"github.com/qflowhq/bandscan/internal/geometry"
)

// Phase is the state of the refinement machine. The machine starts in
// PhaseIterate and moves to exactly one terminal phase.
type Phase string

const (
	// PhaseIterate means another refinement iteration should run.
	PhaseIterate Phase = "iterate"

	// PhaseConverged means the loop stopped with a non-empty crossing set.
	PhaseConverged Phase = "converged"

	// PhaseStuck means the loop stopped because an iteration retained no
	// points at all, and no crossing was ever found.
	PhaseStuck Phase = "stuck"

	// PhaseExhausted means the k-point distance dropped below its floor
	// with no crossing ever found.
	PhaseExhausted Phase = "exhausted"
)

// Params are the caller-supplied knobs of the search. Distances are k-point
// spacings in reciprocal space, thresholds are energy gaps.
type Params struct {
	StartingDistance float64 `json:"starting_kpoints_distance"`
	MinDistance      float64 `json:"min_kpoints_distance"`
	DistanceScale    float64 `json:"kpoints_distance_scale"`

	StartingThreshold float64 `json:"starting_gap_threshold"`
	MinThreshold      float64 `json:"min_gap_threshold"`
	ThresholdScale    float64 `json:"gap_threshold_scale"`
}

// Validate checks the parameters for a search that can terminate.
// Scales must exceed 1 so that both the spacing and the threshold actually
// shrink between iterations.
func (p Params) Validate() error {
	if p.MinDistance <= 0 {
		return fmt.Errorf("min_kpoints_distance must be positive, got %g", p.MinDistance)
	}
	if p.StartingDistance < p.MinDistance {
		return fmt.Errorf("starting_kpoints_distance %g is below min_kpoints_distance %g", p.StartingDistance, p.MinDistance)
	}
	if p.DistanceScale <= 1 {
		return fmt.Errorf("kpoints_distance_scale must be > 1, got %g", p.DistanceScale)
	}
	if p.MinThreshold <= 0 {
		return fmt.Errorf("min_gap_threshold must be positive, got %g", p.MinThreshold)
	}
	if p.StartingThreshold < p.MinThreshold {
		return fmt.Errorf("starting_gap_threshold %g is below min_gap_threshold %g", p.StartingThreshold, p.MinThreshold)
	}
	if p.ThresholdScale <= 1 {
		return fmt.Errorf("gap_threshold_scale must be > 1, got %g", p.ThresholdScale)
	}
	return nil
}

// State is the complete, serializable state of one refinement run. It is a
// value: each iteration consumes the previous state and produces the next,
// so any snapshot can be persisted and resumed from.
type State struct {
	Iteration int `json:"iteration"`

	Distance      float64 `json:"kpoints_distance"`
	MinDistance   float64 `json:"min_kpoints_distance"`
	DistanceScale float64 `json:"kpoints_distance_scale"`

	Threshold      float64 `json:"gap_threshold"`
	MinThreshold   float64 `json:"min_gap_threshold"`
	ThresholdScale float64 `json:"gap_threshold_scale"`

	Dim            int `json:"dimensionality"`
	ValenceBand    int `json:"valence_band"`
	ConductionBand int `json:"conduction_band"`

	// Continue is cleared when an iteration retains no points, which makes
	// further refinement impossible: there is no frontier to subdivide.
	Continue bool `json:"continue"`

	// FloorReached is set when the next spacing step would drop below
	// MinDistance. The spacing itself is clamped at the floor.
	FloorReached bool `json:"floor_reached"`

	// Results accumulates one classification per completed iteration.
	Results []bands.Classification `json:"results"`
}

// NewState initializes the machine from search parameters, the mesh
// dimensionality, and the band index pair derived from the baseline
// calculation.
func NewState(p Params, dim, vb, cb int) State {
	return State{
		Distance:       p.StartingDistance,
		MinDistance:    p.MinDistance,
		DistanceScale:  p.DistanceScale,
		Threshold:      p.StartingThreshold,
		MinThreshold:   p.MinThreshold,
		ThresholdScale: p.ThresholdScale,
		Dim:            dim,
		ValenceBand:    vb,
		ConductionBand: cb,
		Continue:       true,
	}
}

// Phase is the transition function of the machine: it decides, from the
// current state alone, whether to iterate again or which terminal phase the
// run ended in.
func (s State) Phase() Phase {
	if s.Continue && !s.FloorReached {
		return PhaseIterate
	}

	if len(s.Crossings()) > 0 {
		// A non-empty crossing set is success no matter how the loop
		// stopped, including hitting the distance floor.
		return PhaseConverged
	}
	if !s.Continue {
		return PhaseStuck
	}
	return PhaseExhausted
}

// Step folds one iteration's classification into the state: it appends the
// result, advances the counter, tightens the spacing and the threshold, and
// clears Continue if the iteration retained nothing. Both the spacing and the
// threshold are clamped at their floors, never below; a spacing step that
// would cross the floor sets FloorReached instead, which ends the loop.
//
// An empty iteration ends the search immediately, even the first one: an
// empty frontier leaves nothing to refine around.
func (s *State) Step(result bands.Classification) {
	s.Results = append(s.Results, result)
	s.Iteration++

	if next := s.Distance / s.DistanceScale; next < s.MinDistance {
		s.Distance = s.MinDistance
		s.FloorReached = true
	} else {
		s.Distance = next
	}
	s.Threshold = max(s.Threshold/s.ThresholdScale, s.MinThreshold)

	if result.Size() == 0 {
		s.Continue = false
	}
}

// Frontier returns the pinned points of the last completed iteration, the
// centers the next local grid is generated around.
func (s State) Frontier() []geometry.Vec3 {
	if len(s.Results) == 0 {
		return nil
	}
	return s.Results[len(s.Results)-1].Pinned
}

// Crossings aggregates the found points of every iteration so far into the
// deduplicated crossing set.
func (s State) Crossings() []geometry.Vec3 {
	return bands.MergeCrossings(s.Results)
}
