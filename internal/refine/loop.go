package refine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/qflowhq/bandscan/internal/bands"
	"github.com/qflowhq/bandscan/internal/geometry"
	"github.com/qflowhq/bandscan/internal/solver"
	"github.com/qflowhq/bandscan/pkg/runstore"
)

// ErrJobFailed wraps any band-job failure inside the loop. Cancellation and
// timeout from the job layer surface through it identically; the loop never
// retries.
var ErrJobFailed = errors.New("band-structure job failed")

// ErrCannotPinpoint is the STUCK outcome: the loop stopped because an
// iteration retained no points, and no crossing was ever found.
var ErrCannotPinpoint = errors.New("cannot localize low-gap region: no crossings found")

// ErrMaxIterations is the EXHAUSTED outcome: the k-point distance floor was
// reached without ever finding a crossing.
var ErrMaxIterations = errors.New("iteration budget exceeded without convergence")

// Request carries everything one refinement run needs. Resume, when set,
// restores a previously checkpointed state instead of starting fresh.
type Request struct {
	Structure solver.Structure
	Pseudos   solver.Pseudos

	// Restart is the baseline calculation's scratch handle, reused by
	// every band job.
	Restart *solver.RestartHandle

	// StartingKPoints is the mesh submitted on the first iteration.
	StartingKPoints geometry.KPointSet

	// NElectrons and SpinOrbit come from the baseline calculation and
	// determine the valence/conduction band pair.
	NElectrons float64
	SpinOrbit  bool

	Params Params
	Resume *State
}

// Loop runs the refinement search. Store is optional; when present, the
// state is checkpointed to the run ledger after every iteration and an
// iteration event is published for live monitoring.
type Loop struct {
	Runner solver.Runner
	Store  *runstore.Client
}

// Run executes the search to a terminal phase and returns the crossing set.
// Each iteration is strictly sequential: the band job is the single blocking
// point, and its failure (including cancellation) aborts the whole loop.
func (l *Loop) Run(ctx context.Context, req Request) ([]geometry.Vec3, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}

	var state State
	if req.Resume != nil {
		state = *req.Resume
		log.Printf("[Refine] Resuming from iteration %d", state.Iteration)
	} else {
		vb, cb := bands.BandIndices(req.NElectrons, req.SpinOrbit)
		dim := req.StartingKPoints.Dimensionality()
		state = NewState(req.Params, dim, vb, cb)
		log.Printf("[Refine] Starting loop to find band crossings (dim=%d, vb=%d, cb=%d)", dim, vb, cb)
	}

	for state.Phase() == PhaseIterate {
		points, err := l.iterationPoints(&state, req)
		if err != nil {
			return nil, err
		}
		if len(points) == 0 {
			// Only found, no pinned points left: nothing to refine around.
			state.Step(bands.Classification{})
			l.checkpoint(ctx, &state, bands.Classification{})
			continue
		}

		energies, err := l.Runner.RunBands(ctx, req.Structure, req.Pseudos, points, req.Restart)
		if err != nil {
			return nil, fmt.Errorf("%w on iteration %d: %w", ErrJobFailed, state.Iteration+1, err)
		}

		threshold := state.Threshold
		result, err := bands.Classify(energies, state.ValenceBand, state.ConductionBand, threshold, state.MinThreshold)
		if err != nil {
			return nil, fmt.Errorf("classification failed on iteration %d: %w", state.Iteration+1, err)
		}

		state.Step(result)

		if result.Size() > 0 {
			log.Printf("[Refine] %d points found with gap below threshold %g", result.Size(), threshold)
			log.Printf("[Refine] Gap threshold reduced to %g", state.Threshold)
			log.Printf("[Refine] K-point distance reduced to %g", state.Distance)
		} else {
			log.Printf("[Refine] No points with small gap found on iteration %d", state.Iteration)
		}

		l.checkpoint(ctx, &state, result)
	}

	switch state.Phase() {
	case PhaseStuck:
		return nil, ErrCannotPinpoint
	case PhaseExhausted:
		return nil, ErrMaxIterations
	}

	crossings := state.Crossings()
	log.Printf("[Refine] Converged with %d crossings after %d iterations", len(crossings), state.Iteration)
	return crossings, nil
}

// iterationPoints builds the k-point list for the upcoming iteration: the
// caller-supplied starting mesh first, then local grids around the previous
// iteration's pinned frontier.
func (l *Loop) iterationPoints(state *State, req Request) ([]geometry.Vec3, error) {
	if state.Iteration == 0 {
		points, err := req.StartingKPoints.Points()
		if err != nil {
			return nil, fmt.Errorf("failed to expand starting k-points: %w", err)
		}
		return points, nil
	}

	points, err := geometry.LocalGrid(state.Frontier(), state.Distance, state.Dim)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refinement grid: %w", err)
	}
	return points, nil
}

// checkpoint persists the state snapshot and publishes the iteration event.
// Ledger failures are logged and do not abort the search.
func (l *Loop) checkpoint(ctx context.Context, state *State, result bands.Classification) {
	if l.Store == nil {
		return
	}

	snapshot, err := json.Marshal(state)
	if err != nil {
		log.Printf("[Refine] Failed to marshal state snapshot: %v", err)
		return
	}
	if err := l.Store.SaveCheckpoint(ctx, state.Iteration, snapshot); err != nil {
		log.Printf("[Refine] Failed to save checkpoint: %v", err)
	}

	ev := &runstore.IterationEvent{
		Iteration: state.Iteration,
		NumPinned: len(result.Pinned),
		NumFound:  len(result.Found),
		Distance:  state.Distance,
		Threshold: state.Threshold,
	}
	if err := l.Store.PublishIteration(ctx, ev); err != nil {
		log.Printf("[Refine] Failed to publish iteration event: %v", err)
	}
}
