// Package pipeline chains the computation stages of one material run:
// optional structure relaxation, the SCF baseline, the crossing search, and
// the downstream invariant calculation. Each stage gates the next; the first
// failure aborts the run with a StageError naming the stage and kind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/qflowhq/bandscan/internal/geometry"
	"github.com/qflowhq/bandscan/internal/refine"
	"github.com/qflowhq/bandscan/internal/solver"
	"github.com/qflowhq/bandscan/pkg/runstore"
)

// Stage names as persisted to the run ledger.
const (
	StageRelax     = "relax"
	StageSCF       = "scf"
	StageSearch    = "search"
	StageInvariant = "invariant"
)

// Request is one full pipeline run over a single structure.
type Request struct {
	Structure       solver.Structure
	Pseudos         solver.Pseudos
	StartingKPoints geometry.KPointSet
	Params          refine.Params

	// Relax runs structure optimization before the SCF baseline.
	Relax bool

	// Invariant runs the topological-invariant stage over the converged
	// crossing set.
	Invariant bool

	// Resume restores a checkpointed search state instead of starting the
	// refinement loop fresh. Relax and SCF still run; the solver scratch
	// state they produce is what the resumed band jobs restart from.
	Resume *refine.State
}

// Result is the successful outcome: the (possibly relaxed) structure, the
// deduplicated crossing set, and the invariant value when that stage ran.
type Result struct {
	Structure solver.Structure
	Crossings []geometry.Vec3
	Invariant *solver.InvariantResult
}

// Pipeline executes requests. Runner is required; Relaxer and Invariant are
// only consulted when the request asks for their stage. Store is optional
// and receives stage records, search checkpoints, and the final crossing set.
type Pipeline struct {
	Runner    solver.Runner
	Relaxer   solver.Relaxer
	Invariant solver.InvariantRunner
	Store     *runstore.Client
}

// Run executes the stages sequentially and returns on the first failure.
// There is no retry at this level: a failed stage is recorded and surfaced,
// and the caller decides what to re-submit.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if p.Runner == nil {
		return nil, fmt.Errorf("pipeline runner is not configured")
	}

	structure := req.Structure

	if req.Relax {
		started := p.stageRunning(ctx, StageRelax)
		if p.Relaxer == nil {
			return nil, p.fail(ctx, StageRelax, KindRelaxFailed, started, fmt.Errorf("no relaxer configured"))
		}
		relaxed, err := p.Relaxer.Relax(ctx, structure, req.Pseudos)
		if err != nil {
			return nil, p.fail(ctx, StageRelax, KindRelaxFailed, started, err)
		}
		structure = relaxed
		p.stageCompleted(ctx, StageRelax, started)
		log.Printf("[Pipeline] Relax stage completed")
	} else {
		p.stageSkipped(ctx, StageRelax)
	}

	started := p.stageRunning(ctx, StageSCF)
	scf, err := p.Runner.RunSCF(ctx, structure, req.Pseudos, req.StartingKPoints)
	if err != nil {
		return nil, p.fail(ctx, StageSCF, KindSCFFailed, started, err)
	}
	p.stageCompleted(ctx, StageSCF, started)
	log.Printf("[Pipeline] SCF baseline completed (n_electrons=%g, spin_orbit=%t)", scf.NElectrons, scf.SpinOrbit)

	started = p.stageRunning(ctx, StageSearch)
	loop := &refine.Loop{Runner: p.Runner, Store: p.Store}
	crossings, err := loop.Run(ctx, refine.Request{
		Structure:       structure,
		Pseudos:         req.Pseudos,
		Restart:         scf.Restart,
		StartingKPoints: req.StartingKPoints,
		NElectrons:      scf.NElectrons,
		SpinOrbit:       scf.SpinOrbit,
		Params:          req.Params,
		Resume:          req.Resume,
	})
	if err != nil {
		return nil, p.fail(ctx, StageSearch, searchFailureKind(err), started, err)
	}
	p.stageCompleted(ctx, StageSearch, started)
	log.Printf("[Pipeline] Search converged with %d crossings", len(crossings))

	if p.Store != nil {
		if err := p.Store.SaveCrossings(ctx, crossings); err != nil {
			log.Printf("[Pipeline] Failed to save crossings to run ledger: %v", err)
		}
	}

	result := &Result{Structure: structure, Crossings: crossings}

	if req.Invariant {
		started = p.stageRunning(ctx, StageInvariant)
		if p.Invariant == nil {
			return nil, p.fail(ctx, StageInvariant, KindInvariantFailed, started, fmt.Errorf("no invariant runner configured"))
		}
		inv, err := p.Invariant.ComputeInvariant(ctx, structure, crossings, scf.Restart)
		if err != nil {
			return nil, p.fail(ctx, StageInvariant, KindInvariantFailed, started, err)
		}
		result.Invariant = inv
		p.stageCompleted(ctx, StageInvariant, started)
		log.Printf("[Pipeline] Invariant stage completed (%s=%g)", inv.Kind, inv.Value)
	} else {
		p.stageSkipped(ctx, StageInvariant)
	}

	return result, nil
}

// searchFailureKind maps the refinement loop's sentinels onto the failure
// taxonomy. Anything unrecognized is reported as a band-job failure.
func searchFailureKind(err error) FailureKind {
	switch {
	case errors.Is(err, refine.ErrCannotPinpoint):
		return KindCannotPinpoint
	case errors.Is(err, refine.ErrMaxIterations):
		return KindMaxIterations
	case errors.Is(err, geometry.ErrGridTooLarge):
		return KindOutOfMemory
	default:
		return KindNSCFFailed
	}
}

func (p *Pipeline) stageRunning(ctx context.Context, name string) int64 {
	now := time.Now().UnixMilli()
	p.record(ctx, &runstore.StageRecord{
		Name:        name,
		Status:      runstore.StageStatusRunning,
		StartedAtMs: now,
	})
	return now
}

func (p *Pipeline) stageCompleted(ctx context.Context, name string, startedMs int64) {
	p.record(ctx, &runstore.StageRecord{
		Name:         name,
		Status:       runstore.StageStatusCompleted,
		StartedAtMs:  startedMs,
		FinishedAtMs: time.Now().UnixMilli(),
	})
}

func (p *Pipeline) stageSkipped(ctx context.Context, name string) {
	p.record(ctx, &runstore.StageRecord{
		Name:   name,
		Status: runstore.StageStatusSkipped,
	})
}

// fail records the failure in the ledger and wraps it in a StageError.
func (p *Pipeline) fail(ctx context.Context, name string, kind FailureKind, startedMs int64, err error) error {
	p.record(ctx, &runstore.StageRecord{
		Name:         name,
		Status:       runstore.StageStatusFailed,
		FailureKind:  string(kind),
		Message:      err.Error(),
		StartedAtMs:  startedMs,
		FinishedAtMs: time.Now().UnixMilli(),
	})
	log.Printf("[Pipeline] Stage %s failed (%s): %v", name, kind, err)
	return &StageError{Stage: name, Kind: kind, Err: err}
}

// record writes a stage record when a ledger is attached. Ledger failures
// never abort the pipeline.
func (p *Pipeline) record(ctx context.Context, r *runstore.StageRecord) {
	if p.Store == nil {
		return
	}
	if err := p.Store.SetStage(ctx, r); err != nil {
		log.Printf("[Pipeline] Failed to record stage %s: %v", r.Name, err)
	}
}
