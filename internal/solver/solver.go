// Package solver defines the contract between the crossing-search core and
// the external electronic-structure code, plus a Docker-backed implementation
// that runs the solver image as a one-shot container per job.
//
// The core treats every job as opaque: submit inputs, block until the job
// finishes, get a result or a failure. There is no retry anywhere in this
// package; a cancelled or timed-out job is reported as a plain failure.
package solver

import (
	"context"

	"github.com/qflowhq/bandscan/internal/bands"
	"github.com/qflowhq/bandscan/internal/geometry"
)

// Mode selects the calculation a job performs.
type Mode string

const (
	// ModeSCF is the self-consistent baseline calculation.
	ModeSCF Mode = "scf"

	// ModeBands is the non-self-consistent band calculation over an
	// explicit k-point list, restarting from an SCF scratch directory.
	ModeBands Mode = "nscf"

	// ModeRelax is the structure optimization calculation.
	ModeRelax Mode = "relax"

	// ModeInvariant is the topological-invariant calculation over a
	// converged crossing set.
	ModeInvariant Mode = "invariant"
)

// Site is one atomic site of a crystal structure, in fractional coordinates.
type Site struct {
	Species  string        `json:"species"`
	Position geometry.Vec3 `json:"position"`
}

// Structure is an immutable crystal structure: lattice basis vectors as rows
// plus the atomic sites.
type Structure struct {
	Lattice [3][3]float64 `json:"lattice"`
	Sites   []Site        `json:"sites"`
}

// Pseudos maps a species name to its pseudopotential identifier.
type Pseudos map[string]string

// RestartHandle points at the persistent scratch state left behind by an SCF
// run. Band jobs reuse it as their restart point instead of re-converging the
// charge density.
type RestartHandle struct {
	Dir string `json:"dir"`
}

// SCFResult is the outcome of the baseline calculation: the quantities the
// search loop needs to derive band indices, plus the restart handle.
type SCFResult struct {
	NElectrons float64        `json:"n_electrons"`
	SpinOrbit  bool           `json:"spin_orbit"`
	Restart    *RestartHandle `json:"restart"`
}

// InvariantResult is the opaque outcome of the downstream invariant stage.
type InvariantResult struct {
	Kind  string  `json:"kind"` // "chern" or "z2"
	Value float64 `json:"value"`
}

// Runner submits electronic-structure jobs and blocks until they complete.
// Implementations must treat cancellation of ctx as a job failure.
type Runner interface {
	// RunSCF performs the baseline self-consistent calculation.
	RunSCF(ctx context.Context, s Structure, pseudos Pseudos, kpoints geometry.KPointSet) (*SCFResult, error)

	// RunBands computes band energies at an explicit list of k-points,
	// restarting from an earlier SCF run.
	RunBands(ctx context.Context, s Structure, pseudos Pseudos, kpoints []geometry.Vec3, restart *RestartHandle) (*bands.Energies, error)
}

// Relaxer performs structure optimization.
type Relaxer interface {
	Relax(ctx context.Context, s Structure, pseudos Pseudos) (Structure, error)
}

// InvariantRunner computes a topological invariant from a structure and its
// converged crossing set.
type InvariantRunner interface {
	ComputeInvariant(ctx context.Context, s Structure, crossings []geometry.Vec3, restart *RestartHandle) (*InvariantResult, error)
}
