package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qflowhq/bandscan/internal/bands"
	"github.com/qflowhq/bandscan/internal/geometry"
	"github.com/qflowhq/bandscan/internal/refine"
	"github.com/qflowhq/bandscan/internal/solver"
	"github.com/qflowhq/bandscan/pkg/runstore"
)

// fakeRunner serves one SCF result and a fixed gap value for every band job.
// A gap below the min threshold converges the search on the second pass; a
// gap above the current threshold makes it stuck on the first.
type fakeRunner struct {
	scfResult *solver.SCFResult
	scfErr    error
	bandsGap  float64
	bandsErr  error

	scfStructures []solver.Structure
	bandsCalls    int
}

func (f *fakeRunner) RunSCF(ctx context.Context, s solver.Structure, p solver.Pseudos, k geometry.KPointSet) (*solver.SCFResult, error) {
	f.scfStructures = append(f.scfStructures, s)
	if f.scfErr != nil {
		return nil, f.scfErr
	}
	return f.scfResult, nil
}

func (f *fakeRunner) RunBands(ctx context.Context, s solver.Structure, p solver.Pseudos, kpoints []geometry.Vec3, restart *solver.RestartHandle) (*bands.Energies, error) {
	f.bandsCalls++
	if f.bandsErr != nil {
		return nil, f.bandsErr
	}
	e := &bands.Energies{KPoints: kpoints}
	for range kpoints {
		e.Values = append(e.Values, []float64{0, f.bandsGap})
	}
	return e, nil
}

type fakeRelaxer struct {
	relaxed solver.Structure
	err     error
	calls   int
}

func (f *fakeRelaxer) Relax(ctx context.Context, s solver.Structure, p solver.Pseudos) (solver.Structure, error) {
	f.calls++
	if f.err != nil {
		return solver.Structure{}, f.err
	}
	return f.relaxed, nil
}

type fakeInvariant struct {
	result *solver.InvariantResult
	err    error

	crossings []geometry.Vec3
}

func (f *fakeInvariant) ComputeInvariant(ctx context.Context, s solver.Structure, crossings []geometry.Vec3, restart *solver.RestartHandle) (*solver.InvariantResult, error) {
	f.crossings = crossings
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testStructure() solver.Structure {
	return solver.Structure{
		Lattice: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Sites:   []solver.Site{{Species: "Bi", Position: geometry.Vec3{0, 0, 0}}},
	}
}

func convergingRunner() *fakeRunner {
	return &fakeRunner{
		scfResult: &solver.SCFResult{
			NElectrons: 2,
			Restart:    &solver.RestartHandle{Dir: "/scratch/scf"},
		},
		bandsGap: 0.0005,
	}
}

func testRequest() Request {
	return Request{
		Structure:       testStructure(),
		Pseudos:         solver.Pseudos{"Bi": "Bi.upf"},
		StartingKPoints: geometry.MeshSet(2, 2, 1),
		Params: refine.Params{
			StartingDistance:  0.05,
			MinDistance:       1e-4,
			DistanceScale:     2.0,
			StartingThreshold: 0.3,
			MinThreshold:      0.001,
			ThresholdScale:    5.0,
		},
	}
}

func setupStore(t *testing.T) *runstore.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := runstore.NewClient(&redis.Options{Addr: mr.Addr()}, "pipeline-test")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func requireStage(t *testing.T, store *runstore.Client, name string, status runstore.StageStatus) *runstore.StageRecord {
	t.Helper()
	rec, err := store.GetStage(context.Background(), name)
	require.NoError(t, err)
	require.Equal(t, status, rec.Status, "stage %s", name)
	return rec
}

func TestPipelineHappyPath(t *testing.T) {
	runner := convergingRunner()
	store := setupStore(t)
	p := &Pipeline{Runner: runner, Store: store}

	result, err := p.Run(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, result)

	// Every starting-mesh point is a crossing at gap 0.0005.
	assert.Len(t, result.Crossings, 4)
	assert.Equal(t, testStructure(), result.Structure)
	assert.Nil(t, result.Invariant)

	requireStage(t, store, StageRelax, runstore.StageStatusSkipped)
	requireStage(t, store, StageSCF, runstore.StageStatusCompleted)
	requireStage(t, store, StageSearch, runstore.StageStatusCompleted)
	requireStage(t, store, StageInvariant, runstore.StageStatusSkipped)

	saved, err := store.GetCrossings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.Crossings, saved)
}

func TestPipelineRelax(t *testing.T) {
	t.Run("relaxed structure feeds the SCF stage", func(t *testing.T) {
		runner := convergingRunner()
		relaxed := testStructure()
		relaxed.Lattice[0][0] = 1.02
		relaxer := &fakeRelaxer{relaxed: relaxed}

		p := &Pipeline{Runner: runner, Relaxer: relaxer}
		req := testRequest()
		req.Relax = true

		result, err := p.Run(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 1, relaxer.calls)
		require.Len(t, runner.scfStructures, 1)
		assert.Equal(t, relaxed, runner.scfStructures[0])
		assert.Equal(t, relaxed, result.Structure)
	})

	t.Run("relax failure aborts before SCF", func(t *testing.T) {
		runner := convergingRunner()
		relaxer := &fakeRelaxer{err: errors.New("relaxation diverged")}
		store := setupStore(t)

		p := &Pipeline{Runner: runner, Relaxer: relaxer, Store: store}
		req := testRequest()
		req.Relax = true

		_, err := p.Run(context.Background(), req)
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageRelax, stageErr.Stage)
		assert.Equal(t, KindRelaxFailed, stageErr.Kind)
		assert.Empty(t, runner.scfStructures)

		rec := requireStage(t, store, StageRelax, runstore.StageStatusFailed)
		assert.Equal(t, string(KindRelaxFailed), rec.FailureKind)
		assert.Contains(t, rec.Message, "relaxation diverged")
	})

	t.Run("relax requested without a relaxer", func(t *testing.T) {
		p := &Pipeline{Runner: convergingRunner()}
		req := testRequest()
		req.Relax = true

		_, err := p.Run(context.Background(), req)
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, KindRelaxFailed, stageErr.Kind)
	})
}

func TestPipelineSCFFailure(t *testing.T) {
	runner := convergingRunner()
	runner.scfErr = errors.New("scf did not converge")
	store := setupStore(t)

	p := &Pipeline{Runner: runner, Store: store}
	_, err := p.Run(context.Background(), testRequest())

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageSCF, stageErr.Stage)
	assert.Equal(t, KindSCFFailed, stageErr.Kind)
	assert.Zero(t, runner.bandsCalls)

	requireStage(t, store, StageSCF, runstore.StageStatusFailed)
}

func TestPipelineSearchFailures(t *testing.T) {
	t.Run("stuck search reports CANNOT_PINPOINT", func(t *testing.T) {
		runner := convergingRunner()
		runner.bandsGap = 0.5 // above every threshold: nothing ever retained

		p := &Pipeline{Runner: runner}
		_, err := p.Run(context.Background(), testRequest())

		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageSearch, stageErr.Stage)
		assert.Equal(t, KindCannotPinpoint, stageErr.Kind)
		assert.ErrorIs(t, err, refine.ErrCannotPinpoint)
	})

	t.Run("exhausted search reports MAX_ITERATIONS", func(t *testing.T) {
		runner := convergingRunner()
		runner.bandsGap = 0.01 // pinned forever, never a crossing

		req := testRequest()
		req.Params.StartingDistance = 0.04
		req.Params.MinDistance = 0.01

		p := &Pipeline{Runner: runner}
		_, err := p.Run(context.Background(), req)

		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, KindMaxIterations, stageErr.Kind)
	})

	t.Run("band job failure reports NSCF_FAILED", func(t *testing.T) {
		runner := convergingRunner()
		runner.bandsErr = errors.New("container exited with status 1")

		p := &Pipeline{Runner: runner}
		_, err := p.Run(context.Background(), testRequest())

		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, KindNSCFFailed, stageErr.Kind)
	})

	t.Run("oversized starting mesh reports OUT_OF_MEMORY", func(t *testing.T) {
		runner := convergingRunner()

		req := testRequest()
		req.StartingKPoints = geometry.MeshSet(200, 200, 200)

		p := &Pipeline{Runner: runner}
		_, err := p.Run(context.Background(), req)

		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageSearch, stageErr.Stage)
		assert.Equal(t, KindOutOfMemory, stageErr.Kind)
		assert.ErrorIs(t, err, geometry.ErrGridTooLarge)
		assert.Zero(t, runner.bandsCalls)
	})
}

func TestPipelineInvariant(t *testing.T) {
	t.Run("invariant stage receives the crossing set", func(t *testing.T) {
		runner := convergingRunner()
		inv := &fakeInvariant{result: &solver.InvariantResult{Kind: "chern", Value: 1}}

		p := &Pipeline{Runner: runner, Invariant: inv}
		req := testRequest()
		req.Invariant = true

		result, err := p.Run(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, result.Invariant)
		assert.Equal(t, "chern", result.Invariant.Kind)
		assert.Equal(t, result.Crossings, inv.crossings)
	})

	t.Run("invariant failure reports INVARIANT_FAILED", func(t *testing.T) {
		runner := convergingRunner()
		inv := &fakeInvariant{err: errors.New("wannier run failed")}
		store := setupStore(t)

		p := &Pipeline{Runner: runner, Invariant: inv, Store: store}
		req := testRequest()
		req.Invariant = true

		_, err := p.Run(context.Background(), req)
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageInvariant, stageErr.Stage)
		assert.Equal(t, KindInvariantFailed, stageErr.Kind)

		// The crossings still made it to the ledger before the failure.
		saved, storeErr := store.GetCrossings(context.Background())
		require.NoError(t, storeErr)
		assert.Len(t, saved, 4)
	})
}

func TestStageError(t *testing.T) {
	inner := errors.New("boom")
	err := &StageError{Stage: StageSCF, Kind: KindSCFFailed, Err: inner}

	assert.Contains(t, err.Error(), "scf")
	assert.Contains(t, err.Error(), "SCF_FAILED")
	assert.ErrorIs(t, err, inner)
}
