package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReciprocalBasis(t *testing.T) {
	t.Run("identity lattice maps to 2*pi*identity", func(t *testing.T) {
		lattice := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

		recipr, err := ReciprocalBasis(lattice)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				want := 0.0
				if i == j {
					want = 2 * math.Pi
				}
				assert.InDelta(t, want, recipr.At(i, j), 1e-12)
			}
		}
	})

	t.Run("scaled lattice inverts the scale", func(t *testing.T) {
		lattice := [3][3]float64{{2, 0, 0}, {0, 4, 0}, {0, 0, 1}}

		recipr, err := ReciprocalBasis(lattice)
		require.NoError(t, err)

		assert.InDelta(t, math.Pi, recipr.At(0, 0), 1e-12)
		assert.InDelta(t, math.Pi/2, recipr.At(1, 1), 1e-12)
		assert.InDelta(t, 2*math.Pi, recipr.At(2, 2), 1e-12)
	})

	t.Run("transposes the inverse", func(t *testing.T) {
		// Non-symmetric lattice so the transpose is observable.
		lattice := [3][3]float64{{1, 1, 0}, {0, 1, 0}, {0, 0, 1}}

		recipr, err := ReciprocalBasis(lattice)
		require.NoError(t, err)

		// inv(L) has -1 at (0,1); the transpose moves it to (1,0).
		assert.InDelta(t, -2*math.Pi, recipr.At(1, 0), 1e-12)
		assert.InDelta(t, 0, recipr.At(0, 1), 1e-12)
	})

	t.Run("rejects singular lattice", func(t *testing.T) {
		lattice := [3][3]float64{{1, 0, 0}, {1, 0, 0}, {0, 0, 1}}

		_, err := ReciprocalBasis(lattice)
		assert.Error(t, err)
	})
}

func TestMeshDimensionality(t *testing.T) {
	tests := []struct {
		name   string
		counts [3]int
		want   int
	}{
		{"3D mesh", [3]int{6, 6, 6}, 3},
		{"2D slab mesh", [3]int{6, 6, 1}, 2},
		{"1D line mesh", [3]int{12, 1, 1}, 1},
		{"single point", [3]int{1, 1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MeshDimensionality(tt.counts))
		})
	}
}

func TestKPointSetPoints(t *testing.T) {
	t.Run("expands a regular mesh", func(t *testing.T) {
		set := MeshSet(2, 2, 1)

		points, err := set.Points()
		require.NoError(t, err)
		require.Len(t, points, 4)

		assert.Equal(t, Vec3{0, 0, 0}, points[0])
		assert.Equal(t, Vec3{0, 0.5, 0}, points[1])
		assert.Equal(t, Vec3{0.5, 0, 0}, points[2])
		assert.Equal(t, Vec3{0.5, 0.5, 0}, points[3])
	})

	t.Run("applies per-axis offsets", func(t *testing.T) {
		set := KPointSet{Mesh: [3]int{2, 1, 1}, Offset: [3]float64{0.5, 0, 0}}

		points, err := set.Points()
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, Vec3{0.25, 0, 0}, points[0])
		assert.Equal(t, Vec3{0.75, 0, 0}, points[1])
	})

	t.Run("explicit set is returned as-is", func(t *testing.T) {
		pts := []Vec3{{0.1, 0.2, 0.3}}
		set := ExplicitSet(pts)

		points, err := set.Points()
		require.NoError(t, err)
		assert.Equal(t, pts, points)
		assert.False(t, set.IsMesh())
	})

	t.Run("oversized mesh fails with ErrGridTooLarge", func(t *testing.T) {
		set := MeshSet(2000, 2000, 2000)

		_, err := set.Points()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrGridTooLarge)
	})

	t.Run("rejects non-positive mesh counts", func(t *testing.T) {
		set := MeshSet(0, 4, 4)

		_, err := set.Points()
		assert.Error(t, err)
	})
}

func TestLocalGrid(t *testing.T) {
	t.Run("single center yields full cubic grid", func(t *testing.T) {
		grid, err := LocalGrid([]Vec3{{0, 0, 0}}, 0.1, 3)
		require.NoError(t, err)
		assert.Len(t, grid, 8*8*8)

		// Every coordinate is an odd half-multiple of the spacing.
		for _, p := range grid {
			for axis := 0; axis < 3; axis++ {
				steps := p[axis] / 0.1
				assert.InDelta(t, 0.5, math.Abs(steps-math.Trunc(steps)), 1e-9)
				assert.LessOrEqual(t, math.Abs(p[axis]), 0.35+1e-9)
			}
		}
	})

	t.Run("dimensionality pins trailing axes to zero", func(t *testing.T) {
		grid2d, err := LocalGrid([]Vec3{{0, 0, 0}}, 0.1, 2)
		require.NoError(t, err)
		assert.Len(t, grid2d, 8*8)
		for _, p := range grid2d {
			assert.Zero(t, p[2])
		}

		grid1d, err := LocalGrid([]Vec3{{0, 0, 0}}, 0.1, 1)
		require.NoError(t, err)
		assert.Len(t, grid1d, 8)
		for _, p := range grid1d {
			assert.Zero(t, p[1])
			assert.Zero(t, p[2])
		}
	})

	t.Run("is deterministic and idempotent", func(t *testing.T) {
		centers := []Vec3{{0, 0, 0}, {0.05, 0.05, 0}, {0.9, 0.9, 0.9}}

		first, err := LocalGrid(centers, 0.02, 3)
		require.NoError(t, err)
		second, err := LocalGrid(centers, 0.02, 3)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("overlapping centers deduplicate by proximity", func(t *testing.T) {
		// Second center sits on top of the first: its entire grid is
		// covered by already accepted points.
		grid, err := LocalGrid([]Vec3{{0, 0, 0}, {0, 0, 0}}, 0.1, 3)
		require.NoError(t, err)
		assert.Len(t, grid, 8*8*8)
	})

	t.Run("no two points closer than spacing", func(t *testing.T) {
		const spacing = 0.05
		centers := []Vec3{{0, 0, 0}, {0.12, 0.03, 0}, {-0.07, 0.09, 0.01}}

		grid, err := LocalGrid(centers, spacing, 3)
		require.NoError(t, err)
		require.NotEmpty(t, grid)

		for i := 0; i < len(grid); i++ {
			for j := i + 1; j < len(grid); j++ {
				assert.GreaterOrEqual(t, grid[i].Dist(grid[j]), spacing-1e-9)
			}
		}
	})

	t.Run("distant centers keep both grids whole", func(t *testing.T) {
		grid, err := LocalGrid([]Vec3{{0, 0, 0}, {10, 10, 10}}, 0.1, 3)
		require.NoError(t, err)
		assert.Len(t, grid, 2*8*8*8)
	})

	t.Run("empty centers yields empty grid", func(t *testing.T) {
		grid, err := LocalGrid(nil, 0.1, 3)
		require.NoError(t, err)
		assert.Empty(t, grid)
	})

	t.Run("rejects non-positive spacing", func(t *testing.T) {
		_, err := LocalGrid([]Vec3{{0, 0, 0}}, 0, 3)
		assert.Error(t, err)

		_, err = LocalGrid([]Vec3{{0, 0, 0}}, -0.1, 3)
		assert.Error(t, err)
	})

	t.Run("rejects out-of-range dimensionality", func(t *testing.T) {
		_, err := LocalGrid([]Vec3{{0, 0, 0}}, 0.1, 0)
		assert.Error(t, err)

		_, err = LocalGrid([]Vec3{{0, 0, 0}}, 0.1, 4)
		assert.Error(t, err)
	})
}

func TestCropByRadius(t *testing.T) {
	identity := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	basis, err := ReciprocalBasis(identity)
	require.NoError(t, err)

	t.Run("keeps points near a center", func(t *testing.T) {
		points := []Vec3{{0, 0, 0}, {0.01, 0, 0}, {0.5, 0.5, 0.5}}
		centers := []Vec3{{0, 0, 0}}

		// Fractional distance 0.01 is 2*pi*0.01 in Cartesian space.
		kept := CropByRadius(points, centers, basis, 0.1)
		assert.Equal(t, []Vec3{{0, 0, 0}, {0.01, 0, 0}}, kept)
	})

	t.Run("any center within radius suffices", func(t *testing.T) {
		points := []Vec3{{0.5, 0.5, 0.5}}
		centers := []Vec3{{0, 0, 0}, {0.5, 0.5, 0.5}}

		kept := CropByRadius(points, centers, basis, 0.01)
		assert.Len(t, kept, 1)
	})

	t.Run("empty inputs yield nil", func(t *testing.T) {
		assert.Nil(t, CropByRadius(nil, []Vec3{{0, 0, 0}}, basis, 1))
		assert.Nil(t, CropByRadius([]Vec3{{0, 0, 0}}, nil, basis, 1))
	})
}
