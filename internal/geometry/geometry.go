// Package geometry provides the reciprocal-space numeric routines used by the
// crossing search: the reciprocal-lattice transform, mesh expansion and
// dimensionality inference, cubic local-grid generation around candidate
// points, and spherical cropping of k-point sets.
//
// All k-point coordinates are fractional (crystal) coordinates unless a
// function explicitly converts through the reciprocal basis.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Vec3 is a point in three-dimensional space. For k-points the components are
// fractional reciprocal-space coordinates.
type Vec3 [3]float64

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Dist returns the Euclidean distance between v and w.
func (v Vec3) Dist(w Vec3) float64 {
	return v.Sub(w).Norm()
}

// ReciprocalBasis returns the reciprocal-lattice basis 2π·inverse(lattice)ᵀ
// as a 3x3 matrix. Rows of lattice are the real-space basis vectors.
// Returns an error if the lattice is singular, which does not occur for
// physical structures.
func ReciprocalBasis(lattice [3][3]float64) (*mat.Dense, error) {
	a := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a.Set(i, j, lattice[i][j])
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return nil, fmt.Errorf("lattice is not invertible: %w", err)
	}

	recipr := mat.NewDense(3, 3, nil)
	recipr.Scale(2*math.Pi, inv.T())
	return recipr, nil
}

// Cartesian converts a fractional coordinate to Cartesian space using the
// reciprocal basis: c = v · basis (row vector times matrix).
func Cartesian(v Vec3, basis *mat.Dense) Vec3 {
	var c Vec3
	for j := 0; j < 3; j++ {
		c[j] = v[0]*basis.At(0, j) + v[1]*basis.At(1, j) + v[2]*basis.At(2, j)
	}
	return c
}

// MeshDimensionality returns the dimensionality (0-3) of a regular mesh,
// counting the axes sampled by more than one point.
func MeshDimensionality(counts [3]int) int {
	dim := 0
	for _, n := range counts {
		if n != 1 {
			dim++
		}
	}
	return dim
}
