package geometry

import (
	"errors"
	"fmt"
)

// ErrGridTooLarge is returned when a regular mesh is too large to materialize
// as an explicit point list. The caller may retry with a coarser mesh; the
// search core never retries on its own.
var ErrGridTooLarge = errors.New("k-point mesh too large to materialize")

// maxMeshPoints bounds the number of points an explicit mesh expansion may
// produce. Mirrors the memory failure mode of enumerating a dense mesh.
const maxMeshPoints = 4_000_000

// KPointSet is an ordered set of k-points, either a regular mesh described by
// per-axis counts and offsets, or an explicit list of fractional coordinates.
// A set with a non-empty Explicit list is always treated as explicit.
type KPointSet struct {
	Mesh     [3]int     `json:"mesh,omitempty"`
	Offset   [3]float64 `json:"offset,omitempty"`
	Explicit []Vec3     `json:"explicit,omitempty"`
}

// MeshSet builds a regular mesh k-point set with zero offset.
func MeshSet(nx, ny, nz int) KPointSet {
	return KPointSet{Mesh: [3]int{nx, ny, nz}}
}

// ExplicitSet builds a k-point set from an explicit list of points.
func ExplicitSet(points []Vec3) KPointSet {
	return KPointSet{Explicit: points}
}

// IsMesh reports whether the set is described by per-axis counts.
func (k KPointSet) IsMesh() bool {
	return len(k.Explicit) == 0
}

// Dimensionality returns the dimensionality of the set. For a mesh it counts
// the axes with more than one sample; explicit lists are treated as fully
// three-dimensional.
func (k KPointSet) Dimensionality() int {
	if !k.IsMesh() {
		return 3
	}
	return MeshDimensionality(k.Mesh)
}

// Len returns the number of points the set contains or would expand to.
func (k KPointSet) Len() int {
	if !k.IsMesh() {
		return len(k.Explicit)
	}
	n := 1
	for _, c := range k.Mesh {
		if c > 0 {
			n *= c
		}
	}
	return n
}

// Points materializes the set as an explicit list of fractional coordinates.
// Mesh points along each axis are (i + offset) / count for i in [0, count).
// Returns ErrGridTooLarge if the expansion would exceed the point budget.
func (k KPointSet) Points() ([]Vec3, error) {
	if !k.IsMesh() {
		return k.Explicit, nil
	}

	for axis, c := range k.Mesh {
		if c < 1 {
			return nil, fmt.Errorf("invalid mesh count %d on axis %d", c, axis)
		}
	}
	if k.Len() > maxMeshPoints {
		return nil, fmt.Errorf("%w: %dx%dx%d mesh has %d points (budget %d)",
			ErrGridTooLarge, k.Mesh[0], k.Mesh[1], k.Mesh[2], k.Len(), maxMeshPoints)
	}

	points := make([]Vec3, 0, k.Len())
	for i := 0; i < k.Mesh[0]; i++ {
		for j := 0; j < k.Mesh[1]; j++ {
			for l := 0; l < k.Mesh[2]; l++ {
				points = append(points, Vec3{
					(float64(i) + k.Offset[0]) / float64(k.Mesh[0]),
					(float64(j) + k.Offset[1]) / float64(k.Mesh[1]),
					(float64(l) + k.Offset[2]) / float64(k.Mesh[2]),
				})
			}
		}
	}
	return points, nil
}
