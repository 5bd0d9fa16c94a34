package geometry

import (
	"fmt"
	"math"
)

// gridPointsPerAxis is the number of offsets generated along each refined axis
// of a local grid. Offsets are (i + 0.5) * spacing for i in [-4, 4), i.e.
// {-3.5, -2.5, ..., +3.5} in units of spacing.
const gridPointsPerAxis = 8

// cellIndex is a uniform-grid spatial hash used to enforce the minimum
// point separation during local-grid generation. Cell size equals the query
// radius, so any point within that radius of a candidate lives in the
// candidate's cell or one of its 26 neighbours.
type cellIndex struct {
	cell   float64
	points map[[3]int][]Vec3
}

func newCellIndex(cell float64) *cellIndex {
	return &cellIndex{cell: cell, points: make(map[[3]int][]Vec3)}
}

func (ci *cellIndex) key(p Vec3) [3]int {
	return [3]int{
		int(math.Floor(p[0] / ci.cell)),
		int(math.Floor(p[1] / ci.cell)),
		int(math.Floor(p[2] / ci.cell)),
	}
}

func (ci *cellIndex) add(p Vec3) {
	k := ci.key(p)
	ci.points[k] = append(ci.points[k], p)
}

// anyWithin reports whether the index holds a point at Euclidean distance
// <= r from p.
func (ci *cellIndex) anyWithin(p Vec3, r float64) bool {
	k := ci.key(p)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				nk := [3]int{k[0] + dx, k[1] + dy, k[2] + dz}
				for _, q := range ci.points[nk] {
					if p.Dist(q) <= r {
						return true
					}
				}
			}
		}
	}
	return false
}

// LocalGrid generates a cubic grid of k-points around each center, 8 points
// per refined axis at offsets (i + 0.5) * spacing for i in [-4, 4); axes
// beyond dim are held at zero. Grids from successive centers are merged with
// proximity deduplication: a candidate is dropped when a point accepted from
// an earlier center lies within spacing of it. The first center's grid is
// always kept whole.
//
// The result is deterministic: candidates are visited in per-axis
// cross-product order, centers in input order. No two output points are
// closer than spacing.
func LocalGrid(centers []Vec3, spacing float64, dim int) ([]Vec3, error) {
	if spacing <= 0 {
		return nil, fmt.Errorf("grid spacing must be positive, got %g", spacing)
	}
	if dim < 1 || dim > 3 {
		return nil, fmt.Errorf("grid dimensionality must be 1-3, got %d", dim)
	}
	if len(centers) == 0 {
		return nil, nil
	}

	offsets := axisOffsets(spacing, dim)

	index := newCellIndex(spacing)
	result := make([]Vec3, 0, len(centers)*len(offsets))
	for n, c := range centers {
		// Candidates from one center are exactly spacing apart by
		// construction, so they are only checked against points accepted
		// from earlier centers.
		accepted := make([]Vec3, 0, len(offsets))
		for _, off := range offsets {
			p := Vec3{c[0] + off[0], c[1] + off[1], c[2] + off[2]}
			if n > 0 && index.anyWithin(p, spacing) {
				continue
			}
			accepted = append(accepted, p)
		}
		for _, p := range accepted {
			index.add(p)
		}
		result = append(result, accepted...)
	}
	return result, nil
}

// axisOffsets returns the full cross product of per-axis grid offsets for the
// given dimensionality, axes beyond dim fixed at zero.
func axisOffsets(spacing float64, dim int) []Vec3 {
	line := make([]float64, gridPointsPerAxis)
	for i := range line {
		line[i] = (float64(i-gridPointsPerAxis/2) + 0.5) * spacing
	}

	zero := []float64{0}
	lx, ly, lz := line, zero, zero
	if dim > 1 {
		ly = line
	}
	if dim > 2 {
		lz = line
	}

	offsets := make([]Vec3, 0, len(lx)*len(ly)*len(lz))
	for _, x := range lx {
		for _, y := range ly {
			for _, z := range lz {
				offsets = append(offsets, Vec3{x, y, z})
			}
		}
	}
	return offsets
}
