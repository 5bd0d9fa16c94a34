// Package bands holds the band-energy container, the gap classifier that
// sorts k-points into converged crossings and still-ambiguous candidates, and
// the aggregator that merges per-iteration results into the final crossing
// set.
package bands

import (
	"fmt"
	"sort"

	"github.com/qflowhq/bandscan/internal/geometry"
)

// Energies is the immutable result of one band-structure job: per-k-point
// band energies. Values is indexed [k-point][band] and every row has the same
// number of bands.
type Energies struct {
	KPoints []geometry.Vec3 `json:"kpoints"`
	Values  [][]float64     `json:"values"`
}

// NumBands returns the number of bands per k-point, 0 for an empty result.
func (e *Energies) NumBands() int {
	if len(e.Values) == 0 {
		return 0
	}
	return len(e.Values[0])
}

// Validate checks the shape of the energy array against the k-point list.
func (e *Energies) Validate() error {
	if len(e.KPoints) != len(e.Values) {
		return fmt.Errorf("band energies have %d rows for %d k-points", len(e.Values), len(e.KPoints))
	}
	for i, row := range e.Values {
		if len(row) != e.NumBands() {
			return fmt.Errorf("k-point %d has %d bands, expected %d", i, len(row), e.NumBands())
		}
	}
	return nil
}

// BandIndices derives the valence and conduction band indices from the
// electron count and the spin-orbit flag of a baseline calculation. Without
// spin-orbit coupling each band holds two electrons, with it one.
func BandIndices(nElectrons float64, spinOrbit bool) (vb, cb int) {
	div := 2
	if spinOrbit {
		div = 1
	}
	cb = int(nElectrons) / div
	vb = cb - 1
	return vb, cb
}

// Classification is the outcome of classifying one job's gaps. Found holds
// the k-points whose gap is at or below the convergence floor; Pinned holds
// the k-points whose gap is small but not yet converged, the frontier for the
// next refinement. The two sets are disjoint; all other points are dropped.
type Classification struct {
	Pinned []geometry.Vec3 `json:"pinned"`
	Found  []geometry.Vec3 `json:"found"`
}

// Classify splits the k-points of a band result by the gap between the
// valence and conduction bands: gap <= minThreshold goes to Found,
// minThreshold < gap <= currentThreshold goes to Pinned, everything else is
// discarded as safely gapped at the current resolution.
func Classify(e *Energies, vb, cb int, currentThreshold, minThreshold float64) (Classification, error) {
	if err := e.Validate(); err != nil {
		return Classification{}, err
	}
	if len(e.Values) > 0 && (vb < 0 || cb >= e.NumBands()) {
		return Classification{}, fmt.Errorf("band indices (%d, %d) out of range for %d bands", vb, cb, e.NumBands())
	}

	var cls Classification
	for i, row := range e.Values {
		gap := row[cb] - row[vb]
		switch {
		case gap <= minThreshold:
			cls.Found = append(cls.Found, e.KPoints[i])
		case gap <= currentThreshold:
			cls.Pinned = append(cls.Pinned, e.KPoints[i])
		}
	}
	return cls, nil
}

// Size returns the number of points retained by the classification.
func (c Classification) Size() int {
	return len(c.Pinned) + len(c.Found)
}

// MergeCrossings concatenates the Found sets of every iteration and
// deduplicates them by exact coordinate equality. The result is sorted
// lexicographically, so the merge is independent of iteration order and
// idempotent.
func MergeCrossings(results []Classification) []geometry.Vec3 {
	seen := make(map[geometry.Vec3]struct{})
	var merged []geometry.Vec3
	for _, r := range results {
		for _, p := range r.Found {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})
	return merged
}
