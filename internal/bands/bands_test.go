package bands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qflowhq/bandscan/internal/geometry"
)

func TestBandIndices(t *testing.T) {
	tests := []struct {
		name       string
		nElectrons float64
		spinOrbit  bool
		wantVB     int
		wantCB     int
	}{
		{"8 electrons without spin-orbit", 8, false, 3, 4},
		{"8 electrons with spin-orbit", 8, true, 7, 8},
		{"2 electrons without spin-orbit", 2, false, 0, 1},
		{"fractional electron count truncates", 8.0001, false, 3, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vb, cb := BandIndices(tt.nElectrons, tt.spinOrbit)
			assert.Equal(t, tt.wantVB, vb)
			assert.Equal(t, tt.wantCB, cb)
			assert.Equal(t, vb+1, cb)
		})
	}
}

func TestClassify(t *testing.T) {
	point1 := geometry.Vec3{0, 0, 0}
	point2 := geometry.Vec3{0.5, 0, 0}

	t.Run("splits by thresholds", func(t *testing.T) {
		e := &Energies{
			KPoints: []geometry.Vec3{point1, point2},
			Values: [][]float64{
				{-1.0, -0.5}, // gap 0.5: above current threshold, discarded
				{-1.0, -0.9999}, // gap 0.0001: at or below floor, found
			},
		}

		cls, err := Classify(e, 0, 1, 0.3, 0.001)
		require.NoError(t, err)

		assert.Empty(t, cls.Pinned)
		assert.Equal(t, []geometry.Vec3{point2}, cls.Found)
	})

	t.Run("pinned and found are disjoint and cover each point at most once", func(t *testing.T) {
		e := &Energies{
			KPoints: []geometry.Vec3{{0, 0, 0}, {0.1, 0, 0}, {0.2, 0, 0}, {0.3, 0, 0}},
			Values: [][]float64{
				{0, 0.0005}, // found
				{0, 0.1},    // pinned
				{0, 0.3},    // pinned: boundary is inclusive
				{0, 0.5},    // discarded
			},
		}

		cls, err := Classify(e, 0, 1, 0.3, 0.001)
		require.NoError(t, err)

		assert.Len(t, cls.Found, 1)
		assert.Len(t, cls.Pinned, 2)
		for _, f := range cls.Found {
			assert.NotContains(t, cls.Pinned, f)
		}
		assert.Equal(t, 3, cls.Size())
	})

	t.Run("gap equal to floor counts as found", func(t *testing.T) {
		e := &Energies{
			KPoints: []geometry.Vec3{{0, 0, 0}},
			Values:  [][]float64{{0, 0.001}},
		}

		cls, err := Classify(e, 0, 1, 0.3, 0.001)
		require.NoError(t, err)
		assert.Len(t, cls.Found, 1)
		assert.Empty(t, cls.Pinned)
	})

	t.Run("rejects mismatched shapes", func(t *testing.T) {
		e := &Energies{
			KPoints: []geometry.Vec3{{0, 0, 0}},
			Values:  [][]float64{{0, 1}, {0, 1}},
		}

		_, err := Classify(e, 0, 1, 0.3, 0.001)
		assert.Error(t, err)
	})

	t.Run("rejects out-of-range band indices", func(t *testing.T) {
		e := &Energies{
			KPoints: []geometry.Vec3{{0, 0, 0}},
			Values:  [][]float64{{0, 1}},
		}

		_, err := Classify(e, 1, 2, 0.3, 0.001)
		assert.Error(t, err)
	})
}

func TestMergeCrossings(t *testing.T) {
	a := geometry.Vec3{0, 0, 0}
	b := geometry.Vec3{0.25, 0, 0}
	c := geometry.Vec3{0.5, 0.5, 0}

	t.Run("concatenates and deduplicates exactly", func(t *testing.T) {
		merged := MergeCrossings([]Classification{
			{Found: []geometry.Vec3{a, b}},
			{Found: []geometry.Vec3{b, c}},
		})

		assert.Equal(t, []geometry.Vec3{a, b, c}, merged)
	})

	t.Run("is order-independent", func(t *testing.T) {
		forward := MergeCrossings([]Classification{
			{Found: []geometry.Vec3{a}},
			{Found: []geometry.Vec3{c, b}},
		})
		backward := MergeCrossings([]Classification{
			{Found: []geometry.Vec3{b, c}},
			{Found: []geometry.Vec3{a}},
		})

		assert.Equal(t, forward, backward)
	})

	t.Run("ignores pinned points", func(t *testing.T) {
		merged := MergeCrossings([]Classification{
			{Pinned: []geometry.Vec3{a, b}, Found: []geometry.Vec3{c}},
		})

		assert.Equal(t, []geometry.Vec3{c}, merged)
	})

	t.Run("nearby but unequal coordinates stay distinct", func(t *testing.T) {
		almost := geometry.Vec3{0.25 + 1e-12, 0, 0}
		merged := MergeCrossings([]Classification{
			{Found: []geometry.Vec3{b, almost}},
		})

		assert.Len(t, merged, 2)
	})

	t.Run("empty input yields empty set", func(t *testing.T) {
		assert.Empty(t, MergeCrossings(nil))
		assert.Empty(t, MergeCrossings([]Classification{{}, {}}))
	})
}
