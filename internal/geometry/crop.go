package geometry

import "gonum.org/v1/gonum/mat"

// CropByRadius keeps the points that have at least one center within radius,
// measured in Cartesian space through the reciprocal basis. Both points and
// centers are fractional coordinates. Order of surviving points is preserved.
func CropByRadius(points, centers []Vec3, basis *mat.Dense, radius float64) []Vec3 {
	if len(points) == 0 || len(centers) == 0 {
		return nil
	}

	cart := make([]Vec3, len(centers))
	for i, c := range centers {
		cart[i] = Cartesian(c, basis)
	}

	var kept []Vec3
	for _, p := range points {
		pc := Cartesian(p, basis)
		for _, c := range cart {
			if pc.Dist(c) <= radius {
				kept = append(kept, p)
				break
			}
		}
	}
	return kept
}
