package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// floatEpsilon is the distance between 1.0 and the next representable float64.
const floatEpsilon = 2.220446049250313e-16

// Skew returns the 3x3 cross-product (skew-symmetric) matrix of v, so that
// Skew(v) * w == v x w.
func Skew(v r3.Vector) *mat.Dense {
	skew := mat.NewDense(3, 3, nil)
	skew.Set(0, 1, -v.Z)
	skew.Set(0, 2, v.Y)
	skew.Set(1, 0, v.Z)
	skew.Set(1, 2, -v.X)
	skew.Set(2, 0, -v.Y)
	skew.Set(2, 1, v.X)
	return skew
}

// Vex recovers the vector from a 3x3 skew-symmetric matrix, the inverse of Skew.
// The input must be skew-symmetric within a tolerance that scales with the
// magnitude of the matrix.
func Vex(m mat.Matrix) (r3.Vector, error) {
	rows, cols := m.Dims()
	if rows != 3 || cols != 3 {
		return r3.Vector{}, errors.Errorf("expected a 3x3 matrix, got %dx%d", rows, cols)
	}
	tol := 100 * floatEpsilon * (1 + mat.Norm(m, 2))
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if diff := m.At(i, j) + m.At(j, i); diff > tol || diff < -tol {
				return r3.Vector{}, errors.New("matrix is not skew-symmetric")
			}
		}
	}
	return r3.Vector{
		X: (m.At(2, 1) - m.At(1, 2)) / 2,
		Y: (m.At(0, 2) - m.At(2, 0)) / 2,
		Z: (m.At(1, 0) - m.At(0, 1)) / 2,
	}, nil
}
