package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// defaultRotationTol bounds how far from orthonormal a rotation matrix may be.
// It is a multiple of machine epsilon so that matrices produced by chains of
// floating point operations still validate.
const defaultRotationTol = 1e6 * floatEpsilon

// RotationMatrix is a 3x3 orthonormal matrix with determinant +1, stored in
// row major order.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates a rotation matrix from a row major slice of 9
// values, verifying orthonormality and a positive determinant.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	return NewRotationMatrixWithTol(m, defaultRotationTol)
}

// NewRotationMatrixWithTol is NewRotationMatrix with a caller supplied
// orthonormality tolerance.
func NewRotationMatrixWithTol(m []float64, tol float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	rm := &RotationMatrix{}
	copy(rm.mat[:], m)
	if err := rm.checkValid(tol); err != nil {
		return nil, err
	}
	return rm, nil
}

// NewRotationMatrixFromQuaternion converts a unit quaternion to a rotation
// matrix. The quaternion is normalized first.
func NewRotationMatrixFromQuaternion(q quat.Number) *RotationMatrix {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	w, x, y, z := q.Real/n, q.Imag/n, q.Jmag/n, q.Kmag/n
	return &RotationMatrix{mat: [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}}
}

func (rm *RotationMatrix) checkValid(tol float64) error {
	// rows must be mutually orthogonal unit vectors
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			dot := rm.Row(i).Dot(rm.Row(j))
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(dot-want) > tol {
				return errors.Errorf("matrix is not orthonormal, rows %d and %d have dot product %v", i, j, dot)
			}
		}
	}
	if det := rm.Det(); math.Abs(det-1) > tol {
		return errors.Errorf("matrix is not a proper rotation, determinant is %v", det)
	}
	return nil
}

// At returns the value at the given row and column.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.mat[row*3+col]
}

// Row returns the given row as a vector.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[row*3], Y: rm.mat[row*3+1], Z: rm.mat[row*3+2]}
}

// Col returns the given column as a vector.
func (rm *RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[3+col], Z: rm.mat[6+col]}
}

// Det returns the determinant, +1 for any valid rotation.
func (rm *RotationMatrix) Det() float64 {
	m := rm.mat
	return m[0]*(m[4]*m[8]-m[5]*m[7]) - m[1]*(m[3]*m[8]-m[5]*m[6]) + m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Transpose returns the transpose, which for a rotation is also the inverse.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	m := rm.mat
	return &RotationMatrix{mat: [9]float64{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}}
}

// Mul returns the product rm * other.
func (rm *RotationMatrix) Mul(other *RotationMatrix) *RotationMatrix {
	out := &RotationMatrix{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sum := 0.0
			for k := 0; k < 3; k++ {
				sum += rm.At(i, k) * other.At(k, j)
			}
			out.mat[i*3+j] = sum
		}
	}
	return out
}

// MulVec rotates v by rm.
func (rm *RotationMatrix) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.Row(0).Dot(v),
		Y: rm.Row(1).Dot(v),
		Z: rm.Row(2).Dot(v),
	}
}

// Matrix returns a dense copy of the rotation matrix.
func (rm *RotationMatrix) Matrix() *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, rm.At(i, j))
		}
	}
	return out
}

// RawRowMajor returns the 9 matrix entries in row major order.
func (rm *RotationMatrix) RawRowMajor() []float64 {
	out := make([]float64, 9)
	copy(out, rm.mat[:])
	return out
}

// Quaternion converts the rotation matrix to a unit quaternion using
// Shepperd's method, choosing the numerically stable branch.
func (rm *RotationMatrix) Quaternion() quat.Number {
	m := rm.mat
	var w, x, y, z float64
	trace := m[0] + m[4] + m[8]
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		w = s / 4
		x = (m[7] - m[5]) / s
		y = (m[2] - m[6]) / s
		z = (m[3] - m[1]) / s
	case m[0] > m[4] && m[0] > m[8]:
		s := 2 * math.Sqrt(1+m[0]-m[4]-m[8])
		w = (m[7] - m[5]) / s
		x = s / 4
		y = (m[1] + m[3]) / s
		z = (m[2] + m[6]) / s
	case m[4] > m[8]:
		s := 2 * math.Sqrt(1+m[4]-m[0]-m[8])
		w = (m[2] - m[6]) / s
		x = (m[1] + m[3]) / s
		y = s / 4
		z = (m[5] + m[7]) / s
	default:
		s := 2 * math.Sqrt(1+m[8]-m[0]-m[4])
		w = (m[3] - m[1]) / s
		x = (m[2] + m[6]) / s
		y = (m[5] + m[7]) / s
		z = s / 4
	}
	return quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
}
