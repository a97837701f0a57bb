package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Pose is a rigid 3D transform, a rotation plus a translation. Poses are value
// objects: every operation returns a new Pose and never mutates its inputs,
// so a Pose may be shared freely across computations.
type Pose struct {
	rotation    *RotationMatrix
	translation r3.Vector
}

// NewPose creates a pose with the given translation and orientation.
func NewPose(point r3.Vector, rotation *RotationMatrix) *Pose {
	return &Pose{rotation: rotation, translation: point}
}

// NewZeroPose returns the identity transform.
func NewZeroPose() *Pose {
	return &Pose{rotation: &RotationMatrix{mat: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}}
}

// NewPoseFromPoint creates a pure translation with identity orientation.
func NewPoseFromPoint(point r3.Vector) *Pose {
	p := NewZeroPose()
	p.translation = point
	return p
}

// NewPoseFromMatrix creates a pose from a 4x4 homogeneous transform matrix.
func NewPoseFromMatrix(m *mat.Dense) (*Pose, error) {
	rows, cols := m.Dims()
	if rows != 4 || cols != 4 {
		return nil, errors.Errorf("expected a 4x4 matrix, got %dx%d", rows, cols)
	}
	rot, err := NewRotationMatrix([]float64{
		m.At(0, 0), m.At(0, 1), m.At(0, 2),
		m.At(1, 0), m.At(1, 1), m.At(1, 2),
		m.At(2, 0), m.At(2, 1), m.At(2, 2),
	})
	if err != nil {
		return nil, err
	}
	return &Pose{
		rotation:    rot,
		translation: r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)},
	}, nil
}

// Point returns the translation component.
func (p *Pose) Point() r3.Vector {
	return p.translation
}

// Orientation returns the rotation component.
func (p *Pose) Orientation() *RotationMatrix {
	return p.rotation
}

// Compose returns the pose equivalent to applying a then b, i.e. a * b.
func Compose(a, b *Pose) *Pose {
	return &Pose{
		rotation:    a.rotation.Mul(b.rotation),
		translation: a.rotation.MulVec(b.translation).Add(a.translation),
	}
}

// PoseInverse returns the inverse transform of p.
func PoseInverse(p *Pose) *Pose {
	rt := p.rotation.Transpose()
	return &Pose{
		rotation:    rt,
		translation: rt.MulVec(p.translation).Mul(-1),
	}
}

// TransformPoint applies the pose to a point.
func (p *Pose) TransformPoint(pt r3.Vector) r3.Vector {
	return p.rotation.MulVec(pt).Add(p.translation)
}

// Matrix returns the pose as a 4x4 homogeneous transform matrix.
func (p *Pose) Matrix() *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, p.rotation.At(i, j))
		}
	}
	out.Set(0, 3, p.translation.X)
	out.Set(1, 3, p.translation.Y)
	out.Set(2, 3, p.translation.Z)
	out.Set(3, 3, 1)
	return out
}

// PoseAlmostEqual reports whether two poses agree within tol, comparing
// rotation entries and translation components elementwise.
func PoseAlmostEqual(a, b *Pose, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if diff := a.rotation.At(i, j) - b.rotation.At(i, j); diff > tol || diff < -tol {
				return false
			}
		}
	}
	d := a.translation.Sub(b.translation)
	return d.Norm() <= tol
}
