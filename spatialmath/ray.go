package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Ray is a 3D line given by a point on the line and a direction. The direction
// need not be normalized.
type Ray struct {
	Point r3.Vector
	Dir   r3.Vector
}

// NewRay creates a ray from a point and a nonzero direction.
func NewRay(point, dir r3.Vector) (*Ray, error) {
	if dir.Norm() == 0 {
		return nil, errors.New("ray direction must be nonzero")
	}
	return &Ray{Point: point, Dir: dir}, nil
}

// NewRayFromPoints creates the ray through two distinct points, directed from
// a to b.
func NewRayFromPoints(a, b r3.Vector) (*Ray, error) {
	return NewRay(a, b.Sub(a))
}

// PluckerSkew returns the 4x4 skew-symmetric Plucker matrix of the line,
// L = A*B^T - B*A^T for homogeneous points A and B on the line.
func (r *Ray) PluckerSkew() *mat.Dense {
	a := [4]float64{r.Point.X, r.Point.Y, r.Point.Z, 1}
	q := r.Point.Add(r.Dir)
	b := [4]float64{q.X, q.Y, q.Z, 1}
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out.Set(i, j, a[i]*b[j]-b[i]*a[j])
		}
	}
	return out
}

// DistanceToPoint returns the perpendicular distance from pt to the line.
func (r *Ray) DistanceToPoint(pt r3.Vector) float64 {
	u := r.Dir.Normalize()
	return pt.Sub(r.Point).Cross(u).Norm()
}

// ClosestPointTo returns the point on the line closest to pt.
func (r *Ray) ClosestPointTo(pt r3.Vector) r3.Vector {
	u := r.Dir.Normalize()
	return r.Point.Add(u.Mul(pt.Sub(r.Point).Dot(u)))
}
