package calib

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camgeom/camera"
	"go.viam.com/camgeom/spatialmath"
)

var (
	// ErrCameraAtInfinity is returned when the camera center cannot be
	// dehomogenized because its scale component is numerically zero.
	ErrCameraAtInfinity = errors.New("camera center is at infinity")

	// ErrSignAmbiguity is returned when the diagonal sign correction of the
	// intrinsic matrix cannot be made a proper rotation; the decomposition is
	// unrecoverable.
	ErrSignAmbiguity = errors.New("cannot correct signs in the intrinsic matrix")
)

const floatEpsilon = 2.220446049250313e-16

// DecomposeOptions hold the numeric tolerances of camera matrix
// decomposition. Zero values select scale-aware defaults derived from machine
// epsilon and the matrix magnitude.
type DecomposeOptions struct {
	// InfinityTol is the threshold on the homogeneous scale of the camera
	// center below which the camera is considered at infinity.
	InfinityTol float64
	// SignTol is the tolerance on the determinant of the diagonal sign
	// correction matrix, which must be +1.
	SignTol float64
	// DiagTol is the threshold under which a diagonal entry of the intrinsic
	// matrix counts as zero, making the matrix near singular.
	DiagTol float64
}

func (o *DecomposeOptions) fillDefaults(c *mat.Dense) {
	scale := 1 + mat.Norm(c, 2)
	if o.InfinityTol == 0 {
		// the singular vector holding the center is unit length
		o.InfinityTol = 1e6 * floatEpsilon
	}
	if o.SignTol == 0 {
		o.SignTol = 1e-6
	}
	if o.DiagTol == 0 {
		o.DiagTol = 1e3 * floatEpsilon * scale
	}
}

// DecomposeCameraMatrix decomposes a 3x4 camera matrix into a perspective
// camera: intrinsic parameters plus the pose of the camera frame with respect
// to the world frame. Since only the products f*sx and f*sy are observable,
// sx is fixed at 1 by convention; the focal length comes out in pixel units.
// The returned camera has no image size, as that is not recoverable from the
// matrix.
func DecomposeCameraMatrix(c *mat.Dense, opts *DecomposeOptions) (*camera.Perspective, error) {
	if rows, cols := c.Dims(); rows != 3 || cols != 4 {
		return nil, errors.Errorf("expected a 3x4 camera matrix, got %dx%d", rows, cols)
	}
	if opts == nil {
		opts = &DecomposeOptions{}
	}
	o := *opts
	o.fillDefaults(c)

	// camera center is the null space of C
	var svd mat.SVD
	if !svd.Factorize(c, mat.SVDFull) {
		return nil, errors.New("failed to factorize camera matrix")
	}
	var v mat.Dense
	svd.VTo(&v)
	w := v.At(3, 3)
	if math.Abs(w) <= o.InfinityTol {
		return nil, ErrCameraAtInfinity
	}
	center := r3.Vector{X: v.At(0, 3) / w, Y: v.At(1, 3) / w, Z: v.At(2, 3) / w}

	// orientation and intrinsics from the leading 3x3 block, M = K R
	m := mat.DenseCopyOf(c.Slice(0, 3, 0, 3))
	k, r := rq(m)

	// RQ can leave negative entries on the diagonal of K. Fix with a diagonal
	// +-1 matrix D: K R = (K D)(D R), valid only when D is a proper rotation.
	d := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		kii := k.At(i, i)
		if math.Abs(kii) <= o.DiagTol {
			return nil, errors.Errorf("intrinsic matrix is near singular, diagonal entry %d is %v", i, kii)
		}
		if kii < 0 {
			d.Set(i, i, -1)
		} else {
			d.Set(i, i, 1)
		}
	}
	if math.Abs(mat.Det(d)-1) > o.SignTol {
		return nil, ErrSignAmbiguity
	}
	k.Mul(k, d)
	r.Mul(d, r)

	// normalize so the lower right entry of K is 1
	k22 := k.At(2, 2)
	if math.Abs(k22) <= o.DiagTol {
		return nil, errors.Errorf("intrinsic matrix is near singular, cannot normalize by %v", k22)
	}
	k.Scale(1/k22, k)

	f := k.At(0, 0)
	intrinsics := camera.Intrinsics{
		Fu:   f,
		Fv:   f,
		RhoU: 1,
		RhoV: k.At(0, 0) / k.At(1, 1), // so that Fv/RhoV reproduces K[1][1]
		Ppx:  k.At(0, 2),
		Ppy:  k.At(1, 2),
	}

	// R maps world to camera; the camera frame orientation is its transpose
	rot, err := spatialmath.NewRotationMatrix([]float64{
		r.At(0, 0), r.At(1, 0), r.At(2, 0),
		r.At(0, 1), r.At(1, 1), r.At(2, 1),
		r.At(0, 2), r.At(1, 2), r.At(2, 2),
	})
	if err != nil {
		return nil, errors.Wrap(err, "decomposed orientation is not a rotation")
	}
	return camera.NewPerspectiveFromIntrinsics(intrinsics, spatialmath.NewPose(center, rot))
}

// rq factorizes m into an upper triangular K and orthonormal R with m = K R,
// via QR of the row and column reversed transpose. R always comes out with
// determinant +1.
func rq(m *mat.Dense) (*mat.Dense, *mat.Dense) {
	s := flip(transpose(m))

	var qrf mat.QR
	qrf.Factorize(s)
	var q, u mat.Dense
	qrf.QTo(&q)
	qrf.RTo(&u)

	rOut := flip(transpose(&q))
	kOut := flip(transpose(&u))

	if mat.Det(rOut) < 0 {
		for i := 0; i < 3; i++ {
			kOut.Set(i, 0, -kOut.At(i, 0))
			rOut.Set(0, i, -rOut.At(0, i))
		}
	}
	return kOut, rOut
}

// flip reverses both the rows and columns of a square matrix.
func flip(m *mat.Dense) *mat.Dense {
	n, _ := m.Dims()
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, m.At(n-1-i, n-1-j))
		}
	}
	return out
}

func transpose(m mat.Matrix) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(cols, rows, nil)
	out.Copy(m.T())
	return out
}
