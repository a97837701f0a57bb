package twoview

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camgeom/camera"
	"go.viam.com/camgeom/spatialmath"
)

var (
	// ErrPureRotation is returned when a homography is induced by a (near)
	// pure rotation: all singular values of H^T H coincide and the plane is
	// undetermined. Callers must treat the decomposition as ambiguous.
	ErrPureRotation = errors.New("homography is induced by a pure rotation, plane is undetermined")

	// ErrNoDecomposer is returned when full multi-solution homography
	// decomposition is requested without an external decomposer.
	ErrNoDecomposer = errors.New("homography decomposition requires an external decomposer")
)

// Homography is a 3x3 matrix used to transform a plane from the perspective of
// one camera to the perspective of another. Indices are [row][column]. It is
// kept normalized so that the lower right entry is 1.
type Homography [3][3]float64

// NewHomography creates a Homography from a row major slice of 9 values,
// normalizing so the lower right entry is 1. Input whose lower right entry is
// numerically zero is rejected before the division.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	scale := vals[8]
	norm := 0.0
	for _, v := range vals {
		norm += v * v
	}
	if math.Abs(scale) <= 100*floatEpsilon*(1+math.Sqrt(norm)) {
		return nil, errors.New("homography cannot be normalized, lower right entry is zero")
	}
	var h Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = vals[i*3+j] / scale
		}
	}
	return &h, nil
}

// At returns the value at the given row and column.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply transforms an image point by the homography, performing the
// perspective division.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Mat returns a dense copy of the homography.
func (h *Homography) Mat() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// Inverse returns the inverse homography, mapping points the other way.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Mat()); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	return NewHomography(inv.RawMatrix().Data)
}

// HomographyFromPlane computes the homography induced by a plane for a camera
// undergoing the relative motion t. The first view is from the camera's
// current pose, the second after the motion. The plane has normal n and
// distance d from the first camera, must face the camera (n_z >= 0) and have
// positive distance.
func HomographyFromPlane(cam camera.Model, motion *spatialmath.Pose, n r3.Vector, d float64) (*Homography, error) {
	if d <= 0 {
		return nil, errors.Errorf("plane distance d must be > 0, got %v", d)
	}
	if n.Z < 0 {
		return nil, errors.Errorf("plane normal must be away from camera (n_z >= 0), got %v", n.Z)
	}
	t21 := spatialmath.PoseInverse(motion)
	r := t21.Orientation()
	t := t21.Point()

	// R + t n^T / d
	hh := mat.NewDense(3, 3, nil)
	tArr := [3]float64{t.X, t.Y, t.Z}
	nArr := [3]float64{n.X, n.Y, n.Z}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			hh.Set(i, j, r.At(i, j)+tArr[i]*nArr[j]/d)
		}
	}

	k := cam.Intrinsics().K()
	kInv, err := cam.Intrinsics().KInverse()
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Mul(k, hh)
	out.Mul(&out, kInv)
	return NewHomography(out.RawMatrix().Data)
}

// EstimateHomographyOptions configure homography estimation from
// correspondences.
type EstimateHomographyOptions struct {
	// Robust options are passed through to the external estimator.
	Robust *RobustOptions
	// Estimator performs the robust search for the RANSAC, LMedS and PROSAC
	// methods. The least squares method never uses it.
	Estimator HomographyEstimator
}

// EstimateHomography computes the homography mapping pts1 to pts2 with the
// selected method, returning the homography and a per-correspondence inlier
// mask. The least squares method is a normalized direct linear transform over
// all points; robust methods delegate to the configured estimator.
func EstimateHomography(pts1, pts2 []r2.Point, method HomographyMethod, opts *EstimateHomographyOptions) (*Homography, []bool, error) {
	if err := method.validate(); err != nil {
		return nil, nil, err
	}
	if err := checkMatched(pts1, pts2, 4); err != nil {
		return nil, nil, err
	}
	if opts == nil {
		opts = &EstimateHomographyOptions{}
	}
	if method != HomographyLeastSquares {
		if opts.Estimator == nil {
			return nil, nil, errors.Errorf("method %q requires an external homography estimator", method)
		}
		h, mask, err := opts.Estimator.EstimateHomography(pts1, pts2, method, opts.Robust)
		if err != nil {
			return nil, nil, err
		}
		if h == nil {
			return nil, nil, errors.New("external estimator returned no homography")
		}
		// re-normalize through the constructor before handing it back
		normalized, err := NewHomography(h.Mat().RawMatrix().Data)
		if err != nil {
			return nil, nil, err
		}
		return normalized, mask, nil
	}

	points1, t1 := normalizePoints(pts1)
	points2, t2 := normalizePoints(pts2)

	n := len(points1)
	a := mat.NewDense(2*n, 9, nil)
	for i := range points1 {
		p := points1[i]
		q := points2[i]
		a.SetRow(2*i, []float64{
			p.X, p.Y, 1, 0, 0, 0, -q.X * p.X, -q.X * p.Y, -q.X,
		})
		a.SetRow(2*i+1, []float64{
			0, 0, 0, p.X, p.Y, 1, -q.Y * p.X, -q.Y * p.Y, -q.Y,
		})
	}

	mats := performSVD(a)
	if mats == nil {
		return nil, nil, errors.New("failed to factorize homography system")
	}
	lastCol := mats.V.ColView(8)
	hData := make([]float64, 9)
	for i := range hData {
		hData[i] = lastCol.AtVec(i)
	}
	hHat := mat.NewDense(3, 3, hData)

	// denormalize: H = T2^-1 Hhat T1
	var t2Inv mat.Dense
	if err := t2Inv.Inverse(t2); err != nil {
		return nil, nil, errors.Wrap(err, "normalization transform is singular")
	}
	var hm mat.Dense
	hm.Mul(&t2Inv, hHat)
	hm.Mul(&hm, t1)

	h, err := NewHomography(hm.RawMatrix().Data)
	if err != nil {
		return nil, nil, err
	}
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	return h, mask, nil
}

// DecomposeHomographyOptions configure homography decomposition.
type DecomposeHomographyOptions struct {
	// SingularGapTol is the threshold on the spread of the singular values of
	// H^T H under which the homography counts as a pure rotation. Zero
	// selects a scale-aware default.
	SingularGapTol float64
	// Decomposer performs the full multi-solution decomposition for
	// non-degenerate input.
	Decomposer HomographyDecomposer
}

// DecomposeHomography analyzes the motion encoded by a homography. Input from
// a (near) pure rotation is flagged with ErrPureRotation since the plane is
// then undetermined; there is no single correct answer to guess. For general
// input the multi-solution decomposition is delegated to the configured
// decomposer, and ErrNoDecomposer is returned without one. K may be nil for a
// homography already in normalized image coordinates.
func DecomposeHomography(
	h *Homography,
	k *mat.Dense,
	opts *DecomposeHomographyOptions,
	logger golog.Logger,
) ([]PlaneMotion, error) {
	if h == nil {
		return nil, errors.New("homography must not be nil")
	}
	if opts == nil {
		opts = &DecomposeHomographyOptions{}
	}
	if logger == nil {
		logger = golog.Global()
	}

	hm := h.Mat()
	if k != nil {
		var kInv mat.Dense
		if err := kInv.Inverse(k); err != nil {
			return nil, errors.Wrap(err, "intrinsic matrix is singular")
		}
		hm.Mul(&kInv, hm)
		hm.Mul(hm, k)
	}

	// scale so that the middle singular value is one
	mats := performSVD(hm)
	if mats == nil {
		return nil, errors.New("failed to factorize homography")
	}
	hm.Scale(1/mats.S.At(1, 1), hm)

	// singular values of H^T H separate the plane from the rotation
	var hth mat.Dense
	hth.Mul(hm.T(), hm)
	mats = performSVD(&hth)
	if mats == nil {
		return nil, errors.New("failed to factorize H^T H")
	}
	s0 := mats.S.At(0, 0)
	s2 := mats.S.At(2, 2)

	tol := opts.SingularGapTol
	if tol == 0 {
		tol = 1e8 * floatEpsilon * (1 + mat.Norm(&hth, 2))
	}
	if s0-s2 < tol {
		logger.Debugw("homography singular values coincide, motion is a pure rotation",
			"s0", s0, "s2", s2, "tol", tol)
		return nil, ErrPureRotation
	}

	if opts.Decomposer == nil {
		return nil, ErrNoDecomposer
	}
	return opts.Decomposer.DecomposeHomography(h, k)
}
