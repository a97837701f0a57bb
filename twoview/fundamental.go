package twoview

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const floatEpsilon = 2.220446049250313e-16

// EstimateFundamental computes the fundamental matrix between two matched
// point sets with the selected method, returning the matrix and a
// per-correspondence inlier mask. The 8-point method is a normalized least
// squares over all points; the minimal and robust methods delegate to the
// external estimator.
func EstimateFundamental(
	pts1, pts2 []r2.Point,
	method FundamentalMethod,
	estimator FundamentalEstimator,
	opts *RobustOptions,
) (*mat.Dense, []bool, error) {
	if err := method.validate(); err != nil {
		return nil, nil, err
	}
	if method != FundamentalEightPoint {
		if estimator == nil {
			return nil, nil, errors.Errorf("method %q requires an external fundamental matrix estimator", method)
		}
		return estimator.EstimateFundamental(pts1, pts2, method, opts)
	}
	f, err := EstimateFundamentalAllPoints(pts1, pts2, true)
	if err != nil {
		return nil, nil, err
	}
	mask := make([]bool, len(pts1))
	for i := range mask {
		mask[i] = true
	}
	return f, mask, nil
}

// EstimateFundamentalAllPoints computes the fundamental matrix mapping points
// of the first view to epipolar lines in the second from all correspondences,
// by the 8-point method with rank 2 enforcement. Hartley point normalization
// is recommended and controlled by normalize.
func EstimateFundamentalAllPoints(pts1, pts2 []r2.Point, normalize bool) (*mat.Dense, error) {
	if err := checkMatched(pts1, pts2, 8); err != nil {
		return nil, err
	}
	nPoints := len(pts1)

	var points1, points2 []r2.Point
	var t1, t2 *mat.Dense

	if normalize {
		points1, t1 = normalizePoints(pts1)
		points2, t2 = normalizePoints(pts2)
	} else {
		points1 = make([]r2.Point, nPoints)
		copy(points1, pts1)
		points2 = make([]r2.Point, nPoints)
		copy(points2, pts2)
		t1 = eye(3)
		t2 = eye(3)
	}

	m := mat.NewDense(nPoints, 9, nil)
	for i := range points1 {
		v1 := points1[i]
		v2 := points2[i]
		m.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}

	mats1 := performSVD(m)
	if mats1 == nil {
		return nil, errors.New("failed to factorize correspondence system")
	}
	lastColV := mats1.V.ColView(8)
	lastColVdata := make([]float64, 9)
	for i := range lastColVdata {
		lastColVdata[i] = lastColV.AtVec(i)
	}
	f := mat.NewDense(3, 3, lastColVdata)

	// enforce rank 2 of F
	mats2 := performSVD(f)
	if mats2 == nil {
		return nil, errors.New("failed to factorize F")
	}
	s := mats2.S
	s.Set(2, 2, 0)

	fHat := mat.NewDense(3, 3, nil)
	fHat.Mul(mats2.U, s)
	f.Mul(fHat, mats2.VT)

	// rescale: T2^T F T1
	f.Mul(t2.T(), f)
	f.Mul(f, t1)

	// fix the gauge: divide by the lower right entry when it is safely away
	// from zero, otherwise by the largest magnitude entry. Some legitimate
	// geometries, e.g. sideways translation with the principal point at the
	// origin, have a zero lower right entry.
	scale := f.At(2, 2)
	if math.Abs(scale) <= 100*floatEpsilon*(1+mat.Norm(f, 2)) {
		scale = 0
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				if v := f.At(i, j); math.Abs(v) > math.Abs(scale) {
					scale = v
				}
			}
		}
		if scale == 0 {
			return nil, errors.New("fundamental matrix estimate is zero")
		}
	}
	f.Scale(1/scale, f)
	return f, nil
}

// EpipolarDistances computes, for each correspondence, the signed distance of
// the second view's point from the epipolar line induced by the first view's
// point, plus the mean absolute distance. The mean of absolute values is the
// quality metric; signed distances would cancel across the line.
func EpipolarDistances(f *mat.Dense, pts1, pts2 []r2.Point) ([]float64, float64, error) {
	if rows, cols := f.Dims(); rows != 3 || cols != 3 {
		return nil, 0, errors.Errorf("expected a 3x3 fundamental matrix, got %dx%d", rows, cols)
	}
	if err := checkMatched(pts1, pts2, 1); err != nil {
		return nil, 0, err
	}
	distances := make([]float64, len(pts1))
	sum := 0.0
	for i := range pts1 {
		p1 := pts1[i]
		p2 := pts2[i]
		// epipolar line in view 2: l = F [p1;1]
		l0 := f.At(0, 0)*p1.X + f.At(0, 1)*p1.Y + f.At(0, 2)
		l1 := f.At(1, 0)*p1.X + f.At(1, 1)*p1.Y + f.At(1, 2)
		l2 := f.At(2, 0)*p1.X + f.At(2, 1)*p1.Y + f.At(2, 2)
		norm := math.Hypot(l0, l1)
		if norm == 0 {
			return nil, 0, errors.Errorf("correspondence %d induces a degenerate epipolar line", i)
		}
		d := (l0*p2.X + l1*p2.Y + l2) / norm
		distances[i] = d
		sum += math.Abs(d)
	}
	return distances, sum / float64(len(distances)), nil
}

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 11.1.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	// compute centroid of points
	mu := r2.Point{}
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1. / float64(nPoints))
	// compute scale factor
	d := 0.0
	for _, pt := range pts {
		x2 := (pt.X - mu.X) * (pt.X - mu.X)
		y2 := (pt.Y - mu.Y) * (pt.Y - mu.Y)
		d += math.Sqrt(x2+y2) / float64(nPoints)
	}
	scale := math.Sqrt2 / d
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = r2.Point{X: scale * (pts[i].X - mu.X), Y: scale * (pts[i].Y - mu.Y)}
	}
	return pointsTransformed, t
}

// eye creates an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  *mat.Dense
}

// performSVD performs SVD on inputMatrix and returns matrices U, Sigma and V
// from the decomposition.
func performSVD(inputMatrix *mat.Dense) *matsSVD {
	var svd mat.SVD
	ok := svd.Factorize(inputMatrix, mat.SVDFull)
	if !ok {
		return nil
	}

	u, v, sigma, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}, &mat.Dense{}

	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())

	singularValues := svd.Values(nil)
	sigma.CloneFrom(mat.NewDiagDense(len(singularValues), singularValues))

	return &matsSVD{u, v, vt, sigma}
}
