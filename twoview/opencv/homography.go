// Package opencv provides robust two-view estimators backed by OpenCV via
// gocv. It lives in its own package so the core library carries no cgo
// requirement; import it only when OpenCV is available.
package opencv

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"go.viam.com/camgeom/twoview"
)

// prosacMethod is OpenCV's RHO (PROSAC based) flag, not named by gocv.
const prosacMethod gocv.HomographyMethod = 16

const (
	defaultReprojThreshold = 3.0
	defaultConfidence      = 0.995
	defaultMaxIters        = 2000
)

// HomographyEstimator finds homographies with OpenCV's findHomography. It
// implements twoview.HomographyEstimator.
type HomographyEstimator struct{}

// EstimateHomography runs OpenCV's findHomography over the matched point sets
// and returns the homography with the inlier mask of the robust search.
func (HomographyEstimator) EstimateHomography(
	pts1, pts2 []r2.Point,
	method twoview.HomographyMethod,
	opts *twoview.RobustOptions,
) (*twoview.Homography, []bool, error) {
	if len(pts1) != len(pts2) {
		return nil, nil, errors.Errorf("sets of points must have the same number of elements, %d != %d", len(pts1), len(pts2))
	}
	var cvMethod gocv.HomographyMethod
	switch method {
	case twoview.HomographyLeastSquares:
		cvMethod = gocv.HomographyMethodAllPoints
	case twoview.HomographyRANSAC:
		cvMethod = gocv.HomographyMethodRANSAC
	case twoview.HomographyLMedS:
		cvMethod = gocv.HomographyMethodLMEDS
	case twoview.HomographyPROSAC:
		cvMethod = prosacMethod
	default:
		return nil, nil, errors.Errorf("unknown homography method %d", int(method))
	}

	reprojThreshold := defaultReprojThreshold
	confidence := defaultConfidence
	maxIters := defaultMaxIters
	if opts != nil {
		if opts.ReprojThreshold > 0 {
			reprojThreshold = opts.ReprojThreshold
		}
		if opts.Confidence > 0 {
			confidence = opts.Confidence
		}
		if opts.MaxIters > 0 {
			maxIters = opts.MaxIters
		}
	}

	src := pointsToVector(pts1)
	defer src.Close()
	dst := pointsToVector(pts2)
	defer dst.Close()
	srcMat := src.ToMat()
	defer srcMat.Close()
	dstMat := dst.ToMat()
	defer dstMat.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	hMat := gocv.FindHomography(srcMat, &dstMat, cvMethod, reprojThreshold, &mask, maxIters, confidence)
	defer hMat.Close()
	if hMat.Empty() {
		return nil, nil, errors.New("findHomography found no solution")
	}

	vals := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			vals = append(vals, hMat.GetDoubleAt(i, j))
		}
	}
	h, err := twoview.NewHomography(vals)
	if err != nil {
		return nil, nil, err
	}

	inliers := make([]bool, len(pts1))
	if !mask.Empty() {
		for i := range inliers {
			inliers[i] = mask.GetUCharAt(i, 0) != 0
		}
	} else {
		for i := range inliers {
			inliers[i] = true
		}
	}
	return h, inliers, nil
}

func pointsToVector(pts []r2.Point) gocv.Point2fVector {
	converted := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		converted[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return gocv.NewPoint2fVectorFromPoints(converted)
}
