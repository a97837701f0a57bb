// Package twoview computes the geometric relationships between two camera
// views of a scene: homographies, fundamental and essential matrices, and
// relative pose recovery.
package twoview

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camgeom/spatialmath"
)

// HomographyMethod selects the algorithm for homography estimation from
// correspondences.
type HomographyMethod int

// Homography estimation methods. Only least squares is built in; the others
// name robust searches performed by an external estimator.
const (
	HomographyLeastSquares HomographyMethod = iota
	HomographyRANSAC
	HomographyLMedS
	HomographyPROSAC
)

func (m HomographyMethod) String() string {
	switch m {
	case HomographyLeastSquares:
		return "leastsquares"
	case HomographyRANSAC:
		return "ransac"
	case HomographyLMedS:
		return "lmeds"
	case HomographyPROSAC:
		return "prosac"
	default:
		return "unknown"
	}
}

func (m HomographyMethod) validate() error {
	if m < HomographyLeastSquares || m > HomographyPROSAC {
		return errors.Errorf("unknown homography method %d", int(m))
	}
	return nil
}

// FundamentalMethod selects the algorithm for fundamental matrix estimation
// from correspondences.
type FundamentalMethod int

// Fundamental matrix estimation methods. Only the 8-point method is built in;
// the others name minimal or robust solvers performed by an external
// estimator.
const (
	FundamentalEightPoint FundamentalMethod = iota
	FundamentalSevenPoint
	FundamentalRANSAC
	FundamentalLMedS
)

func (m FundamentalMethod) String() string {
	switch m {
	case FundamentalEightPoint:
		return "8p"
	case FundamentalSevenPoint:
		return "7p"
	case FundamentalRANSAC:
		return "ransac"
	case FundamentalLMedS:
		return "lmeds"
	default:
		return "unknown"
	}
}

func (m FundamentalMethod) validate() error {
	if m < FundamentalEightPoint || m > FundamentalLMedS {
		return errors.Errorf("unknown fundamental matrix method %d", int(m))
	}
	return nil
}

// RobustOptions are passed through to robust estimators.
type RobustOptions struct {
	// ReprojThreshold is the inlier reprojection error threshold in pixels.
	ReprojThreshold float64
	// Confidence is the desired probability of finding the true model.
	Confidence float64
	// MaxIters caps the number of search iterations.
	MaxIters int
}

// HomographyEstimator finds a homography between matched point sets, returning
// the homography and a per-correspondence inlier mask. Implementations
// typically wrap a robust search such as RANSAC.
type HomographyEstimator interface {
	EstimateHomography(pts1, pts2 []r2.Point, method HomographyMethod, opts *RobustOptions) (*Homography, []bool, error)
}

// FundamentalEstimator finds a fundamental matrix between matched point sets,
// returning the matrix and a per-correspondence inlier mask.
type FundamentalEstimator interface {
	EstimateFundamental(pts1, pts2 []r2.Point, method FundamentalMethod, opts *RobustOptions) (*mat.Dense, []bool, error)
}

// PoseRecoverer resolves the pose ambiguity of an essential matrix by
// chirality voting over a correspondence set, returning the selected relative
// pose and the mask of points in front of both cameras.
type PoseRecoverer interface {
	RecoverPose(e *mat.Dense, pts1, pts2 []r2.Point, k *mat.Dense) (*spatialmath.Pose, []bool, error)
}

// HomographyDecomposer recovers the candidate plane-induced motions from a
// homography. The result is inherently multi-solution.
type HomographyDecomposer interface {
	DecomposeHomography(h *Homography, k *mat.Dense) ([]PlaneMotion, error)
}

// PlaneMotion is one candidate solution of a homography decomposition: a
// relative camera motion and the observed plane normal.
type PlaneMotion struct {
	Pose   *spatialmath.Pose
	Normal r3.Vector
}

func checkMatched(pts1, pts2 []r2.Point, minPoints int) error {
	if len(pts1) != len(pts2) {
		return errors.Errorf("sets of points must have the same number of elements, %d != %d", len(pts1), len(pts2))
	}
	if len(pts1) < minPoints {
		return errors.Errorf("sets of points must have at least %d elements, got %d", minPoints, len(pts1))
	}
	return nil
}
