// Package calib estimates camera calibration matrices from world/image point
// correspondences and decomposes them back into intrinsic parameters and pose.
package calib

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camgeom/spatialmath"
)

// ErrDegenerate is returned when the calibration system is rank deficient,
// e.g. the world points are coplanar.
var ErrDegenerate = errors.New("degenerate point configuration, calibration system is rank deficient")

// minCorrespondences is the smallest correspondence count that determines the
// 11 unknowns of the camera matrix.
const minCorrespondences = 6

// defaultEstimateRankTol is relative to the largest singular value, so the
// rank test scales with the data.
const defaultEstimateRankTol = 1e-12

// EstimateOptions hold the numeric tolerances of camera matrix estimation.
// Zero values select the defaults.
type EstimateOptions struct {
	// RankTol is the relative singular value threshold of the degeneracy rank
	// check, measured against the largest singular value.
	RankTol float64
}

// EstimateCameraMatrix computes the 3x4 camera matrix from corresponding world
// and image points by direct linear transform. Matching indices of world and
// image denote the same physical point. The homogeneous scale is fixed by
// setting the last entry of the matrix to 1. It returns the matrix and the
// per-equation least squares residuals.
func EstimateCameraMatrix(world []r3.Vector, image []r2.Point, opts *EstimateOptions) (*mat.Dense, []float64, error) {
	if len(world) != len(image) {
		return nil, nil, errors.Errorf("world and image point counts differ, %d != %d", len(world), len(image))
	}
	if len(world) < minCorrespondences {
		return nil, nil, errors.Errorf("need at least %d correspondences, got %d", minCorrespondences, len(world))
	}
	n := len(world)

	// two equations per correspondence, 11 unknowns
	a := mat.NewDense(2*n, 11, nil)
	b := mat.NewVecDense(2*n, nil)
	for i := range world {
		p := world[i]
		u, v := image[i].X, image[i].Y
		a.SetRow(2*i, []float64{
			p.X, p.Y, p.Z, 1, 0, 0, 0, 0, -u * p.X, -u * p.Y, -u * p.Z,
		})
		a.SetRow(2*i+1, []float64{
			0, 0, 0, 0, p.X, p.Y, p.Z, 1, -v * p.X, -v * p.Y, -v * p.Z,
		})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	rcond := defaultEstimateRankTol
	if opts != nil && opts.RankTol != 0 {
		rcond = opts.RankTol
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, nil, errors.New("failed to factorize calibration system")
	}
	rank := svd.Rank(rcond)
	if rank < 11 {
		return nil, nil, ErrDegenerate
	}
	var c mat.Dense
	svd.SolveTo(&c, b, rank)

	residuals := make([]float64, 2*n)
	for i := 0; i < 2*n; i++ {
		r := -b.AtVec(i)
		for j := 0; j < 11; j++ {
			r += a.At(i, j) * c.At(j, 0)
		}
		residuals[i] = r
	}

	data := make([]float64, 12)
	for j := 0; j < 11; j++ {
		data[j] = c.At(j, 0)
	}
	data[11] = 1
	return mat.NewDense(3, 4, data), residuals, nil
}

// EstimatePose recovers the camera pose from world/image correspondences by
// estimating the camera matrix and decomposing it. This is a linear method;
// it needs at least 6 non-coplanar points and assumes no lens distortion.
func EstimatePose(world []r3.Vector, image []r2.Point) (*spatialmath.Pose, error) {
	c, _, err := EstimateCameraMatrix(world, image, nil)
	if err != nil {
		return nil, err
	}
	cam, err := DecomposeCameraMatrix(c, nil)
	if err != nil {
		return nil, err
	}
	return cam.Pose(), nil
}
