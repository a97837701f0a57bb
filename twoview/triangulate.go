package twoview

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camgeom/spatialmath"
	"go.viam.com/camgeom/utils"
)

// defaultTriangulateRankTol is relative to the largest singular value of each
// per-point system.
const defaultTriangulateRankTol = 1e-15

// TriangulateOptions hold the numeric tolerances of linear triangulation.
// Zero values select the defaults.
type TriangulateOptions struct {
	// RankTol is the relative singular value threshold of the per-point
	// degeneracy rank check, measured against the largest singular value.
	RankTol float64
}

// TriangulateLinear computes 3D points from matched image points of two views
// with the linear method. The first view has the identity pose, the second
// the 3x4 [R|t] matrix pose. Points are expressed in the first view's frame.
// Each point's system is independent, so the loop runs in parallel.
func TriangulateLinear(pose *mat.Dense, pts1, pts2 []r2.Point, opts *TriangulateOptions) ([]r3.Vector, error) {
	if rows, cols := pose.Dims(); rows != 3 || cols != 4 {
		return nil, errors.Errorf("expected a 3x4 pose matrix, got %dx%d", rows, cols)
	}
	if err := checkMatched(pts1, pts2, 1); err != nil {
		return nil, err
	}
	// identity pose for the first view
	p := mat.NewDense(3, 4, nil)
	p.Set(0, 0, 1)
	p.Set(1, 1, 1)
	p.Set(2, 2, 1)
	pDash := mat.DenseCopyOf(pose)

	rcond := defaultTriangulateRankTol
	if opts != nil && opts.RankTol != 0 {
		rcond = opts.RankTol
	}

	pts3d := make([]r3.Vector, len(pts1))
	err := utils.ParallelForEachPoint(len(pts1), func(i int) error {
		p1 := r3.Vector{X: pts1[i].X, Y: pts1[i].Y, Z: 1}
		p2 := r3.Vector{X: pts2[i].X, Y: pts2[i].Y, Z: 1}
		var p1CrossP, p2CrossPdash mat.Dense
		p1CrossP.Mul(spatialmath.Skew(p1), p)
		p2CrossPdash.Mul(spatialmath.Skew(p2), pDash)
		var a mat.Dense
		a.Stack(&p1CrossP, &p2CrossPdash)

		var svd mat.SVD
		if !svd.Factorize(&a, mat.SVDFull) {
			return errors.Errorf("failed to factorize triangulation system for point %d", i)
		}
		if svd.Rank(rcond) == 0 {
			return errors.Errorf("zero rank triangulation system for point %d", i)
		}
		var v mat.Dense
		svd.VTo(&v)
		w := v.At(3, 3)
		if w == 0 {
			return errors.Errorf("point %d triangulates to infinity", i)
		}
		pts3d[i] = r3.Vector{
			X: v.At(0, 3) / w,
			Y: v.At(1, 3) / w,
			Z: v.At(2, 3) / w,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pts3d, nil
}

// countPositiveDepth counts the triangulated points lying in front of both
// cameras under the candidate 3x4 [R|t] pose of the second view, the
// cheirality test. It also returns the per-point mask.
func countPositiveDepth(pose *mat.Dense, pts3d []r3.Vector) (int, []bool) {
	rot3 := r3.Vector{X: pose.At(2, 0), Y: pose.At(2, 1), Z: pose.At(2, 2)}
	tz := pose.At(2, 3)
	mask := make([]bool, len(pts3d))
	count := 0
	for i, pt := range pts3d {
		// depth in view 1 is the z coordinate itself; in view 2 it is the
		// third row of R X + t
		if pt.Z > 0 && rot3.Dot(pt)+tz > 0 {
			mask[i] = true
			count++
		}
	}
	return count, mask
}
