package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"go.viam.com/camgeom/spatialmath"
	"go.viam.com/camgeom/utils"
)

// minPointsForParallel is the batch size above which point projection is
// spread across worker goroutines.
const minPointsForParallel = 512

// ProjectOptions modify a point projection.
type ProjectOptions struct {
	// Pose overrides the camera's own pose for this projection only.
	Pose *spatialmath.Pose
	// ObjectPose is the frame of the input points; points are taken as world
	// frame coordinates when nil.
	ObjectPose *spatialmath.Pose
	// KeepBehind disables the NaN sentinel for points behind the camera.
	KeepBehind bool
}

// ProjectionMatrix computes the 3x4 camera matrix C = K [I|0] pose^-1 for the
// given pose, or the camera's own pose if nil. The matrix is recomputed on
// every call so it can never go stale after a pose change.
func (c *Perspective) ProjectionMatrix(pose *spatialmath.Pose) *mat.Dense {
	if pose == nil {
		pose = c.pose
	}
	tInv := spatialmath.PoseInverse(pose).Matrix() // 4x4
	p0 := mat.NewDense(3, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
	var ext, out mat.Dense
	ext.Mul(p0, tInv)
	out.Mul(c.intrinsics.K(), &ext)
	return &out
}

// ProjectPoints projects world points onto the image plane. Points behind the
// camera project to (NaN, NaN) unless opts.KeepBehind is set; this is a
// per-point sentinel, not an error. When the camera was configured with a
// noise standard deviation, zero mean Gaussian noise is added to every
// coordinate.
func (c *Perspective) ProjectPoints(pts []r3.Vector, opts *ProjectOptions) ([]r2.Point, error) {
	if opts == nil {
		opts = &ProjectOptions{}
	}
	proj := c.ProjectionMatrix(opts.Pose)
	if opts.ObjectPose != nil {
		var folded mat.Dense
		folded.Mul(proj, opts.ObjectPose.Matrix())
		proj = &folded
	}

	out := make([]r2.Point, len(pts))
	projectOne := func(i int) error {
		p := pts[i]
		u := proj.At(0, 0)*p.X + proj.At(0, 1)*p.Y + proj.At(0, 2)*p.Z + proj.At(0, 3)
		v := proj.At(1, 0)*p.X + proj.At(1, 1)*p.Y + proj.At(1, 2)*p.Z + proj.At(1, 3)
		w := proj.At(2, 0)*p.X + proj.At(2, 1)*p.Y + proj.At(2, 2)*p.Z + proj.At(2, 3)
		if w < 0 && !opts.KeepBehind {
			out[i] = r2.Point{X: math.NaN(), Y: math.NaN()}
			return nil
		}
		out[i] = r2.Point{X: u / w, Y: v / w}
		return nil
	}
	if len(pts) >= minPointsForParallel {
		if err := utils.ParallelForEachPoint(len(pts), projectOne); err != nil {
			return nil, err
		}
	} else {
		for i := range pts {
			//nolint:errcheck
			projectOne(i)
		}
	}

	if c.noiseSigma > 0 {
		dist := distuv.Normal{Mu: 0, Sigma: c.noiseSigma, Src: c.noiseSource}
		for i := range out {
			out[i].X += dist.Rand()
			out[i].Y += dist.Rand()
		}
	}
	return out, nil
}

// ProjectPointsVisible projects points and additionally reports, per point,
// whether the projection landed inside the image bounds. NaN projections
// (behind the camera) are never visible.
func (c *Perspective) ProjectPointsVisible(pts []r3.Vector, opts *ProjectOptions) ([]r2.Point, []bool, error) {
	projected, err := c.ProjectPoints(pts, opts)
	if err != nil {
		return nil, nil, err
	}
	visible := make([]bool, len(projected))
	for i, p := range projected {
		visible[i] = !math.IsNaN(p.X) && !math.IsNaN(p.Y) &&
			p.X >= 0 && p.X < float64(c.intrinsics.Width) &&
			p.Y >= 0 && p.Y < float64(c.intrinsics.Height)
	}
	return projected, visible, nil
}

// ProjectRay projects a 3D line to the homogeneous image plane line
// l = vex(C L C^T), where L is the Plucker skew matrix of the ray. The result
// is normalized by its largest magnitude coefficient.
func (c *Perspective) ProjectRay(ray *spatialmath.Ray) (r3.Vector, error) {
	if ray == nil {
		return r3.Vector{}, errors.New("ray must not be nil")
	}
	proj := c.ProjectionMatrix(nil)
	var tmp, lineMat mat.Dense
	tmp.Mul(proj, ray.PluckerSkew())
	lineMat.Mul(&tmp, proj.T())
	l, err := spatialmath.Vex(&lineMat)
	if err != nil {
		return r3.Vector{}, errors.Wrap(err, "projected line matrix is not skew-symmetric")
	}
	maxAbs := math.Max(math.Abs(l.X), math.Max(math.Abs(l.Y), math.Abs(l.Z)))
	if maxAbs == 0 {
		return r3.Vector{}, errors.New("line projects to zero, it passes through the camera center")
	}
	return l.Mul(1 / maxAbs), nil
}

// ProjectQuadric projects a 4x4 quadric matrix to the 3x3 image plane conic
// a = C A C^T.
func (c *Perspective) ProjectQuadric(quadric *mat.Dense) (*mat.Dense, error) {
	if quadric == nil {
		return nil, errors.New("quadric must not be nil")
	}
	if rows, cols := quadric.Dims(); rows != 4 || cols != 4 {
		return nil, errors.Errorf("expected a 4x4 quadric matrix, got %dx%d", rows, cols)
	}
	proj := c.ProjectionMatrix(nil)
	var tmp, conic mat.Dense
	tmp.Mul(proj, quadric)
	conic.Mul(&tmp, proj.T())
	return &conic, nil
}

// BackProjectRays maps image plane points to the rays they view: each ray
// passes through the camera center with direction M^-1 [p;1], where M is the
// leading 3x3 block of the camera matrix.
func (c *Perspective) BackProjectRays(pts []r2.Point) ([]*spatialmath.Ray, error) {
	proj := c.ProjectionMatrix(nil)
	m := mat.DenseCopyOf(proj.Slice(0, 3, 0, 3))
	var mInv mat.Dense
	if err := mInv.Inverse(m); err != nil {
		return nil, errors.Wrap(err, "camera matrix has a singular leading 3x3 block")
	}
	c4 := r3.Vector{X: proj.At(0, 3), Y: proj.At(1, 3), Z: proj.At(2, 3)}
	center := mulVec(&mInv, c4).Mul(-1)

	rays := make([]*spatialmath.Ray, len(pts))
	for i, p := range pts {
		dir := mulVec(&mInv, r3.Vector{X: p.X, Y: p.Y, Z: 1})
		ray, err := spatialmath.NewRay(center, dir)
		if err != nil {
			return nil, errors.Wrapf(err, "point %d back-projects to a degenerate ray", i)
		}
		rays[i] = ray
	}
	return rays, nil
}

func mulVec(m *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}
