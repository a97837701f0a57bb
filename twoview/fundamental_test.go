package twoview

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/camgeom/camera"
	"go.viam.com/camgeom/spatialmath"
)

func rotX(theta float64) *spatialmath.RotationMatrix {
	return spatialmath.NewRotationMatrixFromQuaternion(quat.Number{Real: math.Cos(theta / 2), Imag: math.Sin(theta / 2)})
}

func rotY(theta float64) *spatialmath.RotationMatrix {
	return spatialmath.NewRotationMatrixFromQuaternion(quat.Number{Real: math.Cos(theta / 2), Jmag: math.Sin(theta / 2)})
}

// twoViewScene builds two views of a non-coplanar point cloud: a camera before
// and after a known relative motion, with the exact projections in both views.
func twoViewScene(t *testing.T) (cam1, cam2 *camera.Perspective, motion *spatialmath.Pose, world []r3.Vector, pts1, pts2 []r2.Point) {
	t.Helper()
	motion = spatialmath.NewPose(r3.Vector{X: 0.3, Y: 0.1, Z: 0.05}, rotY(0.08).Mul(rotX(-0.05)))

	var err error
	cam1, err = camera.NewPerspective(camera.PerspectiveConfig{})
	test.That(t, err, test.ShouldBeNil)
	cam2 = cam1.Move(motion)

	world = []r3.Vector{
		{X: 0, Y: 0, Z: 4},
		{X: 1, Y: 0.5, Z: 3},
		{X: -1, Y: 0.25, Z: 5},
		{X: 0.5, Y: -1, Z: 6},
		{X: -0.5, Y: 0.75, Z: 3.5},
		{X: 0.3, Y: 0.4, Z: 4.5},
		{X: -0.7, Y: -0.6, Z: 5.5},
		{X: 0.9, Y: -0.3, Z: 3.2},
		{X: 0.1, Y: 0.8, Z: 5.8},
		{X: -0.2, Y: -0.9, Z: 4.1},
		{X: 0.6, Y: 0.2, Z: 3.7},
		{X: -0.4, Y: -0.2, Z: 4.9},
		{X: 0.2, Y: -0.5, Z: 5.3},
		{X: -0.9, Y: 0.6, Z: 3.9},
		{X: 0.7, Y: 0.9, Z: 4.4},
	}
	pts1, err = cam1.ProjectPoints(world, nil)
	test.That(t, err, test.ShouldBeNil)
	pts2, err = cam2.ProjectPoints(world, nil)
	test.That(t, err, test.ShouldBeNil)
	for i := range world {
		test.That(t, math.IsNaN(pts1[i].X), test.ShouldBeFalse)
		test.That(t, math.IsNaN(pts2[i].X), test.ShouldBeFalse)
	}
	return cam1, cam2, motion, world, pts1, pts2
}

// assertProportional checks that two matrices are equal up to a common scale,
// anchoring the scale on the entry of a with the largest magnitude.
func assertProportional(t *testing.T, a, b *mat.Dense, tol float64) {
	t.Helper()
	rows, cols := a.Dims()
	bRows, bCols := b.Dims()
	test.That(t, bRows, test.ShouldEqual, rows)
	test.That(t, bCols, test.ShouldEqual, cols)

	mi, mj := 0, 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if math.Abs(a.At(i, j)) > math.Abs(a.At(mi, mj)) {
				mi, mj = i, j
			}
		}
	}
	test.That(t, b.At(mi, mj), test.ShouldNotEqual, 0)
	scale := a.At(mi, mj) / b.At(mi, mj)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			test.That(t, a.At(i, j), test.ShouldAlmostEqual, scale*b.At(i, j), tol)
		}
	}
}

func TestEstimateFundamentalAllPoints(t *testing.T) {
	_, _, _, _, pts1, pts2 := twoViewScene(t)

	f, err := EstimateFundamentalAllPoints(pts1, pts2, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.At(2, 2), test.ShouldEqual, 1)

	dists, mean, err := EpipolarDistances(f, pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	for _, d := range dists {
		test.That(t, d, test.ShouldAlmostEqual, 0, 1e-6)
	}
	test.That(t, mean, test.ShouldAlmostEqual, 0, 1e-6)
}

func TestEstimateFundamentalSidewaysTranslation(t *testing.T) {
	// with the principal point at the origin and a pure sideways translation,
	// the true fundamental matrix has a zero lower right entry; the estimate
	// must still come out normalized instead of erroring
	cam1, err := camera.NewPerspective(camera.PerspectiveConfig{PrincipalPoint: []float64{0}})
	test.That(t, err, test.ShouldBeNil)
	motion := spatialmath.NewPoseFromPoint(r3.Vector{X: 0.2})
	cam2 := cam1.Move(motion)

	world := []r3.Vector{
		{X: 0, Y: 0, Z: 4},
		{X: 1, Y: 0.5, Z: 3},
		{X: -1, Y: 0.25, Z: 5},
		{X: 0.5, Y: -1, Z: 6},
		{X: -0.5, Y: 0.75, Z: 3.5},
		{X: 0.3, Y: 0.4, Z: 4.5},
		{X: -0.7, Y: -0.6, Z: 5.5},
		{X: 0.9, Y: -0.3, Z: 3.2},
		{X: 0.1, Y: 0.8, Z: 5.8},
		{X: -0.2, Y: -0.9, Z: 4.1},
	}
	pts1, err := cam1.ProjectPoints(world, nil)
	test.That(t, err, test.ShouldBeNil)
	pts2, err := cam2.ProjectPoints(world, nil)
	test.That(t, err, test.ShouldBeNil)

	f, err := EstimateFundamentalAllPoints(pts1, pts2, true)
	test.That(t, err, test.ShouldBeNil)

	maxAbs := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			maxAbs = math.Max(maxAbs, math.Abs(f.At(i, j)))
		}
	}
	test.That(t, maxAbs, test.ShouldAlmostEqual, 1, 1e-9)

	dists, mean, err := EpipolarDistances(f, pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	for _, d := range dists {
		test.That(t, d, test.ShouldAlmostEqual, 0, 1e-6)
	}
	test.That(t, mean, test.ShouldAlmostEqual, 0, 1e-6)
}

func TestEstimateFundamentalUnnormalized(t *testing.T) {
	_, _, _, _, pts1, pts2 := twoViewScene(t)

	f, err := EstimateFundamentalAllPoints(pts1, pts2, false)
	test.That(t, err, test.ShouldBeNil)
	_, mean, err := EpipolarDistances(f, pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	// without Hartley normalization the conditioning is worse
	test.That(t, mean, test.ShouldAlmostEqual, 0, 1e-3)
}

func TestFundamentalMatchesEssential(t *testing.T) {
	cam1, cam2, _, _, pts1, pts2 := twoViewScene(t)

	e := EssentialFromCameras(cam1, cam2)
	k := cam1.Intrinsics().K()
	fTrue, err := FundamentalFromEssential(k, k, e)
	test.That(t, err, test.ShouldBeNil)

	fEst, err := EstimateFundamentalAllPoints(pts1, pts2, true)
	test.That(t, err, test.ShouldBeNil)
	assertProportional(t, fEst, fTrue, 1e-5)
}

type stubFundamentalEstimator struct {
	f    *mat.Dense
	mask []bool
}

func (s stubFundamentalEstimator) EstimateFundamental(
	pts1, pts2 []r2.Point, method FundamentalMethod, opts *RobustOptions,
) (*mat.Dense, []bool, error) {
	return s.f, s.mask, nil
}

func TestEstimateFundamentalDispatch(t *testing.T) {
	_, _, _, _, pts1, pts2 := twoViewScene(t)

	f, mask, err := EstimateFundamental(pts1, pts2, FundamentalEightPoint, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldNotBeNil)
	test.That(t, len(mask), test.ShouldEqual, len(pts1))
	for _, ok := range mask {
		test.That(t, ok, test.ShouldBeTrue)
	}

	_, _, err = EstimateFundamental(pts1, pts2, FundamentalRANSAC, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "requires an external")

	stub := stubFundamentalEstimator{f: eye(3), mask: make([]bool, len(pts1))}
	f, mask, err = EstimateFundamental(pts1, pts2, FundamentalLMedS, stub, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.At(0, 0), test.ShouldEqual, 1.0)
	test.That(t, f.At(0, 1), test.ShouldEqual, 0.0)
	test.That(t, len(mask), test.ShouldEqual, len(pts1))

	_, _, err = EstimateFundamental(pts1, pts2, FundamentalMethod(99), nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown fundamental matrix method")
}

func TestEstimateFundamentalTooFewPoints(t *testing.T) {
	pts := []r2.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}
	_, err := EstimateFundamentalAllPoints(pts, pts, true)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "at least 8")
}

func TestEpipolarDistancesMeanAbsolute(t *testing.T) {
	// F [p1;1] for p1=(1,0) gives the epipolar line y=0 in the second view;
	// points on opposite sides carry opposite signs but the mean does not cancel
	f := mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 0,
	})
	pts1 := []r2.Point{{X: 1, Y: 0}, {X: 1, Y: 0}}
	pts2 := []r2.Point{{X: 0, Y: 1}, {X: 0, Y: -1}}

	dists, mean, err := EpipolarDistances(f, pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dists[0], test.ShouldAlmostEqual, 1)
	test.That(t, dists[1], test.ShouldAlmostEqual, -1)
	test.That(t, mean, test.ShouldAlmostEqual, 1)
}

func TestEpipolarDistancesErrors(t *testing.T) {
	_, _, err := EpipolarDistances(mat.NewDense(2, 2, nil), nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected a 3x3 fundamental matrix")

	_, _, err = EpipolarDistances(eye(3), []r2.Point{{X: 1}}, []r2.Point{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFundamentalMethodString(t *testing.T) {
	test.That(t, FundamentalEightPoint.String(), test.ShouldEqual, "8p")
	test.That(t, FundamentalSevenPoint.String(), test.ShouldEqual, "7p")
	test.That(t, FundamentalRANSAC.String(), test.ShouldEqual, "ransac")
	test.That(t, FundamentalLMedS.String(), test.ShouldEqual, "lmeds")
	test.That(t, FundamentalMethod(42).String(), test.ShouldEqual, "unknown")
}
