package camera

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camgeom/spatialmath"
)

func defaultCamera(t *testing.T) *Perspective {
	t.Helper()
	cam, err := NewPerspective(PerspectiveConfig{})
	test.That(t, err, test.ShouldBeNil)
	return cam
}

func TestProjectPoints(t *testing.T) {
	cam := defaultCamera(t)

	// f = 8mm, 10um pixels: 800 pixels of focal length, principal point (512,512)
	pts, err := cam.ProjectPoints([]r3.Vector{{X: 0.3, Y: 0.4, Z: 2}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts[0].X, test.ShouldAlmostEqual, 632, 1e-9)
	test.That(t, pts[0].Y, test.ShouldAlmostEqual, 672, 1e-9)

	// a point on the optical axis lands on the principal point
	pts, err = cam.ProjectPoints([]r3.Vector{{Z: 5}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts[0].X, test.ShouldAlmostEqual, 512, 1e-9)
	test.That(t, pts[0].Y, test.ShouldAlmostEqual, 512, 1e-9)
}

func TestProjectPointsMovedCamera(t *testing.T) {
	cam := defaultCamera(t).WithPose(spatialmath.NewPoseFromPoint(r3.Vector{Z: -1}))
	pts, err := cam.ProjectPoints([]r3.Vector{{X: 0.3, Y: 0.4, Z: 2}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts[0].X, test.ShouldAlmostEqual, 512+800*0.3/3, 1e-9)
	test.That(t, pts[0].Y, test.ShouldAlmostEqual, 512+800*0.4/3, 1e-9)
}

func TestProjectPointsPoseOverride(t *testing.T) {
	cam := defaultCamera(t)
	p := spatialmath.NewPose(r3.Vector{X: 0.2, Y: -0.1, Z: 0.3}, rotY(0.2))

	world := []r3.Vector{{X: 0.3, Y: 0.4, Z: 2}, {X: -0.5, Y: 0.1, Z: 3}}
	viaOpts, err := cam.ProjectPoints(world, &ProjectOptions{Pose: p})
	test.That(t, err, test.ShouldBeNil)
	viaMoved, err := cam.WithPose(p).ProjectPoints(world, nil)
	test.That(t, err, test.ShouldBeNil)
	for i := range world {
		test.That(t, viaOpts[i].X, test.ShouldAlmostEqual, viaMoved[i].X, 1e-12)
		test.That(t, viaOpts[i].Y, test.ShouldAlmostEqual, viaMoved[i].Y, 1e-12)
	}
	// camera pose itself is untouched by the override
	test.That(t, spatialmath.PoseAlmostEqual(cam.Pose(), spatialmath.NewZeroPose(), 1e-12), test.ShouldBeTrue)
}

func TestProjectPointsObjectPose(t *testing.T) {
	cam := defaultCamera(t)
	objPose := spatialmath.NewPoseFromPoint(r3.Vector{Z: 2})
	pts, err := cam.ProjectPoints([]r3.Vector{{X: 0.3, Y: 0.4}}, &ProjectOptions{ObjectPose: objPose})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts[0].X, test.ShouldAlmostEqual, 632, 1e-9)
	test.That(t, pts[0].Y, test.ShouldAlmostEqual, 672, 1e-9)
}

func TestProjectPointsBehindCamera(t *testing.T) {
	cam := defaultCamera(t)

	pts, err := cam.ProjectPoints([]r3.Vector{{Z: -2}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsNaN(pts[0].X), test.ShouldBeTrue)
	test.That(t, math.IsNaN(pts[0].Y), test.ShouldBeTrue)

	pts, err = cam.ProjectPoints([]r3.Vector{{Z: -2}}, &ProjectOptions{KeepBehind: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsNaN(pts[0].X), test.ShouldBeFalse)
	test.That(t, pts[0].X, test.ShouldAlmostEqual, 512, 1e-9)
}

func TestProjectPointsVisible(t *testing.T) {
	cam := defaultCamera(t)
	pts, visible, err := cam.ProjectPointsVisible([]r3.Vector{
		{X: 0.3, Y: 0.4, Z: 2}, // inside the image
		{X: 5, Z: 2},           // projects far off the right edge
		{Z: -2},                // behind the camera
	}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, visible[0], test.ShouldBeTrue)
	test.That(t, visible[1], test.ShouldBeFalse)
	test.That(t, pts[1].X, test.ShouldAlmostEqual, 2512, 1e-9)
	test.That(t, visible[2], test.ShouldBeFalse)
}

func TestProjectPointsParallel(t *testing.T) {
	cam := defaultCamera(t)
	n := 2 * minPointsForParallel
	world := make([]r3.Vector, n)
	for i := range world {
		world[i] = r3.Vector{X: 0.3, Y: 0.4, Z: 2}
	}
	pts, err := cam.ProjectPoints(world, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldEqual, n)
	for i := range pts {
		test.That(t, pts[i].X, test.ShouldAlmostEqual, 632, 1e-9)
		test.That(t, pts[i].Y, test.ShouldAlmostEqual, 672, 1e-9)
	}
}

func TestProjectPointsNoise(t *testing.T) {
	cam, err := NewPerspective(PerspectiveConfig{NoiseSigma: 0.5})
	test.That(t, err, test.ShouldBeNil)
	world := make([]r3.Vector, 50)
	for i := range world {
		world[i] = r3.Vector{X: 0.3, Y: 0.4, Z: 2}
	}
	pts, err := cam.ProjectPoints(world, nil)
	test.That(t, err, test.ShouldBeNil)
	spread := false
	for i := range pts {
		// noisy values stay within a handful of standard deviations
		test.That(t, pts[i].X, test.ShouldAlmostEqual, 632, 5)
		test.That(t, pts[i].Y, test.ShouldAlmostEqual, 672, 5)
		if pts[i].X != 632 || pts[i].Y != 672 {
			spread = true
		}
	}
	test.That(t, spread, test.ShouldBeTrue)
}

func TestProjectPointsNoiseSeeded(t *testing.T) {
	world := []r3.Vector{
		{X: 0.3, Y: 0.4, Z: 2},
		{X: -0.5, Y: 0.1, Z: 3},
		{X: 0.2, Y: -0.7, Z: 4},
	}
	project := func(seed uint64) []r2.Point {
		cam, err := NewPerspective(PerspectiveConfig{
			NoiseSigma:  0.5,
			NoiseSource: rand.NewSource(seed),
		})
		test.That(t, err, test.ShouldBeNil)
		pts, err := cam.ProjectPoints(world, nil)
		test.That(t, err, test.ShouldBeNil)
		return pts
	}

	// the same seed reproduces the same noisy projections exactly
	first := project(42)
	second := project(42)
	for i := range first {
		test.That(t, second[i].X, test.ShouldEqual, first[i].X)
		test.That(t, second[i].Y, test.ShouldEqual, first[i].Y)
	}

	// a different seed draws a different stream
	other := project(7)
	differs := false
	for i := range first {
		if other[i].X != first[i].X || other[i].Y != first[i].Y {
			differs = true
		}
	}
	test.That(t, differs, test.ShouldBeTrue)
}

func TestProjectRay(t *testing.T) {
	cam := defaultCamera(t)
	a := r3.Vector{X: 0.2, Y: -0.1, Z: 3}
	b := r3.Vector{X: -0.4, Y: 0.5, Z: 4}
	ray, err := spatialmath.NewRayFromPoints(a, b)
	test.That(t, err, test.ShouldBeNil)

	l, err := cam.ProjectRay(ray)
	test.That(t, err, test.ShouldBeNil)

	// the projections of points on the ray satisfy the line equation
	pts, err := cam.ProjectPoints([]r3.Vector{a, b}, nil)
	test.That(t, err, test.ShouldBeNil)
	for _, p := range pts {
		test.That(t, l.X*p.X+l.Y*p.Y+l.Z, test.ShouldAlmostEqual, 0, 1e-6)
	}

	// largest coefficient is normalized to magnitude 1
	maxAbs := math.Max(math.Abs(l.X), math.Max(math.Abs(l.Y), math.Abs(l.Z)))
	test.That(t, maxAbs, test.ShouldAlmostEqual, 1, 1e-12)
}

func TestProjectRayErrors(t *testing.T) {
	cam := defaultCamera(t)
	_, err := cam.ProjectRay(nil)
	test.That(t, err, test.ShouldNotBeNil)

	// a ray through the camera center projects to nothing
	ray, err := spatialmath.NewRay(r3.Vector{}, r3.Vector{Z: 1})
	test.That(t, err, test.ShouldBeNil)
	_, err = cam.ProjectRay(ray)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera center")
}

func TestProjectQuadric(t *testing.T) {
	cam := defaultCamera(t)

	// unit sphere centered at (0,0,5)
	quadric := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, -5,
		0, 0, -5, 24,
	})
	conic, err := cam.ProjectQuadric(quadric)
	test.That(t, err, test.ShouldBeNil)
	rows, cols := conic.Dims()
	test.That(t, rows, test.ShouldEqual, 3)
	test.That(t, cols, test.ShouldEqual, 3)
	// a quadric projects to a symmetric conic
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, conic.At(i, j), test.ShouldAlmostEqual, conic.At(j, i), 1e-6)
		}
	}

	_, err = cam.ProjectQuadric(nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = cam.ProjectQuadric(mat.NewDense(3, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected a 4x4 quadric")
}

func TestBackProjectRays(t *testing.T) {
	pose := spatialmath.NewPose(r3.Vector{X: 0.2, Y: -0.1, Z: 0.3}, rotY(0.2))
	cam := defaultCamera(t).WithPose(pose)

	world := []r3.Vector{{X: 0.3, Y: 0.4, Z: 2}, {X: -0.6, Y: 0.2, Z: 4}}
	pts, err := cam.ProjectPoints(world, nil)
	test.That(t, err, test.ShouldBeNil)

	rays, err := cam.BackProjectRays(pts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(rays), test.ShouldEqual, len(world))
	for i, ray := range rays {
		// the ray starts at the camera center and passes through the point
		test.That(t, ray.Point.X, test.ShouldAlmostEqual, pose.Point().X, 1e-9)
		test.That(t, ray.Point.Y, test.ShouldAlmostEqual, pose.Point().Y, 1e-9)
		test.That(t, ray.Point.Z, test.ShouldAlmostEqual, pose.Point().Z, 1e-9)
		test.That(t, ray.DistanceToPoint(world[i]), test.ShouldAlmostEqual, 0, 1e-8)
	}
}

func TestProjectionMatrix(t *testing.T) {
	cam := defaultCamera(t)
	proj := cam.ProjectionMatrix(nil)
	rows, cols := proj.Dims()
	test.That(t, rows, test.ShouldEqual, 3)
	test.That(t, cols, test.ShouldEqual, 4)

	// identity pose: C = K [I|0]
	k := cam.Intrinsics().K()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, proj.At(i, j), test.ShouldAlmostEqual, k.At(i, j), 1e-12)
		}
		test.That(t, proj.At(i, 3), test.ShouldAlmostEqual, 0, 1e-12)
	}
}

var _ Model = &Perspective{}
