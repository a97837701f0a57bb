package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camgeom/spatialmath"
)

// ErrUnsupportedProjection is returned by projection models that do not
// support an operation. Only the perspective model can project rays and
// quadrics; non-central models (fisheye, catadioptric, spherical) are limited
// to point projection.
var ErrUnsupportedProjection = errors.New("operation not supported by this projection model")

// Model is a camera projection model. The set of models is closed: each
// variant projects points its own way, while ray and quadric projection are
// defined only for the perspective variant and return
// ErrUnsupportedProjection elsewhere.
type Model interface {
	// Intrinsics returns the intrinsic parameters of the camera.
	Intrinsics() *Intrinsics

	// Pose returns the pose of the camera frame with respect to the world frame.
	Pose() *spatialmath.Pose

	// ProjectPoints projects world points onto the image plane.
	ProjectPoints(pts []r3.Vector, opts *ProjectOptions) ([]r2.Point, error)

	// ProjectRay projects a 3D line to a homogeneous image plane line.
	ProjectRay(ray *spatialmath.Ray) (r3.Vector, error)

	// ProjectQuadric projects a 4x4 quadric matrix to a 3x3 image plane conic.
	ProjectQuadric(quadric *mat.Dense) (*mat.Dense, error)

	// BackProjectRays maps image plane points to the 3D rays they view.
	BackProjectRays(pts []r2.Point) ([]*spatialmath.Ray, error)
}

// Perspective is a central projection (pinhole) camera. The zero value is not
// usable; construct with NewPerspective or NewPerspectiveFromIntrinsics.
type Perspective struct {
	intrinsics  Intrinsics
	pose        *spatialmath.Pose
	noiseSigma  float64
	noiseSource rand.Source
}

// PerspectiveConfig are the construction parameters of a perspective camera.
// Focal, Pitch, ImageSize and PrincipalPoint each accept one value (applied to
// both axes) or a pair (horizontal, vertical). Zero length selects the
// default: an 8mm lens with square 10um pixels on a 1024x1024 sensor, with
// the principal point at the image center and an identity pose.
type PerspectiveConfig struct {
	Focal          []float64
	Pitch          []float64
	ImageSize      []int
	PrincipalPoint []float64
	Pose           *spatialmath.Pose
	// NoiseSigma, when positive, is the standard deviation of zero mean
	// Gaussian noise added to every projected pixel coordinate.
	NoiseSigma float64
	// NoiseSource seeds the noise stream, making noisy projections
	// reproducible. Nil draws from the global source.
	NoiseSource rand.Source
}

const (
	defaultFocal     = 8e-3
	defaultPitch     = 10e-6
	defaultImageSize = 1024
)

func pairFloat(vals []float64, def float64, name string) (float64, float64, error) {
	switch len(vals) {
	case 0:
		return def, def, nil
	case 1:
		return vals[0], vals[0], nil
	case 2:
		return vals[0], vals[1], nil
	default:
		return 0, 0, errors.Errorf("%s must have 1 or 2 elements, got %d", name, len(vals))
	}
}

// NewPerspective creates a perspective camera from the given config.
func NewPerspective(cfg PerspectiveConfig) (*Perspective, error) {
	fu, fv, err := pairFloat(cfg.Focal, defaultFocal, "focal length")
	if err != nil {
		return nil, err
	}
	rhoU, rhoV, err := pairFloat(cfg.Pitch, defaultPitch, "pixel pitch")
	if err != nil {
		return nil, err
	}
	var width, height int
	switch len(cfg.ImageSize) {
	case 0:
		width, height = defaultImageSize, defaultImageSize
	case 1:
		width, height = cfg.ImageSize[0], cfg.ImageSize[0]
	case 2:
		width, height = cfg.ImageSize[0], cfg.ImageSize[1]
	default:
		return nil, errors.Errorf("image size must have 1 or 2 elements, got %d", len(cfg.ImageSize))
	}
	ppx, ppy, err := pairFloat(cfg.PrincipalPoint, 0, "principal point")
	if err != nil {
		return nil, err
	}
	if len(cfg.PrincipalPoint) == 0 {
		ppx = float64(width) / 2
		ppy = float64(height) / 2
	}
	intrinsics := Intrinsics{
		Width: width, Height: height,
		Fu: fu, Fv: fv,
		RhoU: rhoU, RhoV: rhoV,
		Ppx: ppx, Ppy: ppy,
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	pose := cfg.Pose
	if pose == nil {
		pose = spatialmath.NewZeroPose()
	}
	if cfg.NoiseSigma < 0 {
		return nil, errors.Errorf("noise standard deviation must be non-negative, got %v", cfg.NoiseSigma)
	}
	return &Perspective{
		intrinsics:  intrinsics,
		pose:        pose,
		noiseSigma:  cfg.NoiseSigma,
		noiseSource: cfg.NoiseSource,
	}, nil
}

// NewPerspectiveFromIntrinsics creates a perspective camera directly from
// intrinsic parameters, as produced by calibration matrix decomposition. The
// image size may be zero when it is not recoverable; visibility checks then
// report every point as out of view.
func NewPerspectiveFromIntrinsics(intrinsics Intrinsics, pose *spatialmath.Pose) (*Perspective, error) {
	if intrinsics.Fu <= 0 || intrinsics.Fv <= 0 || intrinsics.RhoU <= 0 || intrinsics.RhoV <= 0 {
		return nil, NewNoIntrinsicsError("focal length and pixel pitch must be positive")
	}
	if pose == nil {
		pose = spatialmath.NewZeroPose()
	}
	return &Perspective{intrinsics: intrinsics, pose: pose}, nil
}

// Intrinsics returns the intrinsic parameters of the camera.
func (c *Perspective) Intrinsics() *Intrinsics {
	intrinsics := c.intrinsics
	return &intrinsics
}

// Pose returns the pose of the camera frame with respect to the world frame.
func (c *Perspective) Pose() *spatialmath.Pose {
	return c.pose
}

// WithPose returns a copy of the camera at the given pose.
func (c *Perspective) WithPose(pose *spatialmath.Pose) *Perspective {
	out := *c
	out.pose = pose
	return &out
}

// Move returns a copy of the camera after the relative motion t applied to its
// current pose.
func (c *Perspective) Move(t *spatialmath.Pose) *Perspective {
	return c.WithPose(spatialmath.Compose(c.pose, t))
}
