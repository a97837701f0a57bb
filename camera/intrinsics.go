package camera

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsic parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrapf(ErrNoIntrinsics, msg)
}

// Intrinsics holds the parameters necessary to do a perspective projection of a
// 3D scene to the 2D image plane: focal lengths and pixel pitch in length
// units, principal point and image size in pixels.
type Intrinsics struct {
	Width  int
	Height int
	Fu     float64 // focal length, horizontal
	Fv     float64 // focal length, vertical
	RhoU   float64 // pixel pitch, horizontal
	RhoV   float64 // pixel pitch, vertical
	Ppx    float64 // principal point, horizontal
	Ppy    float64 // principal point, vertical
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (params *Intrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Fu <= 0 || params.Fv <= 0 {
		return NewNoIntrinsicsError("Invalid focal length")
	}
	if params.RhoU <= 0 || params.RhoV <= 0 {
		return NewNoIntrinsicsError("Invalid pixel pitch")
	}
	if params.Ppx < 0 || params.Ppy < 0 {
		return NewNoIntrinsicsError("Invalid principal point")
	}
	return nil
}

// FocalPixels returns the focal lengths expressed in pixels.
func (params *Intrinsics) FocalPixels() (float64, float64) {
	return params.Fu / params.RhoU, params.Fv / params.RhoV
}

// K creates the intrinsic camera matrix and returns it.
// Camera matrix:
// [[fu/rhou 0       ppx],
//
//	[0       fv/rhov ppy],
//	[0       0       1]]
func (params *Intrinsics) K() *mat.Dense {
	if params == nil {
		return nil
	}
	fx, fy := params.FocalPixels()
	k := mat.NewDense(3, 3, nil)
	k.Set(0, 0, fx)
	k.Set(1, 1, fy)
	k.Set(0, 2, params.Ppx)
	k.Set(1, 2, params.Ppy)
	k.Set(2, 2, 1)
	return k
}

// KInverse returns the inverse of the intrinsic matrix. It fails if a focal
// length is zero, which makes the matrix singular.
func (params *Intrinsics) KInverse() (*mat.Dense, error) {
	fx, fy := params.FocalPixels()
	if fx == 0 || fy == 0 {
		return nil, errors.New("intrinsic matrix is singular, focal length is zero")
	}
	// closed form for an upper triangular K with unit lower right entry
	ki := mat.NewDense(3, 3, nil)
	ki.Set(0, 0, 1/fx)
	ki.Set(1, 1, 1/fy)
	ki.Set(0, 2, -params.Ppx/fx)
	ki.Set(1, 2, -params.Ppy/fy)
	ki.Set(2, 2, 1)
	return ki, nil
}

// FOV returns the horizontal and vertical field of view angles in radians.
// It fails if the image size is not set.
func (params *Intrinsics) FOV() (float64, float64, error) {
	if params.Width == 0 || params.Height == 0 {
		return 0, 0, NewNoIntrinsicsError("image size not set")
	}
	h := 2 * math.Atan(float64(params.Width)*params.RhoU/(2*params.Fu))
	v := 2 * math.Atan(float64(params.Height)*params.RhoV/(2*params.Fv))
	return h, v, nil
}
