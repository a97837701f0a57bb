// Package visualservo computes the differential relationship between camera
// motion and image plane feature motion used by visual servo controllers.
package visualservo

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camgeom/camera"
)

// PointFeatureJacobian computes the image Jacobian (interaction matrix) for
// point features: a stacked 2Nx6 matrix relating the camera's spatial
// velocity (vx, vy, vz, wx, wy, wz) to the pixel velocity of each point.
// depths holds the depth of the corresponding world points, either one value
// broadcast to every point or one value per point. Rows are stacked in input
// point order, two per point.
func PointFeatureJacobian(intrinsics *camera.Intrinsics, pts []r2.Point, depths []float64) (*mat.Dense, error) {
	if len(pts) == 0 {
		return nil, errors.New("need at least one image point")
	}
	switch len(depths) {
	case 1:
		broadcast := make([]float64, len(pts))
		for i := range broadcast {
			broadcast[i] = depths[0]
		}
		depths = broadcast
	case len(pts):
	default:
		return nil, errors.Errorf("depth must be a scalar or have one value per point, got %d values for %d points", len(depths), len(pts))
	}

	kInv, err := intrinsics.KInverse()
	if err != nil {
		return nil, err
	}
	fx, fy := intrinsics.FocalPixels()

	jac := mat.NewDense(2*len(pts), 6, nil)
	for i, p := range pts {
		z := depths[i]
		if z == 0 {
			return nil, errors.Errorf("point %d has zero depth", i)
		}
		// normalized image plane coordinates
		x := kInv.At(0, 0)*p.X + kInv.At(0, 1)*p.Y + kInv.At(0, 2)
		y := kInv.At(1, 0)*p.X + kInv.At(1, 1)*p.Y + kInv.At(1, 2)

		jac.SetRow(2*i, []float64{
			fx * (-1 / z), 0, fx * (x / z), fx * (x * y), fx * -(1 + x*x), fx * y,
		})
		jac.SetRow(2*i+1, []float64{
			0, fy * (-1 / z), fy * (y / z), fy * (1 + y*y), fy * (-x * y), fy * -x,
		})
	}
	return jac, nil
}

// FlowSample is a predicted pixel velocity at an image plane point.
type FlowSample struct {
	Point    r2.Point
	Velocity r2.Point
}

// FlowField predicts the optical flow induced by a camera moving with spatial
// velocity vel (vx, vy, vz, wx, wy, wz), sampled on a pixel grid with the
// given stride, for scene points at the given depth.
func FlowField(intrinsics *camera.Intrinsics, vel []float64, depth float64, stride int) ([]FlowSample, error) {
	if len(vel) != 6 {
		return nil, errors.Errorf("velocity must have 6 elements, got %d", len(vel))
	}
	if stride <= 0 {
		return nil, errors.Errorf("stride must be positive, got %d", stride)
	}
	if intrinsics.Width == 0 || intrinsics.Height == 0 {
		return nil, camera.NewNoIntrinsicsError("image size not set")
	}
	velVec := mat.NewVecDense(6, vel)
	var samples []FlowSample
	for v := 0; v < intrinsics.Height; v += stride {
		for u := 0; u < intrinsics.Width; u += stride {
			pt := r2.Point{X: float64(u), Y: float64(v)}
			jac, err := PointFeatureJacobian(intrinsics, []r2.Point{pt}, []float64{depth})
			if err != nil {
				return nil, err
			}
			var flow mat.VecDense
			flow.MulVec(jac, velVec)
			samples = append(samples, FlowSample{
				Point:    pt,
				Velocity: r2.Point{X: flow.AtVec(0), Y: flow.AtVec(1)},
			})
		}
	}
	return samples, nil
}
