package twoview

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camgeom/camera"
	"go.viam.com/camgeom/spatialmath"
)

// ErrNoConsistentPose is returned when no candidate pose from an essential
// matrix decomposition places the test data in front of the camera.
var ErrNoConsistentPose = errors.New("no pose hypothesis places the points in front of the camera")

// EssentialFromMotion computes the essential matrix for a camera undergoing
// the relative motion t: the first view is before the motion, the second
// after. E = [t21]x R21 for the inverted motion.
func EssentialFromMotion(motion *spatialmath.Pose) *mat.Dense {
	t21 := spatialmath.PoseInverse(motion)
	var e mat.Dense
	e.Mul(spatialmath.Skew(t21.Point()), t21.Orientation().Matrix())
	return &e
}

// EssentialFromCameras computes the essential matrix relating the views of two
// cameras from their poses, assuming shared intrinsics.
func EssentialFromCameras(cam1, cam2 camera.Model) *mat.Dense {
	t21 := spatialmath.Compose(spatialmath.PoseInverse(cam2.Pose()), cam1.Pose())
	var e mat.Dense
	e.Mul(spatialmath.Skew(t21.Point()), t21.Orientation().Matrix())
	return &e
}

// EssentialFromFundamental returns the essential matrix from the fundamental
// matrix and intrinsics parameters, E = K2^T F K1, projected to the nearest
// matrix of rank 2.
func EssentialFromFundamental(k1, k2, f *mat.Dense) (*mat.Dense, error) {
	var essMat, tmp mat.Dense
	tmp.Mul(k2.T(), f)
	essMat.Mul(&tmp, k1)
	// enforce rank 2
	mats := performSVD(&essMat)
	if mats == nil {
		return nil, errors.New("failed to factorize essential matrix")
	}
	s := eye(3)
	s.Set(2, 2, 0)

	essMat.Mul(mats.U, s)
	essMat.Mul(&essMat, mats.VT)
	return &essMat, nil
}

// FundamentalFromEssential returns the fundamental matrix F = K2^-T E K1^-1
// from the essential matrix and the two views' intrinsics.
func FundamentalFromEssential(k1, k2, e *mat.Dense) (*mat.Dense, error) {
	var k1Inv, k2Inv mat.Dense
	if err := k1Inv.Inverse(k1); err != nil {
		return nil, errors.Wrap(err, "first intrinsic matrix is singular")
	}
	if err := k2Inv.Inverse(k2); err != nil {
		return nil, errors.Wrap(err, "second intrinsic matrix is singular")
	}
	var f mat.Dense
	f.Mul(k2Inv.T(), e)
	f.Mul(&f, &k1Inv)
	return &f, nil
}

// DecomposeEssential decomposes the essential matrix into the two possible 3D
// rotations of the twisted pair and the translation direction; the
// algebraically valid poses are {R1,R2} x {+t,-t}.
func DecomposeEssential(essMat *mat.Dense) (*mat.Dense, *mat.Dense, r3.Vector, error) {
	if rows, cols := essMat.Dims(); rows != 3 || cols != 3 {
		return nil, nil, r3.Vector{}, errors.Errorf("expected a 3x3 essential matrix, got %dx%d", rows, cols)
	}
	mats := performSVD(essMat)
	if mats == nil {
		return nil, nil, r3.Vector{}, errors.New("failed to factorize essential matrix")
	}
	// check determinant sign of U and V
	if mat.Det(mats.U) < 0 {
		mats.U.Scale(-1, mats.U)
	}
	if mat.Det(mats.VT) < 0 {
		mats.VT.Scale(-1, mats.VT)
	}
	w := mat.NewDense(3, 3, []float64{
		0, 1, 0,
		-1, 0, 0,
		0, 0, 1,
	})
	var rotA, rotB mat.Dense
	// U W V^T
	rotA.Mul(mats.U, w)
	rotA.Mul(&rotA, mats.VT)
	// U W^T V^T
	rotB.Mul(mats.U, w.T())
	rotB.Mul(&rotB, mats.VT)
	t := r3.Vector{X: mats.U.At(0, 2), Y: mats.U.At(1, 2), Z: mats.U.At(2, 2)}
	return &rotA, &rotB, t, nil
}

// PossiblePoses computes all 4 possible relative camera poses from the
// essential matrix, in camera-to-world convention: each is the pose of the
// second view's frame expressed in the first view's frame, with translation
// known only up to scale.
func PossiblePoses(essMat *mat.Dense) ([]*spatialmath.Pose, error) {
	rotA, rotB, t, err := DecomposeEssential(essMat)
	if err != nil {
		return nil, err
	}
	poses := make([]*spatialmath.Pose, 0, 4)
	for _, r := range []*mat.Dense{rotA, rotB} {
		rot, err := spatialmath.NewRotationMatrix(r.RawMatrix().Data)
		if err != nil {
			return nil, errors.Wrap(err, "essential matrix decomposition produced an improper rotation")
		}
		for _, tv := range []r3.Vector{t, t.Mul(-1)} {
			poses = append(poses, spatialmath.PoseInverse(spatialmath.NewPose(tv, rot)))
		}
	}
	return poses, nil
}

// RecoverPose resolves the 4-fold pose ambiguity of an essential matrix using
// a probe world point known to lie in front of both cameras. Each candidate
// pose is tried by projecting the probe through cam at that pose; the first
// candidate that does not project behind the camera wins. ErrNoConsistentPose
// is returned when every candidate fails.
func RecoverPose(essMat *mat.Dense, cam camera.Model, probe r3.Vector) (*spatialmath.Pose, error) {
	poses, err := PossiblePoses(essMat)
	if err != nil {
		return nil, err
	}
	for _, pose := range poses {
		projected, err := cam.ProjectPoints([]r3.Vector{probe}, &camera.ProjectOptions{Pose: pose})
		if err != nil {
			return nil, err
		}
		// behind the camera is signalled by NaN
		if !math.IsNaN(projected[0].X) {
			return pose, nil
		}
	}
	return nil, ErrNoConsistentPose
}

// RecoverPoseFromMatches resolves the pose ambiguity of an essential matrix by
// chirality voting over a correspondence set: the candidate placing the most
// triangulated points in front of the camera wins. Points are normalized by
// the shared intrinsic matrix k before triangulation; pass nil for points
// already in normalized image coordinates. It returns the winning pose and
// the positive-depth mask of the correspondences under it.
func RecoverPoseFromMatches(essMat *mat.Dense, pts1, pts2 []r2.Point, k *mat.Dense) (*spatialmath.Pose, []bool, error) {
	if err := checkMatched(pts1, pts2, 1); err != nil {
		return nil, nil, err
	}
	if k != nil {
		var kInv mat.Dense
		if err := kInv.Inverse(k); err != nil {
			return nil, nil, errors.Wrap(err, "intrinsic matrix is singular")
		}
		pts1 = normalizeByIntrinsics(&kInv, pts1)
		pts2 = normalizeByIntrinsics(&kInv, pts2)
	}
	candidates, err := possiblePoseMats(essMat)
	if err != nil {
		return nil, nil, err
	}
	best := -1
	var bestPose *mat.Dense
	var bestMask []bool
	for _, poseMat := range candidates {
		pts3d, err := TriangulateLinear(poseMat, pts1, pts2, nil)
		if err != nil {
			continue
		}
		count, mask := countPositiveDepth(poseMat, pts3d)
		if count > best {
			best = count
			bestPose = poseMat
			bestMask = mask
		}
	}
	if bestPose == nil || best <= 0 {
		return nil, nil, ErrNoConsistentPose
	}
	rot, err := spatialmath.NewRotationMatrix([]float64{
		bestPose.At(0, 0), bestPose.At(0, 1), bestPose.At(0, 2),
		bestPose.At(1, 0), bestPose.At(1, 1), bestPose.At(1, 2),
		bestPose.At(2, 0), bestPose.At(2, 1), bestPose.At(2, 2),
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "winning pose has an improper rotation")
	}
	t := r3.Vector{X: bestPose.At(0, 3), Y: bestPose.At(1, 3), Z: bestPose.At(2, 3)}
	return spatialmath.PoseInverse(spatialmath.NewPose(t, rot)), bestMask, nil
}

// EstimatePoseFromMatches estimates the relative pose of the camera in the
// second view with respect to the first from matched image points, assuming
// shared intrinsics k: fundamental matrix by the 8-point method, essential
// matrix, then chirality voting. Translation is recovered up to scale only.
func EstimatePoseFromMatches(pts1, pts2 []r2.Point, k *mat.Dense) (*spatialmath.Pose, []bool, error) {
	f, err := EstimateFundamentalAllPoints(pts1, pts2, true)
	if err != nil {
		return nil, nil, err
	}
	e, err := EssentialFromFundamental(k, k, f)
	if err != nil {
		return nil, nil, err
	}
	return RecoverPoseFromMatches(e, pts1, pts2, k)
}

// normalizeByIntrinsics maps pixel coordinates to normalized image plane
// coordinates with the inverted intrinsic matrix.
func normalizeByIntrinsics(kInv *mat.Dense, pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = r2.Point{
			X: kInv.At(0, 0)*p.X + kInv.At(0, 1)*p.Y + kInv.At(0, 2),
			Y: kInv.At(1, 0)*p.X + kInv.At(1, 1)*p.Y + kInv.At(1, 2),
		}
	}
	return out
}

// possiblePoseMats computes the 4 candidate poses as 3x4 [R|t] matrices, sign
// adjusted so the rotation block has a positive determinant.
func possiblePoseMats(essMat *mat.Dense) ([]*mat.Dense, error) {
	rotA, rotB, t, err := DecomposeEssential(essMat)
	if err != nil {
		return nil, err
	}
	tCol := mat.NewDense(3, 1, []float64{t.X, t.Y, t.Z})
	var tOpp mat.Dense
	tOpp.Scale(-1, tCol)

	poses := make([]mat.Dense, 4)
	poses[0].Augment(rotA, tCol)
	poses[1].Augment(rotA, &tOpp)
	poses[2].Augment(rotB, tCol)
	poses[3].Augment(rotB, &tOpp)

	out := make([]*mat.Dense, 4)
	for i := range poses {
		out[i] = mat.DenseCopyOf(adjustPoseSign(&poses[i]))
	}
	return out, nil
}

// adjustPoseSign flips the sign of a 3x4 pose matrix whose rotation block has
// a negative determinant.
func adjustPoseSign(pose *mat.Dense) *mat.Dense {
	subPose := pose.Slice(0, 3, 0, 3)
	if m := mat.DenseCopyOf(subPose); mat.Det(m) < 0 {
		pose.Scale(-1, pose)
	}
	return pose
}
