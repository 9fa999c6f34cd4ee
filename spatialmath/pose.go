// Package spatialmath defines the rigid transforms used to move geometry
// between camera and world space.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform, a rotation followed by a translation. The zero
// value is not valid; use NewZeroPose for the identity.
type Pose struct {
	rot quat.Number
	t   r3.Vector
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return Pose{rot: quat.Number{Real: 1}}
}

// NewPose returns a pose with the given unit rotation quaternion and translation.
func NewPose(rot quat.Number, t r3.Vector) Pose {
	return Pose{rot: rot, t: t}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(t r3.Vector) Pose {
	return Pose{rot: quat.Number{Real: 1}, t: t}
}

// NewPoseFromAxisAngle returns the pose rotating theta radians about axis and
// then translating by t. A zero axis yields a pure translation.
func NewPoseFromAxisAngle(axis r3.Vector, theta float64, t r3.Vector) Pose {
	if axis.Norm() == 0 || theta == 0 {
		return NewPoseFromPoint(t)
	}
	axis = axis.Normalize()
	s := math.Sin(theta / 2)
	return Pose{
		rot: quat.Number{
			Real: math.Cos(theta / 2),
			Imag: axis.X * s,
			Jmag: axis.Y * s,
			Kmag: axis.Z * s,
		},
		t: t,
	}
}

// NewPoseFromTwist builds a pose from a small-motion twist, rotation vector w
// (axis scaled by angle, radians) and translation v. This is the update
// parameterization used by the registration solver.
func NewPoseFromTwist(w, v r3.Vector) Pose {
	theta := w.Norm()
	if theta < 1e-12 {
		return NewPoseFromPoint(v)
	}
	return NewPoseFromAxisAngle(w.Mul(1/theta), theta, v)
}

// Rotation returns the pose's rotation as a unit quaternion.
func (p Pose) Rotation() quat.Number {
	return p.rot
}

// Translation returns the pose's translation.
func (p Pose) Translation() r3.Vector {
	return p.t
}

// RotateVector applies only the rotational part of the pose, for direction
// vectors and normals.
func (p Pose) RotateVector(v r3.Vector) r3.Vector {
	qv := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(p.rot, qv), quat.Conj(p.rot))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// TransformPoint applies the full rigid transform to a point.
func (p Pose) TransformPoint(v r3.Vector) r3.Vector {
	return p.RotateVector(v).Add(p.t)
}

// Invert returns the inverse transform.
func (p Pose) Invert() Pose {
	inv := quat.Conj(p.rot)
	qt := quat.Number{Imag: p.t.X, Jmag: p.t.Y, Kmag: p.t.Z}
	r := quat.Mul(quat.Mul(inv, qt), p.rot)
	return Pose{
		rot: inv,
		t:   r3.Vector{X: -r.Imag, Y: -r.Jmag, Z: -r.Kmag},
	}
}

// Compose returns the pose equivalent to applying b first and then a.
func Compose(a, b Pose) Pose {
	return Pose{
		rot: normalize(quat.Mul(a.rot, b.rot)),
		t:   a.TransformPoint(b.t),
	}
}

// Theta returns the rotation angle of the pose in radians, in [0, pi].
func (p Pose) Theta() float64 {
	w := math.Abs(p.rot.Real)
	if w > 1 {
		w = 1
	}
	return 2 * math.Acos(w)
}

// AlmostEqual reports whether two poses differ by less than transTol in
// translation (same units as the poses) and rotTol in rotation angle (radians).
func (p Pose) AlmostEqual(o Pose, transTol, rotTol float64) bool {
	if p.t.Sub(o.t).Norm() > transTol {
		return false
	}
	delta := Compose(p.Invert(), o)
	return delta.Theta() <= rotTol
}

func normalize(q quat.Number) quat.Number {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
