package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestZeroPose(t *testing.T) {
	p := NewZeroPose()
	pt := r3.Vector{X: 1, Y: 2, Z: 3}
	test.That(t, p.TransformPoint(pt), test.ShouldResemble, pt)
	test.That(t, p.Theta(), test.ShouldAlmostEqual, 0)
}

func TestComposeInvert(t *testing.T) {
	a := NewPoseFromAxisAngle(r3.Vector{Z: 1}, math.Pi/3, r3.Vector{X: 10, Y: -4, Z: 2})
	b := NewPoseFromAxisAngle(r3.Vector{X: 1, Y: 1}, 0.2, r3.Vector{Z: 7})

	// (a ∘ b)(x) == a(b(x))
	pt := r3.Vector{X: 3, Y: 1, Z: -2}
	got := Compose(a, b).TransformPoint(pt)
	want := a.TransformPoint(b.TransformPoint(pt))
	test.That(t, got.Sub(want).Norm(), test.ShouldBeLessThan, 1e-9)

	// a ∘ a⁻¹ is identity
	id := Compose(a, a.Invert())
	test.That(t, id.AlmostEqual(NewZeroPose(), 1e-9, 1e-9), test.ShouldBeTrue)
}

func TestRotateVector(t *testing.T) {
	// quarter turn about Z sends +X to +Y
	p := NewPoseFromAxisAngle(r3.Vector{Z: 1}, math.Pi/2, r3.Vector{})
	got := p.RotateVector(r3.Vector{X: 1})
	test.That(t, got.Sub(r3.Vector{Y: 1}).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestTwist(t *testing.T) {
	// a tiny twist should be close to identity plus the translation
	p := NewPoseFromTwist(r3.Vector{Z: 1e-4}, r3.Vector{X: 0.5})
	test.That(t, p.Theta(), test.ShouldAlmostEqual, 1e-4, 1e-9)
	test.That(t, p.Translation().X, test.ShouldAlmostEqual, 0.5)

	// zero rotation vector degrades to a pure translation
	p = NewPoseFromTwist(r3.Vector{}, r3.Vector{Y: 2})
	test.That(t, p.AlmostEqual(NewPoseFromPoint(r3.Vector{Y: 2}), 1e-12, 1e-12), test.ShouldBeTrue)
}

func TestAlmostEqual(t *testing.T) {
	a := NewPoseFromAxisAngle(r3.Vector{Z: 1}, 0.1, r3.Vector{X: 1})
	b := NewPoseFromAxisAngle(r3.Vector{Z: 1}, 0.1+2e-3, r3.Vector{X: 1.001})
	test.That(t, a.AlmostEqual(b, 0.01, 0.01), test.ShouldBeTrue)
	test.That(t, a.AlmostEqual(b, 1e-6, 1e-6), test.ShouldBeFalse)
}
