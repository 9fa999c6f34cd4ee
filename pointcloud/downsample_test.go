package pointcloud

import (
	"image/color"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestVoxelDownsampleValidation(t *testing.T) {
	_, err := VoxelDownsample(New(), 0)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = VoxelDownsample(New(), -5)
	test.That(t, err, test.ShouldNotBeNil)

	out, err := VoxelDownsample(New(), 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Size(), test.ShouldEqual, 0)
}

func TestVoxelDownsampleOnePointPerVoxel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pc := New()
	for i := 0; i < 2000; i++ {
		p := r3.Vector{
			X: rng.Float64() * 100,
			Y: rng.Float64() * 100,
			Z: rng.Float64() * 100,
		}
		test.That(t, pc.Set(p, nil), test.ShouldBeNil)
	}

	const voxelSize = 25.0
	out, err := VoxelDownsample(pc, voxelSize)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Size(), test.ShouldBeGreaterThan, 0)
	// 100mm extent at 25mm voxels: at most a 5^3 occupancy (edge spill)
	test.That(t, out.Size(), test.ShouldBeLessThanOrEqualTo, 125)
	test.That(t, out.Size(), test.ShouldBeLessThan, pc.Size())
}

func TestVoxelDownsampleCentroidAndData(t *testing.T) {
	pc := New()
	c := color.NRGBA{R: 200, G: 100, B: 50, A: 255}
	test.That(t, pc.Set(NewVector(0, 0, 0), NewColoredData(c).SetNormal(r3.Vector{Z: 1})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(2, 0, 0), NewColoredData(c).SetNormal(r3.Vector{Z: 1})), test.ShouldBeNil)

	out, err := VoxelDownsample(pc, 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Size(), test.ShouldEqual, 1)

	out.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		test.That(t, p, test.ShouldResemble, r3.Vector{X: 1})
		test.That(t, d.HasColor(), test.ShouldBeTrue)
		r, g, b := d.RGB255()
		test.That(t, r, test.ShouldEqual, uint8(200))
		test.That(t, g, test.ShouldEqual, uint8(100))
		test.That(t, b, test.ShouldEqual, uint8(50))
		test.That(t, d.HasNormal(), test.ShouldBeTrue)
		test.That(t, d.Normal().Sub(r3.Vector{Z: 1}).Norm(), test.ShouldBeLessThan, 1e-9)
		return true
	})
}
