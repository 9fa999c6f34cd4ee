package camera

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/AlduinoCalderon/AzureKinectDK/pointcloud"
)

var testRange = DepthRange{Min: 200, Max: 2000}

func TestDepthRange(t *testing.T) {
	test.That(t, testRange.CheckValid(), test.ShouldBeNil)
	test.That(t, DepthRange{Min: 500, Max: 200}.CheckValid(), test.ShouldNotBeNil)
	test.That(t, DepthRange{}.CheckValid(), test.ShouldNotBeNil)

	test.That(t, testRange.Valid(0), test.ShouldBeFalse)
	test.That(t, testRange.Valid(199), test.ShouldBeFalse)
	test.That(t, testRange.Valid(200), test.ShouldBeTrue)
	test.That(t, testRange.Valid(2001), test.ShouldBeFalse)
}

func TestIntrinsicsCheckValid(t *testing.T) {
	intr := NewTestIntrinsics()
	test.That(t, intr.CheckValid(), test.ShouldBeNil)

	bad := intr
	bad.Fx = 0
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
	bad = intr
	bad.Width = 0
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
}

func TestToPointCloudEmptyFrame(t *testing.T) {
	intr := NewTestIntrinsics()
	f := &Frame{
		Depth:      NewEmptyDepthMap(intr.Width, intr.Height),
		Intrinsics: intr,
		Timestamp:  time.Now(),
	}
	pc, err := f.ToPointCloud(testRange, 1)
	test.That(t, errors.Is(err, ErrEmptyFrame), test.ShouldBeTrue)
	test.That(t, pc.Size(), test.ShouldEqual, 0)
}

func TestToPointCloudMinValid(t *testing.T) {
	intr := NewTestIntrinsics()
	dm := NewEmptyDepthMap(intr.Width, intr.Height)
	dm.Set(10, 10, 500)
	dm.Set(11, 10, 500)
	f := &Frame{Depth: dm, Intrinsics: intr}

	_, err := f.ToPointCloud(testRange, 100)
	test.That(t, errors.Is(err, ErrEmptyFrame), test.ShouldBeTrue)

	pc, err := f.ToPointCloud(testRange, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)
}

func TestToPointCloudPlane(t *testing.T) {
	intr := NewTestIntrinsics()
	const wall = Depth(600)
	f := NewPlaneFrame(intr, wall, time.Now())

	pc, err := f.ToPointCloud(testRange, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, intr.Width*intr.Height)

	meta := pc.MetaData()
	test.That(t, meta.HasColor, test.ShouldBeTrue)
	test.That(t, meta.HasNormal, test.ShouldBeTrue)

	pc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		test.That(t, p.Z, test.ShouldAlmostEqual, float64(wall))
		test.That(t, d.HasNormal(), test.ShouldBeTrue)
		n := d.Normal()
		test.That(t, n.Norm(), test.ShouldAlmostEqual, 1, 1e-9)
		// wall faces the camera: normal points back down -Z
		test.That(t, n.Z, test.ShouldBeLessThan, -0.99)
		return true
	})
}

func TestToPointCloudRangeFilter(t *testing.T) {
	intr := NewTestIntrinsics()
	dm := NewEmptyDepthMap(intr.Width, intr.Height)
	dm.Set(1, 1, 100)  // below range
	dm.Set(2, 1, 3000) // above range
	dm.Set(3, 1, 500)  // valid
	f := &Frame{Depth: dm, Intrinsics: intr}

	pc, err := f.ToPointCloud(testRange, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 1)

	// a lone valid pixel has no valid neighbors, so no normal
	pc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		test.That(t, d == nil || !d.HasNormal(), test.ShouldBeTrue)
		return true
	})
}

func TestSphereFrame(t *testing.T) {
	intr := NewTestIntrinsics()
	center := r3.Vector{Z: 500}
	const radius = 100.0
	f := NewSphereFrame(intr, center, radius, 0, time.Now())

	pc, err := f.ToPointCloud(testRange, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldBeGreaterThan, 100)

	pc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		// every point sits on the sphere, within rounding of the depth grid
		test.That(t, p.Sub(center).Norm(), test.ShouldAlmostEqual, radius, 2.5)
		return true
	})
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(clock.New())
	f, err := src.NextFrame(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Depth.HasData(), test.ShouldBeTrue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.NextFrame(ctx)
	test.That(t, err, test.ShouldNotBeNil)
}
