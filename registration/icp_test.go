package registration

import (
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/AlduinoCalderon/AzureKinectDK/camera"
	"github.com/AlduinoCalderon/AzureKinectDK/pointcloud"
	"github.com/AlduinoCalderon/AzureKinectDK/spatialmath"
)

var testRange = camera.DepthRange{Min: 200, Max: 2000}

// sphere in front of a wall, a scene with well-constrained translation
func sceneCloud(t *testing.T) pointcloud.PointCloud {
	t.Helper()
	f := camera.NewSphereFrame(camera.NewTestIntrinsics(), r3.Vector{Z: 500}, 100, 800, time.Now())
	pc, err := f.ToPointCloud(testRange, 1)
	test.That(t, err, test.ShouldBeNil)
	return pc
}

func TestICPConfigCheckValid(t *testing.T) {
	cfg := DefaultICPConfig()
	test.That(t, cfg.CheckValid(), test.ShouldBeNil)

	for _, mutate := range []func(*ICPConfig){
		func(c *ICPConfig) { c.MaxIterations = 0 },
		func(c *ICPConfig) { c.ConvergenceTol = 0 },
		func(c *ICPConfig) { c.MaxCorrespondenceDist = -1 },
		func(c *ICPConfig) { c.OutlierMultiplier = 0 },
		func(c *ICPConfig) { c.OutlierDecay = 1.5 },
		func(c *ICPConfig) { c.MaxNormalAngle = 0 },
		func(c *ICPConfig) { c.MinInlierFraction = 2 },
	} {
		bad := DefaultICPConfig()
		mutate(&bad)
		test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
	}
}

func TestEstimatePoseIdentity(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cloud := sceneCloud(t)
	target := pointcloud.ToKDTree(cloud)

	pose, report, err := EstimatePose(cloud, target, spatialmath.NewZeroPose(), DefaultICPConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.InlierFraction, test.ShouldBeGreaterThan, 0.9)
	test.That(t, report.RMS, test.ShouldBeLessThan, 1)
	test.That(t, pose.AlmostEqual(spatialmath.NewZeroPose(), 0.5, 0.01), test.ShouldBeTrue)
}

func TestEstimatePoseSmallOffset(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cloud := sceneCloud(t)
	target := pointcloud.ToKDTree(cloud)

	// displace the source; the estimator should recover the inverse motion
	offset := spatialmath.NewPoseFromAxisAngle(r3.Vector{Y: 1}, 0.01, r3.Vector{X: 5, Z: -3})
	source := pointcloud.ApplyPose(cloud, offset)

	pose, report, err := EstimatePose(source, target, spatialmath.NewZeroPose(), DefaultICPConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Iterations, test.ShouldBeGreaterThan, 1)
	test.That(t, pose.AlmostEqual(offset.Invert(), 1.5, 0.02), test.ShouldBeTrue)
}

func TestEstimatePoseTrackingLost(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cloud := sceneCloud(t)
	target := pointcloud.ToKDTree(cloud)

	// no geometric overlap with the model
	farAway := pointcloud.ApplyPose(cloud, spatialmath.NewPoseFromPoint(r3.Vector{X: 5000}))
	_, report, err := EstimatePose(farAway, target, spatialmath.NewZeroPose(), DefaultICPConfig(), logger)
	test.That(t, errors.Is(err, ErrTrackingLost), test.ShouldBeTrue)
	test.That(t, report.InlierFraction, test.ShouldBeLessThan, DefaultICPConfig().MinInlierFraction)
}

func TestEstimatePoseEmptyTarget(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cloud := sceneCloud(t)

	_, _, err := EstimatePose(cloud, pointcloud.ToKDTree(pointcloud.New()), spatialmath.NewZeroPose(),
		DefaultICPConfig(), logger)
	test.That(t, errors.Is(err, ErrTrackingLost), test.ShouldBeTrue)
}
