package tsdf

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/AlduinoCalderon/AzureKinectDK/camera"
	"github.com/AlduinoCalderon/AzureKinectDK/pointcloud"
	"github.com/AlduinoCalderon/AzureKinectDK/spatialmath"
)

var testRange = camera.DepthRange{Min: 200, Max: 2000}

func planeGridConfig() Config {
	return Config{
		VoxelSize:  10,
		Truncation: 30,
		MaxWeight:  64,
		Origin:     r3.Vector{X: -300, Y: -300, Z: 400},
		DimX:       60,
		DimY:       60,
		DimZ:       20,
	}
}

func planeCloud(t *testing.T) pointcloud.PointCloud {
	t.Helper()
	f := camera.NewPlaneFrame(camera.NewTestIntrinsics(), 500, time.Now())
	pc, err := f.ToPointCloud(testRange, 1)
	test.That(t, err, test.ShouldBeNil)
	return pc
}

func TestConfigCheckValid(t *testing.T) {
	test.That(t, planeGridConfig().CheckValid(), test.ShouldBeNil)

	for _, mutate := range []func(*Config){
		func(c *Config) { c.VoxelSize = 0 },
		func(c *Config) { c.Truncation = -1 },
		func(c *Config) { c.Truncation = c.VoxelSize / 2 },
		func(c *Config) { c.MaxWeight = 0 },
		func(c *Config) { c.DimX = 0 },
		func(c *Config) { c.DimZ = -4 },
	} {
		bad := planeGridConfig()
		mutate(&bad)
		test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
	}
}

func TestIntegratePlane(t *testing.T) {
	g, err := NewGrid(planeGridConfig())
	test.That(t, err, test.ShouldBeNil)
	cloud := planeCloud(t)

	test.That(t, g.Integrate(cloud, spatialmath.NewZeroPose()), test.ShouldBeNil)
	test.That(t, g.OccupiedVoxels(), test.ShouldBeGreaterThan, 0)

	// the voxel holding the wall point straight ahead should sit near the
	// zero crossing
	i, j, k := g.voxelOf(r3.Vector{Z: 500})
	test.That(t, g.inBounds(i, j, k), test.ShouldBeTrue)
	idx := g.index(i, j, k)
	test.That(t, g.weight[idx], test.ShouldBeGreaterThan, float32(0))
	test.That(t, math.Abs(float64(g.dist[idx])), test.ShouldBeLessThan, g.cfg.VoxelSize)

	// in front of the wall the field is positive, behind it negative
	fi, fj, fk := g.voxelOf(r3.Vector{Z: 480})
	test.That(t, g.dist[g.index(fi, fj, fk)], test.ShouldBeGreaterThan, float32(0))
	bi, bj, bk := g.voxelOf(r3.Vector{Z: 520})
	test.That(t, g.dist[g.index(bi, bj, bk)], test.ShouldBeLessThan, float32(0))
}

func TestIntegrateRepeatIsStable(t *testing.T) {
	g, err := NewGrid(planeGridConfig())
	test.That(t, err, test.ShouldBeNil)
	cloud := planeCloud(t)
	pose := spatialmath.NewZeroPose()

	test.That(t, g.Integrate(cloud, pose), test.ShouldBeNil)
	i, j, k := g.voxelOf(r3.Vector{Z: 500})
	idx := g.index(i, j, k)
	dist1 := g.dist[idx]
	weight1 := g.weight[idx]

	// the same observation again must not move the surface, only firm it up
	test.That(t, g.Integrate(cloud, pose), test.ShouldBeNil)
	test.That(t, float64(g.dist[idx]), test.ShouldAlmostEqual, float64(dist1), 1e-2)
	test.That(t, g.weight[idx], test.ShouldBeGreaterThan, weight1)
	test.That(t, g.weight[idx], test.ShouldBeLessThanOrEqualTo, float32(g.cfg.MaxWeight))
}

func TestIntegrateWeightCap(t *testing.T) {
	cfg := planeGridConfig()
	cfg.MaxWeight = 1.5
	g, err := NewGrid(cfg)
	test.That(t, err, test.ShouldBeNil)
	cloud := planeCloud(t)
	pose := spatialmath.NewZeroPose()

	for n := 0; n < 4; n++ {
		test.That(t, g.Integrate(cloud, pose), test.ShouldBeNil)
	}
	for _, w := range g.weight {
		test.That(t, w, test.ShouldBeLessThanOrEqualTo, float32(cfg.MaxWeight))
	}
}

func TestReset(t *testing.T) {
	g, err := NewGrid(planeGridConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Integrate(planeCloud(t), spatialmath.NewZeroPose()), test.ShouldBeNil)
	test.That(t, g.OccupiedVoxels(), test.ShouldBeGreaterThan, 0)

	g.Reset()
	test.That(t, g.OccupiedVoxels(), test.ShouldEqual, 0)
	test.That(t, g.ExtractPoints().Size(), test.ShouldEqual, 0)
}

func TestExtractPoints(t *testing.T) {
	g, err := NewGrid(planeGridConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Integrate(planeCloud(t), spatialmath.NewZeroPose()), test.ShouldBeNil)

	pc := g.ExtractPoints()
	test.That(t, pc.Size(), test.ShouldBeGreaterThan, 0)

	withNormal := 0
	pc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		// surface points belong to the wall
		test.That(t, math.Abs(p.Z-500), test.ShouldBeLessThan, 1.5*g.cfg.VoxelSize)
		if d != nil && d.HasNormal() {
			withNormal++
			// wall normal faces the camera
			test.That(t, d.Normal().Z, test.ShouldBeLessThan, -0.7)
			r, _, _ := d.RGB255()
			test.That(t, r, test.ShouldBeBetween, uint8(150), uint8(210))
		}
		return true
	})
	test.That(t, withNormal, test.ShouldBeGreaterThan, pc.Size()/2)
}

func TestExtractPointsEmptyGrid(t *testing.T) {
	g, err := NewGrid(planeGridConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.ExtractPoints().Size(), test.ShouldEqual, 0)
}
