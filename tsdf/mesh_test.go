package tsdf

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/AlduinoCalderon/AzureKinectDK/camera"
	"github.com/AlduinoCalderon/AzureKinectDK/spatialmath"
)

func sphereGridConfig() Config {
	return Config{
		VoxelSize:  10,
		Truncation: 30,
		MaxWeight:  64,
		Origin:     r3.Vector{X: -150, Y: -150, Z: 350},
		DimX:       30,
		DimY:       30,
		DimZ:       30,
	}
}

func TestExtractMeshSphere(t *testing.T) {
	g, err := NewGrid(sphereGridConfig())
	test.That(t, err, test.ShouldBeNil)

	center := r3.Vector{Z: 500}
	const radius = 100.0
	// background 0 keeps misses out of the cloud
	f := camera.NewSphereFrame(camera.NewTestIntrinsics(), center, radius, 0, time.Now())
	cloud, err := f.ToPointCloud(testRange, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Integrate(cloud, spatialmath.NewZeroPose()), test.ShouldBeNil)

	mesh := g.ExtractMesh()
	test.That(t, mesh.VertexCount(), test.ShouldBeGreaterThan, 0)
	test.That(t, mesh.TriangleCount(), test.ShouldBeGreaterThan, 0)
	test.That(t, len(mesh.Normals), test.ShouldEqual, mesh.VertexCount())
	test.That(t, len(mesh.Colors), test.ShouldEqual, mesh.VertexCount())

	for _, v := range mesh.Vertices {
		test.That(t, math.Abs(v.Sub(center).Norm()-radius), test.ShouldBeLessThan, 20)
	}
	for _, tri := range mesh.Triangles {
		for _, vi := range tri {
			test.That(t, vi, test.ShouldBeGreaterThanOrEqualTo, 0)
			test.That(t, vi, test.ShouldBeLessThan, mesh.VertexCount())
		}
	}

	// normals, where the gradient was defined, face away from the sphere
	// center on the visible front cap
	checked := 0
	for i, v := range mesh.Vertices {
		n := mesh.Normals[i]
		if n.Norm() == 0 || v.Z > center.Z-radius/2 {
			continue
		}
		test.That(t, n.Norm(), test.ShouldAlmostEqual, 1, 1e-6)
		test.That(t, n.Dot(v.Sub(center).Normalize()), test.ShouldBeGreaterThan, 0.5)
		checked++
	}
	test.That(t, checked, test.ShouldBeGreaterThan, 0)
}

func TestExtractMeshEmptyGrid(t *testing.T) {
	g, err := NewGrid(sphereGridConfig())
	test.That(t, err, test.ShouldBeNil)

	mesh := g.ExtractMesh()
	test.That(t, mesh.VertexCount(), test.ShouldEqual, 0)
	test.That(t, mesh.TriangleCount(), test.ShouldEqual, 0)
}
