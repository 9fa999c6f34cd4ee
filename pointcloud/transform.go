package pointcloud

import (
	"github.com/golang/geo/r3"

	"github.com/AlduinoCalderon/AzureKinectDK/spatialmath"
)

// ApplyPose returns a new cloud with every position transformed by the pose
// and every normal rotated by it. The input cloud is not modified.
func ApplyPose(cloud PointCloud, pose spatialmath.Pose) PointCloud {
	out := NewWithPrealloc(cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		if d != nil && d.HasNormal() {
			// Data values are shared by reference, so rebuild rather than
			// mutating the source cloud's normal in place.
			nd := NewNormalData(pose.RotateVector(d.Normal()))
			if d.HasColor() {
				r, g, b := d.RGB255()
				nd.SetColor(nrgba(r, g, b))
			}
			d = nd
		}
		// Set on a fresh cloud cannot fail.
		//nolint:errcheck
		out.Set(pose.TransformPoint(p), d)
		return true
	})
	return out
}
