package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// VoxelCoords stores voxel coordinates in the downsampling grid's axes.
type VoxelCoords struct {
	I, J, K int64
}

// GetVoxelCoordinates computes the voxel coordinates of a point, given the
// grid minimum and the voxel size.
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor((pt.X - ptMin.X) / voxelSize)),
		J: int64(math.Floor((pt.Y - ptMin.Y) / voxelSize)),
		K: int64(math.Floor((pt.Z - ptMin.Z) / voxelSize)),
	}
}

type voxelAccum struct {
	sum     r3.Vector
	nSum    r3.Vector
	rSum    float64
	gSum    float64
	bSum    float64
	n       int
	nColor  int
	nNormal int
}

// VoxelDownsample buckets the cloud into cubic voxels of the given size and
// emits one point per occupied voxel: the centroid of the bucketed points,
// with averaged color and (renormalized) averaged normal where present.
func VoxelDownsample(cloud PointCloud, voxelSize float64) (PointCloud, error) {
	if voxelSize <= 0 {
		return nil, errors.Errorf("voxelSize must be positive, got %f", voxelSize)
	}
	if cloud.Size() == 0 {
		return New(), nil
	}

	meta := cloud.MetaData()
	ptMin := r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}

	buckets := make(map[VoxelCoords]*voxelAccum)
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		coords := GetVoxelCoordinates(p, ptMin, voxelSize)
		acc, ok := buckets[coords]
		if !ok {
			acc = &voxelAccum{}
			buckets[coords] = acc
		}
		acc.sum = acc.sum.Add(p)
		acc.n++
		if d != nil && d.HasColor() {
			r, g, b := d.RGB255()
			acc.rSum += float64(r)
			acc.gSum += float64(g)
			acc.bSum += float64(b)
			acc.nColor++
		}
		if d != nil && d.HasNormal() {
			acc.nSum = acc.nSum.Add(d.Normal())
			acc.nNormal++
		}
		return true
	})

	out := NewWithPrealloc(len(buckets))
	for _, acc := range buckets {
		centroid := acc.sum.Mul(1 / float64(acc.n))
		var d Data
		if acc.nNormal > 0 && acc.nSum.Norm() > 0 {
			d = NewNormalData(acc.nSum.Normalize())
		}
		if acc.nColor > 0 {
			c := nrgba(
				uint8(acc.rSum/float64(acc.nColor)),
				uint8(acc.gSum/float64(acc.nColor)),
				uint8(acc.bSum/float64(acc.nColor)),
			)
			if d == nil {
				d = NewColoredData(c)
			} else {
				d.SetColor(c)
			}
		}
		if err := out.Set(centroid, d); err != nil {
			return nil, err
		}
	}
	return out, nil
}
