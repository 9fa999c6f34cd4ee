package tsdf

import (
	"image/color"

	"github.com/AlduinoCalderon/AzureKinectDK/pointcloud"
)

// ExtractPoints emits a weighted point set of the observed surface: one point
// per voxel whose stored distance is within a voxel of the zero crossing,
// projected onto the surface along the field gradient. Points carry averaged
// color and, where the gradient is defined, a unit normal. An unobserved grid
// yields an empty cloud and no error.
func (g *Grid) ExtractPoints() pointcloud.PointCloud {
	pc := pointcloud.New()
	for k := 0; k < g.cfg.DimZ; k++ {
		for j := 0; j < g.cfg.DimY; j++ {
			for i := 0; i < g.cfg.DimX; i++ {
				idx := g.index(i, j, k)
				if g.weight[idx] <= 0 {
					continue
				}
				sdf := float64(g.dist[idx])
				if sdf < -g.cfg.VoxelSize || sdf > g.cfg.VoxelSize {
					continue
				}

				pos := g.center(i, j, k)
				var d pointcloud.Data
				if n, ok := g.gradient(i, j, k); ok {
					// slide from the voxel center onto the zero isosurface
					pos = pos.Sub(n.Mul(sdf))
					d = pointcloud.NewNormalData(n)
				}
				c := color.NRGBA{
					R: uint8(g.cr[idx]),
					G: uint8(g.cg[idx]),
					B: uint8(g.cb[idx]),
					A: 255,
				}
				if c.R > 0 || c.G > 0 || c.B > 0 {
					if d == nil {
						d = pointcloud.NewColoredData(c)
					} else {
						d.SetColor(c)
					}
				}
				// duplicate projected positions collapse to one point
				//nolint:errcheck
				pc.Set(pos, d)
			}
		}
	}
	return pc
}
