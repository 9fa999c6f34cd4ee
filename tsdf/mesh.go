package tsdf

import (
	"image/color"

	"github.com/golang/geo/r3"

	"github.com/AlduinoCalderon/AzureKinectDK/pointcloud"
)

// Mesh is an indexed triangle mesh snapshot extracted from the grid. It has
// no back-reference to the grid and is stale as soon as the grid is next
// integrated into.
type Mesh struct {
	Vertices  []r3.Vector
	Normals   []r3.Vector
	Colors    []color.NRGBA
	Triangles [][3]int
}

// VertexCount returns the number of vertices in the mesh.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices)
}

// TriangleCount returns the number of triangles in the mesh.
func (m *Mesh) TriangleCount() int {
	return len(m.Triangles)
}

// ToPointCloud flattens the mesh vertices into a point cloud, dropping the
// connectivity. Used where a consumer wants PCD output of a meshed model.
func (m *Mesh) ToPointCloud() pointcloud.PointCloud {
	cloud := pointcloud.NewWithPrealloc(m.VertexCount())
	for i, v := range m.Vertices {
		var d pointcloud.Data
		if n := m.Normals[i]; n.Norm() > 0 {
			d = pointcloud.NewNormalData(n)
			d.SetColor(m.Colors[i])
		} else {
			d = pointcloud.NewColoredData(m.Colors[i])
		}
		//nolint:errcheck
		cloud.Set(v, d)
	}
	return cloud
}

type cellKey struct {
	i, j, k int
}

// ExtractMesh runs a surface-nets style isosurface extraction over the
// observed voxels: each dual cell straddling the zero crossing contributes
// one vertex at the mean of its edge crossings, and cells around each
// sign-changing lattice edge are stitched into quads. Triangles are wound
// toward the positive, camera-visible side of the field. An unobserved grid
// yields an empty mesh.
func (g *Grid) ExtractMesh() *Mesh {
	mesh := &Mesh{}
	vertexAt := map[cellKey]int{}

	observed := func(i, j, k int) bool {
		return g.inBounds(i, j, k) && g.weight[g.index(i, j, k)] > 0
	}
	distAt := func(i, j, k int) float64 {
		return float64(g.dist[g.index(i, j, k)])
	}

	// vertex pass over dual cells
	for k := 0; k < g.cfg.DimZ-1; k++ {
		for j := 0; j < g.cfg.DimY-1; j++ {
			for i := 0; i < g.cfg.DimX-1; i++ {
				if v, ok := g.cellVertex(i, j, k, observed, distAt); ok {
					vertexAt[cellKey{i, j, k}] = len(mesh.Vertices)
					mesh.Vertices = append(mesh.Vertices, v.pos)
					mesh.Normals = append(mesh.Normals, v.normal)
					mesh.Colors = append(mesh.Colors, v.color)
				}
			}
		}
	}

	// face pass over sign-changing lattice edges
	for k := 0; k < g.cfg.DimZ; k++ {
		for j := 0; j < g.cfg.DimY; j++ {
			for i := 0; i < g.cfg.DimX; i++ {
				if !observed(i, j, k) {
					continue
				}
				d0 := distAt(i, j, k)
				for axis := 0; axis < 3; axis++ {
					ni, nj, nk := i, j, k
					switch axis {
					case 0:
						ni++
					case 1:
						nj++
					default:
						nk++
					}
					if !observed(ni, nj, nk) {
						continue
					}
					d1 := distAt(ni, nj, nk)
					if (d0 > 0) == (d1 > 0) {
						continue
					}
					g.emitQuad(mesh, vertexAt, i, j, k, axis, d0 > 0)
				}
			}
		}
	}
	return mesh
}

type cellVertex struct {
	pos    r3.Vector
	normal r3.Vector
	color  color.NRGBA
}

// cellVertex places a vertex in the dual cell with min lattice corner
// (i, j, k) when its corners straddle zero. The vertex is the centroid of the
// zero crossings on the cell's edges.
func (g *Grid) cellVertex(
	i, j, k int,
	observed func(i, j, k int) bool,
	distAt func(i, j, k int) float64,
) (cellVertex, bool) {
	var corners [8][3]int
	idx := 0
	for dk := 0; dk <= 1; dk++ {
		for dj := 0; dj <= 1; dj++ {
			for di := 0; di <= 1; di++ {
				c := [3]int{i + di, j + dj, k + dk}
				if !observed(c[0], c[1], c[2]) {
					return cellVertex{}, false
				}
				corners[idx] = c
				idx++
			}
		}
	}

	hasPos, hasNeg := false, false
	for _, c := range corners {
		if distAt(c[0], c[1], c[2]) > 0 {
			hasPos = true
		} else {
			hasNeg = true
		}
	}
	if !hasPos || !hasNeg {
		return cellVertex{}, false
	}

	// the 12 cell edges as corner index pairs (corners are in x-fastest order)
	edges := [12][2]int{
		{0, 1}, {2, 3}, {4, 5}, {6, 7}, // along X
		{0, 2}, {1, 3}, {4, 6}, {5, 7}, // along Y
		{0, 4}, {1, 5}, {2, 6}, {3, 7}, // along Z
	}
	var sum r3.Vector
	n := 0
	for _, e := range edges {
		a, b := corners[e[0]], corners[e[1]]
		da, db := distAt(a[0], a[1], a[2]), distAt(b[0], b[1], b[2])
		if (da > 0) == (db > 0) {
			continue
		}
		t := da / (da - db)
		pa, pb := g.center(a[0], a[1], a[2]), g.center(b[0], b[1], b[2])
		sum = sum.Add(pa.Add(pb.Sub(pa).Mul(t)))
		n++
	}
	if n == 0 {
		return cellVertex{}, false
	}

	v := cellVertex{pos: sum.Mul(1 / float64(n))}

	// normal from the field gradient, averaged over corners where defined
	var grad r3.Vector
	for _, c := range corners {
		if gr, ok := g.gradient(c[0], c[1], c[2]); ok {
			grad = grad.Add(gr)
		}
	}
	if grad.Norm() > 0 {
		v.normal = grad.Normalize()
	}

	var cr, cg, cb float64
	for _, c := range corners {
		ci := g.index(c[0], c[1], c[2])
		cr += float64(g.cr[ci])
		cg += float64(g.cg[ci])
		cb += float64(g.cb[ci])
	}
	v.color = color.NRGBA{R: uint8(cr / 8), G: uint8(cg / 8), B: uint8(cb / 8), A: 255}
	return v, true
}

// emitQuad stitches the four cells around the lattice edge from (i, j, k)
// along axis into two triangles, flipped so the face fronts the positive
// side of the field.
func (g *Grid) emitQuad(mesh *Mesh, vertexAt map[cellKey]int, i, j, k, axis int, startPositive bool) {
	var cells [4]cellKey
	switch axis {
	case 0: // edge along X, ring in YZ
		cells = [4]cellKey{
			{i, j - 1, k - 1},
			{i, j, k - 1},
			{i, j, k},
			{i, j - 1, k},
		}
	case 1: // edge along Y, ring in ZX
		cells = [4]cellKey{
			{i - 1, j, k - 1},
			{i - 1, j, k},
			{i, j, k},
			{i, j, k - 1},
		}
	default: // edge along Z, ring in XY
		cells = [4]cellKey{
			{i - 1, j - 1, k},
			{i, j - 1, k},
			{i, j, k},
			{i - 1, j, k},
		}
	}

	var quad [4]int
	for n, c := range cells {
		vi, ok := vertexAt[c]
		if !ok {
			return
		}
		quad[n] = vi
	}
	if startPositive {
		quad[1], quad[3] = quad[3], quad[1]
	}
	mesh.Triangles = append(mesh.Triangles,
		[3]int{quad[0], quad[1], quad[2]},
		[3]int{quad[0], quad[2], quad[3]},
	)
}
