// Package tsdf implements the volumetric model of the fusion pipeline, a
// fixed-resolution truncated signed-distance grid that frames are weighted
// into and surfaces are extracted from.
//
// Distances are in millimeters. The signed distance at a voxel is positive
// between the surface and the camera and negative behind the surface;
// distance values are only meaningful where the accumulated weight is
// positive.
package tsdf

import (
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/AlduinoCalderon/AzureKinectDK/pointcloud"
	"github.com/AlduinoCalderon/AzureKinectDK/spatialmath"
)

// Config fixes the geometry of the voxel grid for a session. Changing any of
// it requires a Reset.
type Config struct {
	// VoxelSize is the cubic voxel edge length in mm.
	VoxelSize float64 `json:"voxel_size_mm"`
	// Truncation is the half-width of the signed-distance band around
	// observed surfaces, in mm.
	Truncation float64 `json:"truncation_mm"`
	// MaxWeight caps the accumulated confidence per voxel.
	MaxWeight float64 `json:"max_weight"`
	// Origin is the world position of the grid's minimum corner, in mm.
	Origin r3.Vector `json:"origin_mm"`
	// DimX, DimY, DimZ are the voxel counts along each axis.
	DimX int `json:"dim_x"`
	DimY int `json:"dim_y"`
	DimZ int `json:"dim_z"`
}

// CheckValid checks the grid configuration once at session start.
func (cfg Config) CheckValid() error {
	if cfg.VoxelSize <= 0 {
		return errors.Errorf("voxel size must be positive, got %f", cfg.VoxelSize)
	}
	if cfg.Truncation <= 0 {
		return errors.Errorf("truncation must be positive, got %f", cfg.Truncation)
	}
	if cfg.Truncation < cfg.VoxelSize {
		return errors.Errorf("truncation %f must be at least one voxel %f", cfg.Truncation, cfg.VoxelSize)
	}
	if cfg.MaxWeight <= 0 {
		return errors.Errorf("max weight must be positive, got %f", cfg.MaxWeight)
	}
	if cfg.DimX <= 0 || cfg.DimY <= 0 || cfg.DimZ <= 0 {
		return errors.Errorf("grid dimensions must be positive, got (%d, %d, %d)", cfg.DimX, cfg.DimY, cfg.DimZ)
	}
	return nil
}

const numLockShards = 256

// Grid is the flat-array voxel lattice. One orchestrator owns a Grid at a
// time; Integrate must not be called concurrently with itself or with
// extraction, though voxel updates within one Integrate are parallel.
type Grid struct {
	cfg Config

	dist   []float32
	weight []float32
	// color running averages, weighted like dist
	cr []float32
	cg []float32
	cb []float32

	locks [numLockShards]sync.Mutex
}

// NewGrid allocates a grid for the given configuration.
func NewGrid(cfg Config) (*Grid, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	n := cfg.DimX * cfg.DimY * cfg.DimZ
	return &Grid{
		cfg:    cfg,
		dist:   make([]float32, n),
		weight: make([]float32, n),
		cr:     make([]float32, n),
		cg:     make([]float32, n),
		cb:     make([]float32, n),
	}, nil
}

// Config returns the grid's fixed configuration.
func (g *Grid) Config() Config {
	return g.cfg
}

// Reset clears all voxels, keeping the configuration.
func (g *Grid) Reset() {
	for i := range g.weight {
		g.dist[i] = 0
		g.weight[i] = 0
		g.cr[i] = 0
		g.cg[i] = 0
		g.cb[i] = 0
	}
}

// OccupiedVoxels counts voxels with positive weight. Not safe to call during
// an in-flight Integrate.
func (g *Grid) OccupiedVoxels() int {
	n := 0
	for _, w := range g.weight {
		if w > 0 {
			n++
		}
	}
	return n
}

func (g *Grid) index(i, j, k int) int {
	return (k*g.cfg.DimY+j)*g.cfg.DimX + i
}

func (g *Grid) inBounds(i, j, k int) bool {
	return i >= 0 && i < g.cfg.DimX && j >= 0 && j < g.cfg.DimY && k >= 0 && k < g.cfg.DimZ
}

func (g *Grid) voxelOf(p r3.Vector) (int, int, int) {
	return int(math.Floor((p.X - g.cfg.Origin.X) / g.cfg.VoxelSize)),
		int(math.Floor((p.Y - g.cfg.Origin.Y) / g.cfg.VoxelSize)),
		int(math.Floor((p.Z - g.cfg.Origin.Z) / g.cfg.VoxelSize))
}

func (g *Grid) center(i, j, k int) r3.Vector {
	return r3.Vector{
		X: g.cfg.Origin.X + (float64(i)+0.5)*g.cfg.VoxelSize,
		Y: g.cfg.Origin.Y + (float64(j)+0.5)*g.cfg.VoxelSize,
		Z: g.cfg.Origin.Z + (float64(k)+0.5)*g.cfg.VoxelSize,
	}
}

type voxelSample struct {
	sdf    float64
	weight float64
	r      float64
	g      float64
	b      float64
	hasCol bool
}

// Integrate fuses a registered frame cloud into the grid. The cloud is in
// camera space; pose maps it into world space. Voxels within the truncation
// band of each observed surface sample are updated with a weighted running
// average of signed distance and color. Points without normals contribute at
// reduced confidence.
func (g *Grid) Integrate(cloud pointcloud.PointCloud, pose spatialmath.Pose) error {
	camCenter := pose.Translation()
	step := g.cfg.VoxelSize / 2

	const numWorkers = 8
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for worker := 0; worker < numWorkers; worker++ {
		workerCopy := worker
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			cloud.Iterate(numWorkers, workerCopy, func(p r3.Vector, d pointcloud.Data) bool {
				g.integratePoint(camCenter, pose, p, d, step)
				return true
			})
		})
	}
	wg.Wait()
	return nil
}

func (g *Grid) integratePoint(camCenter r3.Vector, pose spatialmath.Pose, p r3.Vector, d pointcloud.Data, step float64) {
	wp := pose.TransformPoint(p)
	ray := wp.Sub(camCenter)
	depth := ray.Norm()
	if depth == 0 {
		return
	}
	dir := ray.Mul(1 / depth)

	sampleWeight := 1.0
	if d == nil || !d.HasNormal() {
		// unoriented samples still fuse, at lower confidence
		sampleWeight = 0.5
	}
	var cr, cg, cb float64
	hasCol := d != nil && d.HasColor()
	if hasCol {
		r, gg, b := d.RGB255()
		cr, cg, cb = float64(r), float64(gg), float64(b)
	}

	lastIdx := -1
	for s := depth - g.cfg.Truncation; s <= depth+g.cfg.Truncation; s += step {
		pos := camCenter.Add(dir.Mul(s))
		i, j, k := g.voxelOf(pos)
		if !g.inBounds(i, j, k) {
			continue
		}
		idx := g.index(i, j, k)
		if idx == lastIdx {
			continue
		}
		lastIdx = idx

		// signed distance from the voxel center to the surface along the ray
		sdf := depth - g.center(i, j, k).Sub(camCenter).Dot(dir)
		if sdf < -g.cfg.Truncation || sdf > g.cfg.Truncation {
			continue
		}
		g.apply(idx, voxelSample{sdf: sdf, weight: sampleWeight, r: cr, g: cg, b: cb, hasCol: hasCol})
	}
}

func (g *Grid) apply(idx int, s voxelSample) {
	lock := &g.locks[idx%numLockShards]
	lock.Lock()
	defer lock.Unlock()

	oldW := float64(g.weight[idx])
	newW := oldW + s.weight
	g.dist[idx] = float32((float64(g.dist[idx])*oldW + s.sdf*s.weight) / newW)
	if s.hasCol {
		g.cr[idx] = float32((float64(g.cr[idx])*oldW + s.r*s.weight) / newW)
		g.cg[idx] = float32((float64(g.cg[idx])*oldW + s.g*s.weight) / newW)
		g.cb[idx] = float32((float64(g.cb[idx])*oldW + s.b*s.weight) / newW)
	}
	if newW > g.cfg.MaxWeight {
		newW = g.cfg.MaxWeight
	}
	g.weight[idx] = float32(newW)
}

// gradient returns the normalized central-difference gradient of the signed
// distance field at a voxel, oriented toward the camera-visible side. ok is
// false when a neighbor is unobserved.
func (g *Grid) gradient(i, j, k int) (r3.Vector, bool) {
	sample := func(i, j, k int) (float64, bool) {
		if !g.inBounds(i, j, k) {
			return 0, false
		}
		idx := g.index(i, j, k)
		if g.weight[idx] <= 0 {
			return 0, false
		}
		return float64(g.dist[idx]), true
	}

	xp, okXP := sample(i+1, j, k)
	xn, okXN := sample(i-1, j, k)
	yp, okYP := sample(i, j+1, k)
	yn, okYN := sample(i, j-1, k)
	zp, okZP := sample(i, j, k+1)
	zn, okZN := sample(i, j, k-1)
	if !okXP || !okXN || !okYP || !okYN || !okZP || !okZN {
		return r3.Vector{}, false
	}
	grad := r3.Vector{X: xp - xn, Y: yp - yn, Z: zp - zn}
	if grad.Norm() == 0 {
		return r3.Vector{}, false
	}
	return grad.Normalize(), true
}
