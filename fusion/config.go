// Package fusion sequences the reconstruction pipeline: frames are
// preprocessed into point clouds, registered against the accumulated model,
// and fused into the voxel grid, with tracking state managed across frames.
package fusion

import (
	"github.com/pkg/errors"

	"github.com/AlduinoCalderon/AzureKinectDK/camera"
	"github.com/AlduinoCalderon/AzureKinectDK/registration"
	"github.com/AlduinoCalderon/AzureKinectDK/tsdf"
)

// ExtractionMode selects how ExtractSurface renders the model.
type ExtractionMode string

// The supported surface extraction modes.
const (
	// ExtractionPoints emits a weighted near-surface point set, the cheap mode.
	ExtractionPoints = ExtractionMode("points")
	// ExtractionMesh emits an isosurface triangle mesh.
	ExtractionMesh = ExtractionMode("mesh")
)

// Config holds every knob of a reconstruction session. It is validated once
// at session start; changing it mid-session is not supported.
type Config struct {
	// Grid fixes the voxel lattice geometry.
	Grid tsdf.Config `json:"grid"`
	// ICP configures the pose estimator.
	ICP registration.ICPConfig `json:"icp"`
	// DepthRange bounds the depth samples a frame contributes.
	DepthRange camera.DepthRange `json:"depth_range"`
	// MinValidPoints is the fewest in-range samples a frame may have before
	// it is dropped.
	MinValidPoints int `json:"min_valid_points"`
	// RefreshEvery is how many integrations the cached reference surface
	// serves before it is re-extracted from the grid.
	RefreshEvery int `json:"refresh_every"`
	// ReferenceVoxelSize, when positive, downsamples the reference surface
	// to this leaf size in mm before indexing it.
	ReferenceVoxelSize float64 `json:"reference_voxel_size_mm"`
	// Extraction selects the surface representation of ExtractSurface.
	Extraction ExtractionMode `json:"extraction"`
}

// DefaultConfig returns a session configuration suited to tabletop scanning
// with the synthetic demo source.
func DefaultConfig() Config {
	return Config{
		Grid: tsdf.Config{
			VoxelSize:  10,
			Truncation: 30,
			MaxWeight:  64,
			DimX:       100,
			DimY:       100,
			DimZ:       100,
		},
		ICP:            registration.DefaultICPConfig(),
		DepthRange:     camera.DepthRange{Min: 200, Max: 2000},
		MinValidPoints: 100,
		RefreshEvery:   5,
		Extraction:     ExtractionPoints,
	}
}

// Validate checks the whole session configuration. Any failure here is fatal;
// no session is created.
func (cfg Config) Validate() error {
	if err := cfg.Grid.CheckValid(); err != nil {
		return errors.Wrap(err, "grid config")
	}
	if err := cfg.ICP.CheckValid(); err != nil {
		return errors.Wrap(err, "icp config")
	}
	if err := cfg.DepthRange.CheckValid(); err != nil {
		return errors.Wrap(err, "depth range")
	}
	if cfg.MinValidPoints < 1 {
		return errors.Errorf("min valid points must be at least 1, got %d", cfg.MinValidPoints)
	}
	if cfg.RefreshEvery < 1 {
		return errors.Errorf("refresh cadence must be at least 1, got %d", cfg.RefreshEvery)
	}
	if cfg.ReferenceVoxelSize < 0 {
		return errors.Errorf("reference voxel size must be non-negative, got %f", cfg.ReferenceVoxelSize)
	}
	switch cfg.Extraction {
	case ExtractionPoints, ExtractionMesh:
	default:
		return errors.Errorf("unknown extraction mode %q", cfg.Extraction)
	}
	return nil
}
