// Package registration estimates the rigid transform aligning an incoming
// frame's point cloud to the accumulated model via point-to-plane iterative
// closest point.
package registration

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/AlduinoCalderon/AzureKinectDK/pointcloud"
	"github.com/AlduinoCalderon/AzureKinectDK/spatialmath"
)

// ErrTrackingLost is returned when the inlier fraction of a registration
// falls below the configured minimum, usually from insufficient overlap
// between the frame and the model.
var ErrTrackingLost = errors.New("icp inlier fraction below minimum, tracking lost")

// ICPConfig holds configuration for the ICP solver. Distances are in mm,
// angles in degrees.
type ICPConfig struct {
	// MaxIterations bounds the number of correspondence/solve rounds.
	MaxIterations int `json:"max_iterations"`
	// ConvergenceTol stops iteration once the RMS residual improves by less
	// than this between rounds.
	ConvergenceTol float64 `json:"convergence_tol_mm"`
	// MaxCorrespondenceDist rejects any correspondence farther than this.
	MaxCorrespondenceDist float64 `json:"max_correspondence_dist_mm"`
	// OutlierMultiplier scales the median correspondence residual into the
	// adaptive rejection threshold for the next iteration.
	OutlierMultiplier float64 `json:"outlier_multiplier"`
	// OutlierDecay tightens the multiplier each iteration.
	OutlierDecay float64 `json:"outlier_decay"`
	// MaxNormalAngle rejects correspondences whose normals disagree by more
	// than this many degrees.
	MaxNormalAngle float64 `json:"max_normal_angle_deg"`
	// MinInlierFraction is the acceptance floor below which tracking is lost.
	MinInlierFraction float64 `json:"min_inlier_fraction"`
	// MaxSamples caps how many source points feed the solver; 0 means all.
	MaxSamples int `json:"max_samples"`
}

// DefaultICPConfig returns sensible defaults for frame-to-model tracking at
// close range.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:         30,
		ConvergenceTol:        1e-3,
		MaxCorrespondenceDist: 100,
		OutlierMultiplier:     3.0,
		OutlierDecay:          0.9,
		MaxNormalAngle:        60,
		MinInlierFraction:     0.25,
		MaxSamples:            2000,
	}
}

// CheckValid checks the solver configuration once at session start.
func (cfg ICPConfig) CheckValid() error {
	if cfg.MaxIterations <= 0 {
		return errors.Errorf("icp max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.ConvergenceTol <= 0 {
		return errors.Errorf("icp convergence tolerance must be positive, got %f", cfg.ConvergenceTol)
	}
	if cfg.MaxCorrespondenceDist <= 0 {
		return errors.Errorf("icp max correspondence distance must be positive, got %f", cfg.MaxCorrespondenceDist)
	}
	if cfg.OutlierMultiplier <= 0 {
		return errors.Errorf("icp outlier multiplier must be positive, got %f", cfg.OutlierMultiplier)
	}
	if cfg.OutlierDecay <= 0 || cfg.OutlierDecay > 1 {
		return errors.Errorf("icp outlier decay must be in (0, 1], got %f", cfg.OutlierDecay)
	}
	if cfg.MaxNormalAngle <= 0 || cfg.MaxNormalAngle > 180 {
		return errors.Errorf("icp max normal angle must be in (0, 180], got %f", cfg.MaxNormalAngle)
	}
	if cfg.MinInlierFraction < 0 || cfg.MinInlierFraction > 1 {
		return errors.Errorf("icp min inlier fraction must be in [0, 1], got %f", cfg.MinInlierFraction)
	}
	return nil
}

// Report describes the quality of a registration.
type Report struct {
	Iterations     int
	RMS            float64
	InlierFraction float64
	Inliers        int
	Converged      bool
}

type sample struct {
	p r3.Vector
	n r3.Vector // unit
}

// EstimatePose aligns the source cloud (camera space) to the target model
// surface (world space, with normals) starting from guess, and returns the
// refined camera-to-world pose with a quality report. Source points without a
// normal are excluded from the solve. ErrTrackingLost is returned, along with
// the report, when the final inlier fraction is below the configured minimum.
func EstimatePose(
	source pointcloud.PointCloud,
	target *pointcloud.KDTree,
	guess spatialmath.Pose,
	cfg ICPConfig,
	logger golog.Logger,
) (spatialmath.Pose, Report, error) {
	if err := cfg.CheckValid(); err != nil {
		return guess, Report{}, err
	}
	if target == nil || target.Size() == 0 {
		return guess, Report{}, errors.Wrap(ErrTrackingLost, "target surface is empty")
	}

	samples := collectSamples(source, cfg.MaxSamples)
	if len(samples) == 0 {
		return guess, Report{}, errors.Wrap(ErrTrackingLost, "no source points with normals")
	}

	pose := guess
	report := Report{RMS: math.MaxFloat64}
	threshold := cfg.MaxCorrespondenceDist
	multiplier := cfg.OutlierMultiplier
	prevRMS := math.MaxFloat64

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		report.Iterations = iter + 1

		residuals, dists, a, b := buildSystem(samples, target, pose, threshold, cfg.MaxNormalAngle)
		report.Inliers = len(residuals)
		report.InlierFraction = float64(len(residuals)) / float64(len(samples))
		if len(residuals) < 6 {
			break
		}

		rms := rmsOf(residuals)
		report.RMS = rms

		if math.Abs(prevRMS-rms) < cfg.ConvergenceTol {
			report.Converged = true
			break
		}
		if rms > prevRMS*1.5 {
			// diverging, keep the previous estimate
			break
		}
		prevRMS = rms

		delta, err := solveTwist(a, b)
		if err != nil {
			logger.Debugw("icp solve failed", "iteration", iter, "error", err)
			break
		}
		pose = spatialmath.Compose(delta, pose)

		// adaptive outlier threshold for the next round, tightening as the
		// alignment improves
		if med, err := stats.Median(dists); err == nil && med > 0 {
			threshold = math.Min(cfg.MaxCorrespondenceDist, multiplier*med)
			multiplier = math.Max(1, multiplier*cfg.OutlierDecay)
		}
	}

	if report.InlierFraction < cfg.MinInlierFraction {
		return guess, report, errors.Wrapf(ErrTrackingLost,
			"inlier fraction %.3f below minimum %.3f", report.InlierFraction, cfg.MinInlierFraction)
	}
	return pose, report, nil
}

func collectSamples(source pointcloud.PointCloud, maxSamples int) []sample {
	total := source.Size()
	stride := 1
	if maxSamples > 0 && total > maxSamples {
		stride = total / maxSamples
	}
	samples := make([]sample, 0, total/stride+1)
	i := 0
	source.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		i++
		if (i-1)%stride != 0 {
			return true
		}
		// points without normals are fused but never registered
		if d == nil || !d.HasNormal() {
			return true
		}
		samples = append(samples, sample{p: p, n: d.Normal()})
		return true
	})
	return samples
}

// buildSystem accumulates the point-to-plane normal equations
// A·x = b for the 6-vector twist x = (w, v) at the current pose.
func buildSystem(
	samples []sample,
	target *pointcloud.KDTree,
	pose spatialmath.Pose,
	threshold float64,
	maxNormalAngleDeg float64,
) (residuals, dists []float64, a *mat.SymDense, b *mat.VecDense) {
	minNormalDot := math.Cos(maxNormalAngleDeg * math.Pi / 180)
	a = mat.NewSymDense(6, nil)
	b = mat.NewVecDense(6, nil)

	var jac [6]float64
	for _, s := range samples {
		wp := pose.TransformPoint(s.p)
		nn, dist, ok := target.Nearest(wp)
		if !ok || dist > threshold {
			continue
		}
		if nn.D == nil || !nn.D.HasNormal() {
			continue
		}
		tn := nn.D.Normal()
		if pose.RotateVector(s.n).Dot(tn) < minNormalDot {
			continue
		}

		r := wp.Sub(nn.P).Dot(tn)
		residuals = append(residuals, r)
		dists = append(dists, dist)

		cx := wp.Cross(tn)
		jac[0], jac[1], jac[2] = cx.X, cx.Y, cx.Z
		jac[3], jac[4], jac[5] = tn.X, tn.Y, tn.Z
		for i := 0; i < 6; i++ {
			for j := i; j < 6; j++ {
				a.SetSym(i, j, a.At(i, j)+jac[i]*jac[j])
			}
			b.SetVec(i, b.AtVec(i)-jac[i]*r)
		}
	}
	return residuals, dists, a, b
}

func solveTwist(a *mat.SymDense, b *mat.VecDense) (spatialmath.Pose, error) {
	// Levenberg damping keeps the solve stable on degenerate geometry, a
	// featureless wall or a lone sphere
	const lambda = 1e-6
	for i := 0; i < 6; i++ {
		a.SetSym(i, i, a.At(i, i)+lambda)
	}

	var x mat.VecDense
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return spatialmath.NewZeroPose(), errors.New("normal equations not positive definite")
	}
	if err := chol.SolveVecTo(&x, b); err != nil {
		return spatialmath.NewZeroPose(), err
	}

	w := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	v := r3.Vector{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)}
	return spatialmath.NewPoseFromTwist(w, v), nil
}

func rmsOf(residuals []float64) float64 {
	if len(residuals) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range residuals {
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(residuals)))
}
