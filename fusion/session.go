package fusion

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/AlduinoCalderon/AzureKinectDK/camera"
	"github.com/AlduinoCalderon/AzureKinectDK/pointcloud"
	"github.com/AlduinoCalderon/AzureKinectDK/registration"
	"github.com/AlduinoCalderon/AzureKinectDK/spatialmath"
	"github.com/AlduinoCalderon/AzureKinectDK/tsdf"
)

// State is the tracking state of a session.
type State int

// Session states. A session starts Idle, moves to Tracking on the first
// integrated frame, and bounces between Tracking and Lost afterwards.
const (
	StateIdle State = iota
	StateTracking
	StateLost
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// FrameStatus says what a session did with one frame.
type FrameStatus string

// The per-frame outcomes. Dropped and Lost are recoverable conditions, not
// errors; the caller keeps feeding frames.
const (
	StatusIntegrated = FrameStatus("integrated")
	StatusDropped    = FrameStatus("dropped")
	StatusLost       = FrameStatus("lost")
)

// FrameResult reports what happened to one frame.
type FrameResult struct {
	Status    FrameStatus
	Pose      spatialmath.Pose
	ICP       registration.Report
	Points    int
	Timestamp time.Time
}

// TrajectoryEntry is one camera pose in capture order.
type TrajectoryEntry struct {
	Timestamp time.Time
	Pose      spatialmath.Pose
}

// Stats counts what a session has done so far.
type Stats struct {
	FramesSeen       int `json:"frames_seen"`
	FramesIntegrated int `json:"frames_integrated"`
	FramesDropped    int `json:"frames_dropped"`
	FramesLost       int `json:"frames_lost"`
}

// Summary is the closing record of a session, suitable for persistence.
type Summary struct {
	ID             string    `json:"id" bson:"session_id"`
	StartedAt      time.Time `json:"started_at" bson:"started_at"`
	EndedAt        time.Time `json:"ended_at" bson:"ended_at"`
	Stats          Stats     `json:"stats" bson:"stats"`
	FinalState     string    `json:"final_state" bson:"final_state"`
	OccupiedVoxels int       `json:"occupied_voxels" bson:"occupied_voxels"`
}

// Surface is an extracted model snapshot. Exactly one field is set, matching
// the session's extraction mode.
type Surface struct {
	Points pointcloud.PointCloud
	Mesh   *tsdf.Mesh
}

// Session owns one reconstruction run: the voxel grid, the current camera
// pose, and the tracking state machine. ProcessFrame is the single writer;
// readers (State, Trajectory, ExtractSurface) may run concurrently with each
// other but block during integration.
type Session struct {
	id     uuid.UUID
	cfg    Config
	logger golog.Logger
	clk    clock.Clock

	mu           sync.RWMutex
	state        State
	grid         *tsdf.Grid
	pose         spatialmath.Pose
	trajectory   []TrajectoryEntry
	ref          *pointcloud.KDTree
	sinceRefresh int
	stats        Stats
	startedAt    time.Time
}

// NewSession validates cfg and allocates a session ready for its first frame.
func NewSession(cfg Config, logger golog.Logger) (*Session, error) {
	return newSession(cfg, logger, clock.New())
}

func newSession(cfg Config, logger golog.Logger, clk clock.Clock) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "session config invalid")
	}
	grid, err := tsdf.NewGrid(cfg.Grid)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	logger.Infow("session created", "id", id.String(), "extraction", string(cfg.Extraction))
	return &Session{
		id:        id,
		cfg:       cfg,
		logger:    logger,
		clk:       clk,
		state:     StateIdle,
		grid:      grid,
		pose:      spatialmath.NewZeroPose(),
		startedAt: clk.Now(),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id.String()
}

// State returns the current tracking state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentPose returns the last known-good camera-to-world pose.
func (s *Session) CurrentPose() spatialmath.Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pose
}

// Trajectory returns a copy of the integrated poses in capture order.
func (s *Session) Trajectory() []TrajectoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TrajectoryEntry, len(s.trajectory))
	copy(out, s.trajectory)
	return out
}

// Stats returns the frame counters so far.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Summary snapshots the session for persistence. It does not end the session.
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		ID:             s.id.String(),
		StartedAt:      s.startedAt,
		EndedAt:        s.clk.Now(),
		Stats:          s.stats,
		FinalState:     s.state.String(),
		OccupiedVoxels: s.grid.OccupiedVoxels(),
	}
}

// ProcessFrame runs one frame through the pipeline: preprocess, register,
// integrate. Frames with too little depth are dropped and tracking failures
// move the session to Lost; both are reported in the result, not as errors.
// Cancellation is honored between frames, never mid-integration.
func (s *Session) ProcessFrame(ctx context.Context, frame *camera.Frame) (FrameResult, error) {
	if err := ctx.Err(); err != nil {
		return FrameResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FramesSeen++

	res := FrameResult{Timestamp: frame.Timestamp, Pose: s.pose}

	cloud, err := frame.ToPointCloud(s.cfg.DepthRange, s.cfg.MinValidPoints)
	if errors.Is(err, camera.ErrEmptyFrame) {
		s.stats.FramesDropped++
		s.logger.Debugw("frame dropped", "session", s.id.String(), "error", err)
		res.Status = StatusDropped
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.Points = cloud.Size()

	if s.state == StateIdle {
		// first frame anchors the world frame at the initial pose
		if err := s.integrate(cloud, s.pose, frame.Timestamp); err != nil {
			return res, err
		}
		s.state = StateTracking
		res.Status = StatusIntegrated
		res.Pose = s.pose
		return res, nil
	}

	if s.ref == nil || s.ref.Size() == 0 {
		s.refreshReference()
	}

	pose, report, err := registration.EstimatePose(cloud, s.ref, s.pose, s.cfg.ICP, s.logger)
	res.ICP = report
	if errors.Is(err, registration.ErrTrackingLost) {
		// model untouched; the pose stays at the last known-good estimate
		s.state = StateLost
		s.stats.FramesLost++
		s.logger.Infow("tracking lost",
			"session", s.id.String(),
			"inlier_fraction", report.InlierFraction,
			"rms", report.RMS)
		res.Status = StatusLost
		return res, nil
	}
	if err != nil {
		return res, err
	}

	if err := s.integrate(cloud, pose, frame.Timestamp); err != nil {
		return res, err
	}
	if s.state == StateLost {
		s.logger.Infow("tracking recovered", "session", s.id.String())
	}
	s.state = StateTracking
	s.pose = pose
	res.Status = StatusIntegrated
	res.Pose = pose
	return res, nil
}

// integrate fuses the cloud and records the pose. Callers hold the write lock.
func (s *Session) integrate(cloud pointcloud.PointCloud, pose spatialmath.Pose, ts time.Time) error {
	if err := s.grid.Integrate(cloud, pose); err != nil {
		return err
	}
	s.stats.FramesIntegrated++
	s.trajectory = append(s.trajectory, TrajectoryEntry{Timestamp: ts, Pose: pose})
	s.sinceRefresh++
	if s.ref == nil || s.sinceRefresh >= s.cfg.RefreshEvery {
		s.refreshReference()
	}
	return nil
}

// refreshReference re-extracts the model surface and rebuilds the nearest
// neighbor index the estimator registers against. Callers hold the write lock.
func (s *Session) refreshReference() {
	pts := s.grid.ExtractPoints()
	if s.cfg.ReferenceVoxelSize > 0 && pts.Size() > 0 {
		down, err := pointcloud.VoxelDownsample(pts, s.cfg.ReferenceVoxelSize)
		if err != nil {
			s.logger.Debugw("reference downsample failed", "session", s.id.String(), "error", err)
		} else {
			pts = down
		}
	}
	s.ref = pointcloud.ToKDTree(pts)
	s.sinceRefresh = 0
}

// ExtractSurface renders the current model per the configured extraction
// mode. An unobserved model yields an empty surface and no error.
func (s *Session) ExtractSurface() Surface {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg.Extraction == ExtractionMesh {
		return Surface{Mesh: s.grid.ExtractMesh()}
	}
	return Surface{Points: s.grid.ExtractPoints()}
}

// Reset clears the model and trajectory and returns the session to Idle,
// keeping its identifier and configuration.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grid.Reset()
	s.state = StateIdle
	s.pose = spatialmath.NewZeroPose()
	s.trajectory = nil
	s.ref = nil
	s.sinceRefresh = 0
	s.stats = Stats{}
	s.startedAt = s.clk.Now()
	s.logger.Infow("session reset", "id", s.id.String())
}
