// Package web exposes a small HTTP control surface over a reconstruction
// session: start and stop the scan loop, inspect tracking state and the
// trajectory, and download the current surface as PCD. It holds no pipeline
// logic of its own.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"goji.io"
	"goji.io/pat"

	"github.com/AlduinoCalderon/AzureKinectDK/fusion"
	"github.com/AlduinoCalderon/AzureKinectDK/pointcloud"
	"github.com/AlduinoCalderon/AzureKinectDK/spatialmath"
)

// RunnerFactory builds a fresh runner for each started scan.
type RunnerFactory func() (*fusion.Runner, error)

// Server routes session control requests to a runner. One scan runs at a
// time; the last runner stays inspectable after it stops.
type Server struct {
	logger  golog.Logger
	factory RunnerFactory
	mux     *goji.Mux

	mu     sync.Mutex
	runner *fusion.Runner
}

// NewServer returns a server that builds runners with factory.
func NewServer(factory RunnerFactory, logger golog.Logger) *Server {
	s := &Server{logger: logger, factory: factory}
	mux := goji.NewMux()
	mux.HandleFunc(pat.Post("/session/start"), s.handleStart)
	mux.HandleFunc(pat.Post("/session/stop"), s.handleStop)
	mux.HandleFunc(pat.Get("/session/status"), s.handleStatus)
	mux.HandleFunc(pat.Get("/session/trajectory"), s.handleTrajectory)
	mux.HandleFunc(pat.Get("/session/surface"), s.handleSurface)
	s.mux = mux
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	//nolint:errcheck
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner != nil && s.runner.Running() {
		writeError(w, http.StatusConflict, "a scan is already running")
		return
	}
	runner, err := s.factory()
	if err != nil {
		s.logger.Errorw("failed to build scan runner", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := runner.Start(context.Background()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.runner = runner
	writeJSON(w, http.StatusCreated, map[string]string{
		"session_id": runner.Session().ID(),
		"state":      runner.Session().State().String(),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	runner := s.runner
	s.mu.Unlock()
	if runner == nil {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	runner.Stop()
	writeJSON(w, http.StatusOK, runner.Session().Summary())
}

type statusResponse struct {
	SessionID   string       `json:"session_id"`
	Running     bool         `json:"running"`
	State       string       `json:"state"`
	Stats       fusion.Stats `json:"stats"`
	Translation poseJSON     `json:"pose"`
}

type poseJSON struct {
	X     float64 `json:"x_mm"`
	Y     float64 `json:"y_mm"`
	Z     float64 `json:"z_mm"`
	Theta float64 `json:"theta_rad"`
}

func poseToJSON(p spatialmath.Pose) poseJSON {
	t := p.Translation()
	return poseJSON{X: t.X, Y: t.Y, Z: t.Z, Theta: p.Theta()}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runner := s.currentRunner()
	if runner == nil {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	sess := runner.Session()
	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:   sess.ID(),
		Running:     runner.Running(),
		State:       sess.State().String(),
		Stats:       sess.Stats(),
		Translation: poseToJSON(sess.CurrentPose()),
	})
}

type trajectoryEntryJSON struct {
	Timestamp time.Time `json:"timestamp"`
	Pose      poseJSON  `json:"pose"`
}

func (s *Server) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	runner := s.currentRunner()
	if runner == nil {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	traj := runner.Session().Trajectory()
	out := make([]trajectoryEntryJSON, 0, len(traj))
	for _, e := range traj {
		out = append(out, trajectoryEntryJSON{Timestamp: e.Timestamp, Pose: poseToJSON(e.Pose)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSurface(w http.ResponseWriter, r *http.Request) {
	runner := s.currentRunner()
	if runner == nil {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	cloud := surfaceCloud(runner.Session())
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=surface.pcd")
	if err := pointcloud.ToPCD(cloud, w, pointcloud.PCDBinary); err != nil {
		s.logger.Errorw("surface export failed", "error", err)
	}
}

// surfaceCloud renders the session surface as a point cloud regardless of
// the configured extraction mode.
func surfaceCloud(sess *fusion.Session) pointcloud.PointCloud {
	surf := sess.ExtractSurface()
	if surf.Points != nil {
		return surf.Points
	}
	return surf.Mesh.ToPointCloud()
}

func (s *Server) currentRunner() *fusion.Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner
}
