// Package report pushes session records to external sinks: session summaries
// to MongoDB and per-frame tracking events to an MQTT broker. Both sinks are
// optional side channels; reconstruction never blocks on them failing.
package report

import (
	"context"
	"time"

	"github.com/golang/geo/r3"

	"github.com/AlduinoCalderon/AzureKinectDK/fusion"
)

// FrameEvent is the per-frame record published while a session runs.
type FrameEvent struct {
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
	State          string    `json:"state"`
	InlierFraction float64   `json:"inlier_fraction"`
	RMS            float64   `json:"rms_mm"`
	Translation    r3.Vector `json:"translation_mm"`
}

// NewFrameEvent flattens a frame result into its published form.
func NewFrameEvent(sessionID string, state fusion.State, res fusion.FrameResult) FrameEvent {
	return FrameEvent{
		SessionID:      sessionID,
		Timestamp:      res.Timestamp,
		Status:         string(res.Status),
		State:          state.String(),
		InlierFraction: res.ICP.InlierFraction,
		RMS:            res.ICP.RMS,
		Translation:    res.Pose.Translation(),
	}
}

// Recorder persists closing session summaries.
type Recorder interface {
	RecordSummary(ctx context.Context, summary fusion.Summary) error
	Close(ctx context.Context) error
}

// Publisher emits per-frame events.
type Publisher interface {
	PublishFrameEvent(ctx context.Context, event FrameEvent) error
	Close()
}
