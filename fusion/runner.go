package fusion

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/AlduinoCalderon/AzureKinectDK/camera"
)

// Runner drives a session from a frame source at a fixed interval in the
// background, the way a live scan runs. Recoverable frame outcomes are
// reported through the OnFrame hook; the loop only exits on cancellation or
// a fatal pipeline error.
type Runner struct {
	session  *Session
	source   camera.FrameSource
	interval time.Duration
	logger   golog.Logger
	clk      clock.Clock

	// OnFrame, when set before Start, observes every processed frame. It is
	// called from the loop goroutine.
	OnFrame func(FrameResult)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner pairs a session with a frame source. interval must be positive.
func NewRunner(session *Session, source camera.FrameSource, interval time.Duration, logger golog.Logger) (*Runner, error) {
	return newRunner(session, source, interval, logger, clock.New())
}

func newRunner(
	session *Session,
	source camera.FrameSource,
	interval time.Duration,
	logger golog.Logger,
	clk clock.Clock,
) (*Runner, error) {
	if session == nil || source == nil {
		return nil, errors.New("runner needs a session and a frame source")
	}
	if interval <= 0 {
		return nil, errors.Errorf("scan interval must be positive, got %v", interval)
	}
	return &Runner{
		session:  session,
		source:   source,
		interval: interval,
		logger:   logger,
		clk:      clk,
	}, nil
}

// Session returns the session the runner drives.
func (r *Runner) Session() *Session {
	return r.session
}

// Running reports whether the scan loop is live.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

// Start launches the scan loop. It errors if the loop is already live.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errors.New("scan loop already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	utils.PanicCapturingGo(func() {
		defer close(done)
		r.loop(loopCtx)
	})
	return nil
}

// Stop cancels the loop and waits for it to drain. Safe to call when idle.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) loop(ctx context.Context) {
	ticker := r.clk.Ticker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := r.source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Errorw("frame source failed", "session", r.session.ID(), "error", err)
			continue
		}

		res, err := r.session.ProcessFrame(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// anything else surviving ProcessFrame is not per-frame noise
			r.logger.Errorw("pipeline failed, stopping scan loop",
				"session", r.session.ID(), "error", err)
			return
		}
		if r.OnFrame != nil {
			r.OnFrame(res)
		}
	}
}
