package fusion

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/AlduinoCalderon/AzureKinectDK/camera"
)

func TestNewRunnerValidation(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s, err := NewSession(testConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	source := camera.NewStaticSource(clock.New())

	_, err = NewRunner(nil, source, time.Second, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewRunner(s, nil, time.Second, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewRunner(s, source, 0, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRunnerScansUntilStopped(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s, err := NewSession(testConfig(), logger)
	test.That(t, err, test.ShouldBeNil)

	runner, err := NewRunner(s, camera.NewStaticSource(clock.New()), 10*time.Millisecond, logger)
	test.That(t, err, test.ShouldBeNil)

	var observed int32
	runner.OnFrame = func(res FrameResult) {
		test.That(t, res.Status, test.ShouldEqual, StatusIntegrated)
		atomic.AddInt32(&observed, 1)
	}

	test.That(t, runner.Start(context.Background()), test.ShouldBeNil)
	test.That(t, runner.Running(), test.ShouldBeTrue)
	test.That(t, runner.Start(context.Background()), test.ShouldNotBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, s.Stats().FramesIntegrated, test.ShouldBeGreaterThanOrEqualTo, 3)
	})

	runner.Stop()
	test.That(t, runner.Running(), test.ShouldBeFalse)
	test.That(t, atomic.LoadInt32(&observed), test.ShouldBeGreaterThanOrEqualTo, int32(3))
	test.That(t, s.State(), test.ShouldEqual, StateTracking)

	// stopping an idle runner is a no-op
	runner.Stop()
}
