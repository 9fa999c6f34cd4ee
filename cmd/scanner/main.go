// Package main runs a reconstruction session against the synthetic frame
// source, either as a one-shot scan that exports a PCD, or as an HTTP
// service exposing the session control endpoints.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/AlduinoCalderon/AzureKinectDK/camera"
	"github.com/AlduinoCalderon/AzureKinectDK/fusion"
	"github.com/AlduinoCalderon/AzureKinectDK/pointcloud"
	"github.com/AlduinoCalderon/AzureKinectDK/report"
	"github.com/AlduinoCalderon/AzureKinectDK/tsdf"
	"github.com/AlduinoCalderon/AzureKinectDK/web"
)

var logger = golog.NewDevelopmentLogger("scanner")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

type arguments struct {
	addr       string
	interval   time.Duration
	duration   time.Duration
	out        string
	extraction string
	voxelSize  float64

	mongoURI  string
	mongoDB   string
	mongoColl string

	mqttBroker string
	mqttTopic  string
}

func parseArgs(args []string) (arguments, error) {
	var parsed arguments
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.StringVar(&parsed.addr, "addr", "", "listen address for the control API; empty runs a one-shot scan")
	fs.DurationVar(&parsed.interval, "interval", 100*time.Millisecond, "time between frames")
	fs.DurationVar(&parsed.duration, "duration", 5*time.Second, "one-shot scan length")
	fs.StringVar(&parsed.out, "out", "surface.pcd", "one-shot scan output path")
	fs.StringVar(&parsed.extraction, "extraction", string(fusion.ExtractionPoints), "surface extraction mode (points|mesh)")
	fs.Float64Var(&parsed.voxelSize, "voxel-size", 10, "voxel edge length in mm")
	fs.StringVar(&parsed.mongoURI, "mongo-uri", "", "MongoDB URI for session summaries; empty disables")
	fs.StringVar(&parsed.mongoDB, "mongo-db", "scanner", "MongoDB database")
	fs.StringVar(&parsed.mongoColl, "mongo-collection", "sessions", "MongoDB collection")
	fs.StringVar(&parsed.mqttBroker, "mqtt-broker", "", "MQTT broker URL for frame events; empty disables")
	fs.StringVar(&parsed.mqttTopic, "mqtt-topic", "scanner/frames", "MQTT topic for frame events")
	if err := fs.Parse(args[1:]); err != nil {
		return arguments{}, err
	}
	return parsed, nil
}

func sessionConfig(args arguments) fusion.Config {
	cfg := fusion.DefaultConfig()
	cfg.Extraction = fusion.ExtractionMode(args.extraction)
	cfg.Grid = tsdf.Config{
		VoxelSize:  args.voxelSize,
		Truncation: 3 * args.voxelSize,
		MaxWeight:  64,
		Origin:     r3.Vector{X: -450, Y: -450, Z: 350},
		DimX:       int(900 / args.voxelSize),
		DimY:       int(900 / args.voxelSize),
		DimZ:       int(500 / args.voxelSize),
	}
	return cfg
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	parsed, err := parseArgs(args)
	if err != nil {
		return err
	}
	cfg := sessionConfig(parsed)
	if err := cfg.Validate(); err != nil {
		return err
	}

	var publisher report.Publisher
	if parsed.mqttBroker != "" {
		pub, err := report.NewMQTTPublisher(parsed.mqttBroker, "scanner", parsed.mqttTopic)
		if err != nil {
			return err
		}
		publisher = pub
		defer publisher.Close()
	}

	var recorder report.Recorder
	if parsed.mongoURI != "" {
		rec, err := report.NewMongoRecorder(ctx, parsed.mongoURI, parsed.mongoDB, parsed.mongoColl)
		if err != nil {
			return err
		}
		recorder = rec
		defer utils.UncheckedErrorFunc(func() error { return recorder.Close(context.Background()) })
	}

	makeRunner := func() (*fusion.Runner, error) {
		sess, err := fusion.NewSession(cfg, logger)
		if err != nil {
			return nil, err
		}
		runner, err := fusion.NewRunner(sess, camera.NewStaticSource(clock.New()), parsed.interval, logger)
		if err != nil {
			return nil, err
		}
		if publisher != nil {
			runner.OnFrame = func(res fusion.FrameResult) {
				ev := report.NewFrameEvent(sess.ID(), sess.State(), res)
				if err := publisher.PublishFrameEvent(ctx, ev); err != nil {
					logger.Debugw("frame event publish failed", "error", err)
				}
			}
		}
		return runner, nil
	}

	if parsed.addr != "" {
		return serveControlAPI(ctx, parsed.addr, makeRunner, logger)
	}
	return runOneShot(ctx, parsed, makeRunner, recorder, logger)
}

func serveControlAPI(ctx context.Context, addr string, makeRunner web.RunnerFactory, logger golog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           web.NewServer(makeRunner, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	utils.PanicCapturingGo(func() {
		errCh <- srv.ListenAndServe()
	})
	logger.Infow("control api listening", "addr", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runOneShot(
	ctx context.Context,
	args arguments,
	makeRunner web.RunnerFactory,
	recorder report.Recorder,
	logger golog.Logger,
) error {
	runner, err := makeRunner()
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-time.After(args.duration):
	}
	runner.Stop()

	sess := runner.Session()
	summary := sess.Summary()
	logger.Infow("scan finished",
		"session", summary.ID,
		"state", summary.FinalState,
		"integrated", summary.Stats.FramesIntegrated,
		"dropped", summary.Stats.FramesDropped,
		"lost", summary.Stats.FramesLost,
		"occupied_voxels", summary.OccupiedVoxels)

	if recorder != nil {
		if err := recorder.RecordSummary(context.Background(), summary); err != nil {
			logger.Errorw("summary persistence failed", "error", err)
		}
	}
	return exportSurface(sess, args.out, logger)
}

func exportSurface(sess *fusion.Session, path string, logger golog.Logger) (err error) {
	surf := sess.ExtractSurface()
	cloud := surf.Points
	if cloud == nil {
		cloud = surf.Mesh.ToPointCloud()
	}
	if cloud.Size() == 0 {
		logger.Warn("no surface observed, skipping export")
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if err := pointcloud.ToPCD(cloud, f, pointcloud.PCDBinary); err != nil {
		return errors.Wrap(err, "write pcd")
	}
	logger.Infow("surface exported", "path", path, "points", cloud.Size())
	return nil
}
