package camera

import (
	"context"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
)

// NewTestIntrinsics returns a small pinhole model used by tests and the
// synthetic demo source.
func NewTestIntrinsics() PinholeCameraIntrinsics {
	return PinholeCameraIntrinsics{
		Width:  64,
		Height: 64,
		Fx:     60,
		Fy:     60,
		Ppx:    31.5,
		Ppy:    31.5,
	}
}

func fillColor(intr PinholeCameraIntrinsics, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, intr.Width, intr.Height))
	for y := 0; y < intr.Height; y++ {
		for x := 0; x < intr.Width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// NewPlaneFrame synthesizes a frame of a fronto-parallel wall at the given
// depth in mm.
func NewPlaneFrame(intr PinholeCameraIntrinsics, depth Depth, ts time.Time) *Frame {
	dm := NewEmptyDepthMap(intr.Width, intr.Height)
	for y := 0; y < intr.Height; y++ {
		for x := 0; x < intr.Width; x++ {
			dm.Set(x, y, depth)
		}
	}
	return &Frame{
		Depth:      dm,
		Color:      fillColor(intr, color.NRGBA{R: 180, G: 180, B: 180, A: 255}),
		Intrinsics: intr,
		Timestamp:  ts,
	}
}

// NewSphereFrame synthesizes a frame of a sphere seen from the origin looking
// down +Z. Pixels whose ray misses the sphere read the background depth;
// a background of 0 leaves them invalid.
func NewSphereFrame(intr PinholeCameraIntrinsics, center r3.Vector, radius float64, background Depth, ts time.Time) *Frame {
	dm := NewEmptyDepthMap(intr.Width, intr.Height)
	for y := 0; y < intr.Height; y++ {
		for x := 0; x < intr.Width; x++ {
			dir := r3.Vector{
				X: (float64(x) - intr.Ppx) / intr.Fx,
				Y: (float64(y) - intr.Ppy) / intr.Fy,
				Z: 1,
			}
			// |t*dir - center|^2 = radius^2
			a := dir.Norm2()
			b := -2 * dir.Dot(center)
			c := center.Norm2() - radius*radius
			disc := b*b - 4*a*c
			if disc < 0 {
				dm.Set(x, y, background)
				continue
			}
			t := (-b - math.Sqrt(disc)) / (2 * a)
			if t <= 0 {
				dm.Set(x, y, background)
				continue
			}
			// depth is the Z coordinate of the hit, and dir.Z == 1
			dm.Set(x, y, Depth(math.Round(t)))
		}
	}
	return &Frame{
		Depth:      dm,
		Color:      fillColor(intr, color.NRGBA{R: 120, G: 160, B: 200, A: 255}),
		Intrinsics: intr,
		Timestamp:  ts,
	}
}

// StaticSource replays frames of a static synthetic scene, a sphere in front
// of a wall, from a fixed viewpoint. It stands in for a real sensor in the
// demo binary and in tests.
type StaticSource struct {
	Intrinsics PinholeCameraIntrinsics
	Center     r3.Vector
	Radius     float64
	Background Depth

	Clock clock.Clock
}

// NewStaticSource returns a StaticSource of a 100mm sphere half a meter out
// in front of a wall.
func NewStaticSource(clk clock.Clock) *StaticSource {
	return &StaticSource{
		Intrinsics: NewTestIntrinsics(),
		Center:     r3.Vector{Z: 500},
		Radius:     100,
		Background: 800,
		Clock:      clk,
	}
}

// NextFrame implements FrameSource.
func (s *StaticSource) NextFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewSphereFrame(s.Intrinsics, s.Center, s.Radius, s.Background, s.Clock.Now()), nil
}
