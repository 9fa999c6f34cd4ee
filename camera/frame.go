package camera

import (
	"context"
	"image"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/utils"

	"github.com/AlduinoCalderon/AzureKinectDK/pointcloud"
)

// ErrEmptyFrame is returned when a frame has too few valid depth samples to
// be worth processing. The frame should be dropped and processing continue.
var ErrEmptyFrame = errors.New("too few valid depth samples in frame")

// Frame is one captured depth+color pair with the intrinsics of the sensor
// that produced it. Frames are immutable once captured.
type Frame struct {
	Depth      *DepthMap
	Color      *image.NRGBA // optional, aligned with Depth
	Intrinsics PinholeCameraIntrinsics
	Timestamp  time.Time
}

// FrameSource provides frames in capture order. The sensor connection
// lifecycle, calibration and image alignment belong to the implementation.
type FrameSource interface {
	NextFrame(ctx context.Context) (*Frame, error)
}

type projectedPixel struct {
	valid     bool
	pos       r3.Vector
	hasNormal bool
	normal    r3.Vector
}

// ToPointCloud back-projects the frame into a camera-space point cloud,
// dropping samples outside rng. Each point carries its color when the frame
// has one, and a unit normal computed by finite differences over valid depth
// neighbors; pixels without a valid neighbor pair in both image directions
// get no normal. When fewer than minValidPoints samples survive, the cloud is
// returned alongside ErrEmptyFrame.
func (f *Frame) ToPointCloud(rng DepthRange, minValidPoints int) (pointcloud.PointCloud, error) {
	dm := f.Depth
	if dm == nil || !dm.HasData() {
		return pointcloud.New(), errors.Wrap(ErrEmptyFrame, "frame has no depth data")
	}
	if err := rng.CheckValid(); err != nil {
		return nil, err
	}
	if f.Color != nil && f.Color.Bounds() != dm.Bounds() {
		return nil, errors.Errorf("depth map and color dimensions don't match Depth(%d,%d) != Color(%d,%d)",
			dm.Width(), dm.Height(), f.Color.Bounds().Dx(), f.Color.Bounds().Dy())
	}

	width, height := dm.Width(), dm.Height()
	intr := &f.Intrinsics

	pixels := make([]projectedPixel, width*height)
	utils.ParallelForEachPixel(image.Point{width, height}, func(x, y int) {
		d := dm.GetDepth(x, y)
		if !rng.Valid(d) {
			return
		}
		px := &pixels[y*width+x]
		px.valid = true
		px.pos = intr.PixelToPoint(float64(x), float64(y), float64(d))
		if n, ok := f.pixelNormal(x, y, rng); ok {
			px.hasNormal = true
			px.normal = n
		}
	})

	pc := pointcloud.NewWithPrealloc(width * height / 2)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := &pixels[y*width+x]
			if !px.valid {
				continue
			}
			var d pointcloud.Data
			if px.hasNormal {
				d = pointcloud.NewNormalData(px.normal)
			}
			if f.Color != nil {
				c := f.Color.NRGBAAt(x, y)
				if d == nil {
					d = pointcloud.NewColoredData(c)
				} else {
					d.SetColor(c)
				}
			}
			if err := pc.Set(px.pos, d); err != nil {
				return nil, err
			}
		}
	}

	if pc.Size() < minValidPoints {
		return pc, errors.Wrapf(ErrEmptyFrame, "%d valid depth samples, need at least %d", pc.Size(), minValidPoints)
	}
	return pc, nil
}

// pixelNormal estimates the surface normal at a pixel from the back-projected
// positions of its depth neighbors, preferring central differences and
// falling back to one-sided ones. The normal is oriented to face the sensor.
func (f *Frame) pixelNormal(x, y int, rng DepthRange) (r3.Vector, bool) {
	dm := f.Depth
	intr := &f.Intrinsics

	at := func(px, py int) (r3.Vector, bool) {
		if !dm.Contains(px, py) {
			return r3.Vector{}, false
		}
		d := dm.GetDepth(px, py)
		if !rng.Valid(d) {
			return r3.Vector{}, false
		}
		return intr.PixelToPoint(float64(px), float64(py), float64(d)), true
	}

	center, ok := at(x, y)
	if !ok {
		return r3.Vector{}, false
	}

	diff := func(pPos, pNeg r3.Vector, okPos, okNeg bool) (r3.Vector, bool) {
		switch {
		case okPos && okNeg:
			return pPos.Sub(pNeg), true
		case okPos:
			return pPos.Sub(center), true
		case okNeg:
			return center.Sub(pNeg), true
		default:
			return r3.Vector{}, false
		}
	}

	xp, okXP := at(x+1, y)
	xn, okXN := at(x-1, y)
	yp, okYP := at(x, y+1)
	yn, okYN := at(x, y-1)

	dx, okX := diff(xp, xn, okXP, okXN)
	dy, okY := diff(yp, yn, okYP, okYN)
	if !okX || !okY {
		return r3.Vector{}, false
	}

	n := dx.Cross(dy)
	if n.Norm() == 0 {
		return r3.Vector{}, false
	}
	n = n.Normalize()
	// orient toward the sensor, the visible side of the surface
	if n.Dot(center) > 0 {
		n = n.Mul(-1)
	}
	return n, true
}
