package camera

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective
// projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return errors.New("pinhole camera intrinsics are not available")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return errors.Errorf("invalid size (%d, %d)", params.Width, params.Height)
	}
	if params.Fx <= 0 {
		return errors.Errorf("invalid focal length Fx = %f", params.Fx)
	}
	if params.Fy <= 0 {
		return errors.Errorf("invalid focal length Fy = %f", params.Fy)
	}
	if params.Ppx < 0 {
		return errors.Errorf("invalid principal point Ppx = %f", params.Ppx)
	}
	if params.Ppy < 0 {
		return errors.Errorf("invalid principal point Ppy = %f", params.Ppy)
	}
	return nil
}

// PixelToPoint transforms a pixel with depth to a 3D point in camera space.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) r3.Vector {
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return r3.Vector{X: xOverZ * z, Y: yOverZ * z, Z: z}
}

// PointToPixel projects a 3D camera-space point to a pixel in the image
// plane. Points at zero depth project to negative coordinates so bounds
// checks filter them out.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		xPx := math.Round((x/z)*params.Fx + params.Ppx)
		yPx := math.Round((y/z)*params.Fy + params.Ppy)
		return xPx, yPx
	}
	return -1.0, -1.0
}

// DepthRange is the window of depth readings considered valid, in mm.
type DepthRange struct {
	Min Depth `json:"min_mm"`
	Max Depth `json:"max_mm"`
}

// CheckValid checks that the range is non-empty.
func (r DepthRange) CheckValid() error {
	if r.Max == 0 || r.Min >= r.Max {
		return errors.Errorf("invalid depth range [%d, %d] mm", r.Min, r.Max)
	}
	return nil
}

// Valid reports whether a reading is inside the range. The zero sentinel is
// never valid.
func (r DepthRange) Valid(d Depth) bool {
	return d != 0 && d >= r.Min && d <= r.Max
}
