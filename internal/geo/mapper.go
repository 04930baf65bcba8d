package geo

import (
	"fmt"
	"io"
	"math"
)

// Mapper converts lon/lat into pixel indices of one specific raster.
type Mapper struct {
	Transform GeoTransform
	Width     int
	Height    int
	Projector Projector
}

// NewMapper returns a mapper for a raster of the given pixel size. A nil
// projector means the raster is already geographic.
func NewMapper(gt GeoTransform, width, height int, p Projector) *Mapper {
	if p == nil {
		p = Geographic{}
	}
	return &Mapper{Transform: gt, Width: width, Height: height, Projector: p}
}

// Index returns the (row, col) pixel containing (lon, lat), using floor
// semantics on the inverse transform.
//
// When the point falls outside the raster the unclamped indices are still
// returned together with an error wrapping ErrInvalidCoordinate, so callers
// that clamp can carry on. Points the projector cannot handle even after
// ClampToDomain also wrap ErrOutOfDomain and carry no indices.
func (m *Mapper) Index(lon, lat float64) (row, col int, err error) {
	if !finite(lon) || !finite(lat) {
		return 0, 0, fmt.Errorf("%w: (%v, %v) is not finite", ErrInvalidCoordinate, lon, lat)
	}
	if c, ok := m.Projector.(DomainClamper); ok {
		lon, lat = c.ClampToDomain(lon, lat)
	}
	x, y, err := m.Projector.Forward(lon, lat)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w: projecting (%v, %v): %v", ErrInvalidCoordinate, ErrOutOfDomain, lon, lat, err)
	}
	fc, fr, err := m.Transform.Invert(x, y)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidCoordinate, err)
	}
	if !finite(fc) || !finite(fr) {
		return 0, 0, fmt.Errorf("%w: (%v, %v) maps to a non-finite pixel", ErrInvalidCoordinate, lon, lat)
	}
	row = int(math.Floor(fr))
	col = int(math.Floor(fc))
	if row < 0 || col < 0 || row >= m.Height || col >= m.Width {
		return row, col, fmt.Errorf("%w: pixel (%d, %d) outside %dx%d raster", ErrInvalidCoordinate, row, col, m.Width, m.Height)
	}
	return row, col, nil
}

// Center returns the lon/lat of the raster's middle pixel.
func (m *Mapper) Center() (lon, lat float64, err error) {
	x, y := m.Transform.Apply(float64(m.Width)/2, float64(m.Height)/2)
	return m.Projector.Inverse(x, y)
}

// Close releases projector resources, if the projector holds any.
func (m *Mapper) Close() error {
	if c, ok := m.Projector.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Clamp limits v to [0, hi].
func Clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
