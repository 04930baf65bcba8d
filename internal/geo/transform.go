// Package geo maps geographic coordinates onto raster pixel indices.
package geo

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrOutOfDomain is wrapped alongside ErrInvalidCoordinate when a point
	// cannot be projected into the raster's CRS at all
	ErrOutOfDomain       = errors.New("outside projection domain")
	ErrSingularTransform = errors.New("geotransform is not invertible")
)

// GeoTransform holds the six affine coefficients GDAL reports for a raster:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
type GeoTransform [6]float64

// Identity maps pixel (col, row) onto (col, row). Rasters without
// georeferencing report this transform.
var Identity = GeoTransform{0, 1, 0, 0, 0, 1}

// Apply returns the CRS position of a (possibly fractional) pixel position.
func (gt GeoTransform) Apply(col, row float64) (x, y float64) {
	x = gt[0] + col*gt[1] + row*gt[2]
	y = gt[3] + col*gt[4] + row*gt[5]
	return
}

// Invert returns the fractional pixel position of a CRS coordinate.
func (gt GeoTransform) Invert(x, y float64) (col, row float64, err error) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 || math.IsNaN(det) {
		return 0, 0, ErrSingularTransform
	}
	dx := x - gt[0]
	dy := y - gt[3]
	col = (gt[5]*dx - gt[2]*dy) / det
	row = (gt[1]*dy - gt[4]*dx) / det
	return col, row, nil
}

func (gt GeoTransform) String() string {
	return fmt.Sprintf("[%g %g %g %g %g %g]", gt[0], gt[1], gt[2], gt[3], gt[4], gt[5])
}
