package geo

import "math"

const (
	degToRad = math.Pi / 180

	xr = 20037508.34 / 180
	yr = xr / degToRad
	tr = degToRad / 2

	// MaxMercatorLatitude is where EPSG:3857 squares off the world
	MaxMercatorLatitude = 85.05112878
)

// Projector converts EPSG:4326 (lon, lat) into a raster's own CRS and back.
type Projector interface {
	Forward(lon, lat float64) (x, y float64, err error)
	Inverse(x, y float64) (lon, lat float64, err error)
}

// DomainClamper is implemented by projectors with a bounded input domain.
// Mapper pulls points onto that domain before projecting, so a vertex
// drawn past the edge lands on the raster's edge instead of failing.
type DomainClamper interface {
	ClampToDomain(lon, lat float64) (float64, float64)
}

// Geographic is the projector for rasters already in lon/lat, and for
// rasters with no spatial reference at all.
type Geographic struct{}

func (Geographic) Forward(lon, lat float64) (float64, float64, error) { return lon, lat, nil }
func (Geographic) Inverse(x, y float64) (float64, float64, error)     { return x, y, nil }

// WebMercator projects to and from EPSG:3857 in closed form.
type WebMercator struct{}

func (WebMercator) Forward(lon, lat float64) (float64, float64, error) {
	if lat <= -90 || lat >= 90 {
		return 0, 0, ErrInvalidCoordinate
	}
	x, y := Convert4326To3857(lon, lat)
	return x, y, nil
}

func (WebMercator) ClampToDomain(lon, lat float64) (float64, float64) {
	return lon, math.Max(-MaxMercatorLatitude, math.Min(MaxMercatorLatitude, lat))
}

func (WebMercator) Inverse(x, y float64) (float64, float64, error) {
	lon, lat := Convert3857To4326(x, y)
	return lon, lat, nil
}

func Convert4326To3857(lon, lat float64) (x, y float64) {
	x = lon * xr
	y = math.Log(math.Tan((90+lat)*tr)) * yr
	return
}

func Convert3857To4326(x, y float64) (lon, lat float64) {
	lon = x / xr
	lat = math.Atan(math.Exp(y/yr))/tr - 90
	return
}
