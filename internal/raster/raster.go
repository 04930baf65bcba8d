// Package raster opens georeferenced rasters through GDAL.
package raster

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/lukeroth/gdal"

	"github.com/wanglab/roichat/internal/geo"
)

const (
	geographicSRID  = 4326
	webMercatorSRID = 3857
	// legacy code some tile tools still write for web mercator
	googleMercatorSRID = 900913
)

var (
	ErrOpen        = errors.New("gdal open failed")
	ErrEmptyRaster = errors.New("raster has no pixels")
	ErrClosed      = errors.New("raster closed")
	ErrTransform   = errors.New("coordinate transformation failed")
)

// OpenMapper opens path read-only and builds a mapper from its own
// geotransform and spatial reference. The dataset is closed before
// returning; the mapper only keeps what it needs.
func OpenMapper(path string) (*geo.Mapper, error) {
	ds, err := gdal.Open(path, gdal.ReadOnly)
	if err != nil {
		slog.Error("Open raster failed", "path", path, "err", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	defer ds.Close()
	return mapperFor(ds)
}

func mapperFor(ds gdal.Dataset) (*geo.Mapper, error) {
	w, h := ds.RasterXSize(), ds.RasterYSize()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyRaster
	}
	gt := geo.GeoTransform(ds.GeoTransform())
	proj, err := projectorFor(ds.Projection())
	if err != nil {
		return nil, err
	}
	slog.Debug("Raster mapper ready", "width", w, "height", h, "transform", gt.String())
	return geo.NewMapper(gt, w, h, proj), nil
}

// projectorFor picks the cheapest projector that matches the raster's
// spatial reference.
func projectorFor(wkt string) (geo.Projector, error) {
	if wkt == "" {
		return geo.Geographic{}, nil
	}
	sr := gdal.CreateSpatialReference(wkt)
	if sr.IsGeographic() {
		sr.Destroy()
		return geo.Geographic{}, nil
	}
	switch sridOf(sr) {
	case webMercatorSRID, googleMercatorSRID:
		sr.Destroy()
		return geo.WebMercator{}, nil
	}
	return newGdalProjector(sr)
}

func sridOf(sr gdal.SpatialReference) int {
	_ = sr.AutoIdentifyEPSG()
	raw, ok := sr.AttrValue("AUTHORITY", 1)
	if !ok {
		return 0
	}
	srid, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return srid
}

// gdalProjector handles any other CRS through OGR coordinate
// transformations. OGR transforms are not safe for concurrent use.
type gdalProjector struct {
	mu      sync.Mutex
	wgs84   gdal.SpatialReference
	target  gdal.SpatialReference
	forward gdal.CoordinateTransform
	inverse gdal.CoordinateTransform
}

func newGdalProjector(target gdal.SpatialReference) (*gdalProjector, error) {
	wgs84 := gdal.CreateSpatialReference("")
	if err := wgs84.FromEPSG(geographicSRID); err != nil {
		wgs84.Destroy()
		target.Destroy()
		return nil, fmt.Errorf("failed to build EPSG:%d: %w", geographicSRID, err)
	}
	// keep (lon, lat) order regardless of what the CRS authority says
	wgs84.SetAxisMappingStrategy(gdal.OAMS_TraditionalGisOrder)
	target.SetAxisMappingStrategy(gdal.OAMS_TraditionalGisOrder)
	return &gdalProjector{
		wgs84:   wgs84,
		target:  target,
		forward: gdal.CreateCoordinateTransform(wgs84, target),
		inverse: gdal.CreateCoordinateTransform(target, wgs84),
	}, nil
}

func (p *gdalProjector) Forward(lon, lat float64) (float64, float64, error) {
	return p.transform(p.forward, lon, lat)
}

// ClampToDomain keeps points on the WGS84 globe; anything a CRS still
// rejects after that is reported as out of domain by the mapper.
func (p *gdalProjector) ClampToDomain(lon, lat float64) (float64, float64) {
	return math.Max(-180, math.Min(180, lon)), math.Max(-90, math.Min(90, lat))
}

func (p *gdalProjector) Inverse(x, y float64) (float64, float64, error) {
	return p.transform(p.inverse, x, y)
}

func (p *gdalProjector) transform(ct gdal.CoordinateTransform, a, b float64) (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	xs, ys, zs := []float64{a}, []float64{b}, []float64{0}
	if !ct.Transform(1, xs, ys, zs) {
		return 0, 0, fmt.Errorf("%w: (%v, %v)", ErrTransform, a, b)
	}
	return xs[0], ys[0], nil
}

func (p *gdalProjector) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forward.Destroy()
	p.inverse.Destroy()
	p.wgs84.Destroy()
	p.target.Destroy()
	return nil
}

// TileSource keeps a raster open for tile serving on host:port. Tile
// rendering itself happens elsewhere; this type owns the handle, answers the
// liveness probe and tells clients where the tiles live.
type TileSource struct {
	mu         sync.Mutex
	path       string
	host       string
	port       int
	clientHost string
	ds         gdal.Dataset
	mapper     *geo.Mapper
	closed     bool
}

// OpenTileSource opens path and binds it to host:port. clientHost is the
// host browsers use to reach the tiles; empty means localhost.
func OpenTileSource(path, host string, port int, clientHost string) (*TileSource, error) {
	ds, err := gdal.Open(path, gdal.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, path, err)
	}
	mapper, err := mapperFor(ds)
	if err != nil {
		ds.Close()
		return nil, err
	}
	if clientHost == "" {
		clientHost = "localhost"
	}
	return &TileSource{
		path:       path,
		host:       host,
		port:       port,
		clientHost: clientHost,
		ds:         ds,
		mapper:     mapper,
	}, nil
}

// Center returns the lat/lon of the raster's middle. It re-reads the
// dataset so a handle whose file has gone away fails the probe.
func (s *TileSource) Center() (lat, lon float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, 0, ErrClosed
	}
	if _, err := os.Stat(s.path); err != nil {
		return 0, 0, fmt.Errorf("raster %s unavailable: %w", s.path, err)
	}
	if s.ds.RasterXSize() != s.mapper.Width || s.ds.RasterYSize() != s.mapper.Height {
		return 0, 0, fmt.Errorf("raster %s changed on disk", s.path)
	}
	lon, lat, err = s.mapper.Center()
	return lat, lon, err
}

// URL is the z/x/y template clients fetch tiles from
func (s *TileSource) URL() string {
	return fmt.Sprintf("http://%s:%d/tiles/{z}/{x}/{y}.png?filename=%s", s.clientHost, s.port, s.path)
}

// Addr is the listen address the tiles are bound to
func (s *TileSource) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

func (s *TileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ds.Close()
	return s.mapper.Close()
}
