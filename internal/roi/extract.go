// Package roi cuts regions drawn on a georeferenced raster out of the
// full-resolution bitmap behind it.
package roi

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/wanglab/roichat/internal/geo"
	"github.com/wanglab/roichat/internal/models"
)

var (
	ErrMissingSourceImage = errors.New("missing source image")
	ErrDecode             = errors.New("failed to decode source image")
)

const (
	filePrefix = "roi_"
	fileExt    = ".png"
)

// OpenMapperFunc opens the coordinate mapper of a raster file
type OpenMapperFunc func(path string) (*geo.Mapper, error)

// Request describes one extraction
type Request struct {
	Geometry   Geometry
	SourcePath string // georeferenced raster the polygons were drawn on
	OutputDir  string // distinct per (session, layer), created by the caller
	Layer      string
	CleanupOld bool
}

type Extractor struct {
	openMapper OpenMapperFunc
	resolver   SourceResolver
}

func NewExtractor(openMapper OpenMapperFunc, resolver SourceResolver) *Extractor {
	if resolver == nil {
		resolver = DirectoryResolver{}
	}
	return &Extractor{openMapper: openMapper, resolver: resolver}
}

// Extract saves one crop per polygon and returns them in submission order.
//
// An empty geometry clears every crop in OutputDir and never fails. Every
// polygon is mapped and the source bitmap decoded before anything on disk is
// touched, so a bad request leaves earlier crops in place. With CleanupOld
// the old crops are removed before the first new one is written.
func (e *Extractor) Extract(ctx context.Context, req Request) ([]models.ROI, error) {
	if len(req.Geometry) == 0 {
		removed, err := Clear(req.OutputDir)
		if err != nil {
			slog.Warn("Failed to clear ROIs", "dir", req.OutputDir, "err", err)
		}
		slog.Info("Cleared ROIs", "dir", req.OutputDir, "removed", removed)
		return []models.ROI{}, nil
	}

	layer := req.Layer
	if layer == "" {
		layer = DetectLayer(req.SourcePath)
	}

	mapper, err := e.openMapper(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster %s: %w", req.SourcePath, err)
	}
	defer mapper.Close()

	boxes := make([]image.Rectangle, len(req.Geometry))
	for i, poly := range req.Geometry {
		box, err := BoundingBox(mapper, poly)
		if err != nil {
			return nil, fmt.Errorf("polygon %d: %w", i, err)
		}
		boxes[i] = box
	}

	imagePath, err := e.resolver.SourceImage(req.SourcePath, layer)
	if err != nil {
		return nil, err
	}
	src, err := DecodeImage(imagePath)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.CleanupOld {
		if _, err := Clear(req.OutputDir); err != nil {
			slog.Warn("Failed to remove old ROIs", "dir", req.OutputDir, "err", err)
		}
	}

	rois := make([]models.ROI, 0, len(boxes))
	for i, box := range boxes {
		if err := ctx.Err(); err != nil {
			return rois, err
		}
		box = box.Intersect(src.Bounds())
		if box.Empty() {
			slog.Warn("ROI lies outside the source image, skipping", "index", i, "bounds", src.Bounds())
			continue
		}

		r := models.ROI{Index: i, X1: box.Min.X, Y1: box.Min.Y, X2: box.Max.X, Y2: box.Max.Y}
		r.Path = filepath.Join(req.OutputDir, FileName(r))
		if err := writePNG(r.Path, Crop(src, box)); err != nil {
			return rois, err
		}
		slog.Info("ROI saved", "index", i, "path", r.Path, "width", r.Width(), "height", r.Height())
		rois = append(rois, r)
	}
	return rois, nil
}

// BoundingBox maps every vertex of poly to pixel space and returns the
// enclosing rectangle with x=column and y=row, clamped to the raster.
// Vertices off the raster stretch the box to its edge. Vertices the raster's
// CRS cannot represent at all are left out, and a polygon made only of such
// vertices yields an empty box.
func BoundingBox(m *geo.Mapper, poly Polygon) (image.Rectangle, error) {
	if len(poly) == 0 {
		return image.Rectangle{}, fmt.Errorf("%w: empty polygon", geo.ErrInvalidCoordinate)
	}
	x1, y1 := math.MaxInt, math.MaxInt
	x2, y2 := math.MinInt, math.MinInt
	var mapped int
	for _, p := range poly {
		row, col, err := m.Index(p.Lon(), p.Lat())
		if errors.Is(err, geo.ErrOutOfDomain) {
			slog.Warn("Vertex outside the raster's projection, ignoring", "lon", p.Lon(), "lat", p.Lat())
			continue
		}
		if err != nil && !outOfBounds(err, row, col, m) {
			return image.Rectangle{}, err
		}
		x1, x2 = min(x1, col), max(x2, col)
		y1, y2 = min(y1, row), max(y2, row)
		mapped++
	}
	if mapped == 0 {
		return image.Rectangle{}, nil
	}
	x1, x2 = geo.Clamp(x1, m.Width), geo.Clamp(x2, m.Width)
	y1, y2 = geo.Clamp(y1, m.Height), geo.Clamp(y2, m.Height)
	return image.Rect(x1, y1, x2, y2), nil
}

// outOfBounds tells a point that merely lies off the raster (which we clamp)
// apart from one that could not be mapped at all.
func outOfBounds(err error, row, col int, m *geo.Mapper) bool {
	if !errors.Is(err, geo.ErrInvalidCoordinate) {
		return false
	}
	return row < 0 || col < 0 || row >= m.Height || col >= m.Width
}

// Crop returns the pixels of src inside box, re-based at the origin.
func Crop(src image.Image, box image.Rectangle) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Draw(dst, dst.Bounds(), src, box.Min, draw.Src)
	return dst
}

// FileName is roi_{index}_{x1}_{y1}_{x2}_{y2}.png
func FileName(r models.ROI) string {
	return fmt.Sprintf("%s%d_%d_%d_%d_%d%s", filePrefix, r.Index, r.X1, r.Y1, r.X2, r.Y2, fileExt)
}

// IsROIFile reports whether name looks like a crop written by Extract
func IsROIFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExt)
}

// Clear deletes every crop in dir and reports how many were removed. A
// missing directory counts as empty.
func Clear(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var removed int
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !IsROIFile(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		slog.Debug("Removed old ROI", "file", entry.Name())
		removed++
	}
	return removed, errors.Join(errs...)
}

// List returns the crops currently saved in dir
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && IsROIFile(entry.Name()) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths, nil
}

// DecodeImage reads any of the registered bitmap formats
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingSourceImage, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	slog.Debug("Decoded source image", "path", path, "format", format, "bounds", img.Bounds())
	return img, nil
}

func writePNG(path string, img image.Image) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}
	return nil
}

// Paths returns the file paths of rois, in order
func Paths(rois []models.ROI) []string {
	paths := make([]string, len(rois))
	for i, r := range rois {
		paths[i] = r.Path
	}
	return paths
}
