package roi

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanglab/roichat/internal/geo"
)

// pixel (col, row) sits at lon=col, lat=-row
var pixelAligned = geo.GeoTransform{0, 1, 0, 0, 0, -1}

type fixture struct {
	rasterPath string
	outputDir  string
	extractor  *Extractor
}

func newFixture(t *testing.T, width, height int) fixture {
	t.Helper()
	return newProjectedFixture(t, pixelAligned, width, height, nil)
}

func newProjectedFixture(t *testing.T, gt geo.GeoTransform, width, height int, p geo.Projector) fixture {
	t.Helper()
	slideDir := t.TempDir()
	rasterPath := filepath.Join(slideDir, "raster_resized.tif")
	require.NoError(t, os.WriteFile(rasterPath, []byte("raster"), 0644))

	realDir := filepath.Join(slideDir, "real_image", LayerBase)
	require.NoError(t, os.MkdirAll(realDir, 0755))
	writeTestPNG(t, filepath.Join(realDir, "slide.png"), width, height)

	outputDir := OutputDir(slideDir, LayerBase, "abc123")
	require.NoError(t, os.MkdirAll(outputDir, 0755))

	open := func(path string) (*geo.Mapper, error) {
		if path != rasterPath {
			return nil, errors.New("unexpected raster")
		}
		return geo.NewMapper(gt, width, height, p), nil
	}
	return fixture{
		rasterPath: rasterPath,
		outputDir:  outputDir,
		extractor:  NewExtractor(open, nil),
	}
}

func writeTestPNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// rect returns a closed ring covering pixel columns x1..x2 and rows y1..y2
func rect(x1, y1, x2, y2 float64) Polygon {
	return Polygon{
		{x1, -y1}, {x2, -y1}, {x2, -y2}, {x1, -y2}, {x1, -y1},
	}
}

func decodeSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestExtractBoundingBoxCrop(t *testing.T) {
	fx := newFixture(t, 120, 90)

	rois, err := fx.extractor.Extract(context.Background(), Request{
		Geometry:   Geometry{rect(10, 10, 50, 50)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
		Layer:      LayerBase,
		CleanupOld: true,
	})
	require.NoError(t, err)
	require.Len(t, rois, 1)

	r := rois[0]
	assert.Equal(t, filepath.Join(fx.outputDir, "roi_0_10_10_50_50.png"), r.Path)
	w, h := decodeSize(t, r.Path)
	assert.Equal(t, 40, w)
	assert.Equal(t, 40, h)
}

func TestExtractCropContent(t *testing.T) {
	fx := newFixture(t, 64, 64)

	rois, err := fx.extractor.Extract(context.Background(), Request{
		Geometry:   Geometry{rect(5, 7, 15, 20)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	require.NoError(t, err)
	require.Len(t, rois, 1)

	f, err := os.Open(rois[0].Path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)

	c := color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA)
	assert.Equal(t, uint8(5), c.R)
	assert.Equal(t, uint8(7), c.G)
}

func TestExtractNonRectangularPolygonUsesBoundingBox(t *testing.T) {
	fx := newFixture(t, 100, 100)
	triangle := Polygon{{20, -30}, {60, -10}, {35, -70}, {20, -30}}

	rois, err := fx.extractor.Extract(context.Background(), Request{
		Geometry:   Geometry{triangle},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	require.NoError(t, err)
	require.Len(t, rois, 1)
	assert.Equal(t, 40, rois[0].Width())
	assert.Equal(t, 60, rois[0].Height())
	w, h := decodeSize(t, rois[0].Path)
	assert.Equal(t, 40, w)
	assert.Equal(t, 60, h)
}

func TestExtractClampsToSourceBounds(t *testing.T) {
	fx := newFixture(t, 50, 40)

	rois, err := fx.extractor.Extract(context.Background(), Request{
		Geometry:   Geometry{rect(-10, -5, 70, 30)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	require.NoError(t, err)
	require.Len(t, rois, 1)

	r := rois[0]
	assert.Equal(t, 0, r.X1)
	assert.Equal(t, 0, r.Y1)
	assert.Equal(t, 50, r.X2)
	assert.Equal(t, 30, r.Y2)
	w, h := decodeSize(t, r.Path)
	assert.Equal(t, 50, w)
	assert.Equal(t, 30, h)
}

func TestExtractClampsPastProjectionDomain(t *testing.T) {
	// 1 m pixels from the 3857 origin: pixel (col, row) sits at x=col, y=-row
	fx := newProjectedFixture(t, geo.GeoTransform{0, 1, 0, 0, 0, -1}, 64, 64, geo.WebMercator{})
	vertex := func(x, y float64) orb.Point {
		lon, lat := geo.Convert3857To4326(x, y)
		return orb.Point{lon, lat}
	}
	lon, _ := geo.Convert3857To4326(20.5, 0)
	poly := Polygon{
		vertex(10.5, -10.5), vertex(30.5, -10.5), vertex(30.5, -30.5), vertex(10.5, -30.5),
		{lon, 90}, {lon, 90},
		vertex(10.5, -10.5),
	}

	rois, err := fx.extractor.Extract(context.Background(), Request{
		Geometry:   Geometry{poly},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	require.NoError(t, err)
	require.Len(t, rois, 1)
	r := rois[0]
	assert.Equal(t, image.Rect(10, 0, 30, 30), image.Rect(r.X1, r.Y1, r.X2, r.Y2))
	assert.FileExists(t, r.Path)
}

func TestBoundingBoxIgnoresUnprojectableVertices(t *testing.T) {
	m := geo.NewMapper(pixelAligned, 50, 50, rejectFarEast{})

	box, err := BoundingBox(m, Polygon{{5, -5}, {15, -5}, {170, -40}, {15, -15}, {5, -5}})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(5, 5, 15, 15), box)

	box, err = BoundingBox(m, Polygon{{170, -5}, {175, -15}})
	require.NoError(t, err)
	assert.True(t, box.Empty())
}

// rejectFarEast fails like a CRS transform would for points off its zone
type rejectFarEast struct{ geo.Geographic }

func (rejectFarEast) Forward(lon, lat float64) (float64, float64, error) {
	if lon > 100 {
		return 0, 0, errors.New("point outside zone")
	}
	return lon, lat, nil
}

func TestExtractSkipsPolygonOutsideRaster(t *testing.T) {
	fx := newFixture(t, 50, 50)

	rois, err := fx.extractor.Extract(context.Background(), Request{
		Geometry:   Geometry{rect(100, 100, 120, 120), rect(1, 1, 11, 11)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	require.NoError(t, err)
	require.Len(t, rois, 1)
	assert.Equal(t, 1, rois[0].Index)
	assert.Equal(t, "roi_1_1_1_11_11.png", filepath.Base(rois[0].Path))
}

func TestExtractClearIsIdempotent(t *testing.T) {
	fx := newFixture(t, 50, 50)

	for i := 0; i < 2; i++ {
		rois, err := fx.extractor.Extract(context.Background(), Request{
			Geometry:   Geometry{},
			SourcePath: fx.rasterPath,
			OutputDir:  fx.outputDir,
			CleanupOld: true,
		})
		require.NoError(t, err)
		assert.Empty(t, rois)

		entries, err := os.ReadDir(fx.outputDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestExtractClearRemovesOnlyCrops(t *testing.T) {
	fx := newFixture(t, 50, 50)
	_, err := fx.extractor.Extract(context.Background(), Request{
		Geometry:   Geometry{rect(1, 1, 11, 11), rect(2, 2, 12, 12)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	require.NoError(t, err)
	keep := filepath.Join(fx.outputDir, "notes.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0644))

	rois, err := fx.extractor.Extract(context.Background(), Request{OutputDir: fx.outputDir})
	require.NoError(t, err)
	assert.Empty(t, rois)

	left, err := List(fx.outputDir)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.FileExists(t, keep)
}

func TestExtractClearMissingDirectory(t *testing.T) {
	e := NewExtractor(nil, nil)
	rois, err := e.Extract(context.Background(), Request{OutputDir: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	assert.Empty(t, rois)
}

func TestExtractCleanupBeforeWrite(t *testing.T) {
	fx := newFixture(t, 100, 100)
	ctx := context.Background()

	_, err := fx.extractor.Extract(ctx, Request{
		Geometry:   Geometry{rect(1, 1, 10, 10), rect(20, 20, 30, 30), rect(40, 40, 50, 50)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
		CleanupOld: true,
	})
	require.NoError(t, err)

	rois, err := fx.extractor.Extract(ctx, Request{
		Geometry:   Geometry{rect(5, 5, 25, 25), rect(60, 60, 90, 80)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
		CleanupOld: true,
	})
	require.NoError(t, err)
	require.Len(t, rois, 2)

	files, err := List(fx.outputDir)
	require.NoError(t, err)
	assert.ElementsMatch(t, Paths(rois), files)
}

func TestExtractWithoutCleanupKeepsOldCrops(t *testing.T) {
	fx := newFixture(t, 100, 100)
	ctx := context.Background()

	_, err := fx.extractor.Extract(ctx, Request{
		Geometry:   Geometry{rect(1, 1, 10, 10)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	require.NoError(t, err)
	_, err = fx.extractor.Extract(ctx, Request{
		Geometry:   Geometry{rect(20, 20, 30, 30)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	require.NoError(t, err)

	files, err := List(fx.outputDir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestExtractMissingSourceImage(t *testing.T) {
	fx := newFixture(t, 50, 50)
	require.NoError(t, os.RemoveAll(filepath.Join(filepath.Dir(fx.rasterPath), "real_image")))

	_, err := fx.extractor.Extract(context.Background(), Request{
		Geometry:   Geometry{rect(1, 1, 10, 10)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	assert.ErrorIs(t, err, ErrMissingSourceImage)
}

func TestExtractDecodeErrorLeavesOldCrops(t *testing.T) {
	fx := newFixture(t, 50, 50)
	ctx := context.Background()

	_, err := fx.extractor.Extract(ctx, Request{
		Geometry:   Geometry{rect(1, 1, 10, 10)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	require.NoError(t, err)

	bitmap := filepath.Join(filepath.Dir(fx.rasterPath), "real_image", LayerBase, "slide.png")
	require.NoError(t, os.WriteFile(bitmap, []byte("not an image"), 0644))

	_, err = fx.extractor.Extract(ctx, Request{
		Geometry:   Geometry{rect(1, 1, 10, 10)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
		CleanupOld: true,
	})
	assert.ErrorIs(t, err, ErrDecode)

	files, err := List(fx.outputDir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestExtractUnmappablePolygon(t *testing.T) {
	fx := newFixture(t, 50, 50)
	poly := Polygon{orb.Point{1, -1}, orb.Point{math.NaN(), -5}}

	_, err := fx.extractor.Extract(context.Background(), Request{
		Geometry:   Geometry{poly},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
}

func TestExtractCancelled(t *testing.T) {
	fx := newFixture(t, 50, 50)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.extractor.Extract(ctx, Request{
		Geometry:   Geometry{rect(1, 1, 10, 10)},
		SourcePath: fx.rasterPath,
		OutputDir:  fx.outputDir,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileNameAndIsROIFile(t *testing.T) {
	assert.True(t, IsROIFile("roi_3_1_2_3_4.png"))
	assert.False(t, IsROIFile("roi_3_1_2_3_4.png.tmp"))
	assert.False(t, IsROIFile("slide.png"))
}

func TestDetectLayer(t *testing.T) {
	assert.Equal(t, LayerCellTypes, DetectLayer("/data/s1/raster_resized_overlay.tif"))
	assert.Equal(t, LayerBase, DetectLayer("/data/s1/raster_resized.tif"))
	assert.NoError(t, ValidateLayer(LayerBase))
	assert.Error(t, ValidateLayer("base layer"))
}
