// Package slides resolves slide names to their raster files and to the
// full-resolution bitmaps ROIs are cropped from.
package slides

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wanglab/roichat/internal/roi"
)

// Default file layout of a slide folder under the data directory
const (
	BaseRasterName    = "raster_resized.tif"
	OverlayRasterName = "raster_resized_overlay.tif"
)

var (
	ErrUnknownSlide      = errors.New("unknown slide")
	ErrChecksumMismatch  = errors.New("source image checksum mismatch")
	ErrDuplicateSlide    = errors.New("duplicate slide name")
	ErrInvalidSlideEntry = errors.New("invalid slide entry")
)

// SourceImage is an explicit reference to the bitmap behind one layer
type SourceImage struct {
	Path   string `yaml:"path"`
	SHA256 string `yaml:"sha256,omitempty"`
}

// Slide is one entry of the manifest
type Slide struct {
	Name         string                 `yaml:"name" json:"name"`
	Dir          string                 `yaml:"dir,omitempty" json:"dir"`
	Base         string                 `yaml:"base" json:"base"`
	Overlay      string                 `yaml:"overlay,omitempty" json:"overlay,omitempty"`
	SourceImages map[string]SourceImage `yaml:"source_images,omitempty" json:"-"`
}

// Raster returns the georeferenced raster shown for layer
func (s *Slide) Raster(layer string) string {
	if layer == roi.LayerCellTypes && s.Overlay != "" {
		return s.Overlay
	}
	return s.Base
}

// Manifest is the YAML document listing known slides
type Manifest struct {
	Slides []Slide `yaml:"slides"`
}

// Catalog answers slide lookups from the manifest, falling back to the
// {dataDir}/{name}/raster_resized.tif layout for slides it does not list.
type Catalog struct {
	dataDir string
	slides  map[string]*Slide
	// explicit bitmaps keyed by raster path, then layer
	byRaster map[string]map[string]SourceImage
	fallback roi.SourceResolver
}

// Load reads the manifest at path. An empty path yields a catalog that only
// knows the default layout.
func Load(path, dataDir string) (*Catalog, error) {
	c := newCatalog(dataDir)
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read slide manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse slide manifest %s: %w", path, err)
	}

	manifestDir := filepath.Dir(path)
	for i := range m.Slides {
		if err := c.add(m.Slides[i], manifestDir); err != nil {
			return nil, err
		}
	}
	slog.Info("Loaded slide manifest", "path", path, "slides", len(c.slides))
	return c, nil
}

func newCatalog(dataDir string) *Catalog {
	return &Catalog{
		dataDir:  dataDir,
		slides:   make(map[string]*Slide),
		byRaster: make(map[string]map[string]SourceImage),
		fallback: roi.DirectoryResolver{},
	}
}

func (c *Catalog) add(s Slide, baseDir string) error {
	if s.Name == "" || s.Base == "" {
		return fmt.Errorf("%w: name and base are required", ErrInvalidSlideEntry)
	}
	if _, exists := c.slides[s.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSlide, s.Name)
	}

	s.Base = resolvePath(baseDir, s.Base)
	if s.Overlay != "" {
		s.Overlay = resolvePath(baseDir, s.Overlay)
	}
	if s.Dir == "" {
		s.Dir = filepath.Dir(s.Base)
	} else {
		s.Dir = resolvePath(baseDir, s.Dir)
	}

	images := make(map[string]SourceImage, len(s.SourceImages))
	for layer, ref := range s.SourceImages {
		if err := roi.ValidateLayer(layer); err != nil {
			return fmt.Errorf("%w: slide %s: %v", ErrInvalidSlideEntry, s.Name, err)
		}
		ref.Path = resolvePath(baseDir, ref.Path)
		ref.SHA256 = strings.ToLower(ref.SHA256)
		images[layer] = ref
		c.indexRaster(s.Raster(layer), layer, ref)
	}
	s.SourceImages = images

	c.slides[s.Name] = &s
	return nil
}

func (c *Catalog) indexRaster(raster, layer string, ref SourceImage) {
	byLayer, ok := c.byRaster[raster]
	if !ok {
		byLayer = make(map[string]SourceImage)
		c.byRaster[raster] = byLayer
	}
	byLayer[layer] = ref
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Resolve looks a slide up by manifest name, then by the default layout
// under the data directory, then as a direct path to a base raster lying
// under one of Roots.
func (c *Catalog) Resolve(name string) (*Slide, error) {
	if s, ok := c.slides[name]; ok {
		return s, nil
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownSlide)
	}

	if c.dataDir != "" && !strings.Contains(name, "..") && !filepath.IsAbs(name) {
		dir := filepath.Join(c.dataDir, name)
		base := filepath.Join(dir, BaseRasterName)
		if fileExists(base) {
			s := &Slide{Name: name, Dir: dir, Base: base}
			if overlay := filepath.Join(dir, OverlayRasterName); fileExists(overlay) {
				s.Overlay = overlay
			}
			return s, nil
		}
	}

	if filepath.IsAbs(name) && c.Within(name) && fileExists(name) {
		return &Slide{Name: filepath.Base(filepath.Dir(name)), Dir: filepath.Dir(name), Base: name}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSlide, name)
}

// SlideDir returns the folder a slide's crops live under without requiring
// its rasters to exist, so crops of a slide whose raster is gone can still
// be cleared.
func (c *Catalog) SlideDir(name string) (string, error) {
	if s, ok := c.slides[name]; ok {
		return s.Dir, nil
	}
	if name == "" || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %s", ErrUnknownSlide, name)
	}
	if filepath.IsAbs(name) {
		if !c.Within(name) {
			return "", fmt.Errorf("%w: %s", ErrUnknownSlide, name)
		}
		return filepath.Dir(name), nil
	}
	if c.dataDir == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownSlide, name)
	}
	return filepath.Join(c.dataDir, name), nil
}

// Roots lists the directories slides and their crops may live under: the
// data directory plus every manifest slide folder.
func (c *Catalog) Roots() []string {
	var roots []string
	if c.dataDir != "" {
		if abs, err := filepath.Abs(c.dataDir); err == nil {
			roots = append(roots, abs)
		}
	}
	for _, s := range c.Slides() {
		if abs, err := filepath.Abs(s.Dir); err == nil {
			roots = append(roots, abs)
		}
	}
	return roots
}

// Within reports whether path lies under one of Roots
func (c *Catalog) Within(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range c.Roots() {
		rel, err := filepath.Rel(root, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Slides returns the manifest entries sorted by name
func (c *Catalog) Slides() []*Slide {
	out := make([]*Slide, 0, len(c.slides))
	for _, s := range c.slides {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SourceImage implements roi.SourceResolver. An explicit manifest reference
// wins; it must exist and match its checksum when one is given. Otherwise
// the folder convention next to the raster applies.
func (c *Catalog) SourceImage(sourcePath, layer string) (string, error) {
	if ref, ok := c.byRaster[sourcePath][layer]; ok {
		if !fileExists(ref.Path) {
			return "", fmt.Errorf("%w: %s", roi.ErrMissingSourceImage, ref.Path)
		}
		if ref.SHA256 != "" {
			sum, err := FileSHA256(ref.Path)
			if err != nil {
				return "", fmt.Errorf("%w: %v", roi.ErrDecode, err)
			}
			if sum != ref.SHA256 {
				return "", fmt.Errorf("%w: %s", ErrChecksumMismatch, ref.Path)
			}
		}
		return ref.Path, nil
	}
	return c.fallback.SourceImage(sourcePath, layer)
}

// FileSHA256 returns the lowercase hex digest of the file at path
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || err != nil {
		return false
	}
	return !info.IsDir()
}
