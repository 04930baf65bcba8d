package roi

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceResolver locates the full-resolution bitmap a raster was derived
// from.
type SourceResolver interface {
	SourceImage(sourcePath, layer string) (string, error)
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".tif": true, ".tiff": true, ".bmp": true, ".webp": true,
}

// DirectoryResolver finds the bitmap by folder convention next to the
// raster: real_image/{layer}, then the legacy layer folder name, then a
// shared real_image folder. Files are taken in name order so the choice does
// not depend on the filesystem.
type DirectoryResolver struct{}

func (DirectoryResolver) SourceImage(sourcePath, layer string) (string, error) {
	root := filepath.Join(filepath.Dir(sourcePath), "real_image")
	candidates := []string{filepath.Join(root, layer)}
	if legacy, ok := legacyLayerDirs[layer]; ok {
		candidates = append(candidates, filepath.Join(root, legacy))
	}
	candidates = append(candidates, root)

	for _, dir := range candidates {
		path, err := firstImage(dir)
		if err != nil {
			return "", err
		}
		if path != "" {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no bitmap under %s", ErrMissingSourceImage, root)
}

func firstImage(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}
