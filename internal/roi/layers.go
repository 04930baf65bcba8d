package roi

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Layer types a ROI can be drawn on
const (
	LayerBase      = "base"
	LayerCellTypes = "cell_types"
)

// folder names used by older slide exports, tried after the layer id
var legacyLayerDirs = map[string]string{
	LayerBase:      "base layer",
	LayerCellTypes: "cell types",
}

// DetectLayer infers the layer from a raster file name: overlay rasters
// carry the cell-type masks.
func DetectLayer(sourcePath string) string {
	if strings.Contains(strings.ToLower(filepath.Base(sourcePath)), "overlay") {
		return LayerCellTypes
	}
	return LayerBase
}

// ValidateLayer rejects anything but the known layer ids
func ValidateLayer(layer string) error {
	switch layer {
	case LayerBase, LayerCellTypes:
		return nil
	default:
		return fmt.Errorf("unknown layer type %q", layer)
	}
}

// OutputDir is where crops for one (session, layer) pair live, next to
// the slide they were cut from.
func OutputDir(slideDir, layer, sessionID string) string {
	return filepath.Join(slideDir, "roi", layer, sessionID)
}
