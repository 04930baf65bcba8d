package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wanglab/roichat/internal/raster"
	"github.com/wanglab/roichat/internal/roi"
	"github.com/wanglab/roichat/internal/sessions"
	"github.com/wanglab/roichat/internal/slides"
)

func newROICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roi",
		Short: "Work with region-of-interest crops",
	}
	cmd.AddCommand(newROIExtractCmd())
	return cmd
}

func newROIExtractCmd() *cobra.Command {
	var file string
	var geojsonPath string
	var layer string
	var sessionID string
	var keepOld bool

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Crop the regions in a GeoJSON file out of a slide",
		Long: `Reads polygons from a GeoJSON file, maps them onto the slide's raster and
writes one PNG crop per polygon under {slide}/roi/{layer}/{session}.

An empty FeatureCollection clears the session's crops for that layer.`,
		Example: `  # Crop the shapes drawn in shapes.geojson from sample1
  roichat roi extract --file sample1 --geojson shapes.geojson

  # Crop from the cell-type overlay into a named session
  roichat roi extract --file sample1 --geojson shapes.geojson --layer cell_types --session abc123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sessionID = sessions.IDOrDefault(sessionID)
			if err := sessions.ValidateID(sessionID); err != nil {
				return err
			}

			catalog, err := slides.Load(cfg.SlideManifest, cfg.DataDir)
			if err != nil {
				return err
			}
			if layer == "" {
				layer = roi.DetectLayer(file)
			}
			if err := roi.ValidateLayer(layer); err != nil {
				return err
			}

			data, err := os.ReadFile(geojsonPath)
			if err != nil {
				return fmt.Errorf("failed to read geojson: %w", err)
			}
			geometry, err := roi.ParseGeoJSON(data)
			if err != nil {
				return err
			}
			extractor := roi.NewExtractor(raster.OpenMapper, catalog)

			if len(geometry) == 0 {
				dir, err := catalog.SlideDir(file)
				if err != nil {
					return err
				}
				if _, err := extractor.Extract(cmd.Context(), roi.Request{OutputDir: roi.OutputDir(dir, layer, sessionID), Layer: layer}); err != nil {
					return err
				}
				fmt.Printf("Cleared ROIs for session %s\n", sessionID)
				return nil
			}

			slide, err := catalog.Resolve(file)
			if err != nil {
				return err
			}
			outputDir := roi.OutputDir(slide.Dir, layer, sessionID)
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create ROI directory: %w", err)
			}

			rois, err := extractor.Extract(cmd.Context(), roi.Request{
				Geometry:   geometry,
				SourcePath: slide.Raster(layer),
				OutputDir:  outputDir,
				Layer:      layer,
				CleanupOld: !keepOld,
			})
			if err != nil {
				return err
			}

			for _, r := range rois {
				fmt.Printf("%s\t%dx%d\n", r.Path, r.Width(), r.Height())
			}
			fmt.Printf("%d ROI(s) saved (session %s).\n", len(rois), sessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Slide name or path to its base raster (required)")
	cmd.Flags().StringVar(&geojsonPath, "geojson", "", "GeoJSON file with the drawn shapes (required)")
	cmd.Flags().StringVar(&layer, "layer", "", "Layer to crop from: base or cell_types (default: detected from the file name)")
	cmd.Flags().StringVar(&sessionID, "session", sessions.DefaultID, "Session the crops belong to")
	cmd.Flags().BoolVar(&keepOld, "keep-old", false, "Keep crops from earlier runs")

	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("geojson")

	return cmd
}
