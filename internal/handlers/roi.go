package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/wanglab/roichat/internal/geo"
	"github.com/wanglab/roichat/internal/roi"
	"github.com/wanglab/roichat/internal/sessions"
	"github.com/wanglab/roichat/internal/slides"
)

type roiRequest struct {
	GeoJSON   json.RawMessage `json:"geojson"`
	File      string          `json:"file"`
	Layer     string          `json:"layer"`
	SessionID string          `json:"session_id"`
}

type roiResponse struct {
	Paths  []string `json:"paths"`
	Status string   `json:"status"`
}

// HandleROI replaces the caller's crops for one slide layer with crops of
// the submitted shapes. A null or empty FeatureCollection clears them.
func (h *Handler) HandleROI(w http.ResponseWriter, r *http.Request) {
	var req roiRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeROIStatus(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	sessionID := sessions.IDOrDefault(req.SessionID)
	if err := sessions.ValidateID(sessionID); err != nil {
		h.writeROIStatus(w, http.StatusBadRequest, "Invalid session_id")
		return
	}
	if !h.limiter.allow("roi", sessionID) {
		h.writeROIStatus(w, http.StatusTooManyRequests, "Too many ROI requests, slow down")
		return
	}
	if req.File == "" {
		h.writeROIStatus(w, http.StatusBadRequest, "No file path found")
		return
	}

	layer := req.Layer
	if layer == "" {
		layer = roi.DetectLayer(req.File)
	}
	if err := roi.ValidateLayer(layer); err != nil {
		h.writeROIStatus(w, http.StatusBadRequest, err.Error())
		return
	}

	geometry, err := roi.ParseGeoJSON(req.GeoJSON)
	if err != nil {
		h.writeROIStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(geometry) == 0 {
		h.clearROIs(w, r, req.File, layer, sessionID)
		return
	}

	slide, err := h.catalog.Resolve(req.File)
	if err != nil {
		h.writeROIStatus(w, http.StatusNotFound, err.Error())
		return
	}

	outputDir := roi.OutputDir(slide.Dir, layer, sessionID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		h.writeROIStatus(w, http.StatusInternalServerError, "Failed to create ROI directory")
		return
	}

	unlock := h.locks.Lock(sessions.ROIKey(sessionID, layer))
	defer unlock()

	rois, err := h.extractor.Extract(r.Context(), roi.Request{
		Geometry:   geometry,
		SourcePath: slide.Raster(layer),
		OutputDir:  outputDir,
		Layer:      layer,
		CleanupOld: true,
	})
	if err != nil {
		slog.Error("ROI extraction failed", "session", sessionID, "slide", slide.Name, "layer", layer, "err", err)
		h.writeROIStatus(w, roiErrorStatus(err), err.Error())
		return
	}

	paths := roi.Paths(rois)
	status := fmt.Sprintf("%d ROI(s) saved (session %s).", len(paths), sessionID)
	slog.Info("ROI request done", "session", sessionID, "slide", slide.Name, "layer", layer, "saved", len(paths))
	h.writeJSON(w, roiResponse{Paths: paths, Status: status})
}

// clearROIs removes the session's crops for one layer. Only the slide's
// folder is needed, so a slide whose raster is gone can still be cleared.
func (h *Handler) clearROIs(w http.ResponseWriter, r *http.Request, file, layer, sessionID string) {
	dir, err := h.catalog.SlideDir(file)
	if err != nil {
		h.writeROIStatus(w, http.StatusNotFound, err.Error())
		return
	}

	unlock := h.locks.Lock(sessions.ROIKey(sessionID, layer))
	defer unlock()

	if _, err := h.extractor.Extract(r.Context(), roi.Request{
		OutputDir: roi.OutputDir(dir, layer, sessionID),
		Layer:     layer,
	}); err != nil {
		h.writeROIStatus(w, roiErrorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, roiResponse{Paths: []string{}, Status: fmt.Sprintf("Cleared ROIs for session %s", sessionID)})
}

func (h *Handler) writeROIStatus(w http.ResponseWriter, code int, status string) {
	slog.Warn("ROI request rejected", "code", code, "status", status)
	h.writeJSONStatus(w, code, roiResponse{Paths: []string{}, Status: status})
}

func roiErrorStatus(err error) int {
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, roi.ErrMissingSourceImage):
		return http.StatusNotFound
	case errors.Is(err, slides.ErrChecksumMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
