package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/wanglab/roichat/internal/slides"
)

type layerInfo struct {
	Name    string     `json:"name"`
	Center  [2]float64 `json:"center"` // lat, lon
	Base    string     `json:"base"`
	Overlay string     `json:"overlay,omitempty"`
}

func (h *Handler) HandleSlides(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.catalog.Slides())
}

// HandleLayers makes sure tile sources for a slide are open and tells the
// viewer where to fetch them. The overlay is served one port below the base.
func (h *Handler) HandleLayers(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	slide, err := h.catalog.Resolve(name)
	if err != nil {
		if errors.Is(err, slides.ErrUnknownSlide) {
			h.writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	base, err := h.tiles.GetOrCreate(slide.Base, h.tileHost, h.tilePort)
	if err != nil {
		h.writeError(w, "Failed to load image: "+err.Error(), http.StatusInternalServerError)
		return
	}
	lat, lon, err := base.Center()
	if err != nil {
		h.writeError(w, "Failed to load image: "+err.Error(), http.StatusInternalServerError)
		return
	}
	info := layerInfo{Name: slide.Name, Center: [2]float64{lat, lon}, Base: base.URL()}

	if slide.Overlay != "" {
		overlay, err := h.tiles.GetOrCreate(slide.Overlay, h.tileHost, h.tilePort-1)
		if err != nil {
			slog.Warn("Overlay unavailable", "slide", slide.Name, "err", err)
		} else {
			info.Overlay = overlay.URL()
		}
	}
	h.writeJSON(w, info)
}
