package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/wanglab/roichat/internal/chat"
	"github.com/wanglab/roichat/internal/roi"
	"github.com/wanglab/roichat/internal/sessions"
	"github.com/wanglab/roichat/internal/slides"
	"github.com/wanglab/roichat/internal/tiles"
)

// cap on JSON request bodies; GeoJSON of hand-drawn shapes stays far below
const maxBodyBytes = 8 << 20

type Options struct {
	Catalog   *slides.Catalog
	Extractor *roi.Extractor
	Chat      *chat.Service
	Locks     *sessions.Locks
	Tiles     *tiles.Registry

	DefaultModel string
	TileHost     string
	TilePort     int
	StaticDir    string
	// Roots /preview may serve from; empty allows any path
	PreviewRoots       []string
	RateLimitPerMinute int
}

type Handler struct {
	catalog      *slides.Catalog
	extractor    *roi.Extractor
	chat         *chat.Service
	locks        *sessions.Locks
	tiles        *tiles.Registry
	limiter      *rateLimiter
	defaultModel string
	tileHost     string
	tilePort     int
	staticDir    string
	previewRoots []string
}

func New(opts Options) *Handler {
	locks := opts.Locks
	if locks == nil {
		locks = sessions.NewLocks()
	}
	roots := make([]string, 0, len(opts.PreviewRoots))
	for _, r := range opts.PreviewRoots {
		if abs, err := filepath.Abs(r); err == nil {
			roots = append(roots, abs)
		}
	}
	return &Handler{
		catalog:      opts.Catalog,
		extractor:    opts.Extractor,
		chat:         opts.Chat,
		locks:        locks,
		tiles:        opts.Tiles,
		limiter:      newRateLimiter(opts.RateLimitPerMinute),
		defaultModel: opts.DefaultModel,
		tileHost:     opts.TileHost,
		tilePort:     opts.TilePort,
		staticDir:    opts.StaticDir,
		previewRoots: roots,
	}
}

// Routes registers every endpoint and wraps them in the shared middleware.
// ctx bounds background housekeeping.
func (h *Handler) Routes(ctx context.Context) http.Handler {
	h.limiter.startCleanup(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", h.HandleNewSession)
	mux.HandleFunc("POST /api/roi", h.HandleROI)
	mux.HandleFunc("POST /api/chat", h.HandleChat)
	mux.HandleFunc("POST /api/reset_chat", h.HandleResetChat)
	mux.HandleFunc("GET /api/history", h.HandleHistory)
	mux.HandleFunc("GET /api/slides", h.HandleSlides)
	mux.HandleFunc("GET /api/slides/{name}/layers", h.HandleLayers)
	mux.HandleFunc("GET /preview", h.HandlePreview)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	mux.HandleFunc("/", h.HandleStatic)

	return recoverer(accessLog(mux))
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	h.writeJSONStatus(w, http.StatusOK, data)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message)
	} else {
		slog.Warn(message)
	}
	h.writeJSONStatus(w, code, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// sessionID resolves the caller's token, answering 400 itself when invalid
func (h *Handler) sessionID(w http.ResponseWriter, raw string) (string, bool) {
	id := sessions.IDOrDefault(raw)
	if err := sessions.ValidateID(id); err != nil {
		h.writeError(w, "Invalid session_id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

// withinRoots reports whether path lies under one of roots
func withinRoots(path string, roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range roots {
		rel, err := filepath.Rel(root, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
