package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/wanglab/roichat/internal/chat"
	"github.com/wanglab/roichat/internal/roi"
	"github.com/wanglab/roichat/internal/sessions"
)

// HandleNewSession issues a fresh session token
func (h *Handler) HandleNewSession(w http.ResponseWriter, r *http.Request) {
	id := sessions.NewID()
	slog.Info("Issued session", "session", id)
	h.writeJSON(w, map[string]string{"session_id": id})
}

type chatRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Images    any    `json:"images"`
	SessionID string `json:"session_id"`
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	sessionID, ok := h.sessionID(w, req.SessionID)
	if !ok {
		return
	}
	if !h.limiter.allow("chat", sessionID) {
		h.writeError(w, "Too many chat requests, slow down", http.StatusTooManyRequests)
		return
	}

	images, err := chat.NormalizeImages(req.Images)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	images = roiImages(images)

	model := req.Model
	if model == "" {
		model = h.defaultModel
	}
	slog.Info("Incoming chat", "model", model, "session", sessionID, "images", len(images))

	reply, err := h.chat.Converse(r.Context(), chat.Request{
		Model:     model,
		Prompt:    req.Prompt,
		Images:    images,
		SessionID: sessionID,
	})
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]string{"response": reply})
}

// roiImages keeps only attachments that are ROI crops, so a request cannot
// make the server upload arbitrary files to the model.
func roiImages(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !roi.IsROIFile(filepath.Base(p)) {
			slog.Warn("Ignoring non-ROI attachment", "path", p)
			continue
		}
		out = append(out, p)
	}
	return out
}

func (h *Handler) HandleResetChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	sessionID, ok := h.sessionID(w, req.SessionID)
	if !ok {
		return
	}
	if err := h.chat.Reset(sessionID); err != nil {
		if errors.Is(err, sessions.ErrInvalidID) {
			h.writeError(w, "Invalid session_id", http.StatusBadRequest)
			return
		}
		h.writeError(w, "Reset chat error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]string{"status": "cleared"})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r.URL.Query().Get("session_id"))
	if !ok {
		return
	}
	transcript, err := h.chat.History(sessionID)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, transcript)
}
