// Package chat runs a conversation turn: it merges the new prompt and its
// ROI crops into the retained transcript, asks the model, and persists the
// result. A failed model call degrades to a deterministic offline reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/wanglab/roichat/internal/models"
	"github.com/wanglab/roichat/internal/providers"
	"github.com/wanglab/roichat/internal/sessions"
	"github.com/wanglab/roichat/internal/storage"
)

const (
	DefaultModel   = "qwen2.5vl:72b"
	DefaultTimeout = 120 * time.Second
	// prompt runes echoed back in the offline reply
	offlinePromptRunes = 50
)

var ErrInvalidImages = errors.New("images must be a string or a list of strings")

// Request is one user turn
type Request struct {
	Model     string
	Prompt    string
	Images    []string
	SessionID string
	Endpoint  string
}

type Service struct {
	store    *storage.SessionStore
	provider providers.Provider
	locks    *sessions.Locks
	timeout  time.Duration
}

// NewService wires the store and provider. locks may be shared with other
// components guarding the same sessions; nil allocates a private set.
func NewService(store *storage.SessionStore, provider providers.Provider, locks *sessions.Locks, timeout time.Duration) *Service {
	if locks == nil {
		locks = sessions.NewLocks()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{store: store, provider: provider, locks: locks, timeout: timeout}
}

// Converse appends the user turn and the reply to the session transcript and
// returns the reply. Only an invalid session id is an error; every model
// failure becomes an offline reply.
func (s *Service) Converse(ctx context.Context, req Request) (string, error) {
	sessionID := sessions.IDOrDefault(req.SessionID)
	if err := sessions.ValidateID(sessionID); err != nil {
		return "", err
	}
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	unlock := s.locks.Lock(sessions.ChatKey(sessionID))
	defer unlock()

	transcript := s.store.LoadRetained(sessionID)
	images := storage.ExistingFiles(req.Images)
	if dropped := len(req.Images) - len(images); dropped > 0 {
		slog.Warn("Dropping missing images", "session", sessionID, "dropped", dropped)
	}
	transcript = append(transcript, models.ChatTurn{Role: models.RoleUser, Content: req.Prompt, Images: images})

	slog.Info("Querying model", "model", model, "session", sessionID, "turns", len(transcript), "images", len(images))
	reply, err := s.ask(ctx, providers.Request{Model: model, Endpoint: req.Endpoint, Messages: transcript})
	if err != nil {
		slog.Warn("Model offline or unreachable, using offline reply", "model", model, "session", sessionID, "err", err)
		reply = OfflineReply(req.Prompt, images)
	}

	transcript = append(transcript, models.ChatTurn{Role: models.RoleAssistant, Content: reply})
	if err := s.store.Save(sessionID, transcript); err != nil {
		slog.Error("Failed to save history", "session", sessionID, "err", err)
	}
	return reply, nil
}

func (s *Service) ask(ctx context.Context, req providers.Request) (string, error) {
	if s.provider == nil {
		return "", providers.ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.provider.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", providers.ErrEmptyReply
	}
	return reply, nil
}

// History returns the retained transcript of a session
func (s *Service) History(sessionID string) (models.Transcript, error) {
	sessionID = sessions.IDOrDefault(sessionID)
	if err := sessions.ValidateID(sessionID); err != nil {
		return nil, err
	}
	return s.store.LoadRetained(sessionID), nil
}

// Reset forgets a session's conversation
func (s *Service) Reset(sessionID string) error {
	sessionID = sessions.IDOrDefault(sessionID)
	if err := sessions.ValidateID(sessionID); err != nil {
		return err
	}
	unlock := s.locks.Lock(sessions.ChatKey(sessionID))
	defer unlock()
	if err := s.store.Reset(sessionID); err != nil {
		return err
	}
	slog.Info("Cleared chat", "session", sessionID)
	return nil
}

// OfflineReply is the placeholder answer used when the model cannot be
// reached. It echoes the start of the prompt and names the attached images.
func OfflineReply(prompt string, images []string) string {
	runes := []rune(prompt)
	if len(runes) > offlinePromptRunes {
		runes = runes[:offlinePromptRunes]
	}

	info := " no images attached"
	if len(images) > 0 {
		names := make([]string, len(images))
		for i, p := range images {
			names[i] = filepath.Base(p)
		}
		info = "\n• " + strings.Join(names, "\n• ")
	}
	return fmt.Sprintf("(Offline mode) '%s...'\nImages:%s", string(runes), info)
}

// NormalizeImages accepts the loosely typed "images" field of a chat
// request: nil, a single path, or a list of paths.
func NormalizeImages(v any) ([]string, error) {
	switch images := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		if images == "" {
			return []string{}, nil
		}
		return []string{images}, nil
	case []string:
		return images, nil
	case []any:
		out := make([]string, 0, len(images))
		for _, item := range images {
			p, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: got %T in list", ErrInvalidImages, item)
			}
			out = append(out, p)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidImages, v)
	}
}
