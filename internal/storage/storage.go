package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wanglab/roichat/internal/models"
	"github.com/wanglab/roichat/internal/sessions"
)

// MaxTranscriptSizeBytes caps a single transcript record. Larger files are
// treated as corrupt.
const MaxTranscriptSizeBytes = 10 * 1024 * 1024

const recordExt = ".json"

// SessionStore persists one chat transcript per session as
// {dir}/{session_id}.json
type SessionStore struct {
	dir string
}

func New(dir string) *SessionStore {
	return &SessionStore{dir: dir}
}

// Dir returns the directory holding transcript records
func (s *SessionStore) Dir() string {
	return s.dir
}

func (s *SessionStore) path(sessionID string) (string, error) {
	if err := sessions.ValidateID(sessionID); err != nil {
		return "", fmt.Errorf("%w: %q", err, sessionID)
	}
	return filepath.Join(s.dir, sessionID+recordExt), nil
}

// Load returns the persisted transcript for sessionID. A missing record yields
// an empty transcript, and so does a corrupt one, after logging the failure.
func (s *SessionStore) Load(sessionID string) models.Transcript {
	path, err := s.path(sessionID)
	if err != nil {
		slog.Warn("Refusing to load history", "session_id", sessionID, "err", err)
		return models.Transcript{}
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.Transcript{}
	}
	if err != nil {
		slog.Warn("Failed to stat history", "session_id", sessionID, "err", err)
		return models.Transcript{}
	}
	if info.Size() > MaxTranscriptSizeBytes {
		slog.Warn("History exceeds size limit, starting fresh", "session_id", sessionID, "size", info.Size())
		return models.Transcript{}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read history", "session_id", sessionID, "err", err)
		return models.Transcript{}
	}

	var transcript models.Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		slog.Warn("Failed to load history", "session_id", sessionID, "err", err)
		return models.Transcript{}
	}
	if transcript == nil {
		transcript = models.Transcript{}
	}
	return transcript
}

// LoadRetained is Load followed by ApplyRetentionPolicy
func (s *SessionStore) LoadRetained(sessionID string) models.Transcript {
	return ApplyRetentionPolicy(s.Load(sessionID))
}

// Save overwrites the record for sessionID. The write goes to a temp file
// first and is renamed into place.
func (s *SessionStore) Save(sessionID string, transcript models.Transcript) error {
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if transcript == nil {
		transcript = models.Transcript{}
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	data, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if len(data) > MaxTranscriptSizeBytes {
		return fmt.Errorf("history size %d bytes exceeds maximum %d bytes", len(data), MaxTranscriptSizeBytes)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

// Reset deletes the record for sessionID. Deleting a missing record is not
// an error.
func (s *SessionStore) Reset(sessionID string) error {
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}

// List returns the ids of every session with a persisted record, sorted.
func (s *SessionStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list history directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), recordExt)
		if sessions.ValidateID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ApplyRetentionPolicy strips image attachments from every turn except the
// last one, and drops paths of the last turn that no longer exist on disk.
// The input is not modified.
func ApplyRetentionPolicy(transcript models.Transcript) models.Transcript {
	out := transcript.Clone()
	last := len(out) - 1
	for i := range out {
		if out[i].Images == nil {
			continue
		}
		if i < last {
			slog.Debug("Removed images from older message", "index", i)
			out[i].Images = nil
			continue
		}
		valid := ExistingFiles(out[i].Images)
		if len(valid) != len(out[i].Images) {
			slog.Debug("Dropped missing attachments from last message", "before", len(out[i].Images), "after", len(valid))
		}
		out[i].Images = valid
	}
	return out
}

// ExistingFiles returns the paths that currently exist, preserving order.
func ExistingFiles(paths []string) []string {
	valid := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			valid = append(valid, p)
		}
	}
	return valid
}
