// Package tiles keeps one open tile source per raster file.
package tiles

import (
	"fmt"
	"log/slog"
	"sync"
)

// Source is an open tile source for one raster
type Source interface {
	// Center doubles as the liveness probe: it fails once the source is unusable.
	Center() (lat, lon float64, err error)
	URL() string
	Close() error
}

// Opener opens a tile source for path bound to host:port
type Opener func(path, host string, port int) (Source, error)

// Registry caches tile sources by raster path. It is built once at startup
// and shared by every request handler.
type Registry struct {
	mu      sync.Mutex
	open    Opener
	sources map[string]Source
}

func NewRegistry(open Opener) *Registry {
	return &Registry{
		open:    open,
		sources: make(map[string]Source),
	}
}

// GetOrCreate returns the cached source for path when it still answers its
// liveness probe, and opens a new one otherwise. The lock is held across
// probe and open so there is never more than one source per path.
func (r *Registry) GetOrCreate(path, host string, port int) (Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if src, ok := r.sources[path]; ok {
		_, _, err := src.Center()
		if err == nil {
			slog.Debug("Reusing tile source", "path", path)
			return src, nil
		}
		slog.Warn("Cached tile source invalid, recreating", "path", path, "err", err)
		delete(r.sources, path)
		if err := src.Close(); err != nil {
			slog.Debug("Closing stale tile source failed", "path", path, "err", err)
		}
	}

	src, err := r.open(path, host, port)
	if err != nil {
		return nil, fmt.Errorf("failed to open tile source for %s: %w", path, err)
	}
	r.sources[path] = src
	slog.Info("New tile source created", "path", path, "url", src.URL())
	return src, nil
}

// Len reports the number of cached sources
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// Close releases every cached source
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for path, src := range r.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.sources, path)
	}
	return firstErr
}
