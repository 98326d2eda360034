// Package modelstore manages local LLM model files: checksum-verified
// downloads and a container that coalesces concurrent loads of the same
// model name.
package modelstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Model is one loaded model entry.
type Model struct {
	Name string
	Path string
}

// Store coalesces loads: at most one load per model name is in flight, and
// concurrent callers join the running load instead of starting another.
type Store struct {
	dir    string
	logger *slog.Logger

	group  singleflight.Group
	mu     sync.Mutex
	loaded map[string]*Model
}

func New(dir string, logger *slog.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger.With(slog.String("component", "model-store")),
		loaded: make(map[string]*Model),
	}
}

// Loaded returns the names of the models currently resident.
func (s *Store) Loaded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.loaded))
	for name := range s.loaded {
		names = append(names, name)
	}
	return names
}

// Load resolves a model by name, fetching it with fetch on first use.
// Concurrent calls for the same name share one fetch.
func (s *Store) Load(ctx context.Context, name string, fetch func(ctx context.Context) (string, error)) (*Model, error) {
	s.mu.Lock()
	if m, ok := s.loaded[name]; ok {
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()

	v, err, shared := s.group.Do(name, func() (any, error) {
		path, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		m := &Model{Name: name, Path: path}
		s.mu.Lock()
		s.loaded[name] = m
		s.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("joined in-flight model load", slog.String("model", name))
	}
	return v.(*Model), nil
}

// Unload drops a model from the container.
func (s *Store) Unload(name string) {
	s.mu.Lock()
	delete(s.loaded, name)
	s.mu.Unlock()
}

// Download fetches url into the store directory, verifying the sha256 hex
// checksum when given. The partial file is removed when the download fails
// or the context is canceled, so no residue survives an abort.
func (s *Store) Download(ctx context.Context, url, filename, sha256hex string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	dest := filepath.Join(s.dir, filename)

	if sha256hex != "" {
		if ok, err := existingMatches(dest, sha256hex); err != nil {
			return "", err
		} else if ok {
			s.logger.Info("model already present", slog.String("file", filename))
			return dest, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %s", url, resp.Status)
	}

	tmp := dest + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create partial file: %w", err)
	}

	hash := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(f, hash), resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		if copyErr != nil {
			return "", fmt.Errorf("download %s: %w", filename, copyErr)
		}
		return "", closeErr
	}

	actual := hex.EncodeToString(hash.Sum(nil))
	if sha256hex != "" && !strings.EqualFold(actual, sha256hex) {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("checksum mismatch for %s: expected %s got %s", filename, sha256hex, actual)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	s.logger.Info("model downloaded", slog.String("file", filename), slog.String("sha256", actual))
	return dest, nil
}

func existingMatches(path, expected string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return false, err
	}
	return strings.EqualFold(hex.EncodeToString(hash.Sum(nil)), expected), nil
}
