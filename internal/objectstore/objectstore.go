// Package objectstore uploads binary objects and returns a download URL.
package objectstore

//go:generate mockgen -source=objectstore.go -destination=mock/store.go -package=mock

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

type Store interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)
}

// CleanPath rejects absolute or escaping object paths.
func CleanPath(objectPath string) (string, error) {
	p := path.Clean(strings.TrimSpace(objectPath))
	if p == "." || p == "" || strings.HasPrefix(p, "/") || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%w: invalid object path %q", apperrors.ErrValidation, objectPath)
	}
	return p, nil
}

// LocalStore writes objects under a directory that the gateway serves
// statically at BaseURL.
type LocalStore struct {
	dir     string
	baseURL string
	log     logger.Logger
}

func NewLocalStore(dir, baseURL string, log logger.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), log: log}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Upload(ctx context.Context, objectPath string, data []byte, _ string) (string, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrUnreachable, err)
	}

	full := filepath.Join(s.dir, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		s.log.Error("Failed to create object dir", "error", err, "path", p)
		return "", fmt.Errorf("create object dir: %w", err)
	}

	// Write to a temp file first so readers never see a partial object.
	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Error("Failed to write object", "error", err, "path", p)
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("store object: %w", err)
	}

	s.log.Debug("Object stored", "path", p, "size", len(data))
	return s.baseURL + "/" + p, nil
}
