// Package blob stores character images on the local filesystem and hands
// out URLs under a public base URL.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for paths that escape the storage root or
// URLs that do not belong to this store
var ErrInvalidPath = errors.New("invalid blob path")

// FileStore writes blobs below a root directory
type FileStore struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewFileStore creates the root directory if needed
func NewFileStore(root, baseURL string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &FileStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}, nil
}

// Put writes data at blobPath and returns its public URL
func (s *FileStore) Put(ctx context.Context, blobPath, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full, err := s.resolve(blobPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}

	// Write to a temp file first so readers never see a partial image.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("moving blob into place: %w", err)
	}

	s.logger.Debug("blob stored", "path", blobPath, "content_type", contentType, "bytes", len(data))
	return s.baseURL + "/" + path.Clean(blobPath), nil
}

// Delete removes the blob addressed by a URL previously returned by Put
func (s *FileStore) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prefix := s.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return fmt.Errorf("%w: %s", ErrInvalidPath, url)
	}

	full, err := s.resolve(strings.TrimPrefix(url, prefix))
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("removing blob: %w", err)
	}
	return nil
}

// Handler serves stored blobs read-only
func (s *FileStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.root))
}

func (s *FileStore) resolve(blobPath string) (string, error) {
	clean := path.Clean("/" + blobPath)
	if clean == "/" || strings.Contains(blobPath, "..") {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, blobPath)
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
