package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/predict-queue/internal/domain"
)

// AllowedExtensions are the image formats accepted by the upload layer
var AllowedExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

// ImageStore resolves an uploaded image name to its bytes
type ImageStore interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

// DiskImageStore reads uploads from a single folder
type DiskImageStore struct {
	root string
}

// NewDiskImageStore creates a store rooted at the upload folder
func NewDiskImageStore(root string) *DiskImageStore {
	return &DiskImageStore{root: root}
}

// Load reads and sanity-checks the image called name
func (s *DiskImageStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%w: invalid image name %q", domain.ErrUnreadableResource, name)
	}

	if !AllowedFile(name) {
		return nil, fmt.Errorf("%w: unsupported image type %q", domain.ErrUnreadableResource, filepath.Ext(name))
	}

	data, err := os.ReadFile(filepath.Join(s.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", domain.ErrUnreadableResource, name)
		}
		return nil, fmt.Errorf("failed to read image %s: %w", name, err)
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrUnreadableResource, name, err)
	}

	return data, nil
}

// AllowedFile reports whether name has a supported image extension
func AllowedFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
