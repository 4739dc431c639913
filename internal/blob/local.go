package blob

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/safar/greenvillage/internal/models"
)

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrNotFound        = errors.New("image not found")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// LocalStore keeps images in a directory that is served under BaseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Save sniffs the content type and stores r under a fresh public id.
func (s *LocalStore) Save(ctx context.Context, r io.Reader) (models.Image, error) {
	if err := ctx.Err(); err != nil {
		return models.Image{}, err
	}

	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return models.Image{}, fmt.Errorf("read upload: %w", err)
	}

	ext, ok := extensions[http.DetectContentType(head)]
	if !ok {
		return models.Image{}, ErrUnsupportedType
	}

	publicID := uuid.NewString() + ext
	f, err := os.OpenFile(filepath.Join(s.dir, publicID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return models.Image{}, fmt.Errorf("create image file: %w", err)
	}

	if _, err := io.Copy(f, br); err != nil {
		f.Close()
		os.Remove(f.Name())
		return models.Image{}, fmt.Errorf("write image file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return models.Image{}, fmt.Errorf("close image file: %w", err)
	}

	return models.Image{PublicID: publicID, URL: s.baseURL + "/" + publicID}, nil
}

func (s *LocalStore) Delete(_ context.Context, publicID string) error {
	if publicID == "" || filepath.Base(publicID) != publicID || strings.HasPrefix(publicID, ".") {
		return ErrNotFound
	}

	err := os.Remove(filepath.Join(s.dir, publicID))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete image file: %w", err)
	}
	return nil
}
