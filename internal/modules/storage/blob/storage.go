package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/newsdigest/core/internal/config"
)

var (
	ErrNotExist   = errors.New("blob: object does not exist")
	ErrInvalidKey = errors.New("blob: invalid key")
)

// Storage is a flat key/value store for uploaded file bytes.
type Storage interface {
	// Save writes r under key. size is -1 when unknown.
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Open returns ErrNotExist for an unknown key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete succeeds for an unknown key.
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// New builds the driver selected in cfg.
func New(ctx context.Context, cfg *config.AppConfig) (Storage, error) {
	switch cfg.Storage.Driver {
	case config.StorageS3:
		return NewS3(ctx, cfg.Storage.S3)
	case config.StorageLocal, "":
		return NewLocal(cfg.StaticDir(), strings.TrimRight(cfg.Site.URL, "/")+"/static")
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// NewKey returns attachments/YYYY/MM/DD/<uuid>.<ext> for an upload named
// original.
func NewKey(original string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(original)))
	if ext == "" || len(ext) > 10 {
		ext = ".dat"
	}
	return path.Join("attachments", now.Format("2006/01/02"), uuid.NewString()+ext)
}

// DetectContentType prefers the client header, then the extension.
func DetectContentType(filename, header string) string {
	if v := strings.TrimSpace(header); v != "" && v != "application/octet-stream" {
		return v
	}
	if ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename))); ext != "" {
		if guessed := mime.TypeByExtension(ext); guessed != "" {
			return guessed
		}
	}
	return "application/octet-stream"
}

func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(key), "\\", "/"), "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
