package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Komeiji-Shiki/persistent-chat/internal/config"
	"github.com/Komeiji-Shiki/persistent-chat/internal/domain"
)

const defaultImageExt = ".png"

// MediaStore keeps downloaded images in a flat directory under the plugin data
// root. Files are only ever referenced by the inline markers in stored message
// text.
type MediaStore struct {
	dir string
}

func NewMediaStore(dataDir string) (*MediaStore, error) {
	dir := filepath.Join(dataDir, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir %s: %w", dir, err)
	}
	return &MediaStore{dir: dir}, nil
}

// Dir returns the images directory path.
func (m *MediaStore) Dir() string {
	return m.dir
}

// Download fetches a remote image and stores it under a collision-resistant
// name, returned for embedding as an inline marker. The file extension comes
// from the URL path; implausible extensions fall back to .png. The HTTP client
// is scoped to the call and never held across turns.
func (m *MediaStore) Download(ctx context.Context, url string) (string, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("unsupported image url %q", url)
	}

	ext := path.Ext(strings.SplitN(url, "?", 2)[0])
	if len(ext) < 2 || len(ext) > 5 {
		ext = defaultImageExt
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}

	client := &http.Client{Timeout: config.DownloadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read image data: %w", err)
	}

	filename := fmt.Sprintf("%d_%s%s", time.Now().Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8], ext)
	if err := os.WriteFile(filepath.Join(m.dir, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("write image file: %w", err)
	}
	return filename, nil
}

// DataURI loads a stored image and returns it as a base64 data URI. The MIME
// type is guessed from the extension, defaulting to image/png. A missing or
// invalid filename reports false rather than an error; callers omit the image.
func (m *MediaStore) DataURI(filename string) (string, bool) {
	if !validImageName(filename) {
		slog.Warn("invalid image filename in marker", "file", filename)
		return "", false
	}

	data, err := os.ReadFile(filepath.Join(m.dir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("image file missing", "file", filename)
		} else {
			slog.Error("read image file", "error", err, "file", filename)
		}
		return "", false
	}

	mimeType := mime.TypeByExtension(path.Ext(filename))
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), true
}

// Delete removes one stored image.
func (m *MediaStore) Delete(filename string) error {
	if !validImageName(filename) {
		return domain.ErrBadImageName
	}
	if err := os.Remove(filepath.Join(m.dir, filename)); err != nil {
		return fmt.Errorf("delete image %s: %w", filename, err)
	}
	return nil
}

// DeleteAll removes the whole images directory and recreates it empty.
func (m *MediaStore) DeleteAll() error {
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("remove images dir: %w", err)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("recreate images dir: %w", err)
	}
	return nil
}

func validImageName(name string) bool {
	return name != "" &&
		!strings.ContainsAny(name, `/\`) &&
		!strings.Contains(name, "..")
}
