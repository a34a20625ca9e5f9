// Package upload stores image attachments on disk under the public root and
// hands back the URL clients embed in private messages.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// URLPrefix is the public path under which stored files are served.
const URLPrefix = "/uploads/"

// Sentinel errors for upload operations.
var (
	// ErrTooLarge is returned when the file exceeds the configured ceiling.
	ErrTooLarge = errors.New("file too large")

	// ErrMissingFile is returned when the request carries no file.
	ErrMissingFile = errors.New("no file provided")

	// ErrInvalidFilename is returned when the original name has no usable base name.
	ErrInvalidFilename = errors.New("invalid filename")
)

// Result describes a stored upload.
type Result struct {
	Name        string
	URL         string
	Size        int64
	ContentType string
}

// Service writes uploads into a single directory.
type Service struct {
	dir      string
	maxBytes int64
	now      func() time.Time
	log      zerolog.Logger
}

// NewService creates a Service that stores files in dir and rejects files
// larger than maxBytes.
func NewService(dir string, maxBytes int64, log zerolog.Logger) *Service {
	return &Service{
		dir:      dir,
		maxBytes: maxBytes,
		now:      time.Now,
		log:      log.With().Str("component", "upload").Logger(),
	}
}

// EnsureDir creates the upload directory if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create upload directory %s: %w", dir, err)
	}
	return nil
}

// MaxBytes returns the per-file ceiling.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Save streams src to disk as "<unix millis>-<original base name>". When src
// holds more than MaxBytes the partial file is removed and ErrTooLarge is
// returned. The content type is sniffed for the response only; any type is
// accepted.
func (s *Service) Save(ctx context.Context, src io.Reader, originalName string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base, err := baseName(originalName)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%d-%s", s.now().UnixMilli(), base)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(src, s.maxBytes+1))
	closeErr := f.Close()

	if copyErr == nil && n > s.maxBytes {
		copyErr = ErrTooLarge
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("file", name).Msg("failed to remove partial upload")
		}
		if errors.Is(copyErr, ErrTooLarge) {
			return nil, copyErr
		}
		return nil, fmt.Errorf("write %s: %w", name, copyErr)
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(path); err == nil {
		contentType = mt.String()
	}

	s.log.Info().
		Str("file", name).
		Str("size", humanize.IBytes(uint64(n))).
		Str("content_type", contentType).
		Msg("upload stored")

	return &Result{
		Name:        name,
		URL:         URLPrefix + url.PathEscape(name),
		Size:        n,
		ContentType: contentType,
	}, nil
}

// baseName strips any client-supplied directories, including Windows ones.
func baseName(original string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", ErrInvalidFilename
	}
	return base, nil
}
