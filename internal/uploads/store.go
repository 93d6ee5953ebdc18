package uploads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/supportspark/internal/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PublicPrefix is the URL path under which stored images are served.
	PublicPrefix    = "/uploads/"
	defaultMaxBytes = 5 * 1024 * 1024
	directoryName   = "uploads"
	directoryPerm   = 0o755
)

var (
	// ErrTooLarge indicates the image exceeded the configured size limit.
	ErrTooLarge = errors.New("uploads: image exceeds maximum size")
	// ErrTypeNotAllowed indicates the sniffed content type is not a supported image.
	ErrTypeNotAllowed = errors.New("uploads: file type not allowed")
	// ErrEmpty indicates an empty upload.
	ErrEmpty = errors.New("uploads: empty file")
	// ErrInvalidName indicates a lookup for a name this store could not have produced.
	ErrInvalidName = errors.New("uploads: invalid file name")
)

var allowedTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Config describes where images live and how large they may be.
type Config struct {
	DataDir  string
	MaxBytes int64
	Logger   *zap.Logger
}

// Store keeps image attachments next to the JSON data files.
type Store struct {
	directory string
	maxBytes  int64
	logger    *zap.Logger
}

// Image describes a stored attachment.
type Image struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// NewStore creates the uploads directory under cfg.DataDir.
func NewStore(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, storage.ErrMissingDataDir
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	directory := filepath.Join(cfg.DataDir, directoryName)
	if err := os.MkdirAll(directory, directoryPerm); err != nil {
		return nil, fmt.Errorf("uploads: create directory: %w", err)
	}
	return &Store{directory: directory, maxBytes: maxBytes, logger: logger}, nil
}

// Save sniffs, validates and atomically stores an image read from reader.
func (s *Store) Save(ctx context.Context, reader io.Reader) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	buffer := bytes.NewBuffer(nil)
	if _, err := io.Copy(buffer, io.LimitReader(reader, s.maxBytes+1)); err != nil {
		return Image{}, fmt.Errorf("uploads: read: %w", err)
	}
	if buffer.Len() == 0 {
		return Image{}, ErrEmpty
	}
	if int64(buffer.Len()) > s.maxBytes {
		return Image{}, ErrTooLarge
	}

	detected := mimetype.Detect(buffer.Bytes()).String()
	mimeType := strings.TrimSpace(strings.SplitN(detected, ";", 2)[0])
	extension, ok := allowedTypes[mimeType]
	if !ok {
		s.logger.Info("upload rejected", zap.String("mime_type", mimeType))
		return Image{}, ErrTypeNotAllowed
	}

	name := uuid.NewString() + extension
	if err := storage.WriteFileAtomic(filepath.Join(s.directory, name), buffer.Bytes()); err != nil {
		s.logger.Error("upload write failed", zap.String("name", name), zap.Error(err))
		return Image{}, err
	}
	return Image{
		URL:       PublicPrefix + name,
		Name:      name,
		MimeType:  mimeType,
		SizeBytes: int64(buffer.Len()),
	}, nil
}

// MaxBytes returns the largest accepted image size.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Path resolves a stored image name to its file path.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.directory, name), nil
}
