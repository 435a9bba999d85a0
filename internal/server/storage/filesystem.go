package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Object describes bytes that were written by Ingest.
type Object struct {
	StorageKey string
	Path       string
	Size       int64
}

// ObjectInfo describes a stored object found on disk.
type ObjectInfo struct {
	StorageKey string
	Path       string
	Size       int64
	ModTime    time.Time
}

// FileSystemStore stores published files on the local filesystem.
// Every object lives directly under basePath, named by its storage key.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: filepath.Clean(basePath)}
}

// BasePath returns the storage root.
func (s *FileSystemStore) BasePath() string {
	return s.basePath
}

// EnsureDir creates the storage directory if it doesn't exist.
func (s *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", s.basePath, err)
	}
	return nil
}

// Ingest writes data to a new object keyed by a random UUID joined with the
// sanitized name. Exactly declaredSize bytes must arrive; otherwise the partial
// object is removed and ErrIncompleteWrite is returned.
func (s *FileSystemStore) Ingest(sanitizedName string, data io.Reader, declaredSize int64) (*Object, error) {
	if sanitizedName == "" || sanitizedName != filepath.Base(sanitizedName) {
		return nil, ErrEmptyFilename
	}

	key := uuid.NewString() + "_" + sanitizedName
	filePath := s.filePath(key)

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filePath, mapFSError(err))
	}

	// Read one byte past the limit so oversized streams are detected.
	n, err := io.Copy(file, io.LimitReader(data, MaxFileSize+1))
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		s.discard(filePath)
		return nil, fmt.Errorf("failed to write file: %w", mapFSError(err))
	}

	if n != declaredSize {
		s.discard(filePath)
		return nil, fmt.Errorf("%w: wrote %d of %d bytes", ErrIncompleteWrite, n, declaredSize)
	}

	return &Object{StorageKey: key, Path: filePath, Size: n}, nil
}

// Fetch opens a stored object for reading. The caller closes it.
func (s *FileSystemStore) Fetch(path string) (io.ReadCloser, error) {
	if !s.contains(path) {
		return nil, ErrNotFound
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, mapFSError(err))
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, mapFSError(err))
	}
	if info.IsDir() {
		file.Close()
		return nil, ErrNotFound
	}

	return file, nil
}

// Remove deletes a stored object. A missing object is not an error.
func (s *FileSystemStore) Remove(path string) error {
	if !s.contains(path) {
		return fmt.Errorf("refusing to remove %s: outside storage root", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", path, mapFSError(err))
	}
	return nil
}

// List returns every regular file in the storage root.
func (s *FileSystemStore) List() ([]ObjectInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	objects := make([]ObjectInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		objects = append(objects, ObjectInfo{
			StorageKey: entry.Name(),
			Path:       s.filePath(entry.Name()),
			Size:       info.Size(),
			ModTime:    info.ModTime(),
		})
	}
	return objects, nil
}

func (s *FileSystemStore) filePath(key string) string {
	return filepath.Join(s.basePath, key)
}

// contains reports whether path names an entry directly inside the storage root.
func (s *FileSystemStore) contains(path string) bool {
	clean := filepath.Clean(path)
	if filepath.Dir(clean) != s.basePath {
		return false
	}
	base := filepath.Base(clean)
	return base != "." && base != ".." && !strings.ContainsRune(base, filepath.Separator)
}

// discard removes a partially written object. Failures are left to the sweeper.
func (s *FileSystemStore) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to discard partial file", "path", path, "error", err)
	}
}

func mapFSError(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return err
	}
}
