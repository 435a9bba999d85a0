package storage

import (
	"archive/zip"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidArchive   = errors.New("invalid or corrupt ZIP file")
	ErrDangerousArchive = errors.New("archive contains potentially dangerous content")
)

// dangerousExtensions are blocked inside uploaded ZIP archives.
var dangerousExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true,
	".scr": true, ".pif": true, ".vbs": true, ".vbe": true,
	".wsf": true, ".wsh": true, ".msi": true, ".hta": true,
	".lnk": true, ".cpl": true, ".inf": true, ".reg": true,
}

// IsArchive reports whether a sanitized name is a ZIP archive.
func IsArchive(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

// InspectArchive opens a stored ZIP and rejects it when it is unreadable or
// carries an executable entry. It returns the number of entries.
func (s *FileSystemStore) InspectArchive(path string) (int, error) {
	if !s.contains(path) {
		return 0, ErrNotFound
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer r.Close()

	for _, f := range r.File {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if dangerousExtensions[ext] {
			return 0, fmt.Errorf("%w: blocked extension %s in %s", ErrDangerousArchive, ext, f.Name)
		}
	}
	return len(r.File), nil
}
